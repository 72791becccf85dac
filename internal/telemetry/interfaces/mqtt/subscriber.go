package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"hemis-telemetry/internal/observability/metrics"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

// DefaultTopic matches one topic level per device.
const DefaultTopic = "hemis/vitals/+"

// Ingester validates and records a raw device payload.
type Ingester interface {
	Ingest(ctx context.Context, raw map[string]any) (telemetry.Sample, error)
}

// Config configures the broker connection.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      byte
}

// Subscriber feeds device packets published over MQTT into the ingest path.
type Subscriber struct {
	cfg      Config
	ingester Ingester
	logger   *zap.Logger
	timeout  time.Duration
}

// NewSubscriber constructs a subscriber. Call Run to connect.
func NewSubscriber(cfg Config, ingester Ingester, logger *zap.Logger) (*Subscriber, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt subscriber: empty broker")
	}
	if ingester == nil {
		return nil, errors.New("mqtt subscriber: nil ingester")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "hemis-telemetry"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		cfg:      cfg,
		ingester: ingester,
		logger:   logger.Named("mqtt"),
		timeout:  10 * time.Second,
	}, nil
}

// Run connects, subscribes and blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(client paho.Client) {
		// Subscriptions do not survive a clean-session reconnect.
		token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ paho.Client, msg paho.Message) {
			if err := s.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
				s.logger.Warn("mqtt message rejected", zap.String("topic", msg.Topic()), zap.Error(err))
			}
		})
		if err := waitToken(token, s.timeout); err != nil {
			s.logger.Error("mqtt subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
			return
		}
		s.logger.Info("mqtt subscribed", zap.String("topic", s.cfg.Topic))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := paho.NewClient(opts)
	if err := waitToken(client.Connect(), s.timeout); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.cfg.Broker, err)
	}

	<-ctx.Done()
	client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	client.Disconnect(250)
	s.logger.Info("mqtt disconnected")
	return nil
}

// errTokenTimeout reports a broker operation that did not complete in time.
var errTokenTimeout = errors.New("mqtt: operation timed out")

// waitToken treats a timeout the same as a failed operation.
func waitToken(token paho.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return errTokenTimeout
	}
	return token.Error()
}

// HandleMessage decodes one packet and ingests it. A payload without a
// device_id takes it from the last topic segment.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	start := time.Now()
	raw, err := decodePayload(payload)
	if err != nil {
		metrics.IncIngestError("invalid_json")
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(start))
		return err
	}
	if _, ok := raw[telemetry.FieldDeviceID]; !ok {
		if id := deviceFromTopic(topic); id != "" {
			raw[telemetry.FieldDeviceID] = id
		}
	}
	sample, err := s.ingester.Ingest(ctx, raw)
	if err != nil {
		metrics.IncIngestError(telemetry.Reason(err))
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(start))
		return err
	}
	metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(start))
	s.logger.Debug("mqtt sample stored", zap.Int64("device_id", sample.DeviceID))
	return nil
}

func decodePayload(payload []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, telemetry.ErrNoData
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("mqtt payload: %w", err)
	}
	if raw == nil {
		return nil, telemetry.ErrNoData
	}
	return raw, nil
}

func deviceFromTopic(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
