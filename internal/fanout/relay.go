package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"hemis-telemetry/internal/observability/metrics"
)

// DefaultRelayChannel is the redis channel shared by all instances.
const DefaultRelayChannel = "hemis:fanout"

type relayMessage struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// Relay publishes frames through redis so every instance's hub delivers them.
// When the publish fails the frame is delivered to the local hub only.
type Relay struct {
	hub     *Hub
	client  *redis.Client
	channel string
	origin  string
	now     func() time.Time
	logger  *zap.Logger

	retryMin time.Duration
	retryMax time.Duration
}

// RelayOption configures the relay.
type RelayOption func(*Relay)

// WithRelayBackoff bounds the delay between subscribe attempts.
func WithRelayBackoff(initial, ceiling time.Duration) RelayOption {
	return func(r *Relay) {
		if initial > 0 {
			r.retryMin = initial
		}
		if ceiling >= r.retryMin {
			r.retryMax = ceiling
		}
	}
}

// NewRelay constructs a redis relay for hub.
func NewRelay(hub *Hub, client *redis.Client, channel string, logger *zap.Logger, opts ...RelayOption) (*Relay, error) {
	if hub == nil {
		return nil, errors.New("fanout relay: nil hub")
	}
	if client == nil {
		return nil, errors.New("fanout relay: nil redis client")
	}
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Relay{
		hub:      hub,
		client:   client,
		channel:  channel,
		origin:   uuid.NewString(),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.Named("fanout.relay"),
		retryMin: 500 * time.Millisecond,
		retryMax: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// PublishTelemetry relays a telemetry_update for room.
func (r *Relay) PublishTelemetry(ctx context.Context, room string, data any) error {
	frame, err := EncodeTelemetryUpdate(room, data, r.now())
	if err != nil {
		return err
	}
	return r.publish(ctx, room, frame)
}

// PublishAlert relays a global_alert.
func (r *Relay) PublishAlert(ctx context.Context, alert any) error {
	frame, err := EncodeGlobalAlert(alert, r.now())
	if err != nil {
		return err
	}
	return r.publish(ctx, "", frame)
}

func (r *Relay) publish(ctx context.Context, room string, frame []byte) error {
	payload, err := json.Marshal(relayMessage{Origin: r.origin, Room: room, Frame: frame})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.deliver(room, frame)
		return err
	}
	return nil
}

func (r *Relay) deliver(room string, frame []byte) {
	if room == "" {
		r.hub.DeliverAll(frame)
		return
	}
	r.hub.Deliver(room, frame)
}

// Run subscribes to the relay channel and delivers frames until ctx is done.
// A redis outage never ends Run: subscribing is retried with backoff while
// publishes fall back to local delivery.
func (r *Relay) Run(ctx context.Context) error {
	delay := r.retryMin
	for {
		err := r.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			delay = r.retryMin
			continue
		}
		r.logger.Warn("relay subscribe failed, retrying",
			zap.String("channel", r.channel),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		wait := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil
		case <-wait.C:
		}
		delay *= 2
		if delay > r.retryMax {
			delay = r.retryMax
		}
	}
}

// consume holds one subscription. It returns an error when subscribing
// fails and nil when the subscription channel closes or ctx is done.
func (r *Relay) consume(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("relay subscribed", zap.String("channel", r.channel), zap.String("origin", r.origin))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var relayed relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &relayed); err != nil {
				r.logger.Warn("relay message decode failed", zap.Error(err))
				continue
			}
			if relayed.Origin == r.origin {
				metrics.IncRelayFrame(metrics.RelayOriginLocal)
			} else {
				metrics.IncRelayFrame(metrics.RelayOriginPeer)
				r.logger.Debug("relay frame from peer", zap.String("origin", relayed.Origin), zap.String("room", relayed.Room))
			}
			r.deliver(relayed.Room, relayed.Frame)
		}
	}
}
