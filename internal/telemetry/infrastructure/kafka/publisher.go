package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"hemis-telemetry/internal/eventing"
)

// DefaultTopic carries committed telemetry events.
const DefaultTopic = "hemis.telemetry"

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ErrQueueFull is returned when the publish queue has no room; the event is dropped.
var ErrQueueFull = errors.New("kafka publisher: queue full")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("kafka publisher: closed")

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 10 * time.Second
)

// Publisher writes event envelopes to a topic, keyed by device id so one
// device's events stay ordered within a partition. Publish only enqueues;
// a single goroutine drains the queue so broker latency never reaches the
// caller.
type Publisher struct {
	writer       Writer
	topic        string
	writeTimeout time.Duration
	logger       *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan kafka.Message
	done   chan struct{}

	// base is cancelled when Close gives up on flushing.
	base   context.Context
	cancel context.CancelFunc
}

// Option configures the publisher.
type Option func(*Publisher)

// WithQueueSize bounds the number of events waiting for the broker.
func WithQueueSize(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan kafka.Message, size)
		}
	}
}

// WithWriteTimeout bounds one broker write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(p *Publisher) {
		if timeout > 0 {
			p.writeTimeout = timeout
		}
	}
}

// Config configures a broker-backed publisher.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	QueueSize    int
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// New builds a publisher over a kafka-go writer.
func New(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher: no brokers")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
	})
	return NewPublisher(writer, cfg.Topic, logger, WithQueueSize(cfg.QueueSize))
}

// NewPublisher wraps an existing writer and starts the drain goroutine.
func NewPublisher(writer Writer, topic string, logger *zap.Logger, opts ...Option) (*Publisher, error) {
	if writer == nil {
		return nil, errors.New("kafka publisher: nil writer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		base:         base,
		cancel:       cancel,
		writer:       writer,
		topic:        topic,
		writeTimeout: defaultWriteTimeout,
		logger:       logger.Named("kafka"),
		queue:        make(chan kafka.Message, defaultQueueSize),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.drain()
	return p, nil
}

// Publish wraps event in an envelope and queues it for the broker. It never
// blocks; a full queue drops the event with ErrQueueFull.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	if p == nil {
		return errors.New("kafka publisher: nil publisher")
	}
	envelope, err := eventing.BuildEnvelope(event, eventing.MetaFromContext(ctx))
	if err != nil {
		return err
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(envelope.DeviceID, 10)),
		Value: value,
		Time:  envelope.OccurredAt,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(envelope.EventType)},
			{Key: "event_id", Value: []byte(envelope.EventID)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s for device %d", ErrQueueFull, envelope.EventType, envelope.DeviceID)
	}
}

func (p *Publisher) drain() {
	defer close(p.done)
	for msg := range p.queue {
		p.write(msg)
	}
}

func (p *Publisher) write(msg kafka.Message) {
	if p.base.Err() != nil {
		return
	}
	eventType := headerValue(msg, headerEventType)
	ctx, cancel := context.WithTimeout(p.base, p.writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("event publish failed",
			zap.String("topic", p.topic),
			zap.String("event_type", eventType),
			zap.ByteString("key", msg.Key),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("event published",
		zap.String("topic", p.topic),
		zap.String("event_type", eventType),
		zap.ByteString("key", msg.Key),
	)
}

const headerEventType = "event_type"

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Close stops accepting events, flushes the queue for up to one write
// timeout, drops whatever is left and closes the writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	flush := time.NewTimer(p.writeTimeout)
	defer flush.Stop()
	select {
	case <-p.done:
	case <-flush.C:
		p.logger.Warn("event queue not flushed before close", zap.Int("dropped", len(p.queue)))
		p.cancel()
		<-p.done
	}
	p.cancel()
	return p.writer.Close()
}
