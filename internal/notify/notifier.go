package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	telemetry "hemis-telemetry/internal/telemetry/domain"
)

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

// LabelResolver names a device for notification content.
type LabelResolver func(ctx context.Context, deviceID int64) string

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders vital alerts and sends them on a channel. Sends run in
// the background so a slow endpoint never holds up ingestion.
type Notifier struct {
	channel        Channel
	template       *Template
	clock          Clock
	logger         *zap.Logger
	labels         LabelResolver
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration

	mu      sync.Mutex
	sent    map[string]sendRecord
	pending sync.WaitGroup
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithRequestTimeout bounds each channel send.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same device and alert kind.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithLabelResolver injects a device label lookup.
func WithLabelResolver(resolver LabelResolver) Option {
	return func(n *Notifier) {
		if resolver != nil {
			n.labels = resolver
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         zap.NewNop(),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.Named("notify")
	return n, nil
}

// Notify renders the alert and queues it for delivery unless suppressed.
func (n *Notifier) Notify(ctx context.Context, alert telemetry.Alert) {
	if n == nil || n.channel == nil {
		return
	}
	label := ""
	if n.labels != nil {
		label = n.labels(ctx, alert.DeviceID)
	}
	content, err := n.template.Render(buildTemplateData(alert, label))
	if err != nil {
		n.logger.Warn("render alert failed", zap.Error(err))
		return
	}
	key := notificationKey(alert)
	if !n.reserve(key, content) {
		return
	}

	n.pending.Add(1)
	go func() {
		defer n.pending.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.requestTimeout)
		defer cancel()
		if err := n.channel.Send(sendCtx, content); err != nil {
			n.release(key, content)
			n.logger.Warn("alert notification failed",
				zap.Int64("device_id", alert.DeviceID),
				zap.String("kind", string(alert.Kind)),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for in-flight sends.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.pending.Wait()
}

// reserve records the send before it happens so concurrent alerts for the
// same key do not both go out.
func (n *Notifier) reserve(key, content string) bool {
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	defer n.mu.Unlock()
	if record, ok := n.sent[key]; ok {
		if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
			return false
		}
		if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
			return false
		}
	}
	if n.cooldown > 0 || n.dedupeWindow > 0 {
		n.sent[key] = sendRecord{at: now, hash: hash}
	}
	return true
}

func (n *Notifier) release(key, content string) {
	hash := hashContent(content)
	n.mu.Lock()
	defer n.mu.Unlock()
	if record, ok := n.sent[key]; ok && record.hash == hash {
		delete(n.sent, key)
	}
}

func buildTemplateData(alert telemetry.Alert, label string) TemplateData {
	device := "Device " + strconv.FormatInt(alert.DeviceID, 10)
	if label != "" {
		device = fmt.Sprintf("%s (%d)", label, alert.DeviceID)
	}
	patient := ""
	if alert.PatientID != nil {
		patient = strconv.FormatInt(*alert.PatientID, 10)
	}
	severity := "warning"
	if alert.Kind.Critical() {
		severity = "critical"
	}
	return TemplateData{
		Device:     device,
		DeviceID:   alert.DeviceID,
		Patient:    patient,
		Kind:       string(alert.Kind),
		KindLabel:  kindLabel(alert.Kind),
		Metric:     string(alert.Metric),
		Value:      formatFloat(alert.Value),
		Threshold:  formatFloat(alert.Threshold),
		Time:       alert.At.UTC().Format(time.RFC3339),
		Severity:   severity,
		Suggestion: suggestionFor(alert.Kind),
		Message:    alert.Message,
	}
}

func kindLabel(kind telemetry.AlertKind) string {
	switch kind {
	case telemetry.AlertTachycardia:
		return "Tachycardia"
	case telemetry.AlertBradycardia:
		return "Bradycardia"
	case telemetry.AlertHypoxemia:
		return "Hypoxemia"
	case telemetry.AlertFever:
		return "Fever"
	case telemetry.AlertHypothermia:
		return "Hypothermia"
	default:
		return string(kind)
	}
}

func suggestionFor(kind telemetry.AlertKind) string {
	switch kind {
	case telemetry.AlertTachycardia, telemetry.AlertBradycardia:
		return "Assess the patient immediately."
	case telemetry.AlertHypoxemia:
		return "Check sensor placement and oxygenation."
	default:
		return "Recheck temperature and monitor the patient."
	}
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func notificationKey(alert telemetry.Alert) string {
	return strconv.FormatInt(alert.DeviceID, 10) + "|" + string(alert.Kind)
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
