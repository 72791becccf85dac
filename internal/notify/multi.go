package notify

import (
	"context"

	telemetry "hemis-telemetry/internal/telemetry/domain"
)

// AlertNotifier receives vital alerts.
type AlertNotifier interface {
	Notify(ctx context.Context, alert telemetry.Alert)
}

// MultiNotifier dispatches alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []AlertNotifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...AlertNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards alerts to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, alert telemetry.Alert) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, alert)
		}
	}
}
