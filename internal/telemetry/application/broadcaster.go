package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"hemis-telemetry/internal/fanout"
	"hemis-telemetry/internal/observability/metrics"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

// Broadcast sources, used as metric labels.
const (
	SourceIngest     = "ingest"
	SourcePoller     = "poller"
	SourceSimulation = "simulation"
	SourceMQTT       = "mqtt"
)

// Fanout delivers frames to connected subscribers.
type Fanout interface {
	PublishTelemetry(ctx context.Context, room string, data any) error
	PublishAlert(ctx context.Context, alert any) error
}

// Broadcaster pushes snapshots and alerts to the hub. Delivery is
// best-effort: failures are logged and counted, never returned.
type Broadcaster struct {
	fanout Fanout
	logger *zap.Logger
}

// NewBroadcaster constructs a broadcaster.
func NewBroadcaster(fanout Fanout, logger *zap.Logger) (*Broadcaster, error) {
	if fanout == nil {
		return nil, errors.New("broadcaster: nil fanout")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{fanout: fanout, logger: logger.Named("broadcaster")}, nil
}

// PublishSnapshot sends snap to its device room, the global room and its
// patient room when assigned. It returns the number of rooms published.
func (b *Broadcaster) PublishSnapshot(ctx context.Context, source string, snap telemetry.Snapshot) int {
	if b == nil {
		return 0
	}
	published := 0
	for _, room := range fanout.SnapshotRooms(snap.DeviceID, snap.PatientID) {
		if err := b.fanout.PublishTelemetry(ctx, room, snap); err != nil {
			metrics.IncBroadcast(source, metrics.ResultError)
			b.logger.Warn("broadcast failed",
				zap.String("source", source),
				zap.String("room", room),
				zap.Int64("device_id", snap.DeviceID),
				zap.Error(err),
			)
			continue
		}
		metrics.IncBroadcast(source, metrics.ResultSuccess)
		published++
	}
	return published
}

// PublishAlerts sends each alert to every subscriber.
func (b *Broadcaster) PublishAlerts(ctx context.Context, source string, alerts []telemetry.Alert) {
	if b == nil {
		return
	}
	for _, alert := range alerts {
		if err := b.fanout.PublishAlert(ctx, alert); err != nil {
			metrics.IncBroadcast(source, metrics.ResultError)
			b.logger.Warn("alert broadcast failed",
				zap.String("kind", string(alert.Kind)),
				zap.Int64("device_id", alert.DeviceID),
				zap.Error(err),
			)
			continue
		}
		metrics.IncBroadcast(source, metrics.ResultSuccess)
	}
}
