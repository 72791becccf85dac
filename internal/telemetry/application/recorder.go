package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"hemis-telemetry/internal/observability/metrics"
	"hemis-telemetry/internal/telemetry/application/events"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

// AlertNotifier forwards vital alerts outside the process.
type AlertNotifier interface {
	Notify(ctx context.Context, alert telemetry.Alert)
}

// EventSink receives committed-sample events.
type EventSink interface {
	Publish(ctx context.Context, event any) error
}

// Recorder persists a validated sample and publishes it after commit.
type Recorder struct {
	writer      telemetry.SampleWriter
	directory   telemetry.DeviceDirectory
	broadcaster *Broadcaster
	thresholds  telemetry.AlertThresholds
	notifier    AlertNotifier
	events      EventSink
	source      string
	logger      *zap.Logger
}

// RecorderOption configures a recorder.
type RecorderOption func(*Recorder)

// WithAlertThresholds overrides the alert thresholds.
func WithAlertThresholds(thresholds telemetry.AlertThresholds) RecorderOption {
	return func(r *Recorder) {
		r.thresholds = thresholds
	}
}

// WithNotifier forwards alerts to notifier.
func WithNotifier(notifier AlertNotifier) RecorderOption {
	return func(r *Recorder) {
		r.notifier = notifier
	}
}

// WithEventSink emits a TelemetryReceived event per committed sample.
func WithEventSink(sink EventSink) RecorderOption {
	return func(r *Recorder) {
		r.events = sink
	}
}

// WithSource sets the broadcast source label.
func WithSource(source string) RecorderOption {
	return func(r *Recorder) {
		if source != "" {
			r.source = source
		}
	}
}

// NewRecorder constructs a recorder.
func NewRecorder(writer telemetry.SampleWriter, directory telemetry.DeviceDirectory, broadcaster *Broadcaster, logger *zap.Logger, opts ...RecorderOption) (*Recorder, error) {
	if writer == nil {
		return nil, errors.New("recorder: nil writer")
	}
	if directory == nil {
		return nil, errors.New("recorder: nil device directory")
	}
	if broadcaster == nil {
		return nil, errors.New("recorder: nil broadcaster")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		writer:      writer,
		directory:   directory,
		broadcaster: broadcaster,
		thresholds:  telemetry.DefaultAlertThresholds(),
		source:      SourceIngest,
		logger:      logger.Named("recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record writes the sample atomically, then broadcasts it. Only the write
// can fail the call; everything after commit is best-effort.
func (r *Recorder) Record(ctx context.Context, sample telemetry.Sample) (telemetry.Snapshot, error) {
	if r == nil {
		return telemetry.Snapshot{}, errors.New("recorder: nil recorder")
	}
	if err := r.writer.WriteSample(ctx, sample); err != nil {
		return telemetry.Snapshot{}, err
	}

	patientID, err := r.directory.PatientForDevice(ctx, sample.DeviceID)
	if err != nil {
		r.logger.Warn("patient lookup failed", zap.Int64("device_id", sample.DeviceID), zap.Error(err))
		patientID = nil
	}

	snap := telemetry.SnapshotFromSample(sample, patientID)
	r.broadcaster.PublishSnapshot(ctx, r.source, snap)

	alerts := r.thresholds.Evaluate(sample, patientID)
	if len(alerts) > 0 {
		for _, alert := range alerts {
			metrics.IncAlert(string(alert.Kind))
			r.logger.Info("vital alert",
				zap.String("kind", string(alert.Kind)),
				zap.Int64("device_id", alert.DeviceID),
				zap.Float64("value", alert.Value),
			)
		}
		r.broadcaster.PublishAlerts(ctx, r.source, alerts)
		// Simulated runs reach viewers but never page staff.
		if r.notifier != nil && !sample.IsSimulated {
			for _, alert := range alerts {
				r.notifier.Notify(ctx, alert)
			}
		}
	}

	if r.events != nil {
		event := events.TelemetryReceived{
			DeviceID:   sample.DeviceID,
			PatientID:  patientID,
			OccurredAt: sample.CapturedAt,
			Values: map[string]float64{
				string(telemetry.MetricHeartRate): sample.HeartRate,
				string(telemetry.MetricSpO2):      sample.SpO2,
				string(telemetry.MetricTempSkin):  sample.TempSkin,
			},
			FingerDetected: sample.FingerDetected,
			IsSimulated:    sample.IsSimulated,
		}
		if err := r.events.Publish(ctx, event); err != nil {
			r.logger.Warn("telemetry event publish failed", zap.Int64("device_id", sample.DeviceID), zap.Error(err))
		}
	}
	return snap, nil
}
