package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"hemis-telemetry/internal/observability/metrics"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

// IngestService validates raw device payloads and records them.
type IngestService struct {
	validator telemetry.Validator
	recorder  *Recorder
	now       func() time.Time
	logger    *zap.Logger
}

// IngestOption configures the ingest service.
type IngestOption func(*IngestService)

// WithIngestClock overrides the capture clock.
func WithIngestClock(now func() time.Time) IngestOption {
	return func(s *IngestService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithValidator overrides the default validator.
func WithValidator(v telemetry.Validator) IngestOption {
	return func(s *IngestService) {
		s.validator = v
	}
}

// NewIngestService constructs an ingest service.
func NewIngestService(recorder *Recorder, logger *zap.Logger, opts ...IngestOption) (*IngestService, error) {
	if recorder == nil {
		return nil, errors.New("ingest: nil recorder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &IngestService{
		validator: telemetry.NewValidator(telemetry.DefaultRanges()),
		recorder:  recorder,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.Named("ingest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest validates raw, stamps it with the server clock and records it.
// Validation errors are *telemetry.FieldError or telemetry.ErrNoData; write
// failures wrap telemetry.ErrStorage.
func (s *IngestService) Ingest(ctx context.Context, raw map[string]any) (telemetry.Sample, error) {
	if s == nil {
		return telemetry.Sample{}, errors.New("ingest: nil service")
	}
	sample, err := s.validator.Validate(raw)
	if err != nil {
		return telemetry.Sample{}, err
	}
	sample.CapturedAt = s.now().UTC()

	if len(sample.Warnings) > 0 {
		for _, field := range telemetry.WarningFields(sample.Warnings) {
			metrics.IncIngestWarning(field)
		}
		s.logger.Warn("vital sign warnings",
			zap.Int64("device_id", sample.DeviceID),
			zap.Strings("warnings", sample.Warnings),
		)
	}

	if _, err := s.recorder.Record(ctx, sample); err != nil {
		s.logger.Error("store sample failed", zap.Int64("device_id", sample.DeviceID), zap.Error(err))
		return telemetry.Sample{}, err
	}
	return sample, nil
}
