package telemetry

import (
	"context"
	"time"
)

// LatestRow is one recent reading joined with its device's patient.
type LatestRow struct {
	DeviceID    int64
	PatientID   *int64
	Metric      MetricCode
	TS          time.Time
	Value       float64
	IsSimulated bool
}

// SampleWriter persists a sample atomically: three readings plus the device liveness update.
type SampleWriter interface {
	WriteSample(ctx context.Context, sample Sample) error
}

// DeviceDirectory resolves device metadata.
type DeviceDirectory interface {
	PatientForDevice(ctx context.Context, deviceID int64) (*int64, error)
	GetDevice(ctx context.Context, deviceID int64) (*Device, error)
}

// LatestReader loads recent readings for active devices.
type LatestReader interface {
	LatestSince(ctx context.Context, since time.Time) ([]LatestRow, error)
}

// ReadingQuery serves the read-side endpoints.
type ReadingQuery interface {
	LatestForDevice(ctx context.Context, deviceID int64) ([]LatestRow, error)
	LatestPerDevice(ctx context.Context) ([]LatestRow, error)
	History(ctx context.Context, deviceID int64, from, to time.Time, includeSimulated bool) ([]Reading, error)
	Breaches(ctx context.Context, since time.Time, thresholds AlertThresholds) ([]Reading, error)
}
