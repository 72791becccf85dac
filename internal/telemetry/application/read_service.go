package application

import (
	"context"
	"errors"
	"time"

	telemetry "hemis-telemetry/internal/telemetry/domain"
)

const (
	defaultStaleAfter  = 5 * time.Minute
	maxHistoryWindow   = 31 * 24 * time.Hour
	defaultAlertWindow = 24 * time.Hour
)

// ErrInvalidWindow indicates an unusable time range.
var ErrInvalidWindow = errors.New("telemetry: invalid time window")

// DeviceRealtime is the latest known state of one device.
type DeviceRealtime struct {
	telemetry.Snapshot
	Label      string     `json:"label"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	Active     bool       `json:"active"`
	IsStale    bool       `json:"is_stale"`
	HasData    bool       `json:"has_data"`
}

// AlertReport lists threshold breaches in a window.
type AlertReport struct {
	Alerts        []telemetry.Alert `json:"alerts"`
	TotalAlerts   int               `json:"total_alerts"`
	CriticalCount int               `json:"critical_count"`
	Since         time.Time         `json:"since"`
}

// ReadService answers the read-side telemetry queries.
type ReadService struct {
	query      telemetry.ReadingQuery
	directory  telemetry.DeviceDirectory
	thresholds telemetry.AlertThresholds
	staleAfter time.Duration
	now        func() time.Time
}

// ReadOption configures the read service.
type ReadOption func(*ReadService)

// WithStaleAfter sets the staleness horizon.
func WithStaleAfter(d time.Duration) ReadOption {
	return func(s *ReadService) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithReadThresholds overrides the alert thresholds.
func WithReadThresholds(t telemetry.AlertThresholds) ReadOption {
	return func(s *ReadService) {
		s.thresholds = t
	}
}

// WithReadClock overrides the clock.
func WithReadClock(now func() time.Time) ReadOption {
	return func(s *ReadService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewReadService constructs a read service.
func NewReadService(query telemetry.ReadingQuery, directory telemetry.DeviceDirectory, opts ...ReadOption) (*ReadService, error) {
	if query == nil {
		return nil, errors.New("read service: nil query")
	}
	if directory == nil {
		return nil, errors.New("read service: nil device directory")
	}
	s := &ReadService{
		query:      query,
		directory:  directory,
		thresholds: telemetry.DefaultAlertThresholds(),
		staleAfter: defaultStaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Realtime returns the newest value per metric for one device.
func (s *ReadService) Realtime(ctx context.Context, deviceID int64) (DeviceRealtime, error) {
	device, err := s.directory.GetDevice(ctx, deviceID)
	if err != nil {
		return DeviceRealtime{}, err
	}
	rows, err := s.query.LatestForDevice(ctx, deviceID)
	if err != nil {
		return DeviceRealtime{}, err
	}

	result := DeviceRealtime{
		Snapshot:   telemetry.Snapshot{Type: telemetry.SnapshotType, DeviceID: deviceID, PatientID: device.PatientID},
		Label:      device.Label,
		LastSeenAt: device.LastSeenAt,
		Active:     device.Active,
		IsStale:    device.IsStale(s.now(), s.staleAfter),
	}
	if snaps := telemetry.MergeLatest(rows); len(snaps) > 0 {
		result.Snapshot = snaps[0]
		result.Snapshot.PatientID = device.PatientID
		result.HasData = true
	}
	return result, nil
}

// Overview returns one merged snapshot per active device.
func (s *ReadService) Overview(ctx context.Context) ([]telemetry.Snapshot, error) {
	rows, err := s.query.LatestPerDevice(ctx)
	if err != nil {
		return nil, err
	}
	return telemetry.MergeLatest(rows), nil
}

// Alerts lists readings that breached thresholds within window.
func (s *ReadService) Alerts(ctx context.Context, window time.Duration) (AlertReport, error) {
	if window <= 0 {
		window = defaultAlertWindow
	}
	since := s.now().Add(-window)
	readings, err := s.query.Breaches(ctx, since, s.thresholds)
	if err != nil {
		return AlertReport{}, err
	}
	report := AlertReport{Alerts: make([]telemetry.Alert, 0, len(readings)), Since: since}
	for _, reading := range readings {
		alert, ok := s.thresholds.Classify(reading, nil)
		if !ok {
			continue
		}
		report.Alerts = append(report.Alerts, alert)
		if alert.Kind.Critical() {
			report.CriticalCount++
		}
	}
	report.TotalAlerts = len(report.Alerts)
	return report, nil
}

// History returns a device's readings in [from, to) with a summary.
func (s *ReadService) History(ctx context.Context, deviceID int64, from, to time.Time, includeSimulated bool) (telemetry.History, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) || to.Sub(from) > maxHistoryWindow {
		return telemetry.History{}, ErrInvalidWindow
	}
	if _, err := s.directory.GetDevice(ctx, deviceID); err != nil {
		return telemetry.History{}, err
	}
	readings, err := s.query.History(ctx, deviceID, from.UTC(), to.UTC(), includeSimulated)
	if err != nil {
		return telemetry.History{}, err
	}
	return telemetry.Summarize(deviceID, from.UTC(), to.UTC(), readings, s.thresholds), nil
}
