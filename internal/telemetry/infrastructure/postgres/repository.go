package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	telemetry "hemis-telemetry/internal/telemetry/domain"
)

const insertReadingSQL = `
INSERT INTO reading (
	device_id,
	metric_id,
	ts,
	value,
	quality_flag,
	is_simulated
) VALUES (
	$1, $2, $3, $4, $5, $6
)`

const upsertDeviceSQL = `
INSERT INTO device (id, label, last_seen_at, active)
VALUES ($1, $2, $3, TRUE)
ON CONFLICT (id) DO UPDATE SET
	last_seen_at = EXCLUDED.last_seen_at,
	active = TRUE`

const touchDeviceSQL = `
UPDATE device
SET last_seen_at = $2, active = TRUE
WHERE id = $1`

// TelemetryRepository writes vital-sign samples.
type TelemetryRepository struct {
	store        *Store
	role         string
	autoRegister bool
}

// RepositoryOption configures the repository.
type RepositoryOption func(*TelemetryRepository)

// WithRole overrides the store role used for writes.
func WithRole(role string) RepositoryOption {
	return func(repo *TelemetryRepository) {
		if role != "" {
			repo.role = role
		}
	}
}

// WithAutoRegister controls whether unknown devices are created on first sample.
func WithAutoRegister(enabled bool) RepositoryOption {
	return func(repo *TelemetryRepository) {
		repo.autoRegister = enabled
	}
}

// NewTelemetryRepository constructs a repository writing as the ingest role.
func NewTelemetryRepository(store *Store, opts ...RepositoryOption) *TelemetryRepository {
	repo := &TelemetryRepository{store: store, role: RoleIngest, autoRegister: true}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// WriteSample stores three readings sharing the sample timestamp and marks the
// device live, all in one transaction.
func (r *TelemetryRepository) WriteSample(ctx context.Context, sample telemetry.Sample) error {
	if r == nil || r.store == nil {
		return errors.New("telemetry repo: nil store")
	}
	if sample.CapturedAt.IsZero() {
		return errors.New("telemetry repo: sample without timestamp")
	}

	return r.store.InTx(ctx, r.role, func(tx *sql.Tx) error {
		if err := r.markLive(ctx, tx, sample); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, insertReadingSQL)
		if err != nil {
			return storageErr("telemetry repo: prepare", err)
		}
		defer stmt.Close()

		for _, reading := range sample.Readings() {
			if _, err := stmt.ExecContext(
				ctx,
				reading.DeviceID,
				reading.MetricID,
				reading.TS,
				reading.Value,
				reading.Quality,
				reading.IsSimulated,
			); err != nil {
				return storageErr("telemetry repo: insert reading", err)
			}
		}
		return nil
	})
}

// markLive sets last_seen_at and active. It runs before the reading inserts so
// the device row exists for the foreign key.
func (r *TelemetryRepository) markLive(ctx context.Context, tx *sql.Tx, sample telemetry.Sample) error {
	if r.autoRegister {
		label := fmt.Sprintf("ESP32-%d", sample.DeviceID)
		if _, err := tx.ExecContext(ctx, upsertDeviceSQL, sample.DeviceID, label, sample.CapturedAt); err != nil {
			return storageErr("telemetry repo: upsert device", err)
		}
		return nil
	}
	res, err := tx.ExecContext(ctx, touchDeviceSQL, sample.DeviceID, sample.CapturedAt)
	if err != nil {
		return storageErr("telemetry repo: touch device", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("telemetry repo: device %d: %w", sample.DeviceID, telemetry.ErrDeviceNotFound)
	}
	return nil
}
