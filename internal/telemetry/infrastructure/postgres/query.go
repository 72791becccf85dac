package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	telemetry "hemis-telemetry/internal/telemetry/domain"
)

const breachLimit = 50

// TelemetryQuery serves device lookups and reading queries.
type TelemetryQuery struct {
	store *Store
	role  string
}

// NewTelemetryQuery constructs a query reading as the reader role.
func NewTelemetryQuery(store *Store) *TelemetryQuery {
	return &TelemetryQuery{store: store, role: RoleReader}
}

func (q *TelemetryQuery) db() (*sql.DB, error) {
	if q == nil || q.store == nil {
		return nil, errors.New("telemetry query: nil store")
	}
	db := q.store.DB(q.role)
	if db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	return db, nil
}

// PatientForDevice returns the assigned patient, or nil when none.
func (q *TelemetryQuery) PatientForDevice(ctx context.Context, deviceID int64) (*int64, error) {
	db, err := q.db()
	if err != nil {
		return nil, err
	}
	var patientID sql.NullInt64
	err = db.QueryRowContext(ctx, `SELECT patient_id FROM device WHERE id = $1`, deviceID).Scan(&patientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("telemetry query: patient for device", err)
	}
	if !patientID.Valid {
		return nil, nil
	}
	id := patientID.Int64
	return &id, nil
}

// GetDevice loads a device row.
func (q *TelemetryQuery) GetDevice(ctx context.Context, deviceID int64) (*telemetry.Device, error) {
	db, err := q.db()
	if err != nil {
		return nil, err
	}
	var (
		device    telemetry.Device
		lastSeen  sql.NullTime
		patientID sql.NullInt64
	)
	err = db.QueryRowContext(ctx, `
SELECT id, label, firmware_version, last_seen_at, active, patient_id
FROM device
WHERE id = $1`, deviceID).Scan(&device.ID, &device.Label, &device.FirmwareVersion, &lastSeen, &device.Active, &patientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, telemetry.ErrDeviceNotFound
		}
		return nil, storageErr("telemetry query: get device", err)
	}
	if lastSeen.Valid {
		ts := lastSeen.Time.UTC()
		device.LastSeenAt = &ts
	}
	if patientID.Valid {
		id := patientID.Int64
		device.PatientID = &id
	}
	return &device, nil
}

// LatestSince returns readings of active devices captured at or after since,
// newest first within each (device, metric).
func (q *TelemetryQuery) LatestSince(ctx context.Context, since time.Time) ([]telemetry.LatestRow, error) {
	db, err := q.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
SELECT r.device_id, d.patient_id, m.code, r.ts, r.value, r.is_simulated
FROM reading r
JOIN metric m ON m.id = r.metric_id
JOIN device d ON d.id = r.device_id
WHERE d.active = TRUE AND r.ts >= $1
ORDER BY r.device_id, m.code, r.ts DESC`, since)
	if err != nil {
		return nil, storageErr("telemetry query: latest since", err)
	}
	return scanLatestRows(rows)
}

// LatestForDevice returns the newest reading per metric for one device.
func (q *TelemetryQuery) LatestForDevice(ctx context.Context, deviceID int64) ([]telemetry.LatestRow, error) {
	db, err := q.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
SELECT DISTINCT ON (r.metric_id) r.device_id, d.patient_id, m.code, r.ts, r.value, r.is_simulated
FROM reading r
JOIN metric m ON m.id = r.metric_id
JOIN device d ON d.id = r.device_id
WHERE r.device_id = $1
ORDER BY r.metric_id, r.ts DESC`, deviceID)
	if err != nil {
		return nil, storageErr("telemetry query: latest for device", err)
	}
	return scanLatestRows(rows)
}

// LatestPerDevice returns the newest reading per metric for every active device.
func (q *TelemetryQuery) LatestPerDevice(ctx context.Context) ([]telemetry.LatestRow, error) {
	db, err := q.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
SELECT DISTINCT ON (r.device_id, r.metric_id) r.device_id, d.patient_id, m.code, r.ts, r.value, r.is_simulated
FROM reading r
JOIN metric m ON m.id = r.metric_id
JOIN device d ON d.id = r.device_id
WHERE d.active = TRUE
ORDER BY r.device_id, r.metric_id, r.ts DESC`)
	if err != nil {
		return nil, storageErr("telemetry query: latest per device", err)
	}
	return scanLatestRows(rows)
}

// History returns a device's readings in [from, to).
func (q *TelemetryQuery) History(ctx context.Context, deviceID int64, from, to time.Time, includeSimulated bool) ([]telemetry.Reading, error) {
	db, err := q.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
SELECT r.device_id, r.metric_id, m.code, r.ts, r.value, r.quality_flag, r.is_simulated
FROM reading r
JOIN metric m ON m.id = r.metric_id
WHERE r.device_id = $1 AND r.ts >= $2 AND r.ts < $3 AND ($4 OR r.is_simulated = FALSE)
ORDER BY r.ts ASC, r.metric_id ASC`, deviceID, from, to, includeSimulated)
	if err != nil {
		return nil, storageErr("telemetry query: history", err)
	}
	return scanReadings(rows)
}

// Breaches returns readings since the given time that cross alert thresholds.
// Zero heart rate and SpO2 values are no-contact sentinels and are ignored.
func (q *TelemetryQuery) Breaches(ctx context.Context, since time.Time, t telemetry.AlertThresholds) ([]telemetry.Reading, error) {
	db, err := q.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
SELECT r.device_id, r.metric_id, m.code, r.ts, r.value, r.quality_flag, r.is_simulated
FROM reading r
JOIN metric m ON m.id = r.metric_id
WHERE r.ts >= $1 AND (
	(m.code = 'heart_rate' AND r.value > 0 AND (r.value > $2 OR r.value < $3))
	OR (m.code = 'spo2' AND r.value > 0 AND r.value < $4)
	OR (m.code = 'temp_skin' AND (r.value > $5 OR r.value < $6))
)
ORDER BY r.ts DESC
LIMIT $7`, since, t.HeartRateHigh, t.HeartRateLow, t.SpO2Low, t.TempHigh, t.TempLow, breachLimit)
	if err != nil {
		return nil, storageErr("telemetry query: breaches", err)
	}
	return scanReadings(rows)
}

func scanLatestRows(rows *sql.Rows) ([]telemetry.LatestRow, error) {
	defer rows.Close()
	var result []telemetry.LatestRow
	for rows.Next() {
		var (
			row       telemetry.LatestRow
			patientID sql.NullInt64
			code      string
		)
		if err := rows.Scan(&row.DeviceID, &patientID, &code, &row.TS, &row.Value, &row.IsSimulated); err != nil {
			return nil, storageErr("telemetry query: scan", err)
		}
		if patientID.Valid {
			id := patientID.Int64
			row.PatientID = &id
		}
		row.Metric = telemetry.MetricCode(code)
		row.TS = row.TS.UTC()
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("telemetry query: rows", err)
	}
	return result, nil
}

func scanReadings(rows *sql.Rows) ([]telemetry.Reading, error) {
	defer rows.Close()
	var result []telemetry.Reading
	for rows.Next() {
		var (
			reading telemetry.Reading
			code    string
		)
		if err := rows.Scan(&reading.DeviceID, &reading.MetricID, &code, &reading.TS, &reading.Value, &reading.Quality, &reading.IsSimulated); err != nil {
			return nil, storageErr("telemetry query: scan", err)
		}
		reading.Metric = telemetry.MetricCode(code)
		reading.TS = reading.TS.UTC()
		result = append(result, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("telemetry query: rows", err)
	}
	return result, nil
}
