package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "hemis-telemetry/internal/telemetry/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func testSample() telemetry.Sample {
	return telemetry.Sample{
		DeviceID:       7,
		HeartRate:      72,
		SpO2:           98,
		TempSkin:       36.6,
		FingerDetected: true,
		CapturedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestWriteSampleInsertsThreeReadingsInOneTx(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewTelemetryRepository(store)
	sample := testSample()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO device`).
		WithArgs(int64(7), "ESP32-7", sample.CapturedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`INSERT INTO reading`)
	prep.ExpectExec().WithArgs(int64(7), 1, sample.CapturedAt, 72.0, telemetry.QualityOK, false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs(int64(7), 2, sample.CapturedAt, 98.0, telemetry.QualityOK, false).
		WillReturnResult(sqlmock.NewResult(2, 1))
	prep.ExpectExec().WithArgs(int64(7), 3, sample.CapturedAt, 36.6, telemetry.QualityOK, false).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.WriteSample(context.Background(), sample))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteSampleSimulatedQuality(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewTelemetryRepository(store, WithRole(RoleSimulator))
	sample := testSample()
	sample.IsSimulated = true

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO device`).WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`INSERT INTO reading`)
	for i := 1; i <= 3; i++ {
		prep.ExpectExec().
			WithArgs(int64(7), i, sample.CapturedAt, sqlmock.AnyArg(), telemetry.QualityExcellent, true).
			WillReturnResult(sqlmock.NewResult(int64(i), 1))
	}
	mock.ExpectCommit()

	require.NoError(t, repo.WriteSample(context.Background(), sample))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteSampleRollsBackOnInsertFailure(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewTelemetryRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO device`).WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`INSERT INTO reading`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.WriteSample(context.Background(), testSample())
	require.Error(t, err)
	assert.ErrorIs(t, err, telemetry.ErrStorage)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteSampleUnknownDeviceWithoutAutoRegister(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewTelemetryRepository(store, WithAutoRegister(false))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE device`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.WriteSample(context.Background(), testSample())
	require.Error(t, err)
	assert.ErrorIs(t, err, telemetry.ErrDeviceNotFound)
	assert.NotErrorIs(t, err, telemetry.ErrStorage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteSampleRejectsZeroTimestamp(t *testing.T) {
	store, _ := newMockStore(t)
	repo := NewTelemetryRepository(store)
	sample := testSample()
	sample.CapturedAt = time.Time{}

	require.Error(t, repo.WriteSample(context.Background(), sample))
}

func TestWriteSampleCommitFailureIsStorageError(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewTelemetryRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO device`).WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`INSERT INTO reading`)
	for i := 0; i < 3; i++ {
		prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := repo.WriteSample(context.Background(), testSample())
	assert.ErrorIs(t, err, telemetry.ErrStorage)
	require.NoError(t, mock.ExpectationsWereMet())
}
