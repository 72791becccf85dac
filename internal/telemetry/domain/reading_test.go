package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleReadings_ShareTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sample := Sample{DeviceID: 7, HeartRate: 72, SpO2: 98, TempSkin: 36.5, CapturedAt: ts}

	readings := sample.Readings()
	require.Len(t, readings, 3)
	for _, r := range readings {
		assert.Equal(t, ts, r.TS)
		assert.Equal(t, int64(7), r.DeviceID)
		assert.Equal(t, QualityOK, r.Quality)
		assert.False(t, r.IsSimulated)
	}
	assert.Equal(t, MetricHeartRate, readings[0].Metric)
	assert.Equal(t, 72.0, readings[0].Value)
	assert.Equal(t, 2, readings[1].MetricID)
	assert.Equal(t, 36.5, readings[2].Value)
}

func TestSampleReadings_SimulatedQuality(t *testing.T) {
	readings := Sample{DeviceID: 1, IsSimulated: true}.Readings()
	for _, r := range readings {
		assert.Equal(t, QualityExcellent, r.Quality)
		assert.True(t, r.IsSimulated)
	}
}

func TestSnapshotFromSample(t *testing.T) {
	patient := int64(12)
	ts := time.Now().UTC()
	snap := SnapshotFromSample(Sample{DeviceID: 7, HeartRate: 72, SpO2: 98, TempSkin: 36.5, FingerDetected: true, CapturedAt: ts}, &patient)
	assert.Equal(t, SnapshotType, snap.Type)
	assert.Equal(t, 36.5, snap.Temperature)
	assert.Equal(t, &patient, snap.PatientID)
	assert.False(t, snap.IsSimulated)
}

func TestMetricCatalog(t *testing.T) {
	m, ok := MetricByID(2)
	require.True(t, ok)
	assert.Equal(t, MetricSpO2, m.Code)

	m, ok = MetricByCode(MetricTempSkin)
	require.True(t, ok)
	assert.Equal(t, 3, m.ID)

	_, ok = MetricByID(9)
	assert.False(t, ok)
	assert.Len(t, Metrics(), 3)
}

func TestDeviceIsStale(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Minute)
	old := now.Add(-10 * time.Minute)
	assert.False(t, Device{LastSeenAt: &recent}.IsStale(now, 5*time.Minute))
	assert.True(t, Device{LastSeenAt: &old}.IsStale(now, 5*time.Minute))
	assert.True(t, Device{}.IsStale(now, 5*time.Minute))
}
