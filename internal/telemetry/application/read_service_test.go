package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "hemis-telemetry/internal/telemetry/domain"
)

func newTestReadService(t *testing.T, query *fakeQuery, directory *fakeDirectory) *ReadService {
	t.Helper()
	svc, err := NewReadService(query, directory, WithReadClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return svc
}

func TestRealtimeMergesLatestAndFlagsStaleness(t *testing.T) {
	patient := int64(4)
	seen := testNow.Add(-10 * time.Minute)
	directory := &fakeDirectory{devices: map[int64]telemetry.Device{
		7: {ID: 7, Label: "Bed 7", LastSeenAt: &seen, Active: true, PatientID: &patient},
	}}
	query := &fakeQuery{latest: map[int64][]telemetry.LatestRow{
		7: {
			{DeviceID: 7, Metric: telemetry.MetricHeartRate, TS: seen, Value: 70},
			{DeviceID: 7, Metric: telemetry.MetricSpO2, TS: seen, Value: 97},
			{DeviceID: 7, Metric: telemetry.MetricTempSkin, TS: seen, Value: 36.4},
		},
	}}
	svc := newTestReadService(t, query, directory)

	rt, err := svc.Realtime(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, rt.HasData)
	assert.True(t, rt.IsStale)
	assert.Equal(t, "Bed 7", rt.Label)
	assert.Equal(t, 70.0, rt.HeartRate)
	assert.Equal(t, &patient, rt.PatientID)
}

func TestRealtimeWithoutReadings(t *testing.T) {
	directory := &fakeDirectory{devices: map[int64]telemetry.Device{3: {ID: 3, Active: true}}}
	svc := newTestReadService(t, &fakeQuery{}, directory)

	rt, err := svc.Realtime(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, rt.HasData)
	assert.True(t, rt.IsStale)
	assert.Equal(t, telemetry.SnapshotType, rt.Type)

	_, err = svc.Realtime(context.Background(), 99)
	assert.ErrorIs(t, err, telemetry.ErrDeviceNotFound)
}

func TestAlertsClassifiesBreaches(t *testing.T) {
	query := &fakeQuery{breaches: []telemetry.Reading{
		{DeviceID: 1, Metric: telemetry.MetricHeartRate, TS: testNow, Value: 130},
		{DeviceID: 1, Metric: telemetry.MetricSpO2, TS: testNow, Value: 88},
		{DeviceID: 2, Metric: telemetry.MetricHeartRate, TS: testNow, Value: 45},
		{DeviceID: 2, Metric: telemetry.MetricTempSkin, TS: testNow, Value: 36.5},
	}}
	svc := newTestReadService(t, query, &fakeDirectory{})

	report, err := svc.Alerts(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalAlerts)
	assert.Equal(t, 2, report.CriticalCount)
	assert.Equal(t, testNow.Add(-24*time.Hour), report.Since)
	assert.Equal(t, telemetry.AlertHypoxemia, report.Alerts[1].Kind)
}

func TestHistoryValidatesWindow(t *testing.T) {
	directory := &fakeDirectory{devices: map[int64]telemetry.Device{7: {ID: 7}}}
	query := &fakeQuery{history: []telemetry.Reading{
		{DeviceID: 7, Metric: telemetry.MetricHeartRate, TS: testNow, Value: 60},
		{DeviceID: 7, Metric: telemetry.MetricHeartRate, TS: testNow.Add(time.Minute), Value: 80},
	}}
	svc := newTestReadService(t, query, directory)
	ctx := context.Background()

	_, err := svc.History(ctx, 7, testNow, testNow.Add(-time.Hour), false)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = svc.History(ctx, 7, testNow.Add(-32*24*time.Hour), testNow, false)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = svc.History(ctx, 8, testNow.Add(-time.Hour), testNow, false)
	assert.ErrorIs(t, err, telemetry.ErrDeviceNotFound)

	history, err := svc.History(ctx, 7, testNow.Add(-time.Hour), testNow.Add(time.Hour), true)
	require.NoError(t, err)
	assert.True(t, query.historySimulated)
	require.Len(t, history.Summary, 1)
	assert.Equal(t, 70.0, history.Summary[0].Avg)
}

func TestReadServicePropagatesQueryErrors(t *testing.T) {
	query := &fakeQuery{err: errors.New("timeout")}
	svc := newTestReadService(t, query, &fakeDirectory{})

	_, err := svc.Overview(context.Background())
	assert.Error(t, err)
	_, err = svc.Alerts(context.Background(), time.Hour)
	assert.Error(t, err)
}
