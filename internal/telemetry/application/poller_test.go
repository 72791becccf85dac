package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hemis-telemetry/internal/fanout"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

func newTestPoller(t *testing.T, reader *fakeReader, out *fakeFanout, opts ...PollerOption) *Poller {
	t.Helper()
	broadcaster, err := NewBroadcaster(out, zap.NewNop())
	require.NoError(t, err)
	poller, err := NewPoller(reader, broadcaster, zap.NewNop(), opts...)
	require.NoError(t, err)
	return poller
}

func TestPollOnceMergesAndPublishesPerDevice(t *testing.T) {
	patient := int64(12)
	ts := testNow.Add(-time.Second)
	reader := &fakeReader{rows: []telemetry.LatestRow{
		{DeviceID: 2, Metric: telemetry.MetricHeartRate, TS: ts, Value: 80},
		{DeviceID: 2, Metric: telemetry.MetricSpO2, TS: ts, Value: 96},
		{DeviceID: 5, PatientID: &patient, Metric: telemetry.MetricTempSkin, TS: ts, Value: 36.8, IsSimulated: true},
	}}
	out := &fakeFanout{}
	poller := newTestPoller(t, reader, out,
		WithPollClock(func() time.Time { return testNow }),
		WithPollLookback(3*time.Second),
	)

	published, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, published)
	assert.Equal(t, []time.Time{testNow.Add(-3 * time.Second)}, reader.since)
	assert.Equal(t, []string{"device_2", fanout.GlobalRoom, "device_5", fanout.GlobalRoom, "patient_12"}, out.rooms())

	first := out.telemetry[0].data.(telemetry.Snapshot)
	assert.Equal(t, 80.0, first.HeartRate)
	assert.Equal(t, 96.0, first.SpO2)
	assert.Zero(t, first.Temperature)
	assert.True(t, first.FingerDetected)

	second := out.telemetry[2].data.(telemetry.Snapshot)
	assert.True(t, second.IsSimulated)
	assert.False(t, second.FingerDetected)

	status := poller.Status()
	assert.Equal(t, int64(1), status.Cycles)
	require.NotNil(t, status.LastCycleAt)
	assert.Empty(t, status.LastError)
}

func TestPollOnceReportsReaderError(t *testing.T) {
	reader := &fakeReader{err: errors.New("db gone")}
	out := &fakeFanout{}
	poller := newTestPoller(t, reader, out)

	_, err := poller.PollOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, out.rooms())
	assert.Equal(t, "db gone", poller.Status().LastError)
}

func TestPollerStartStopIsIdempotent(t *testing.T) {
	reader := &fakeReader{err: errors.New("transient")}
	poller := newTestPoller(t, reader, &fakeFanout{}, WithPollInterval(5*time.Millisecond))

	assert.False(t, poller.Stop())
	assert.True(t, poller.Start())
	assert.False(t, poller.Start())
	assert.True(t, poller.Running())

	// Cycle errors do not end the loop.
	require.Eventually(t, func() bool { return reader.calls() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, poller.Running())

	assert.True(t, poller.Stop())
	assert.False(t, poller.Running())
	assert.False(t, poller.Stop())

	assert.True(t, poller.Start())
	assert.True(t, poller.Stop())
}

func TestPollerStopsWithBaseContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	poller := newTestPoller(t, &fakeReader{}, &fakeFanout{},
		WithPollInterval(5*time.Millisecond),
		WithBaseContext(ctx),
	)
	require.True(t, poller.Start())
	cancel()
	require.Eventually(t, func() bool { return !poller.Running() }, time.Second, 5*time.Millisecond)
}
