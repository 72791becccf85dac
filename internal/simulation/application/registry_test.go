package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	simulation "hemis-telemetry/internal/simulation/domain"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

type fakeRecorder struct {
	mu      sync.Mutex
	samples []telemetry.Sample
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, sample telemetry.Sample) (telemetry.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return telemetry.Snapshot{}, f.err
	}
	f.samples = append(f.samples, sample)
	return telemetry.SnapshotFromSample(sample, nil), nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

func (f *fakeRecorder) all() []telemetry.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telemetry.Sample(nil), f.samples...)
}

type finishLog struct {
	mu   sync.Mutex
	runs []simulation.Run
}

func (f *finishLog) record(run simulation.Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
}

func (f *finishLog) list() []simulation.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]simulation.Run(nil), f.runs...)
}

func newTestRegistry(t *testing.T, rec SampleRecorder, opts ...RegistryOption) *Registry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StopTimeout = time.Second
	base := []RegistryOption{
		WithConfig(cfg),
		WithGenerator(simulation.NewGenerator(rand.NewSource(1))),
	}
	reg, err := NewRegistry(rec, zap.NewNop(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return reg
}

func waitForStatus(t *testing.T, reg *Registry, id string, want simulation.Status) simulation.Run {
	t.Helper()
	var run simulation.Run
	require.Eventually(t, func() bool {
		got, err := reg.Get(id)
		if err != nil {
			return false
		}
		run = got
		return got.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func TestStartValidatesRequest(t *testing.T) {
	reg := newTestRegistry(t, &fakeRecorder{})

	cases := []struct {
		name string
		req  StartRequest
		want error
	}{
		{"unknown state", StartRequest{DeviceID: 1, State: "asleep"}, simulation.ErrUnknownState},
		{"missing device", StartRequest{State: "normal"}, simulation.ErrInvalidRequest},
		{"negative interval", StartRequest{DeviceID: 1, State: "normal", Interval: -time.Second}, simulation.ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Start(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), err)
		})
	}
	assert.Empty(t, reg.List())
}

func TestRunWritesSimulatedSamplesUntilStopped(t *testing.T) {
	rec := &fakeRecorder{}
	reg := newTestRegistry(t, rec)

	run, err := reg.Start(context.Background(), StartRequest{
		RunID:    "run-1",
		DeviceID: 7,
		State:    "critical",
		Duration: time.Minute,
		Interval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, simulation.StatusRunning, run.Status)
	assert.Equal(t, "critical", run.State)
	assert.Equal(t, 1, reg.Active())

	require.Eventually(t, func() bool { return rec.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	stopped, err := reg.Stop(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, simulation.StatusStopped, stopped.Status)
	require.NotNil(t, stopped.EndedAt)
	assert.GreaterOrEqual(t, stopped.DataPoints, int64(3))
	require.NotNil(t, stopped.LastSample)
	assert.Equal(t, 0, reg.Active())

	for _, s := range rec.all() {
		assert.Equal(t, int64(7), s.DeviceID)
		assert.True(t, s.IsSimulated)
		assert.True(t, s.FingerDetected)
		assert.GreaterOrEqual(t, s.HeartRate, 115.0)
		assert.LessOrEqual(t, s.HeartRate, 185.0)
	}

	_, err = reg.Stop(context.Background(), "run-1")
	assert.ErrorIs(t, err, simulation.ErrRunNotFound)
	_, err = reg.Stop(context.Background(), "missing")
	assert.ErrorIs(t, err, simulation.ErrRunNotFound)
}

func TestRunCompletesAtEndTime(t *testing.T) {
	rec := &fakeRecorder{}
	reg := newTestRegistry(t, rec)

	_, err := reg.Start(context.Background(), StartRequest{
		RunID:    "short",
		DeviceID: 3,
		State:    "normal",
		Duration: 30 * time.Millisecond,
		Interval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	run := waitForStatus(t, reg, "short", simulation.StatusCompleted)
	assert.Positive(t, run.DataPoints)
	assert.Empty(t, run.Error)

	_, err = reg.Stop(context.Background(), "short")
	assert.ErrorIs(t, err, simulation.ErrRunNotFound)
}

func TestStorageErrorAbortsRun(t *testing.T) {
	rec := &fakeRecorder{err: fmt.Errorf("%w: connection refused", telemetry.ErrStorage)}
	reg := newTestRegistry(t, rec)

	_, err := reg.Start(context.Background(), StartRequest{
		RunID:    "broken",
		DeviceID: 4,
		State:    "death",
		Duration: time.Minute,
		Interval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	run := waitForStatus(t, reg, "broken", simulation.StatusError)
	assert.Contains(t, run.Error, "connection refused")
	assert.Zero(t, run.DataPoints)
	assert.Equal(t, 0, reg.Active())
}

func TestStartSameIDStopsPriorRun(t *testing.T) {
	finished := &finishLog{}
	reg := newTestRegistry(t, &fakeRecorder{}, WithOnFinish(finished.record))

	req := StartRequest{RunID: "dup", DeviceID: 9, State: "normal", Duration: time.Minute, Interval: 10 * time.Millisecond}
	_, err := reg.Start(context.Background(), req)
	require.NoError(t, err)

	req.State = "critical"
	second, err := reg.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, simulation.StatusRunning, second.Status)
	assert.Equal(t, "critical", second.State)

	prior := finished.list()
	require.Len(t, prior, 1)
	assert.Equal(t, "dup", prior[0].ID)
	assert.Equal(t, "normal", prior[0].State)
	assert.Equal(t, simulation.StatusStopped, prior[0].Status)

	assert.Equal(t, 1, reg.Active())
	assert.Len(t, reg.List(), 1)
}

type blockingRecorder struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRecorder) Record(_ context.Context, sample telemetry.Sample) (telemetry.Snapshot, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return telemetry.SnapshotFromSample(sample, nil), nil
}

func TestStartSameIDKeepsRunThatIsStillStopping(t *testing.T) {
	rec := &blockingRecorder{entered: make(chan struct{}), release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.StopTimeout = 20 * time.Millisecond
	reg, err := NewRegistry(rec, zap.NewNop(), WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(rec.release) }) }
	t.Cleanup(release)

	req := StartRequest{RunID: "slow", DeviceID: 4, State: "normal", Duration: time.Minute, Interval: 10 * time.Millisecond}
	_, err = reg.Start(context.Background(), req)
	require.NoError(t, err)
	select {
	case <-rec.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick never started")
	}

	req.State = "critical"
	_, err = reg.Start(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, simulation.ErrRunStopping), err)

	current, err := reg.Get("slow")
	require.NoError(t, err)
	assert.Equal(t, "normal", current.State)
	assert.Equal(t, simulation.StatusRunning, current.Status)

	release()
	stopped := waitForStatus(t, reg, "slow", simulation.StatusStopped)
	assert.Equal(t, "normal", stopped.State)
	assert.Len(t, reg.List(), 1)
}

func TestStartEnforcesRunCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRuns = 1
	cfg.StopTimeout = time.Second
	reg := newTestRegistry(t, &fakeRecorder{}, WithConfig(cfg))

	req := StartRequest{RunID: "a", DeviceID: 1, State: "normal", Duration: time.Minute, Interval: 10 * time.Millisecond}
	_, err := reg.Start(context.Background(), req)
	require.NoError(t, err)

	_, err = reg.Start(context.Background(), StartRequest{RunID: "b", DeviceID: 2, State: "normal", Interval: 10 * time.Millisecond})
	assert.ErrorIs(t, err, simulation.ErrTooManyRuns)

	// Restarting the same id frees its own slot first.
	_, err = reg.Start(context.Background(), req)
	require.NoError(t, err)
}

func TestDefaultRunIDAndDefaults(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	reg := newTestRegistry(t, &fakeRecorder{}, WithClock(func() time.Time { return at }))

	run, err := reg.Start(context.Background(), StartRequest{DeviceID: 7, State: "normal"})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("sim_7_%d", at.Unix()), run.ID)
	assert.Equal(t, 30.0, run.IntervalSeconds)
	assert.Equal(t, 10.0, run.DurationMinutes)
	assert.Equal(t, at.Add(10*time.Minute), run.EndsAt)

	assert.Equal(t, 1, reg.StopAll(context.Background()))
	assert.Equal(t, 0, reg.StopAll(context.Background()))
}

func TestStopAllStopsEveryRun(t *testing.T) {
	reg := newTestRegistry(t, &fakeRecorder{})
	for i := 1; i <= 3; i++ {
		_, err := reg.Start(context.Background(), StartRequest{
			RunID:    fmt.Sprintf("run-%d", i),
			DeviceID: int64(i),
			State:    "normal",
			Duration: time.Minute,
			Interval: 10 * time.Millisecond,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, reg.Active())
	assert.Equal(t, 3, reg.StopAll(context.Background()))
	assert.Equal(t, 0, reg.Active())
	for _, run := range reg.List() {
		assert.Equal(t, simulation.StatusStopped, run.Status)
	}
}

func TestSweepEvictsOldTerminalRuns(t *testing.T) {
	reg := newTestRegistry(t, &fakeRecorder{})
	_, err := reg.Start(context.Background(), StartRequest{RunID: "old", DeviceID: 1, State: "normal", Duration: time.Minute, Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	_, err = reg.Start(context.Background(), StartRequest{RunID: "live", DeviceID: 2, State: "normal", Duration: time.Minute, Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	_, err = reg.Stop(context.Background(), "old")
	require.NoError(t, err)

	assert.Equal(t, 0, reg.Sweep(time.Now()))
	assert.Equal(t, 1, reg.Sweep(time.Now().Add(2*time.Hour)))

	_, err = reg.Get("old")
	assert.ErrorIs(t, err, simulation.ErrRunNotFound)
	live, err := reg.Get("live")
	require.NoError(t, err)
	assert.Equal(t, simulation.StatusRunning, live.Status)
}

func TestRunSweeperReturnsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 5 * time.Millisecond
	reg := newTestRegistry(t, &fakeRecorder{}, WithConfig(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.RunSweeper(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not exit")
	}
}

func TestSampleWritesOneReading(t *testing.T) {
	rec := &fakeRecorder{}
	reg := newTestRegistry(t, rec)

	vitals, snap, err := reg.Sample(context.Background(), 5, "normal")
	require.NoError(t, err)
	assert.Equal(t, "normal", vitals.State)
	assert.Equal(t, int64(5), snap.DeviceID)
	assert.True(t, snap.IsSimulated)
	assert.Equal(t, 1, rec.count())

	_, _, err = reg.Sample(context.Background(), 5, "asleep")
	assert.ErrorIs(t, err, simulation.ErrUnknownState)
	_, _, err = reg.Sample(context.Background(), 0, "normal")
	assert.ErrorIs(t, err, simulation.ErrInvalidRequest)

	rec.err = telemetry.ErrStorage
	_, _, err = reg.Sample(context.Background(), 5, "normal")
	assert.ErrorIs(t, err, telemetry.ErrStorage)
}

func TestNewRegistryRejectsNilRecorder(t *testing.T) {
	_, err := NewRegistry(nil, zap.NewNop())
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{MaxRuns: 3}.withDefaults()
	assert.Equal(t, 3, cfg.MaxRuns)
	assert.Equal(t, 30*time.Second, cfg.DefaultInterval)
	assert.Equal(t, time.Hour, cfg.Retention)
}
