package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"hemis-telemetry/internal/observability/metrics"
	simulation "hemis-telemetry/internal/simulation/domain"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

// SampleRecorder is the ingestion write path: persist, then broadcast.
type SampleRecorder interface {
	Record(ctx context.Context, sample telemetry.Sample) (telemetry.Snapshot, error)
}

// StartRequest describes a run to launch. Zero durations fall back to the
// configured defaults.
type StartRequest struct {
	RunID     string
	DeviceID  int64
	PatientID *int64
	State     string
	Duration  time.Duration
	Interval  time.Duration
}

type runEntry struct {
	run      simulation.Run
	state    simulation.State
	interval time.Duration
	endsAt   time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// Registry owns every simulation run of the process. Each run is its own
// goroutine with its own cancel func; all bookkeeping goes through mu.
type Registry struct {
	recorder  SampleRecorder
	generator *simulation.Generator
	cfg       Config
	now       func() time.Time
	onFinish  func(simulation.Run)
	logger    *zap.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*runEntry
}

// RegistryOption configures the registry.
type RegistryOption func(*Registry)

// WithConfig overrides limits and defaults.
func WithConfig(cfg Config) RegistryOption {
	return func(r *Registry) {
		r.cfg = cfg.withDefaults()
	}
}

// WithGenerator overrides the vitals generator.
func WithGenerator(gen *simulation.Generator) RegistryOption {
	return func(r *Registry) {
		if gen != nil {
			r.generator = gen
		}
	}
}

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithOnFinish is called with the final view of every run that reaches a
// terminal state.
func WithOnFinish(fn func(simulation.Run)) RegistryOption {
	return func(r *Registry) {
		r.onFinish = fn
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(recorder SampleRecorder, logger *zap.Logger, opts ...RegistryOption) (*Registry, error) {
	if recorder == nil {
		return nil, errors.New("simulation registry: nil recorder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	r := &Registry{
		recorder:  recorder,
		generator: simulation.NewGenerator(nil),
		cfg:       DefaultConfig(),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.Named("simulation"),
		base:      base,
		cancel:    cancel,
		runs:      make(map[string]*runEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the effective configuration.
func (r *Registry) Config() Config {
	if r == nil {
		return DefaultConfig()
	}
	return r.cfg
}

// Start validates the request and launches a run. An active run with the
// same id is stopped first; if it has not exited within StopTimeout the
// start fails with ErrRunStopping and the old run stays listed.
func (r *Registry) Start(ctx context.Context, req StartRequest) (simulation.Run, error) {
	if r == nil {
		return simulation.Run{}, errors.New("simulation registry: nil registry")
	}
	state, err := simulation.LookupState(req.State)
	if err != nil {
		return simulation.Run{}, err
	}
	if req.DeviceID <= 0 {
		return simulation.Run{}, fmt.Errorf("%w: device_id is required", simulation.ErrInvalidRequest)
	}
	if req.Duration < 0 || req.Interval < 0 {
		return simulation.Run{}, fmt.Errorf("%w: duration and interval must be positive", simulation.ErrInvalidRequest)
	}
	duration := req.Duration
	if duration == 0 {
		duration = r.cfg.DefaultDuration
	}
	interval := req.Interval
	if interval == 0 {
		interval = r.cfg.DefaultInterval
	}

	now := r.now()
	id := req.RunID
	if id == "" {
		id = fmt.Sprintf("sim_%d_%d", req.DeviceID, now.Unix())
	}

	if _, err := r.Stop(ctx, id); err == nil {
		r.logger.Info("simulation restarted", zap.String("simulation_id", id))
	}

	r.mu.Lock()
	if prior, ok := r.runs[id]; ok && !prior.run.Status.Terminal() {
		r.mu.Unlock()
		return simulation.Run{}, fmt.Errorf("%w: %s", simulation.ErrRunStopping, id)
	}
	if r.activeLocked() >= r.cfg.MaxRuns {
		r.mu.Unlock()
		return simulation.Run{}, fmt.Errorf("%w (limit %d)", simulation.ErrTooManyRuns, r.cfg.MaxRuns)
	}
	runCtx, cancel := context.WithCancel(r.base)
	entry := &runEntry{
		run: simulation.Run{
			ID:              id,
			DeviceID:        req.DeviceID,
			PatientID:       req.PatientID,
			State:           state.Name,
			Status:          simulation.StatusRunning,
			IntervalSeconds: interval.Seconds(),
			DurationMinutes: duration.Minutes(),
			StartedAt:       now,
			EndsAt:          now.Add(duration),
		},
		state:    state,
		interval: interval,
		endsAt:   now.Add(duration),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.runs[id] = entry
	active := r.activeLocked()
	snapshot := entry.run
	r.wg.Add(1)
	r.mu.Unlock()

	metrics.IncSimulationRun(string(simulation.StatusRunning))
	metrics.SetSimulationActive(active)
	r.logger.Info("simulation started",
		zap.String("simulation_id", id),
		zap.Int64("device_id", req.DeviceID),
		zap.String("state", state.Name),
		zap.Duration("interval", interval),
		zap.Duration("duration", duration),
	)

	go r.loop(runCtx, entry)
	return snapshot, nil
}

func (r *Registry) loop(ctx context.Context, e *runEntry) {
	defer r.wg.Done()
	defer close(e.done)

	for {
		if ctx.Err() != nil {
			r.finish(e, simulation.StatusStopped, "")
			return
		}
		if !r.now().Before(e.endsAt) {
			r.finish(e, simulation.StatusCompleted, "")
			return
		}
		if err := r.tick(ctx, e); err != nil {
			r.finish(e, simulation.StatusError, err.Error())
			return
		}

		wait := time.NewTimer(e.interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			r.finish(e, simulation.StatusStopped, "")
			return
		case <-wait.C:
		}
	}
}

func (r *Registry) tick(ctx context.Context, e *runEntry) error {
	vitals := r.generator.Generate(e.state)
	sample := sampleFromVitals(e.run.DeviceID, vitals, r.now())
	// An in-flight write completes even when the run is being stopped.
	if _, err := r.recorder.Record(context.WithoutCancel(ctx), sample); err != nil {
		metrics.IncSimulationTick(metrics.ResultError)
		r.logger.Error("simulated sample write failed",
			zap.String("simulation_id", e.run.ID),
			zap.Int64("device_id", e.run.DeviceID),
			zap.Error(err),
		)
		return err
	}
	metrics.IncSimulationTick(metrics.ResultSuccess)

	r.mu.Lock()
	e.run.DataPoints++
	e.run.LastSample = &vitals
	r.mu.Unlock()
	return nil
}

func (r *Registry) finish(e *runEntry, status simulation.Status, message string) {
	ended := r.now()
	r.mu.Lock()
	if e.run.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	e.run.Status = status
	e.run.EndedAt = &ended
	e.run.Error = message
	final := e.run
	active := r.activeLocked()
	r.mu.Unlock()
	e.cancel()

	metrics.IncSimulationRun(string(status))
	metrics.SetSimulationActive(active)
	fields := []zap.Field{
		zap.String("simulation_id", final.ID),
		zap.Int64("device_id", final.DeviceID),
		zap.String("status", string(status)),
		zap.Int64("data_points", final.DataPoints),
	}
	if status == simulation.StatusError {
		r.logger.Error("simulation aborted", append(fields, zap.String("error", message))...)
	} else {
		r.logger.Info("simulation finished", fields...)
	}
	if r.onFinish != nil {
		r.onFinish(final)
	}
}

// Stop signals a run to exit and waits up to StopTimeout for it. Unknown
// and already finished runs report ErrRunNotFound.
func (r *Registry) Stop(ctx context.Context, id string) (simulation.Run, error) {
	if r == nil {
		return simulation.Run{}, simulation.ErrRunNotFound
	}
	r.mu.Lock()
	e, ok := r.runs[id]
	if !ok || e.run.Status.Terminal() {
		r.mu.Unlock()
		return simulation.Run{}, simulation.ErrRunNotFound
	}
	e.cancel()
	r.mu.Unlock()

	r.await(ctx, time.Now().Add(r.cfg.StopTimeout), e)
	return r.view(e), nil
}

// StopAll stops every running run and returns how many were signalled.
func (r *Registry) StopAll(ctx context.Context) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	var entries []*runEntry
	for _, e := range r.runs {
		if !e.run.Status.Terminal() {
			e.cancel()
			entries = append(entries, e)
		}
	}
	r.mu.Unlock()

	deadline := time.Now().Add(r.cfg.StopTimeout)
	for _, e := range entries {
		r.await(ctx, deadline, e)
	}
	if len(entries) > 0 {
		r.logger.Info("stopped all simulations", zap.Int("count", len(entries)))
	}
	return len(entries)
}

func (r *Registry) await(ctx context.Context, deadline time.Time, e *runEntry) {
	wait := time.NewTimer(time.Until(deadline))
	defer wait.Stop()
	select {
	case <-e.done:
	case <-ctx.Done():
	case <-wait.C:
		r.logger.Warn("simulation did not stop in time", zap.String("simulation_id", e.run.ID))
	}
}

// Get returns the current view of a run.
func (r *Registry) Get(id string) (simulation.Run, error) {
	if r == nil {
		return simulation.Run{}, simulation.ErrRunNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[id]
	if !ok {
		return simulation.Run{}, simulation.ErrRunNotFound
	}
	return e.run, nil
}

// List returns every tracked run ordered by start time.
func (r *Registry) List() []simulation.Run {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]simulation.Run, 0, len(r.runs))
	for _, e := range r.runs {
		out = append(out, e.run)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Active counts running runs.
func (r *Registry) Active() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

// Sample generates and records a single reading for state outside any run.
func (r *Registry) Sample(ctx context.Context, deviceID int64, stateName string) (simulation.Vitals, telemetry.Snapshot, error) {
	if r == nil {
		return simulation.Vitals{}, telemetry.Snapshot{}, errors.New("simulation registry: nil registry")
	}
	state, err := simulation.LookupState(stateName)
	if err != nil {
		return simulation.Vitals{}, telemetry.Snapshot{}, err
	}
	if deviceID <= 0 {
		return simulation.Vitals{}, telemetry.Snapshot{}, fmt.Errorf("%w: device_id is required", simulation.ErrInvalidRequest)
	}
	vitals := r.generator.Generate(state)
	snap, err := r.recorder.Record(ctx, sampleFromVitals(deviceID, vitals, r.now()))
	if err != nil {
		metrics.IncSimulationTick(metrics.ResultError)
		return simulation.Vitals{}, telemetry.Snapshot{}, err
	}
	metrics.IncSimulationTick(metrics.ResultSuccess)
	r.logger.Info("simulated sample",
		zap.Int64("device_id", deviceID),
		zap.String("state", state.Name),
		zap.Int("heart_rate", vitals.HeartRate),
		zap.Int("spo2", vitals.SpO2),
		zap.Float64("temp_skin", vitals.TempSkin),
	)
	return vitals, snap, nil
}

// Sweep evicts terminal runs that ended before now minus the retention.
func (r *Registry) Sweep(now time.Time) int {
	if r == nil {
		return 0
	}
	cutoff := now.Add(-r.cfg.Retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, e := range r.runs {
		if !e.run.Status.Terminal() || e.run.EndedAt == nil {
			continue
		}
		if e.run.EndedAt.Before(cutoff) {
			delete(r.runs, id)
			evicted++
		}
	}
	return evicted
}

// Close stops every run and waits for the loops to exit, up to StopTimeout.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	wait := time.NewTimer(r.cfg.StopTimeout)
	defer wait.Stop()
	select {
	case <-done:
	case <-wait.C:
		r.logger.Warn("simulation loops still running at shutdown")
	}
}

func (r *Registry) view(e *runEntry) simulation.Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.run
}

func (r *Registry) activeLocked() int {
	active := 0
	for _, e := range r.runs {
		if !e.run.Status.Terminal() {
			active++
		}
	}
	return active
}

func sampleFromVitals(deviceID int64, v simulation.Vitals, at time.Time) telemetry.Sample {
	return telemetry.Sample{
		DeviceID:       deviceID,
		HeartRate:      float64(v.HeartRate),
		SpO2:           float64(v.SpO2),
		TempSkin:       v.TempSkin,
		FingerDetected: true,
		Warnings:       []string{},
		CapturedAt:     at,
		IsSimulated:    true,
	}
}
