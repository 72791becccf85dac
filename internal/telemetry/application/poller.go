package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"hemis-telemetry/internal/observability/metrics"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

const (
	defaultPollInterval = time.Second
	defaultPollLookback = 2 * time.Second
)

// PollerStatus reports the poller state.
type PollerStatus struct {
	Running     bool       `json:"running"`
	Interval    string     `json:"interval"`
	Lookback    string     `json:"lookback"`
	Cycles      int64      `json:"cycles"`
	LastCycleAt *time.Time `json:"last_cycle_at"`
	LastError   string     `json:"last_error"`
}

// Poller periodically re-reads the newest readings of active devices and
// republishes one merged snapshot per device.
type Poller struct {
	reader      telemetry.LatestReader
	broadcaster *Broadcaster
	interval    time.Duration
	lookback    time.Duration
	base        context.Context
	now         func() time.Time
	logger      *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	cycles    int64
	lastCycle time.Time
	lastErr   string
}

// PollerOption configures the poller.
type PollerOption func(*Poller)

// WithPollInterval sets the cycle period.
func WithPollInterval(interval time.Duration) PollerOption {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithPollLookback sets how far back each cycle reads.
func WithPollLookback(lookback time.Duration) PollerOption {
	return func(p *Poller) {
		if lookback > 0 {
			p.lookback = lookback
		}
	}
}

// WithBaseContext bounds every loop started by Start.
func WithBaseContext(ctx context.Context) PollerOption {
	return func(p *Poller) {
		if ctx != nil {
			p.base = ctx
		}
	}
}

// WithPollClock overrides the poller clock.
func WithPollClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPoller constructs a stopped poller.
func NewPoller(reader telemetry.LatestReader, broadcaster *Broadcaster, logger *zap.Logger, opts ...PollerOption) (*Poller, error) {
	if reader == nil {
		return nil, errors.New("poller: nil reader")
	}
	if broadcaster == nil {
		return nil, errors.New("poller: nil broadcaster")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		reader:      reader,
		broadcaster: broadcaster,
		interval:    defaultPollInterval,
		lookback:    defaultPollLookback,
		base:        context.Background(),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.Named("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the loop. It reports false when the loop was already running.
func (p *Poller) Start() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return false
	}
	ctx, cancel := context.WithCancel(p.base)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.run(ctx, done)
	p.logger.Info("poller started", zap.Duration("interval", p.interval), zap.Duration("lookback", p.lookback))
	return true
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
// It reports false when the loop was not running.
func (p *Poller) Stop() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	cancel()
	<-done
	p.logger.Info("poller stopped")
	return true
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil
}

// Status reports counters and the last cycle error.
func (p *Poller) Status() PollerStatus {
	if p == nil {
		return PollerStatus{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	status := PollerStatus{
		Running:   p.done != nil,
		Interval:  p.interval.String(),
		Lookback:  p.lookback.String(),
		Cycles:    p.cycles,
		LastError: p.lastErr,
	}
	if !p.lastCycle.IsZero() {
		at := p.lastCycle
		status.LastCycleAt = &at
	}
	return status
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		if p.done == done {
			p.done = nil
			p.cancel = nil
		}
		p.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("poll cycle failed", zap.Error(err))
			}
		}
	}
}

// PollOnce runs a single cycle and returns the number of devices published.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	start := time.Now()
	now := p.now()
	rows, err := p.reader.LatestSince(ctx, now.Add(-p.lookback))

	p.mu.Lock()
	p.cycles++
	p.lastCycle = now
	if err != nil {
		p.lastErr = err.Error()
	} else {
		p.lastErr = ""
	}
	p.mu.Unlock()

	if err != nil {
		metrics.ObservePollCycle(metrics.ResultError, time.Since(start))
		return 0, err
	}

	snapshots := telemetry.MergeLatest(rows)
	for _, snap := range snapshots {
		p.broadcaster.PublishSnapshot(ctx, SourcePoller, snap)
	}
	metrics.ObservePollCycle(metrics.ResultSuccess, time.Since(start))
	return len(snapshots), nil
}
