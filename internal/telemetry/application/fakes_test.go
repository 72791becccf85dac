package application

import (
	"context"
	"errors"
	"sync"
	"time"

	telemetry "hemis-telemetry/internal/telemetry/domain"
)

type published struct {
	room string
	data any
}

type fakeFanout struct {
	mu        sync.Mutex
	telemetry []published
	alerts    []any
	failRoom  string
}

func (f *fakeFanout) PublishTelemetry(_ context.Context, room string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room == f.failRoom {
		return errors.New("fanout down")
	}
	f.telemetry = append(f.telemetry, published{room: room, data: data})
	return nil
}

func (f *fakeFanout) PublishAlert(_ context.Context, alert any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeFanout) rooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.telemetry))
	for _, p := range f.telemetry {
		out = append(out, p.room)
	}
	return out
}

func (f *fakeFanout) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeWriter struct {
	mu      sync.Mutex
	samples []telemetry.Sample
	err     error
}

func (w *fakeWriter) WriteSample(_ context.Context, sample telemetry.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.samples = append(w.samples, sample)
	return nil
}

type fakeDirectory struct {
	patients map[int64]int64
	devices  map[int64]telemetry.Device
	err      error
}

func (d *fakeDirectory) PatientForDevice(_ context.Context, deviceID int64) (*int64, error) {
	if d.err != nil {
		return nil, d.err
	}
	if id, ok := d.patients[deviceID]; ok {
		return &id, nil
	}
	return nil, nil
}

func (d *fakeDirectory) GetDevice(_ context.Context, deviceID int64) (*telemetry.Device, error) {
	if device, ok := d.devices[deviceID]; ok {
		return &device, nil
	}
	return nil, telemetry.ErrDeviceNotFound
}

type fakeReader struct {
	mu    sync.Mutex
	rows  []telemetry.LatestRow
	err   error
	since []time.Time
}

func (r *fakeReader) LatestSince(_ context.Context, since time.Time) ([]telemetry.LatestRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.since = append(r.since, since)
	if r.err != nil {
		return nil, r.err
	}
	return r.rows, nil
}

func (r *fakeReader) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.since)
}

type fakeQuery struct {
	latest   map[int64][]telemetry.LatestRow
	all      []telemetry.LatestRow
	history  []telemetry.Reading
	breaches []telemetry.Reading
	err      error

	historySimulated bool
}

func (q *fakeQuery) LatestForDevice(_ context.Context, deviceID int64) ([]telemetry.LatestRow, error) {
	return q.latest[deviceID], q.err
}

func (q *fakeQuery) LatestPerDevice(context.Context) ([]telemetry.LatestRow, error) {
	return q.all, q.err
}

func (q *fakeQuery) History(_ context.Context, _ int64, _, _ time.Time, includeSimulated bool) ([]telemetry.Reading, error) {
	q.historySimulated = includeSimulated
	return q.history, q.err
}

func (q *fakeQuery) Breaches(context.Context, time.Time, telemetry.AlertThresholds) ([]telemetry.Reading, error) {
	return q.breaches, q.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []telemetry.Alert
}

func (n *fakeNotifier) Notify(_ context.Context, alert telemetry.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

type fakeSink struct {
	events []any
	err    error
}

func (s *fakeSink) Publish(_ context.Context, event any) error {
	s.events = append(s.events, event)
	return s.err
}
