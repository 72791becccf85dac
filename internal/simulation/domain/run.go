package simulation

import (
	"errors"
	"time"
)

var (
	// ErrRunNotFound indicates an unknown or already finished run.
	ErrRunNotFound = errors.New("simulation: run not found")
	// ErrTooManyRuns indicates the concurrent run cap is reached.
	ErrTooManyRuns = errors.New("simulation: too many active runs")
	// ErrInvalidRequest indicates bad start parameters.
	ErrInvalidRequest = errors.New("simulation: invalid request")
	// ErrRunStopping indicates a run with the same id has not exited yet.
	ErrRunStopping = errors.New("simulation: previous run still stopping")
)

// Status is the run lifecycle state. running is the only non-terminal value.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Run is a point-in-time view of one simulation run.
type Run struct {
	ID              string     `json:"simulation_id"`
	DeviceID        int64      `json:"device_id"`
	PatientID       *int64     `json:"patient_id,omitempty"`
	State           string     `json:"state"`
	Status          Status     `json:"status"`
	IntervalSeconds float64    `json:"interval_seconds"`
	DurationMinutes float64    `json:"duration_minutes"`
	StartedAt       time.Time  `json:"start_time"`
	EndsAt          time.Time  `json:"end_time_planned"`
	EndedAt         *time.Time `json:"end_time,omitempty"`
	DataPoints      int64      `json:"data_points_generated"`
	LastSample      *Vitals    `json:"last_sample,omitempty"`
	Error           string     `json:"error,omitempty"`
}
