package events

import "time"

// TelemetryReceived is emitted after a sample is committed.
type TelemetryReceived struct {
	DeviceID       int64              `json:"device_id"`
	PatientID      *int64             `json:"patient_id"`
	OccurredAt     time.Time          `json:"ts"`
	Values         map[string]float64 `json:"values"`
	FingerDetected bool               `json:"finger_detected"`
	IsSimulated    bool               `json:"is_simulated"`
}

// EventType names the event on the wire.
func (TelemetryReceived) EventType() string { return "telemetry_received" }
