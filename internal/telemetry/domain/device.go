package telemetry

import "time"

// Device is an ESP32 vital-sign monitor.
type Device struct {
	ID              int64
	Label           string
	FirmwareVersion string
	LastSeenAt      *time.Time
	Active          bool
	PatientID       *int64
}

// IsStale reports whether the device has not reported within staleAfter of now.
func (d Device) IsStale(now time.Time, staleAfter time.Duration) bool {
	if d.LastSeenAt == nil {
		return true
	}
	return now.Sub(*d.LastSeenAt) > staleAfter
}
