package telemetry

import "time"

const (
	QualityOK        = "ok"
	QualityExcellent = "excellent"
)

// Reading is one stored (device, metric, timestamp, value) row.
type Reading struct {
	DeviceID    int64
	MetricID    int
	Metric      MetricCode
	TS          time.Time
	Value       float64
	Quality     string
	IsSimulated bool
}

// Sample is a validated device packet: three vitals sharing one capture time.
type Sample struct {
	DeviceID       int64     `json:"device_id"`
	HeartRate      float64   `json:"heart_rate"`
	SpO2           float64   `json:"spo2"`
	TempSkin       float64   `json:"temp_skin"`
	FingerDetected bool      `json:"finger_detected"`
	Warnings       []string  `json:"warnings"`
	CapturedAt     time.Time `json:"timestamp"`
	IsSimulated    bool      `json:"is_simulated"`
}

// Readings expands the sample into one reading per catalog metric.
func (s Sample) Readings() []Reading {
	quality := QualityOK
	if s.IsSimulated {
		quality = QualityExcellent
	}
	values := map[MetricCode]float64{
		MetricHeartRate: s.HeartRate,
		MetricSpO2:      s.SpO2,
		MetricTempSkin:  s.TempSkin,
	}
	out := make([]Reading, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, Reading{
			DeviceID:    s.DeviceID,
			MetricID:    m.ID,
			Metric:      m.Code,
			TS:          s.CapturedAt,
			Value:       values[m.Code],
			Quality:     quality,
			IsSimulated: s.IsSimulated,
		})
	}
	return out
}

// Snapshot is the merged per-device payload pushed to subscribers.
type Snapshot struct {
	Type           string    `json:"type"`
	DeviceID       int64     `json:"device_id"`
	PatientID      *int64    `json:"patient_id"`
	HeartRate      float64   `json:"heart_rate"`
	SpO2           float64   `json:"spo2"`
	Temperature    float64   `json:"temperature"`
	FingerDetected bool      `json:"finger_detected"`
	Timestamp      time.Time `json:"timestamp"`
	IsSimulated    bool      `json:"is_simulated"`
}

// SnapshotType tags telemetry snapshots on the wire.
const SnapshotType = "iot_data_update"

// SnapshotFromSample builds the broadcast payload for a sample.
func SnapshotFromSample(s Sample, patientID *int64) Snapshot {
	return Snapshot{
		Type:           SnapshotType,
		DeviceID:       s.DeviceID,
		PatientID:      patientID,
		HeartRate:      s.HeartRate,
		SpO2:           s.SpO2,
		Temperature:    s.TempSkin,
		FingerDetected: s.FingerDetected,
		Timestamp:      s.CapturedAt,
		IsSimulated:    s.IsSimulated,
	}
}
