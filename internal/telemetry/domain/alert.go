package telemetry

import (
	"fmt"
	"time"
)

// AlertKind classifies a clinically relevant vital excursion.
type AlertKind string

const (
	AlertTachycardia AlertKind = "tachycardia"
	AlertBradycardia AlertKind = "bradycardia"
	AlertHypoxemia   AlertKind = "hypoxemia"
	AlertFever       AlertKind = "fever"
	AlertHypothermia AlertKind = "hypothermia"
)

// AlertThresholds are the bounds beyond which a sample raises an alert.
type AlertThresholds struct {
	HeartRateHigh float64 `yaml:"heart_rate_high"`
	HeartRateLow  float64 `yaml:"heart_rate_low"`
	SpO2Low       float64 `yaml:"spo2_low"`
	TempHigh      float64 `yaml:"temp_high"`
	TempLow       float64 `yaml:"temp_low"`
}

// DefaultAlertThresholds returns the ward defaults.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		HeartRateHigh: 120,
		HeartRateLow:  50,
		SpO2Low:       90,
		TempHigh:      38,
		TempLow:       35,
	}
}

// Alert is one threshold breach for a device.
type Alert struct {
	Kind      AlertKind  `json:"kind"`
	DeviceID  int64      `json:"device_id"`
	PatientID *int64     `json:"patient_id"`
	Metric    MetricCode `json:"metric"`
	Value     float64    `json:"value"`
	Threshold float64    `json:"threshold"`
	Message   string     `json:"message"`
	At        time.Time  `json:"timestamp"`
}

// Evaluate returns the alerts a sample triggers. Samples without finger
// contact only have their temperature evaluated.
func (t AlertThresholds) Evaluate(s Sample, patientID *int64) []Alert {
	var alerts []Alert
	add := func(kind AlertKind, metric MetricCode, value, threshold float64, format string) {
		alerts = append(alerts, Alert{
			Kind:      kind,
			DeviceID:  s.DeviceID,
			PatientID: patientID,
			Metric:    metric,
			Value:     value,
			Threshold: threshold,
			Message:   fmt.Sprintf(format, s.DeviceID, formatNumber(value)),
			At:        s.CapturedAt,
		})
	}
	if s.FingerDetected {
		switch {
		case s.HeartRate > t.HeartRateHigh:
			add(AlertTachycardia, MetricHeartRate, s.HeartRate, t.HeartRateHigh, "Device %d heart rate high: %s bpm")
		case s.HeartRate < t.HeartRateLow:
			add(AlertBradycardia, MetricHeartRate, s.HeartRate, t.HeartRateLow, "Device %d heart rate low: %s bpm")
		}
		if s.SpO2 < t.SpO2Low {
			add(AlertHypoxemia, MetricSpO2, s.SpO2, t.SpO2Low, "Device %d SpO2 low: %s%%")
		}
	}
	switch {
	case s.TempSkin > t.TempHigh:
		add(AlertFever, MetricTempSkin, s.TempSkin, t.TempHigh, "Device %d temperature high: %s C")
	case s.TempSkin < t.TempLow:
		add(AlertHypothermia, MetricTempSkin, s.TempSkin, t.TempLow, "Device %d temperature low: %s C")
	}
	return alerts
}

// Critical reports whether the kind is a heart-rate emergency.
func (k AlertKind) Critical() bool {
	return k == AlertTachycardia || k == AlertBradycardia
}

// Classify returns the alert a stored reading represents, if any. Zero heart
// rate and SpO2 values are no-contact readings and never alert.
func (t AlertThresholds) Classify(r Reading, patientID *int64) (Alert, bool) {
	var (
		kind      AlertKind
		threshold float64
		format    string
	)
	switch r.Metric {
	case MetricHeartRate:
		switch {
		case r.Value == 0:
			return Alert{}, false
		case r.Value > t.HeartRateHigh:
			kind, threshold, format = AlertTachycardia, t.HeartRateHigh, "Device %d heart rate high: %s bpm"
		case r.Value < t.HeartRateLow:
			kind, threshold, format = AlertBradycardia, t.HeartRateLow, "Device %d heart rate low: %s bpm"
		}
	case MetricSpO2:
		if r.Value > 0 && r.Value < t.SpO2Low {
			kind, threshold, format = AlertHypoxemia, t.SpO2Low, "Device %d SpO2 low: %s%%"
		}
	case MetricTempSkin:
		switch {
		case r.Value > t.TempHigh:
			kind, threshold, format = AlertFever, t.TempHigh, "Device %d temperature high: %s C"
		case r.Value < t.TempLow:
			kind, threshold, format = AlertHypothermia, t.TempLow, "Device %d temperature low: %s C"
		}
	}
	if kind == "" {
		return Alert{}, false
	}
	return Alert{
		Kind:      kind,
		DeviceID:  r.DeviceID,
		PatientID: patientID,
		Metric:    r.Metric,
		Value:     r.Value,
		Threshold: threshold,
		Message:   fmt.Sprintf(format, r.DeviceID, formatNumber(r.Value)),
		At:        r.TS,
	}, true
}
