package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertThresholdsEvaluate(t *testing.T) {
	thresholds := DefaultAlertThresholds()
	cases := []struct {
		name   string
		sample Sample
		want   []AlertKind
	}{
		{"normal", Sample{HeartRate: 72, SpO2: 98, TempSkin: 36.5, FingerDetected: true}, nil},
		{"tachycardia", Sample{HeartRate: 150, SpO2: 98, TempSkin: 36.5, FingerDetected: true}, []AlertKind{AlertTachycardia}},
		{"bradycardia and hypoxemia", Sample{HeartRate: 40, SpO2: 80, TempSkin: 36.5, FingerDetected: true}, []AlertKind{AlertBradycardia, AlertHypoxemia}},
		{"fever", Sample{HeartRate: 90, SpO2: 97, TempSkin: 39, FingerDetected: true}, []AlertKind{AlertFever}},
		{"no finger only temperature", Sample{HeartRate: 0, SpO2: 0, TempSkin: 34, FingerDetected: false}, []AlertKind{AlertHypothermia}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alerts := thresholds.Evaluate(tc.sample, nil)
			var kinds []AlertKind
			for _, a := range alerts {
				kinds = append(kinds, a.Kind)
			}
			assert.Equal(t, tc.want, kinds)
		})
	}
}

func TestAlertCarriesContext(t *testing.T) {
	patient := int64(4)
	alerts := DefaultAlertThresholds().Evaluate(Sample{DeviceID: 9, HeartRate: 130, SpO2: 97, TempSkin: 36.8, FingerDetected: true}, &patient)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(9), alerts[0].DeviceID)
	assert.Equal(t, &patient, alerts[0].PatientID)
	assert.Equal(t, 120.0, alerts[0].Threshold)
	assert.Equal(t, "Device 9 heart rate high: 130 bpm", alerts[0].Message)
}

func TestAlertThresholdsClassify(t *testing.T) {
	thresholds := DefaultAlertThresholds()
	cases := []struct {
		name    string
		reading Reading
		want    AlertKind
		ok      bool
	}{
		{"tachycardia", Reading{DeviceID: 1, Metric: MetricHeartRate, Value: 121}, AlertTachycardia, true},
		{"no contact heart rate", Reading{DeviceID: 1, Metric: MetricHeartRate, Value: 0}, "", false},
		{"no contact spo2", Reading{DeviceID: 1, Metric: MetricSpO2, Value: 0}, "", false},
		{"hypoxemia", Reading{DeviceID: 1, Metric: MetricSpO2, Value: 85}, AlertHypoxemia, true},
		{"normal temp", Reading{DeviceID: 1, Metric: MetricTempSkin, Value: 37}, "", false},
		{"hypothermia", Reading{DeviceID: 1, Metric: MetricTempSkin, Value: 34.5}, AlertHypothermia, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alert, ok := thresholds.Classify(tc.reading, nil)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, alert.Kind)
		})
	}
	assert.True(t, AlertBradycardia.Critical())
	assert.False(t, AlertFever.Critical())
}
