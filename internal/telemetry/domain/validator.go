package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload keys accepted from devices.
const (
	FieldDeviceID  = "device_id"
	FieldHeartRate = "heart_rate"
	FieldSpO2      = "spo2"
	FieldTempSkin  = "temp_skin"
)

var requiredFields = []string{FieldDeviceID, FieldHeartRate, FieldSpO2, FieldTempSkin}

// Range is a closed numeric interval.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies within the closed range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Ranges are the physiological plausibility bounds used for warnings.
type Ranges struct {
	HeartRate Range `yaml:"heart_rate"`
	SpO2      Range `yaml:"spo2"`
	TempSkin  Range `yaml:"temp_skin"`
}

// DefaultRanges returns the device plausibility bounds.
func DefaultRanges() Ranges {
	return Ranges{
		HeartRate: Range{Min: 40, Max: 200},
		SpO2:      Range{Min: 70, Max: 100},
		TempSkin:  Range{Min: 30, Max: 45},
	}
}

// Validator normalizes raw device payloads into samples.
type Validator struct {
	ranges Ranges
}

// NewValidator constructs a validator with the given ranges.
func NewValidator(ranges Ranges) Validator {
	return Validator{ranges: ranges}
}

// Validate checks a raw payload with the default ranges.
func Validate(raw map[string]any) (Sample, error) {
	return NewValidator(DefaultRanges()).Validate(raw)
}

// Validate normalizes raw into a Sample. Out-of-range vitals become warnings, not errors.
// heart_rate and spo2 both zero means no finger contact; their range checks are skipped.
func (v Validator) Validate(raw map[string]any) (Sample, error) {
	if len(raw) == 0 {
		return Sample{}, ErrNoData
	}

	var missing []string
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return Sample{}, &FieldError{Kind: ErrMissingField, Fields: missing}
	}

	var invalid []string
	deviceID, ok := toInt(raw[FieldDeviceID])
	if !ok || deviceID <= 0 {
		invalid = append(invalid, FieldDeviceID)
	}
	hr, ok := toFloat(raw[FieldHeartRate])
	if !ok {
		invalid = append(invalid, FieldHeartRate)
	}
	spo2, ok := toFloat(raw[FieldSpO2])
	if !ok {
		invalid = append(invalid, FieldSpO2)
	}
	temp, ok := toFloat(raw[FieldTempSkin])
	if !ok {
		invalid = append(invalid, FieldTempSkin)
	}
	if len(invalid) > 0 {
		return Sample{}, &FieldError{Kind: ErrTypeMismatch, Fields: invalid}
	}

	sample := Sample{
		DeviceID:       deviceID,
		HeartRate:      hr,
		SpO2:           spo2,
		TempSkin:       temp,
		FingerDetected: !(hr == 0 && spo2 == 0),
	}

	if sample.FingerDetected {
		if !v.ranges.HeartRate.Contains(hr) {
			sample.Warnings = append(sample.Warnings, rangeWarning("Heart rate", hr, v.ranges.HeartRate))
		}
		if !v.ranges.SpO2.Contains(spo2) {
			sample.Warnings = append(sample.Warnings, rangeWarning("SpO2", spo2, v.ranges.SpO2))
		}
	}
	if !v.ranges.TempSkin.Contains(temp) {
		sample.Warnings = append(sample.Warnings, rangeWarning("Temperature", temp, v.ranges.TempSkin))
	}
	return sample, nil
}

// WarningFields maps warnings back to the vital they concern, for metrics labels.
func WarningFields(warnings []string) []string {
	fields := make([]string, 0, len(warnings))
	for _, w := range warnings {
		switch {
		case strings.HasPrefix(w, "Heart rate"):
			fields = append(fields, FieldHeartRate)
		case strings.HasPrefix(w, "SpO2"):
			fields = append(fields, FieldSpO2)
		case strings.HasPrefix(w, "Temperature"):
			fields = append(fields, FieldTempSkin)
		}
	}
	return fields
}

func rangeWarning(label string, value float64, r Range) string {
	return fmt.Sprintf("%s %s is outside normal range (%s-%s)", label, formatNumber(value), formatNumber(r.Min), formatNumber(r.Max))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toFloat(value any) (float64, bool) {
	var f float64
	switch x := value.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(value any) (int64, bool) {
	f, ok := toFloat(value)
	if !ok {
		return 0, false
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
