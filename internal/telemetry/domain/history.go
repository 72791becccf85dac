package telemetry

import (
	"sort"
	"time"
)

// MetricSummary holds min/max/avg for one metric over a window.
type MetricSummary struct {
	Metric MetricCode `json:"metric"`
	Unit   string     `json:"unit"`
	Count  int        `json:"count"`
	Min    float64    `json:"min"`
	Max    float64    `json:"max"`
	Avg    float64    `json:"avg"`
}

// History is a device's readings over a window plus a summary.
type History struct {
	DeviceID int64           `json:"device_id"`
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Readings []Reading       `json:"readings"`
	Summary  []MetricSummary `json:"summary"`
	Analysis []string        `json:"analysis"`
}

// Summarize computes per-metric statistics and clinical observations.
func Summarize(deviceID int64, from, to time.Time, readings []Reading, thresholds AlertThresholds) History {
	type acc struct {
		count         int
		sum, min, max float64
	}
	stats := make(map[MetricCode]*acc)
	for _, r := range readings {
		a, ok := stats[r.Metric]
		if !ok {
			a = &acc{min: r.Value, max: r.Value}
			stats[r.Metric] = a
		}
		a.count++
		a.sum += r.Value
		if r.Value < a.min {
			a.min = r.Value
		}
		if r.Value > a.max {
			a.max = r.Value
		}
	}

	history := History{DeviceID: deviceID, From: from, To: to, Readings: readings}
	for _, m := range catalog {
		a, ok := stats[m.Code]
		if !ok {
			continue
		}
		history.Summary = append(history.Summary, MetricSummary{
			Metric: m.Code,
			Unit:   m.Unit,
			Count:  a.count,
			Min:    a.min,
			Max:    a.max,
			Avg:    a.sum / float64(a.count),
		})
	}

	if a, ok := stats[MetricHeartRate]; ok {
		if a.min < thresholds.HeartRateLow {
			history.Analysis = append(history.Analysis, "Bradycardia detected (heart rate below "+formatNumber(thresholds.HeartRateLow)+" bpm)")
		}
		if a.max > thresholds.HeartRateHigh {
			history.Analysis = append(history.Analysis, "Tachycardia detected (heart rate above "+formatNumber(thresholds.HeartRateHigh)+" bpm)")
		}
	}
	if a, ok := stats[MetricSpO2]; ok && a.min < thresholds.SpO2Low {
		history.Analysis = append(history.Analysis, "Hypoxemia detected (SpO2 below "+formatNumber(thresholds.SpO2Low)+"%)")
	}
	if a, ok := stats[MetricTempSkin]; ok {
		if a.max > thresholds.TempHigh {
			history.Analysis = append(history.Analysis, "Fever detected (temperature above "+formatNumber(thresholds.TempHigh)+" C)")
		}
		if a.min < thresholds.TempLow {
			history.Analysis = append(history.Analysis, "Hypothermia detected (temperature below "+formatNumber(thresholds.TempLow)+" C)")
		}
	}
	return history
}

// MergeLatest groups rows by device, keeping the newest value per metric.
// Missing metrics default to zero.
func MergeLatest(rows []LatestRow) []Snapshot {
	type entry struct {
		snap Snapshot
		seen map[MetricCode]time.Time
	}
	byDevice := make(map[int64]*entry)
	for _, row := range rows {
		e, ok := byDevice[row.DeviceID]
		if !ok {
			e = &entry{
				snap: Snapshot{Type: SnapshotType, DeviceID: row.DeviceID, PatientID: row.PatientID},
				seen: make(map[MetricCode]time.Time),
			}
			byDevice[row.DeviceID] = e
		}
		if prev, ok := e.seen[row.Metric]; ok && !row.TS.After(prev) {
			continue
		}
		e.seen[row.Metric] = row.TS
		switch row.Metric {
		case MetricHeartRate:
			e.snap.HeartRate = row.Value
		case MetricSpO2:
			e.snap.SpO2 = row.Value
		case MetricTempSkin:
			e.snap.Temperature = row.Value
		}
		if row.TS.After(e.snap.Timestamp) {
			e.snap.Timestamp = row.TS
		}
		if row.IsSimulated {
			e.snap.IsSimulated = true
		}
	}

	out := make([]Snapshot, 0, len(byDevice))
	for _, e := range byDevice {
		e.snap.FingerDetected = !(e.snap.HeartRate == 0 && e.snap.SpO2 == 0)
		out = append(out, e.snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
