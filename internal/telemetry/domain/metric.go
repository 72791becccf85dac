package telemetry

// MetricCode identifies a vital-sign metric in the fixed catalog.
type MetricCode string

const (
	MetricHeartRate MetricCode = "heart_rate"
	MetricSpO2      MetricCode = "spo2"
	MetricTempSkin  MetricCode = "temp_skin"
)

// Metric is a read-only catalog entry.
type Metric struct {
	ID   int
	Code MetricCode
	Unit string
}

var catalog = []Metric{
	{ID: 1, Code: MetricHeartRate, Unit: "bpm"},
	{ID: 2, Code: MetricSpO2, Unit: "%"},
	{ID: 3, Code: MetricTempSkin, Unit: "C"},
}

// Metrics returns the metric catalog in id order.
func Metrics() []Metric {
	out := make([]Metric, len(catalog))
	copy(out, catalog)
	return out
}

// MetricByID looks up a catalog entry by numeric id.
func MetricByID(id int) (Metric, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Metric{}, false
}

// MetricByCode looks up a catalog entry by code.
func MetricByCode(code MetricCode) (Metric, bool) {
	for _, m := range catalog {
		if m.Code == code {
			return m, true
		}
	}
	return Metric{}, false
}
