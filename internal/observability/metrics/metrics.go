package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "hemis_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	ingestWarnings *prometheus.CounterVec

	broadcastTotal *prometheus.CounterVec

	hubSubscribers prometheus.Gauge
	hubRooms       prometheus.Gauge

	pollCycles  *prometheus.CounterVec
	pollLatency prometheus.Histogram

	simulationRuns   *prometheus.CounterVec
	simulationActive prometheus.Gauge
	simulationTicks  *prometheus.CounterVec

	alertsTotal *prometheus.CounterVec

	relayFrames *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers pipeline metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total vital-sign ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestWarnings = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_warnings_total",
				Help: "Out-of-range vital warnings by field",
			},
			[]string{"field"},
		)

		broadcastTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_total",
				Help: "Fan-out broadcasts by source and result",
			},
			[]string{"source", "result"},
		)

		hubSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "hub_subscribers",
			Help: "Connected fan-out subscribers",
		})
		hubRooms = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "hub_rooms",
			Help: "Fan-out rooms with at least one member",
		})

		pollCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_cycles_total",
				Help: "Poller cycles by result",
			},
			[]string{"result"},
		)
		pollLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "poll_latency_seconds",
			Help:    "Poller cycle latency in seconds",
			Buckets: prometheus.DefBuckets,
		})

		simulationRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "simulation_runs_total",
				Help: "Simulation runs by final or starting status",
			},
			[]string{"status"},
		)
		simulationActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "simulation_active_runs",
			Help: "Simulation runs currently running",
		})
		simulationTicks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "simulation_ticks_total",
				Help: "Simulated samples by result",
			},
			[]string{"result"},
		)

		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "vital_alerts_total",
				Help: "Vital-sign alerts raised by kind",
			},
			[]string{"kind"},
		)

		relayFrames = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "relay_frames_total",
				Help: "Frames received from the redis relay by origin",
			},
			[]string{"origin"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_export_total",
				Help: "Reading history exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "history_export_latency_seconds",
				Help:    "Reading history export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			ingestWarnings,
			broadcastTotal,
			hubSubscribers,
			hubRooms,
			pollCycles,
			pollLatency,
			simulationRuns,
			simulationActive,
			simulationTicks,
			alertsTotal,
			relayFrames,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncIngestWarning counts an out-of-range warning for a vital.
func IncIngestWarning(field string) {
	if field == "" {
		field = "unknown"
	}
	if ingestWarnings != nil {
		ingestWarnings.WithLabelValues(field).Inc()
	}
}

// IncBroadcast counts one fan-out delivery attempt.
func IncBroadcast(source, result string) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if broadcastTotal != nil {
		broadcastTotal.WithLabelValues(source, result).Inc()
	}
}

// SetHubSize publishes hub subscriber and room counts.
func SetHubSize(subscribers, rooms int) {
	if hubSubscribers != nil {
		hubSubscribers.Set(float64(subscribers))
	}
	if hubRooms != nil {
		hubRooms.Set(float64(rooms))
	}
}

// ObservePollCycle records one poller cycle.
func ObservePollCycle(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if pollCycles != nil {
		pollCycles.WithLabelValues(result).Inc()
	}
	if pollLatency != nil {
		pollLatency.Observe(duration.Seconds())
	}
}

// IncSimulationRun counts a simulation run status transition.
func IncSimulationRun(status string) {
	if status == "" {
		status = "unknown"
	}
	if simulationRuns != nil {
		simulationRuns.WithLabelValues(status).Inc()
	}
}

// SetSimulationActive publishes the number of running simulations.
func SetSimulationActive(count int) {
	if simulationActive != nil {
		simulationActive.Set(float64(count))
	}
}

// IncSimulationTick counts one simulated sample.
func IncSimulationTick(result string) {
	if result == "" {
		result = resultSuccess
	}
	if simulationTicks != nil {
		simulationTicks.WithLabelValues(result).Inc()
	}
}

// IncAlert counts a vital alert.
func IncAlert(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(kind).Inc()
	}
}

// IncRelayFrame counts a relayed frame; origin is "local" for frames this
// instance published and "peer" for the rest.
func IncRelayFrame(origin string) {
	if origin == "" {
		origin = "unknown"
	}
	if relayFrames != nil {
		relayFrames.WithLabelValues(origin).Inc()
	}
}

// ObserveExport records history export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	IngestResultSuccess = resultSuccess
	IngestResultError   = resultError

	ResultSuccess = resultSuccess
	ResultError   = resultError

	RelayOriginLocal = "local"
	RelayOriginPeer  = "peer"
)
