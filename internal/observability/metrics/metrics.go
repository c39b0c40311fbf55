package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "cosafe_"

	resultSuccess = "success"
	resultError   = "error"

	syncResultDelivered = "delivered"
	syncResultRetry     = "retry"
	syncResultDead      = "dead"
)

var (
	registerOnce sync.Once

	readingsIngested *prometheus.CounterVec
	readingsRejected *prometheus.CounterVec
	ingestLatency    prometheus.Histogram

	alertEventsTotal *prometheus.CounterVec

	storageErrors *prometheus.CounterVec

	offlineFetchTotal   *prometheus.CounterVec
	offlineFetchLatency *prometheus.HistogramVec

	syncTasksTotal *prometheus.CounterVec
	syncQueueDepth prometheus.Gauge

	sessionOpsTotal     *prometheus.CounterVec
	commandAttempts     *prometheus.CounterVec
	heartbeatFailures   prometheus.Counter
	exportTotal         *prometheus.CounterVec
	exportLatency       *prometheus.HistogramVec
	deviceConnectionsUp prometheus.Gauge
)

// Init registers client metrics and, when db is set, remote-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		readingsIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_ingested_total",
				Help: "Total ingested readings by tier",
			},
			[]string{"tier"},
		)
		readingsRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_rejected_total",
				Help: "Total rejected readings by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Reading ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type and level",
			},
			[]string{"event", "level"},
		)

		storageErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "storage_errors_total",
				Help: "Total local storage failures by component",
			},
			[]string{"component"},
		)

		offlineFetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "offline_fetch_total",
				Help: "Total routed fetches by strategy and source",
			},
			[]string{"strategy", "source"},
		)
		offlineFetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "offline_fetch_latency_seconds",
				Help:    "Routed fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		)

		syncTasksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_tasks_total",
				Help: "Total sync queue deliveries by kind and result",
			},
			[]string{"kind", "result"},
		)
		syncQueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sync_queue_depth",
				Help: "Pending sync queue tasks",
			},
		)

		sessionOpsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "session_operations_total",
				Help: "Total session lifecycle operations by operation and result",
			},
			[]string{"operation", "result"},
		)
		commandAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_command_attempts_total",
				Help: "Total device command attempts by result",
			},
			[]string{"result"},
		)
		heartbeatFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "session_heartbeat_failures_total",
				Help: "Total failed session heartbeats",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total data exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Data export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		deviceConnectionsUp = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "device_connected",
				Help: "1 when the sensor link is up",
			},
		)

		prometheus.MustRegister(
			readingsIngested,
			readingsRejected,
			ingestLatency,
			alertEventsTotal,
			storageErrors,
			offlineFetchTotal,
			offlineFetchLatency,
			syncTasksTotal,
			syncQueueDepth,
			sessionOpsTotal,
			commandAttempts,
			heartbeatFailures,
			exportTotal,
			exportLatency,
			deviceConnectionsUp,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records an accepted reading.
func ObserveIngest(tier string, duration time.Duration) {
	if tier == "" {
		tier = "unknown"
	}
	if readingsIngested != nil {
		readingsIngested.WithLabelValues(tier).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.Observe(duration.Seconds())
	}
}

// IncReadingRejected increments the rejected reading counter.
func IncReadingRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if readingsRejected != nil {
		readingsRejected.WithLabelValues(reason).Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event, level string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event, level).Inc()
	}
}

// IncStorageError increments the storage failure counter.
func IncStorageError(component string) {
	if component == "" {
		component = "unknown"
	}
	if storageErrors != nil {
		storageErrors.WithLabelValues(component).Inc()
	}
}

// ObserveOfflineFetch records a routed fetch and where its response came from.
func ObserveOfflineFetch(strategy, source string, duration time.Duration) {
	if strategy == "" {
		strategy = "unknown"
	}
	if source == "" {
		source = "unknown"
	}
	if offlineFetchTotal != nil {
		offlineFetchTotal.WithLabelValues(strategy, source).Inc()
	}
	if offlineFetchLatency != nil {
		offlineFetchLatency.WithLabelValues(strategy).Observe(duration.Seconds())
	}
}

// IncSyncTask increments the sync delivery counter.
func IncSyncTask(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if syncTasksTotal != nil {
		syncTasksTotal.WithLabelValues(kind, result).Inc()
	}
}

// SetSyncQueueDepth sets the pending task gauge.
func SetSyncQueueDepth(depth int) {
	if depth < 0 {
		depth = 0
	}
	if syncQueueDepth != nil {
		syncQueueDepth.Set(float64(depth))
	}
}

// IncSessionOperation increments session lifecycle counters.
func IncSessionOperation(operation, result string) {
	if result == "" {
		result = resultSuccess
	}
	if sessionOpsTotal != nil {
		sessionOpsTotal.WithLabelValues(operation, result).Inc()
	}
}

// IncCommandAttempt increments the device command attempt counter.
func IncCommandAttempt(result string) {
	if result == "" {
		result = resultSuccess
	}
	if commandAttempts != nil {
		commandAttempts.WithLabelValues(result).Inc()
	}
}

// IncHeartbeatFailure increments the heartbeat failure counter.
func IncHeartbeatFailure() {
	if heartbeatFailures != nil {
		heartbeatFailures.Inc()
	}
}

// ObserveExport records export latency and result.
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

// SetDeviceConnected flips the device link gauge.
func SetDeviceConnected(connected bool) {
	if deviceConnectionsUp == nil {
		return
	}
	if connected {
		deviceConnectionsUp.Set(1)
		return
	}
	deviceConnectionsUp.Set(0)
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	SyncResultDelivered = syncResultDelivered
	SyncResultRetry     = syncResultRetry
	SyncResultDead      = syncResultDead
)
