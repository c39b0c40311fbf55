package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "remote_open_sessions",
			Help: "Monitoring sessions without an end time",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "remote_pending_device_commands",
			Help: "Device commands not yet executed",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM device_commands WHERE executed = false")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
