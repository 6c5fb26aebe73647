// Package metrics holds the Prometheus collectors exported by kioku.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets covers index operations from sub-millisecond queries on small galleries
// to multi-second rebuilds and remote extractor calls.
var LatencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

var (
	// OperationsTotal counts index manager operations by name and outcome.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_operations_total",
			Help: "Index operations",
		},
		[]string{"operation", "status"},
	)

	// OperationDuration records index manager operation latency in seconds.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kioku_operation_duration_seconds",
			Help:    "Index operation duration",
			Buckets: LatencyBuckets,
		},
		[]string{"operation"},
	)

	// ResidentUsers is the number of users whose index is materialized in memory.
	ResidentUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kioku_resident_users",
			Help: "Users with a materialized index",
		},
	)

	// Materializations counts first-access state materializations by source
	// (loaded, created, recovered).
	Materializations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_materializations_total",
			Help: "User state materializations",
		},
		[]string{"source"},
	)

	// IndexRebuilds counts full index rebuilds by reason.
	IndexRebuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_index_rebuilds_total",
			Help: "Full index rebuilds",
		},
		[]string{"reason"},
	)

	// RequestsTotal counts HTTP requests by method, route pattern and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kioku_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LatencyBuckets,
		},
		[]string{"method", "route"},
	)

	// SnapshotsTotal counts snapshot pushes and pulls by direction and outcome.
	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_snapshots_total",
			Help: "Snapshot transfers",
		},
		[]string{"direction", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		OperationsTotal,
		OperationDuration,
		ResidentUsers,
		Materializations,
		IndexRebuilds,
		RequestsTotal,
		RequestDuration,
		SnapshotsTotal,
	)
}
