// Package metrics defines the Prometheus collectors the dispatcher, scan
// engine, and updater publish through (External Surface Glue's
// diagnostics surface).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "puppynet",
		Subsystem: "dispatcher",
		Name:      "commands_total",
		Help:      "Commands processed by the node loop, by kind and outcome.",
	}, []string{"kind", "outcome"})

	PendingWaiters = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "puppynet",
		Subsystem: "dispatcher",
		Name:      "pending_waiters",
		Help:      "Outbound PeerReqs currently parked awaiting a response.",
	})

	PeerRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "puppynet",
		Subsystem: "dispatcher",
		Name:      "peer_request_duration_seconds",
		Help:      "Round-trip latency of outbound PeerReqs, by kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "puppynet",
		Subsystem: "scan",
		Name:      "runs_total",
		Help:      "Completed scans, by outcome.",
	}, []string{"outcome"})

	ScanFilesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "puppynet",
		Subsystem: "scan",
		Name:      "files_processed_total",
		Help:      "Files hashed across all scans.",
	})

	UpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "puppynet",
		Subsystem: "updater",
		Name:      "runs_total",
		Help:      "Completed self-update attempts, by terminal stage.",
	}, []string{"stage"})
)

// MustRegister registers every collector in this package against reg.
// Called once from cmd/puppynetd at startup.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		CommandsTotal,
		PendingWaiters,
		PeerRequestDuration,
		ScansTotal,
		ScanFilesProcessed,
		UpdatesTotal,
	)
}
