package engine

import "github.com/prometheus/client_golang/prometheus"

// Cancellation paths.
const (
	cancelPathCall   = "call"
	cancelPathHandle = "handle"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nester_runs_total",
			Help: "Total number of runs by pipeline and terminal state.",
		},
		[]string{"pipeline", "state"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nester_run_duration_seconds",
			Help:    "Run duration in seconds, from configuration to the terminal message.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"pipeline"},
	)

	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nester_active_runs",
			Help: "Number of runs that have not reached a terminal message.",
		},
	)

	cancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nester_cancellations_total",
			Help: "Cancellation requests by path: call-based or direct handle write.",
		},
		[]string{"path"},
	)

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nester_messages_total",
			Help: "Protocol messages emitted by type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal, runDuration, activeRuns, cancellationsTotal, messagesTotal)
}
