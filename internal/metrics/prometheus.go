package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Backend client metrics
	BackendPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseidon_backend_polls_total",
			Help: "Total number of position polls against the trading backend",
		},
		[]string{"position_id", "status"}, // status: success|error
	)

	BackendRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poseidon_backend_request_latency_seconds",
			Help:    "Trading backend request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	// Rebalancer metrics
	Rebalances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseidon_rebalances_total",
			Help: "Total number of rebalance attempts",
		},
		[]string{"trading_pair", "result"}, // result: executed|stop_failed|partial_failure
	)

	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseidon_lifecycle_events_total",
			Help: "Total number of lifecycle events emitted",
		},
		[]string{"event", "severity"},
	)

	OutOfRangeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poseidon_out_of_range_seconds",
			Help: "Continuous out-of-range dwell per supervised position",
		},
		[]string{"position_id"},
	)

	SupervisedPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poseidon_supervised_positions",
			Help: "Current number of supervised positions",
		},
	)

	// Journal metrics
	JournalWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseidon_journal_writes_total",
			Help: "Total number of journal writes",
		},
		[]string{"kind", "status"}, // kind: event|snapshot
	)
)

// Init registers all metrics with the default registry
func Init() {
	prometheus.MustRegister(BackendPolls)
	prometheus.MustRegister(BackendRequestLatency)

	prometheus.MustRegister(Rebalances)
	prometheus.MustRegister(Events)
	prometheus.MustRegister(OutOfRangeSeconds)
	prometheus.MustRegister(SupervisedPositions)

	prometheus.MustRegister(JournalWrites)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
