package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncRuns counts completed portfolio syncs by outcome (completed, partial, failed, error).
var SyncRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portfolio",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Total number of portfolio sync runs by outcome",
	},
	[]string{"outcome"},
)

// SyncExchangeResults counts per-exchange outcomes inside sync runs.
var SyncExchangeResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portfolio",
		Subsystem: "sync",
		Name:      "exchange_total",
		Help:      "Per-exchange sync outcomes",
	},
	[]string{"exchange", "status"},
)

var SyncDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "portfolio",
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a full sync run",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	},
)

// ExchangeRequestDuration tracks signed and public exchange calls.
var ExchangeRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "portfolio",
		Subsystem: "exchange",
		Name:      "request_seconds",
		Help:      "Exchange HTTP request latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"exchange", "endpoint"},
)

var ExchangeErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portfolio",
		Subsystem: "exchange",
		Name:      "errors_total",
		Help:      "Exchange call failures by error kind",
	},
	[]string{"exchange", "kind"},
)

// RateLimitWait observes how long callers blocked on a token bucket.
var RateLimitWait = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "portfolio",
		Subsystem: "ratelimit",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for a rate limit token",
		Buckets:   []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	},
	[]string{"bucket"},
)

var RateLimitRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portfolio",
		Subsystem: "ratelimit",
		Name:      "rejected_total",
		Help:      "Calls refused locally because no token was available in time",
	},
	[]string{"bucket"},
)

var ClockResyncs = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portfolio",
		Subsystem: "clock",
		Name:      "resyncs_total",
		Help:      "Server time resynchronizations",
	},
	[]string{"exchange", "result"},
)

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
