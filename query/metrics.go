// Package query implements the public question-answering façade: a
// thin coordinator that validates input, delegates to retrieval and answer
// assembly, and instruments every call.
package query

import (
	"github.com/prometheus/client_golang/prometheus"
)

// coordinatorMetrics holds all Prometheus metrics owned by the query
// coordinator. A fresh instance is created per Coordinator against the
// registry it's given, so tests can pass prometheus.NewRegistry() instead of
// polluting the global default.
type coordinatorMetrics struct {
	// requestsTotal counts completed ask() calls, partitioned by outcome:
	// "ok", "invalid_input", or "error".
	requestsTotal *prometheus.CounterVec

	// durationSeconds records end-to-end ask() latency.
	durationSeconds prometheus.Histogram

	// chunksFound records how many chunks retrieval returned per call.
	chunksFound prometheus.Histogram
}

func newCoordinatorMetrics(reg prometheus.Registerer) *coordinatorMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	requestsTotal := registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hrqa",
		Subsystem: "query",
		Name:      "requests_total",
		Help:      "Total number of ask() calls completed, partitioned by outcome.",
	}, []string{"outcome"})).(*prometheus.CounterVec)

	durationSeconds := registerOrReuse(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hrqa",
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "End-to-end ask() latency from request to answer.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})).(prometheus.Histogram)

	chunksFound := registerOrReuse(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hrqa",
		Subsystem: "query",
		Name:      "chunks_found",
		Help:      "Number of chunks retrieval returned per ask() call.",
		Buckets:   []float64{0, 1, 2, 5, 10, 15, 25},
	})).(prometheus.Histogram)

	return &coordinatorMetrics{
		requestsTotal:   requestsTotal,
		durationSeconds: durationSeconds,
		chunksFound:     chunksFound,
	}
}

// registerOrReuse registers c against reg, returning c. If an equivalent
// collector is already registered (e.g. a second Coordinator created against
// prometheus.DefaultRegisterer in the same process, as happens across table
// tests), it returns the already-registered collector instead of panicking.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}
