package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gateway calls are network bound; 5ms to 30s.
	durationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

	// DispatchesAccepted counts dispatches queued onto the worker pool, by gateway.
	DispatchesAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_dispatch_accepted_total",
			Help: "Total number of dispatches accepted onto the background worker pool, by gateway.",
		},
		[]string{"gateway"},
	)

	// DispatchesDropped counts dispatches rejected because the pool queue was full or closed.
	DispatchesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_dispatch_dropped_total",
			Help: "Total number of dispatches dropped because the worker pool was saturated or stopped, by gateway.",
		},
		[]string{"gateway"},
	)

	// RecipientOutcomes counts per-recipient results, by gateway and outcome
	// ("success", "failure", "invalid").
	RecipientOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_recipient_outcomes_total",
			Help: "Total number of per-recipient delivery outcomes, by gateway and outcome.",
		},
		[]string{"gateway", "outcome"},
	)

	// TransportFailures counts gateway calls that failed as a whole, by gateway and category.
	TransportFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_gateway_transport_failures_total",
			Help: "Total number of gateway calls that failed before returning per-recipient outcomes, by gateway and category.",
		},
		[]string{"gateway", "category"},
	)

	// TokensPruned counts recipient deletions after a dispatch, by gateway and result.
	TokensPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_tokens_pruned_total",
			Help: "Total number of invalid recipient tokens removed from the store, by gateway and success.",
		},
		[]string{"gateway", "success"},
	)

	// SendDuration measures gateway send latency.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "push_gateway_send_duration_seconds",
			Help:    "Histogram of gateway multicast duration in seconds, by gateway and transport success.",
			Buckets: durationBuckets,
		},
		[]string{"gateway", "success"},
	)
)

// MetricsHandler returns the HTTP handler for the Prometheus metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ObserveSend records a gateway call duration.
func ObserveSend(gateway string, success bool, start time.Time) {
	SendDuration.WithLabelValues(gateway, boolLabel(success)).Observe(time.Since(start).Seconds())
}

// RecordPrune counts one pruning attempt.
func RecordPrune(gateway string, success bool) {
	TokensPruned.WithLabelValues(gateway, boolLabel(success)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
