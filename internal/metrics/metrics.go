// Package metrics exposes a Prometheus registry of counters and histograms,
// filling in the knob the teacher's MetricsConfig already reserves. The HTTP
// middleware and the database wrapper record into it; the message, dispatch
// batch, delivery outcome and dead-letter recorders are defined here but
// neither the dispatcher nor the enqueuer calls them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_http_requests_total",
		Help: "HTTP requests by method, path, and status code.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outpost_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	dbConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outpost_db_connections_active",
		Help: "Active database connections in the pool.",
	})

	dbQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_db_queries_total",
		Help: "Database operations by kind and outcome.",
	}, []string{"operation", "status"})

	messagesEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_messages_enqueued_total",
		Help: "Messages accepted by the enqueuer, by channel.",
	}, []string{"channel"})

	messagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_messages_rejected_total",
		Help: "Enqueue attempts rejected, by reason.",
	}, []string{"reason"})

	dispatchBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outpost_dispatch_batch_size",
		Help:    "Number of messages claimed per dispatcher poll.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
	})

	dispatchBatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outpost_dispatch_batch_duration_seconds",
		Help:    "Wall time to process one dispatcher poll batch.",
		Buckets: prometheus.DefBuckets,
	})

	deliveryOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_delivery_outcomes_total",
		Help: "Terminal and retry outcomes recorded by the dispatcher.",
	}, []string{"channel", "outcome"})

	deadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_dead_lettered_total",
		Help: "Messages that reached the dead-letter state, by channel.",
	}, []string{"channel"})
)

func init() {
	registry.MustRegister(
		httpRequests, httpDuration,
		dbConnectionsActive, dbQueries,
		messagesEnqueued, messagesRejected,
		dispatchBatchSize, dispatchBatchDuration,
		deliveryOutcomes, deadLettered,
	)
}

// Init is a no-op kept for symmetry with the teacher's lifecycle calls;
// registration happens eagerly in init() so metrics are always available.
func Init() {}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	status := http.StatusText(statusCode)
	if status == "" {
		status = "unknown"
	}
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetDBConnectionsActive sets the number of active database connections.
func SetDBConnectionsActive(count float64) {
	dbConnectionsActive.Set(count)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(operation, status string) {
	dbQueries.WithLabelValues(operation, status).Inc()
}

// RecordMessageEnqueued records a successful admission.
func RecordMessageEnqueued(channel string) {
	messagesEnqueued.WithLabelValues(channel).Inc()
}

// RecordMessageRejected records a rejected enqueue attempt.
func RecordMessageRejected(reason string) {
	messagesRejected.WithLabelValues(reason).Inc()
}

// RecordDispatchBatch records one dispatcher poll's claimed size and duration.
func RecordDispatchBatch(size int, duration time.Duration) {
	dispatchBatchSize.Observe(float64(size))
	dispatchBatchDuration.Observe(duration.Seconds())
}

// RecordDeliveryOutcome records a per-message terminal or retry outcome.
func RecordDeliveryOutcome(channel, outcome string) {
	deliveryOutcomes.WithLabelValues(channel, outcome).Inc()
}

// RecordDeadLettered records a message reaching the dead-letter state.
func RecordDeadLettered(channel string) {
	deadLettered.WithLabelValues(channel).Inc()
}
