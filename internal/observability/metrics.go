package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce      sync.Once
	requestsTotal     *prometheus.CounterVec
	latencySeconds    *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	snapshotsTotal    *prometheus.CounterVec
	snapshotsRejected *prometheus.CounterVec
	unknownSteps      prometheus.Counter
	resultsFinished   prometheus.Counter
	resultRestarts    prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors of the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		snapshotsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotest_snapshots_applied_total",
			Help: "Run snapshots merged into the result state, by source.",
		}, []string{"source"})

		snapshotsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotest_snapshots_rejected_total",
			Help: "Run snapshots dropped before merging, by reason.",
		}, []string{"reason"})

		unknownSteps = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotest_unknown_step_results_total",
			Help: "Step results referencing a step that is not part of the definition.",
		})

		resultsFinished = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotest_results_finished_total",
			Help: "Results that became finished after a snapshot.",
		})

		resultRestarts = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotest_result_restarts_total",
			Help: "Results restarted on request.",
		})

		prometheus.MustRegister(
			requestsTotal, latencySeconds, errorsTotal,
			snapshotsTotal, snapshotsRejected, unknownSteps, resultsFinished, resultRestarts,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// Errors exposes the counter for API error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

// SnapshotsApplied counts merged run snapshots by source (http, nats, replay).
func SnapshotsApplied() *prometheus.CounterVec {
	RegisterMetrics()
	return snapshotsTotal
}

// SnapshotsRejected counts run snapshots that failed validation.
func SnapshotsRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return snapshotsRejected
}

// UnknownStepResults counts data contract anomalies.
func UnknownStepResults() prometheus.Counter {
	RegisterMetrics()
	return unknownSteps
}

// ResultsFinished counts results reaching the finished state.
func ResultsFinished() prometheus.Counter {
	RegisterMetrics()
	return resultsFinished
}

// ResultRestarts counts restarted results.
func ResultRestarts() prometheus.Counter {
	RegisterMetrics()
	return resultRestarts
}

// MetricsHandler serves the default registry, negotiating OpenMetrics when the scraper asks for it.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
}
