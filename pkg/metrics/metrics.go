// Package metrics provides Prometheus metrics for the crash reporter
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every crash reporter collector plus the Go runtime ones
var Registry = prometheus.NewRegistry()

var (
	captures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashreport_captures_total",
			Help: "Total number of captured faults by outcome",
		},
		[]string{"outcome"},
	)

	persistAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashreport_persist_attempts_total",
			Help: "Total number of artifact write attempts by result",
		},
		[]string{"result"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashreport_response_decisions_total",
			Help: "Total number of response phase decisions by action",
		},
		[]string{"action"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashreport_notifications_total",
			Help: "Total number of notifications by kind and result",
		},
		[]string{"kind", "result"},
	)

	deleteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crashreport_artifact_delete_failures_total",
			Help: "Total number of artifacts that could not be deleted",
		},
	)

	swept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crashreport_artifacts_swept_total",
			Help: "Total number of stale artifacts removed by the janitor",
		},
	)

	spoolDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashreport_spool_deliveries_total",
			Help: "Total number of spooled mail delivery attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		captures,
		persistAttempts,
		decisions,
		notifications,
		deleteFailures,
		swept,
		spoolDeliveries,
	)
}

// Handler serves the registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// RecordCapture records a capture outcome: stored, upload_failed, skipped
func RecordCapture(outcome string) {
	captures.WithLabelValues(outcome).Inc()
}

// RecordPersistAttempt records one artifact write attempt
func RecordPersistAttempt(result string) {
	persistAttempts.WithLabelValues(result).Inc()
}

// RecordDecision records a response phase decision
func RecordDecision(action string) {
	decisions.WithLabelValues(action).Inc()
}

// RecordNotification records a notification send
func RecordNotification(kind string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	notifications.WithLabelValues(kind, result).Inc()
}

// RecordDeleteFailure records an artifact that could not be deleted
func RecordDeleteFailure() {
	deleteFailures.Inc()
}

// RecordSwept records artifacts removed by the janitor
func RecordSwept(n int) {
	swept.Add(float64(n))
}

// RecordSpoolDelivery records a spooled delivery attempt
func RecordSpoolDelivery(err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	spoolDeliveries.WithLabelValues(result).Inc()
}
