// Package metrics provides Prometheus metrics for the catalog server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filecatalog_connections_active",
			Help: "Number of client connections currently being served",
		},
	)

	connectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecatalog_connections_total",
			Help: "Total number of accepted client connections",
		},
	)

	acceptErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecatalog_accept_errors_total",
			Help: "Total number of failed accept calls",
		},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecatalog_requests_total",
			Help: "Total number of commands handled",
		},
		[]string{"verb", "outcome"},
	)

	archiveBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filecatalog_archive_build_duration_seconds",
			Help:    "Time spent scanning and compressing one archive",
			Buckets: prometheus.DefBuckets,
		},
	)

	artifactBytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecatalog_artifact_bytes_sent_total",
			Help: "Total archive bytes streamed to clients",
		},
	)

	janitorRemovals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecatalog_janitor_removals_total",
			Help: "Total stale artifacts removed by the janitor",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ConnectionOpened records an accepted connection.
func ConnectionOpened() {
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

// ConnectionClosed records a finished connection.
func ConnectionClosed() {
	connectionsActive.Dec()
}

// AcceptError records a failed accept.
func AcceptError() {
	acceptErrorsTotal.Inc()
}

// RecordRequest records one handled command.
func RecordRequest(verb, outcome string) {
	requestsTotal.WithLabelValues(verb, outcome).Inc()
}

// RecordArchiveBuild records the duration of one archive build.
func RecordArchiveBuild(d time.Duration) {
	archiveBuildDuration.Observe(d.Seconds())
}

// RecordArtifactBytes adds to the streamed byte total.
func RecordArtifactBytes(n int64) {
	artifactBytesSent.Add(float64(n))
}

// RecordJanitorRemovals adds to the janitor removal total.
func RecordJanitorRemovals(n int) {
	janitorRemovals.Add(float64(n))
}
