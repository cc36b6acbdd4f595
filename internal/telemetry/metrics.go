package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "catalog_jobs_submitted_total", Help: "Jobs submitted by type"}, []string{"type"})
	JobsSucceeded    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "catalog_jobs_succeeded_total", Help: "Jobs that reached SUCCEEDED by type"}, []string{"type"})
	JobsFailed       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "catalog_jobs_failed_total", Help: "Jobs that reached FAILED by type"}, []string{"type"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "catalog_upload_rate_limit_rejects_total", Help: "Uploads rejected by rate limiter"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "catalog_queue_depth", Help: "Ready queue depth across priorities"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "catalog_jobs_inflight", Help: "Jobs currently leased by this worker"})

	ImportRows       = prometheus.NewCounter(prometheus.CounterOpts{Name: "catalog_import_rows_total", Help: "CSV rows applied to the catalog"})
	ImportsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{Name: "catalog_imports_succeeded_total", Help: "Imports that completed"})
	ImportsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "catalog_imports_failed_total", Help: "Imports that failed"})
	ImportDuration   = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_import_duration_seconds",
		Help:    "Wall time of a full import",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	WebhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "catalog_webhook_deliveries_total", Help: "Webhook delivery attempts by event and outcome"}, []string{"event", "outcome"})
	WebhookLatency    = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_webhook_latency_seconds",
		Help:    "Webhook POST latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsSucceeded,
			JobsFailed,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
			ImportRows,
			ImportsSucceeded,
			ImportsFailed,
			ImportDuration,
			WebhookDeliveries,
			WebhookLatency,
		)
	})
	return promhttp.Handler()
}
