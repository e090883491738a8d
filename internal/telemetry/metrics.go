package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter       = prometheus.NewCounter(prometheus.CounterOpts{Name: "enrichment_jobs_enqueued_total", Help: "Enrichment jobs enqueued"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "enrichment_rate_limit_rejects_total", Help: "Enqueue requests rejected by rate limiter"})
	EnrichmentCompleted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "enrichment_jobs_completed_total", Help: "Enrichment jobs completed"})
	EnrichmentFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "enrichment_jobs_failed_total", Help: "Enrichment jobs marked failed"})
	EnrichmentFallbacks  = prometheus.NewCounter(prometheus.CounterOpts{Name: "enrichment_provider_fallbacks_total", Help: "Enrichment calls answered by the pass-through fallback"})
	MediaIngested        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "media_ingested_total", Help: "Media records persisted to durable storage"}, []string{"source_type"})
	MediaFailed          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "media_ingest_failed_total", Help: "Media records skipped for retry"}, []string{"source_type", "reason"})
	SignedURLCacheHits   = prometheus.NewCounter(prometheus.CounterOpts{Name: "signed_url_cache_hits_total", Help: "Signed URL cache hits"})
	SignedURLCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{Name: "signed_url_cache_misses_total", Help: "Signed URL cache misses"})
	SignedURLSignErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "signed_url_sign_errors_total", Help: "Signing failures"})
	QueueDepthGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "enrichment_queue_depth", Help: "Live messages in the enrichment queue"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			RateLimitRejects,
			EnrichmentCompleted,
			EnrichmentFailed,
			EnrichmentFallbacks,
			MediaIngested,
			MediaFailed,
			SignedURLCacheHits,
			SignedURLCacheMisses,
			SignedURLSignErrors,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
