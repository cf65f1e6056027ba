package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datapulse_sql_cache_hits_total",
			Help: "Total number of SQL cache hits.",
		},
	)
	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datapulse_sql_cache_misses_total",
			Help: "Total number of SQL cache misses.",
		},
	)
	throttleRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datapulse_throttle_rejections_total",
			Help: "Total number of requests rejected by the rate limiter.",
		},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_sql_validation_rejections_total",
			Help: "Total number of SQL strings rejected by the safety validator.",
		},
		[]string{"reason"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datapulse_sessions_active",
			Help: "Current number of live sessions in the registry.",
		},
	)
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_uploads_total",
			Help: "Total number of sandbox uploads by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datapulse_query_duration_seconds",
			Help:    "Sandbox query execution latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(
		cacheHitsTotal,
		cacheMissesTotal,
		throttleRejectionsTotal,
		validationRejectionsTotal,
		sessionsActive,
		uploadsTotal,
		queryDurationSeconds,
	)
}

func ObserveCacheLookup(hit bool) {
	if hit {
		cacheHitsTotal.Inc()
		return
	}
	cacheMissesTotal.Inc()
}

func IncrementThrottleRejection() {
	throttleRejectionsTotal.Inc()
}

func IncrementValidationRejection(reason string) {
	validationRejectionsTotal.WithLabelValues(reason).Inc()
}

func SetSessionsActive(count int) {
	if count < 0 {
		count = 0
	}
	sessionsActive.Set(float64(count))
}

func ObserveUpload(kind string, ok bool) {
	outcome := "rejected"
	if ok {
		outcome = "accepted"
	}
	uploadsTotal.WithLabelValues(kind, outcome).Inc()
}

func ObserveQueryDuration(elapsed time.Duration) {
	queryDurationSeconds.Observe(elapsed.Seconds())
}
