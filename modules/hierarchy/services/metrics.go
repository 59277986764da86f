package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hierCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Total number of hierarchy cache lookups broken down by cache and hit/miss.",
	}, []string{"cache", "result"})

	hierCacheInvalidate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "cache",
		Name:      "invalidate_total",
		Help:      "Total number of hierarchy cache invalidations broken down by reason.",
	}, []string{"reason"})

	hierWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Total number of hierarchy write conflicts broken down by kind.",
	}, []string{"kind"})

	hierStoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "store",
		Name:      "failures_total",
		Help:      "Total number of store-unavailable failures broken down by cause.",
	}, []string{"cause"})

	hierActiveBackend = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hierarchy",
		Subsystem: "store",
		Name:      "active_backend",
		Help:      "Backend selected per hierarchy kind (value is always 1 per label pair).",
	}, []string{"kind", "backend"})
)

func recordCacheRequest(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	hierCacheRequests.WithLabelValues(cache, result).Inc()
}

func recordCacheInvalidate(reason string) {
	if reason == "" {
		reason = "manual"
	}
	hierCacheInvalidate.WithLabelValues(reason).Inc()
}

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	hierWriteConflicts.WithLabelValues(kind).Inc()
}

func recordStoreFailure(cause string) {
	if cause == "" {
		cause = "other"
	}
	hierStoreFailures.WithLabelValues(cause).Inc()
}

// RecordActiveBackendMetric exposes the backend bound to a hierarchy kind.
func RecordActiveBackendMetric(kind string, backend Backend) {
	hierActiveBackend.WithLabelValues(kind, string(backend)).Set(1)
}
