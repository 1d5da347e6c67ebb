package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStoreMetrics() {
	r.StoreOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstore_store_operations_total",
			Help: "Total number of document operations",
		},
		[]string{"operation", "status"},
	)

	r.StoreOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncstore_store_operation_duration_seconds",
			Help:    "Document operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 3.0},
		},
		[]string{"operation"},
	)

	r.StoreDocumentsTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "syncstore_store_documents_total",
			Help: "Documents returned by the last full listing",
		},
	)

	r.StoreWriteConflicts = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "syncstore_store_write_conflicts_total",
			Help: "Updates rejected by the store and retried through a merge",
		},
	)

	r.ConflictsResolvedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "syncstore_conflicts_resolved_total",
			Help: "Documents whose revision conflicts were merged away",
		},
	)

	r.ConflictResolveRounds = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncstore_conflict_resolve_rounds",
			Help:    "Merge rounds needed before a document read clean",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	r.RevisionCacheHits = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "syncstore_revision_cache_hits_total",
			Help: "Conflicting revisions served from the revision cache",
		},
	)

	r.RevisionCacheMisses = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "syncstore_revision_cache_misses_total",
			Help: "Conflicting revisions fetched from the store",
		},
	)
}
