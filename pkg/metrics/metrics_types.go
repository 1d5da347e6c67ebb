package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Store Metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreDocumentsTotal    prometheus.Gauge
	StoreWriteConflicts    prometheus.Counter

	// Conflict Resolution Metrics
	ConflictsResolvedTotal prometheus.Counter
	ConflictResolveRounds  prometheus.Histogram
	RevisionCacheHits      prometheus.Counter
	RevisionCacheMisses    prometheus.Counter

	// Replication Metrics
	ReplicationRetargetsTotal   *prometheus.CounterVec
	ReplicationJobHealthy       *prometheus.GaugeVec
	ReplicationJobChecksTotal   *prometheus.CounterVec
	ReplicationRetargetDuration prometheus.Histogram

	// Cluster Metrics
	ClusterPeersTotal       prometheus.Gauge
	ClusterHasMaster        prometheus.Gauge
	ClusterElectionsTotal   *prometheus.CounterVec
	ClusterElectionDuration prometheus.Histogram
	ClusterFailoversTotal   *prometheus.CounterVec

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initHTTPMetrics()
	r.initStoreMetrics()
	r.initReplicationMetrics()
	r.initClusterMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
