package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initClusterMetrics() {
	r.ClusterPeersTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "syncstore_cluster_peers_total",
			Help: "Election candidates seen at the last reselection",
		},
	)

	r.ClusterHasMaster = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "syncstore_cluster_has_master",
			Help: "Whether this node currently replicates with a master (1=yes, 0=no)",
		},
	)

	r.ClusterElectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstore_cluster_elections_total",
			Help: "Total number of master reselections",
		},
		[]string{"result"}, // elected, unchanged, none
	)

	r.ClusterElectionDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncstore_cluster_election_duration_seconds",
			Help:    "Duration of master reselections in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1.0, 3.0, 10.0},
		},
	)

	r.ClusterFailoversTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstore_cluster_failovers_total",
			Help: "Times the monitor dropped an unhealthy master",
		},
		[]string{"reason"}, // job, upstream
	)
}
