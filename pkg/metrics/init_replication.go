package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReplicationMetrics() {
	r.ReplicationRetargetsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstore_replication_retargets_total",
			Help: "Total number of replication reconfigurations",
		},
		[]string{"result"}, // configured, standalone, failed
	)

	r.ReplicationJobHealthy = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncstore_replication_job_healthy",
			Help: "Last observed health of each replication job (1=healthy, 0=not)",
		},
		[]string{"role"},
	)

	r.ReplicationJobChecksTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstore_replication_job_checks_total",
			Help: "Total number of replication job status checks",
		},
		[]string{"result"},
	)

	r.ReplicationRetargetDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncstore_replication_retarget_duration_seconds",
			Help:    "Time spent rewriting replication jobs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 3.0},
		},
	)
}
