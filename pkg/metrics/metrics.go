package metrics

import (
	"runtime"
	"time"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordStoreOperation records a facade operation (create, get, update, delete, list)
func (r *Registry) RecordStoreOperation(operation, status string, duration time.Duration) {
	r.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	r.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordResolve records one finished conflict resolution
func (r *Registry) RecordResolve(rounds int) {
	r.ConflictResolveRounds.Observe(float64(rounds))
	if rounds > 0 {
		r.ConflictsResolvedTotal.Inc()
	}
}

// RecordRetarget records a replication reconfiguration.
// result is one of "configured", "standalone" or "failed".
func (r *Registry) RecordRetarget(result string, duration time.Duration) {
	r.ReplicationRetargetsTotal.WithLabelValues(result).Inc()
	r.ReplicationRetargetDuration.Observe(duration.Seconds())
}

// SetJobHealthy publishes the last observed health of a replication job
func (r *Registry) SetJobHealthy(role string, healthy bool) {
	r.ReplicationJobHealthy.WithLabelValues(role).Set(boolToFloat(healthy))
	if healthy {
		r.ReplicationJobChecksTotal.WithLabelValues("healthy").Inc()
	} else {
		r.ReplicationJobChecksTotal.WithLabelValues("unhealthy").Inc()
	}
}

// RecordElection records a master reselection.
// result is one of "elected", "unchanged" or "none".
func (r *Registry) RecordElection(result string, peers int, duration time.Duration) {
	r.ClusterElectionsTotal.WithLabelValues(result).Inc()
	r.ClusterElectionDuration.Observe(duration.Seconds())
	r.ClusterPeersTotal.Set(float64(peers))
	r.ClusterHasMaster.Set(boolToFloat(result != "none"))
}

// RecordFailover records the monitor dropping its master
func (r *Registry) RecordFailover(reason string) {
	r.ClusterFailoversTotal.WithLabelValues(reason).Inc()
	r.ClusterHasMaster.Set(0)
}

// UpdateSystemMetrics refreshes process level gauges
func (r *Registry) UpdateSystemMetrics(started time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	r.UptimeSeconds.Set(time.Since(started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(mem.Alloc))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// IncHTTPRequestsInFlight marks a request as started
func (r *Registry) IncHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight marks a request as finished
func (r *Registry) DecHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Dec()
}
