package health

import (
	"context"
	"time"
)

// Common health check functions

// SimpleCheck creates a simple health check that always returns healthy
func SimpleCheck(name string) CheckFunc {
	return func(ctx context.Context) Check {
		return Check{
			Name:        name,
			Status:      StatusHealthy,
			LastChecked: time.Now(),
		}
	}
}

// StoreCheck creates a health check for the local document store
func StoreCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name: "store",
		}

		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}

		return check
	}
}

// ReplicationState is what ReplicationCheck needs to know about the node
type ReplicationState struct {
	Upstream    string
	HealthyJobs int
	TotalJobs   int
}

// ReplicationCheck creates a health check for replication status. A node
// without upstream keeps serving its local copy, so it reports degraded.
func ReplicationCheck(getReplicationState func(ctx context.Context) ReplicationState) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "replication",
			Details: make(map[string]any),
		}

		state := getReplicationState(ctx)

		check.Details["upstream"] = state.Upstream
		check.Details["healthy_jobs"] = state.HealthyJobs
		check.Details["total_jobs"] = state.TotalJobs

		if state.Upstream == "" {
			check.Status = StatusDegraded
			check.Message = "Standalone mode"
		} else if state.HealthyJobs < state.TotalJobs {
			check.Status = StatusDegraded
			check.Message = "Replication jobs failing, failover pending"
		} else {
			check.Status = StatusHealthy
			check.Message = "Replication healthy"
		}

		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		usagePercent := 0.0
		if sys > 0 {
			usagePercent = float64(alloc) / float64(sys) * 100
		}

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
