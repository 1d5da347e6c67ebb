package cluster

import (
	"time"

	"github.com/dd0wney/cluso-syncstore/pkg/validation"
)

// ClusterConfig drives master election and health monitoring
type ClusterConfig struct {
	// Node identification
	NodeID  string // Stable identifier of this node in the registry
	Cluster string // Name of the replicated data collection

	// Seed is the fallback upstream tried before any registered peer it does
	// not already appear among. Empty means this node starts standalone.
	Seed string

	// Timing
	KeepAlive    time.Duration // Delay between health checks while healthy (default: 5s)
	RetryMaster  time.Duration // Delay after a failed election, and the age after which a healthy master is reconsidered (default: 30s)
	ProbeTimeout time.Duration // Bound on each reachability probe (default: 3s)
}

// DefaultClusterConfig returns a safe default configuration
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		KeepAlive:    5 * time.Second,
		RetryMaster:  30 * time.Second,
		ProbeTimeout: 3 * time.Second,
	}
}

// ApplyDefaults applies default values to zero-valued fields
func (c *ClusterConfig) ApplyDefaults() {
	defaults := DefaultClusterConfig()

	c.KeepAlive = validation.DefaultOrDuration(c.KeepAlive, defaults.KeepAlive)
	c.RetryMaster = validation.DefaultOrDuration(c.RetryMaster, defaults.RetryMaster)
	c.ProbeTimeout = validation.DefaultOrDuration(c.ProbeTimeout, defaults.ProbeTimeout)
}

// Validate checks if configuration is valid
func (c *ClusterConfig) Validate() error {
	if c.NodeID == "" {
		return ErrInvalidNodeID
	}
	if c.Cluster == "" {
		return ErrInvalidCluster
	}

	return validation.NewConfigValidator("ClusterConfig").
		OptionalURL("Seed", c.Seed).
		MinDuration("KeepAlive", c.KeepAlive, 10*time.Millisecond).
		MinDuration("ProbeTimeout", c.ProbeTimeout, 10*time.Millisecond).
		AtLeast("RetryMaster", c.RetryMaster, "KeepAlive", c.KeepAlive).
		Validate()
}
