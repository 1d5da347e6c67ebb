package api

import (
	"github.com/dd0wney/cluso-syncstore/pkg/health"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
	"github.com/dd0wney/cluso-syncstore/pkg/metrics"
)

// DefaultMaxBodyBytes caps request bodies
const DefaultMaxBodyBytes = 1 << 20

// ServerConfig holds optional server collaborators
type ServerConfig struct {
	HealthChecker   *health.HealthChecker
	MetricsRegistry *metrics.Registry
	Logger          logging.Logger
	MaxBodyBytes    int64
	Version         string
}

func (c *ServerConfig) applyDefaults() {
	if c.HealthChecker == nil {
		c.HealthChecker = health.NewHealthChecker()
		c.HealthChecker.RegisterLivenessCheck("process", health.SimpleCheck("process"))
	}
	if c.MetricsRegistry == nil {
		c.MetricsRegistry = metrics.DefaultRegistry()
	}
	if c.Logger == nil {
		c.Logger = logging.NewNopLogger()
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Version == "" {
		c.Version = "dev"
	}
}
