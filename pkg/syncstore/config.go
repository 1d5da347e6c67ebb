package syncstore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-syncstore/pkg/cluster"
	"github.com/dd0wney/cluso-syncstore/pkg/merge"
	"github.com/dd0wney/cluso-syncstore/pkg/validation"
)

// Config holds everything a node needs to join a cluster
type Config struct {
	// LocalURL is the local store as this process reaches it
	LocalURL string `yaml:"local_url"`
	// AdvertiseURL is the local store as peers reach it; it is what gets
	// registered and written into replication jobs. Defaults to LocalURL.
	AdvertiseURL string `yaml:"my_url"`
	// Name of the replicated data collection
	Name string `yaml:"name"`

	NodeID   string `yaml:"uuid"`
	Priority int    `yaml:"priority"`
	Seed     string `yaml:"seed"`

	KeepAlive      time.Duration `yaml:"keep_alive"`
	RetryMaster    time.Duration `yaml:"retry_master"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`

	// ProcessConflicts makes reads merge conflicting revisions before returning
	ProcessConflicts *bool `yaml:"process_conflicts"`

	RevisionCacheSize int           `yaml:"revision_cache_size"`
	RevisionCacheTTL  time.Duration `yaml:"revision_cache_ttl"`
	ListConcurrency   int           `yaml:"list_concurrency"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	processConflicts := true
	return Config{
		LocalURL:          "http://localhost:5984",
		Name:              "syncstore",
		KeepAlive:         5 * time.Second,
		RetryMaster:       30 * time.Second,
		RequestTimeout:    3 * time.Second,
		ProbeTimeout:      3 * time.Second,
		ProcessConflicts:  &processConflicts,
		RevisionCacheSize: merge.DefaultRevisionCacheSize,
		RevisionCacheTTL:  merge.DefaultRevisionCacheTTL,
		ListConcurrency:   8,
	}
}

// ApplyDefaults applies default values to zero-valued fields
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	c.LocalURL = validation.DefaultOr(c.LocalURL, defaults.LocalURL)
	c.AdvertiseURL = validation.DefaultOr(c.AdvertiseURL, c.LocalURL)
	c.Name = validation.DefaultOr(c.Name, defaults.Name)
	c.KeepAlive = validation.DefaultOrDuration(c.KeepAlive, defaults.KeepAlive)
	c.RetryMaster = validation.DefaultOrDuration(c.RetryMaster, defaults.RetryMaster)
	c.RequestTimeout = validation.DefaultOrDuration(c.RequestTimeout, defaults.RequestTimeout)
	c.ProbeTimeout = validation.DefaultOrDuration(c.ProbeTimeout, defaults.ProbeTimeout)
	c.RevisionCacheTTL = validation.DefaultOrDuration(c.RevisionCacheTTL, defaults.RevisionCacheTTL)
	c.ListConcurrency = validation.DefaultOrInt(c.ListConcurrency, defaults.ListConcurrency)
	if c.ProcessConflicts == nil {
		c.ProcessConflicts = defaults.ProcessConflicts
	}
	// A negative size disables the cache; zero means "use the default"
	if c.RevisionCacheSize == 0 {
		c.RevisionCacheSize = defaults.RevisionCacheSize
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	return validation.NewConfigValidator("Config").
		URL("LocalURL", c.LocalURL).
		URL("AdvertiseURL", c.AdvertiseURL).
		Required("Name", c.Name).
		Required("NodeID", c.NodeID).
		OptionalURL("Seed", c.Seed).
		MinDuration("KeepAlive", c.KeepAlive, 10*time.Millisecond).
		AtLeast("RetryMaster", c.RetryMaster, "KeepAlive", c.KeepAlive).
		MinDuration("RequestTimeout", c.RequestTimeout, 10*time.Millisecond).
		MinDuration("ProbeTimeout", c.ProbeTimeout, 10*time.Millisecond).
		RangeInt("ListConcurrency", c.ListConcurrency, 1, 256).
		Validate()
}

// ResolveConflicts reports whether reads merge conflicting revisions
func (c *Config) ResolveConflicts() bool {
	return c.ProcessConflicts == nil || *c.ProcessConflicts
}

// ClusterConfig derives the election settings
func (c *Config) ClusterConfig() cluster.ClusterConfig {
	return cluster.ClusterConfig{
		NodeID:       c.NodeID,
		Cluster:      c.Name,
		Seed:         c.Seed,
		KeepAlive:    c.KeepAlive,
		RetryMaster:  c.RetryMaster,
		ProbeTimeout: c.ProbeTimeout,
	}
}

// FileConfig is the on-disk layout: store settings under "db", the HTTP
// listener and log level beside them
type FileConfig struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	DB       Config `yaml:"db"`
}

// LoadConfigFile reads a YAML config file. Durations are written as "5s", "1m".
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}
