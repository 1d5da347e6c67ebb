// Package syncstore is the document store facade. It joins this node to its
// cluster (registration, election, health monitoring) and exposes CRUD over
// the replicated collection with transparent conflict resolution.
package syncstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dd0wney/cluso-syncstore/pkg/cluster"
	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
	"github.com/dd0wney/cluso-syncstore/pkg/merge"
	"github.com/dd0wney/cluso-syncstore/pkg/metrics"
	"github.com/dd0wney/cluso-syncstore/pkg/registry"
	"github.com/dd0wney/cluso-syncstore/pkg/replication"
)

// Store is a running cluster node
type Store struct {
	config Config

	client      *couch.Client
	db          *couch.Database
	registry    *registry.Registry
	replication *replication.Manager
	elector     *cluster.Elector
	monitor     *cluster.Monitor
	resolver    *merge.Resolver

	logger  logging.Logger
	metrics *metrics.Registry
	prober  cluster.Prober
	now     func() int64
}

// Option customizes a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMetrics sets the metrics registry
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Store) {
		s.metrics = r
	}
}

// WithProber replaces the peer reachability checks
func WithProber(p cluster.Prober) Option {
	return func(s *Store) {
		s.prober = p
	}
}

// withClock replaces the $times clock in tests
func withClock(now func() int64) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open validates config and wires the node. Nothing touches the network
// until Start.
func Open(config Config, opts ...Option) (*Store, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Store{
		config: config,
		logger: logging.NewNopLogger(),
		now:    merge.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.Component("syncstore"), logging.NodeID(config.NodeID))

	clusterConfig := config.ClusterConfig()
	if s.prober == nil {
		s.prober = cluster.NewStoreProber(config.Name, config.ProbeTimeout)
	}

	s.client = couch.NewClient(config.LocalURL,
		couch.WithTimeout(config.RequestTimeout),
		couch.WithLogger(s.logger))
	if err := s.client.Err(); err != nil {
		return nil, err
	}
	s.db = s.client.DB(config.Name)
	s.registry = registry.New(s.client.DB(registry.DatabaseName(config.Name)), s.logger)
	s.replication = replication.NewManager(s.client, config.Name, config.AdvertiseURL, s.logger, s.metrics)
	s.elector = cluster.NewElector(clusterConfig, s.registry, s.replication, s.prober, s.logger, s.metrics)
	s.monitor = cluster.NewMonitor(clusterConfig, s.elector, s.replication, s.prober, s.logger, s.metrics)

	cache := merge.NewRevisionCache(config.RevisionCacheSize, config.RevisionCacheTTL, s.metrics)
	s.resolver = merge.NewResolver(s.db, cache, s.logger, s.metrics)

	return s, nil
}

// Start creates the collections, registers this node, follows the seed when
// one is configured and starts the health monitor
func (s *Store) Start(ctx context.Context) error {
	for _, name := range []string{s.config.Name, registry.DatabaseName(s.config.Name)} {
		if err := s.client.EnsureDB(ctx, name); err != nil {
			return fmt.Errorf("ensure database %s: %w", name, err)
		}
	}

	self := registry.Node{ID: s.config.NodeID, URL: s.config.AdvertiseURL, Priority: s.config.Priority}
	if _, err := s.registry.RegisterSelf(ctx, self); err != nil {
		// Retried implicitly on the next start
		s.logger.Warn("registration failed", logging.Error(err))
	}

	if isLoopback(s.config.AdvertiseURL) {
		s.logger.Warn("advertised address is loopback, peers will not be able to reach this node",
			logging.String("url", couch.Redact(s.config.AdvertiseURL)))
	}

	firstTick := time.Duration(0)
	if s.config.Seed != "" {
		if err := s.elector.Follow(ctx, s.config.Seed); err != nil {
			s.logger.Warn("could not replicate from seed", logging.Error(err))
		} else {
			firstTick = s.config.KeepAlive
		}
	}

	if err := s.monitor.Start(firstTick); err != nil {
		return err
	}
	s.logger.Info("node started",
		logging.Database(s.config.Name),
		logging.Int("priority", s.config.Priority),
		logging.Upstream(couch.Redact(s.elector.CurrentMaster())))
	return nil
}

// Stop halts the health monitor. Replication jobs keep running in the store.
func (s *Store) Stop() {
	s.monitor.Stop()
}

// GetMaster returns the upstream this node replicates with, or "" when standalone
func (s *Store) GetMaster() string {
	return s.elector.CurrentMaster()
}

// Replication reports the state of the replication jobs
func (s *Store) Replication(ctx context.Context) ([]replication.JobStatus, bool) {
	return s.replication.CheckJobs(ctx)
}

// Ping checks that the local store answers
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.db.Info(ctx)
	return err
}

// Config returns the effective configuration
func (s *Store) Config() Config {
	return s.config
}

func isLoopback(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1"
}
