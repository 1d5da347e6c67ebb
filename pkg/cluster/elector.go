package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
	"github.com/dd0wney/cluso-syncstore/pkg/metrics"
	"github.com/dd0wney/cluso-syncstore/pkg/registry"
)

// PeerLister returns the registered nodes other than this one
type PeerLister interface {
	ListPeers(ctx context.Context, excludeID string) ([]registry.Node, error)
}

// Retargeter points replication at an upstream; "" stops replication
type Retargeter interface {
	Retarget(ctx context.Context, upstream string) error
}

// Elector owns the election state: the current master and when it was last
// chosen. Only its methods change that state.
//
// Concurrent Safety:
// 1. State reads and writes hold mu; network calls never do
// 2. Reselect and Follow are not reentrant and must only run from the
//    monitor loop or from startup before the loop begins
type Elector struct {
	config      ClusterConfig
	peers       PeerLister
	replication Retargeter
	prober      Prober
	logger      logging.Logger
	metrics     *metrics.Registry
	now         func() time.Time

	mu            sync.RWMutex
	currentMaster string
	lastReselect  time.Time
}

// NewElector creates an elector with no master
func NewElector(config ClusterConfig, peers PeerLister, replication Retargeter, prober Prober, logger logging.Logger, metricsRegistry *metrics.Registry) *Elector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Elector{
		config:      config,
		peers:       peers,
		replication: replication,
		prober:      prober,
		logger:      logger.With(logging.Component("elector"), logging.NodeID(config.NodeID)),
		metrics:     metricsRegistry,
		now:         time.Now,
	}
}

// CurrentMaster returns the upstream this node replicates with, or "" when standalone
func (e *Elector) CurrentMaster() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentMaster
}

// SinceLastReselect returns how long ago a master was last chosen
func (e *Elector) SinceLastReselect() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now().Sub(e.lastReselect)
}

// Clear forgets the current master without touching replication. The next
// Reselect will retarget even if it picks the same peer again.
func (e *Elector) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentMaster = ""
}

func (e *Elector) setMaster(upstream string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentMaster = upstream
	e.lastReselect = e.now()
}

// Follow makes upstream the master without probing it, as done for the seed at startup
func (e *Elector) Follow(ctx context.Context, upstream string) error {
	if err := e.replication.Retarget(ctx, upstream); err != nil {
		return fmt.Errorf("follow %s: %w", couch.Redact(upstream), err)
	}
	e.setMaster(upstream)
	return nil
}

// OrderCandidates sorts peers by ascending priority, then ascending id, and
// puts the seed first unless a registered peer already carries its address
func OrderCandidates(peers []registry.Node, seed string) []registry.Node {
	ordered := make([]registry.Node, len(peers))
	copy(ordered, peers)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	if seed == "" {
		return ordered
	}
	for _, p := range ordered {
		if p.URL == seed {
			return ordered
		}
	}
	return append([]registry.Node{{URL: seed}}, ordered...)
}

// Candidates lists the peers to try, in election order. A registry that
// cannot be read leaves only the seed.
func (e *Elector) Candidates(ctx context.Context) []registry.Node {
	peers, err := e.peers.ListPeers(ctx, e.config.NodeID)
	if err != nil {
		e.logger.Warn("could not list peers", logging.Error(err))
		peers = nil
	}
	return OrderCandidates(peers, e.config.Seed)
}

// Reselect picks the first reachable candidate as master and returns the
// delay before the monitor should look again. When nobody answers,
// replication is torn down and ErrNoReachableMaster is returned with the
// longer retry delay.
func (e *Elector) Reselect(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	timer := logging.StartTimer(e.logger, "reselect")
	defer timer.End()
	candidates := e.Candidates(ctx)
	current := e.CurrentMaster()

	e.logger.Debug("reselecting master", logging.Count(len(candidates)))

	for _, c := range candidates {
		if err := e.probe(ctx, c.URL); err != nil {
			e.logger.Debug("candidate unreachable",
				logging.NodeID(c.ID),
				logging.Upstream(couch.Redact(c.URL)),
				logging.Error(err))
			continue
		}

		if c.URL == current {
			e.mu.Lock()
			e.lastReselect = e.now()
			e.mu.Unlock()
			e.record("unchanged", len(candidates), start)
			return e.config.KeepAlive, nil
		}

		if err := e.replication.Retarget(ctx, c.URL); err != nil {
			e.logger.Error("retarget failed",
				logging.Upstream(couch.Redact(c.URL)),
				logging.Error(err))
			continue
		}
		e.setMaster(c.URL)
		e.record("elected", len(candidates), start)
		e.logger.Info("found new master",
			logging.NodeID(c.ID),
			logging.Upstream(couch.Redact(c.URL)),
			logging.Int("priority", c.Priority))
		return e.config.KeepAlive, nil
	}

	e.Clear()
	if err := e.replication.Retarget(ctx, ""); err != nil {
		e.logger.Error("could not stop replication", logging.Error(err))
	}
	e.record("none", len(candidates), start)
	e.logger.Warn("no masters found, will try later",
		logging.Count(len(candidates)),
		logging.Duration("retry_in", e.config.RetryMaster))
	return e.config.RetryMaster, ErrNoReachableMaster
}

func (e *Elector) probe(ctx context.Context, url string) error {
	if e.config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ProbeTimeout)
		defer cancel()
	}
	return e.prober.ProbeRegistry(ctx, url)
}

func (e *Elector) record(result string, candidates int, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordElection(result, candidates, time.Since(start))
	}
}
