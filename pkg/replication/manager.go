package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
	"github.com/dd0wney/cluso-syncstore/pkg/metrics"
)

// Manager rewrites and inspects the replication jobs of one cluster on the local store
type Manager struct {
	client   *couch.Client
	cluster  string
	localURL string
	logger   logging.Logger
	metrics  *metrics.Registry

	// Retargets drop and recreate the job database; two at once would race
	mu sync.Mutex
}

// NewManager creates a manager. localURL is the address peers and the local
// replicator use to reach this node, credentials included.
func NewManager(client *couch.Client, cluster, localURL string, logger logging.Logger, metricsRegistry *metrics.Registry) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		client:   client,
		cluster:  cluster,
		localURL: localURL,
		logger:   logger.With(logging.Component("replication")),
		metrics:  metricsRegistry,
	}
}

// Retarget replaces every job with ones pointed at upstream. The job database
// is recreated from scratch. An empty upstream leaves it empty, which stops
// replication: the node runs standalone.
func (m *Manager) Retarget(ctx context.Context, upstream string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	timer := logging.StartTimer(m.logger, "retarget", logging.Upstream(couch.Redact(upstream)))
	result := "configured"
	defer func() {
		if err != nil {
			result = "failed"
			timer.EndError(err)
		} else {
			timer.End()
		}
		if m.metrics != nil {
			m.metrics.RecordRetarget(result, time.Since(start))
		}
	}()

	repDB := ReplicatorDatabase(m.cluster)
	if err := m.client.DropDB(ctx, repDB); err != nil {
		return fmt.Errorf("drop %s: %w", repDB, err)
	}
	if err := m.client.EnsureDB(ctx, repDB); err != nil {
		return fmt.Errorf("create %s: %w", repDB, err)
	}

	if upstream == "" {
		result = "standalone"
		m.logger.Warn("no upstream, replication disabled", logging.Database(m.cluster))
		return nil
	}

	db := m.client.DB(repDB)
	g, gctx := errgroup.WithContext(ctx)
	for role, job := range Jobs(m.localURL, upstream, m.cluster) {
		role, job := role, job
		g.Go(func() error {
			if _, err := db.Put(gctx, string(role), job); err != nil {
				return fmt.Errorf("insert %s job: %w", role, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.logger.Info("replication retargeted",
		logging.Upstream(couch.Redact(upstream)),
		logging.Database(m.cluster),
		logging.Latency(time.Since(start)))
	return nil
}

// JobStatus reads the scheduler state of one job
func (m *Manager) JobStatus(ctx context.Context, role Role) (JobStatus, error) {
	doc, err := m.client.SchedulerDoc(ctx, ReplicatorDatabase(m.cluster), string(role))
	if err != nil {
		return JobStatus{Role: role, Error: err.Error()}, err
	}
	return JobStatus{
		Role:    role,
		State:   doc.State,
		Source:  couch.Redact(doc.Source),
		Target:  couch.Redact(doc.Target),
		Healthy: Healthy(doc.State),
	}, nil
}

// CheckJobs polls all jobs concurrently. healthy is true only when every job
// answered with a working state; a job that cannot be read is unhealthy.
func (m *Manager) CheckJobs(ctx context.Context) (statuses []JobStatus, healthy bool) {
	statuses = make([]JobStatus, len(Roles))
	var wg sync.WaitGroup
	for i, role := range Roles {
		i, role := i, role
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _ := m.JobStatus(ctx, role)
			statuses[i] = status
		}()
	}
	wg.Wait()

	healthy = true
	for _, s := range statuses {
		if m.metrics != nil {
			m.metrics.SetJobHealthy(string(s.Role), s.Healthy)
		}
		if !s.Healthy {
			healthy = false
			m.logger.Warn("replication job unhealthy",
				logging.Role(string(s.Role)),
				logging.String("state", s.State),
				logging.String("error", s.Error))
		}
	}
	return statuses, healthy
}
