package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
	"github.com/dd0wney/cluso-syncstore/pkg/metrics"
	"github.com/dd0wney/cluso-syncstore/pkg/replication"
)

// JobChecker reports the health of the replication jobs
type JobChecker interface {
	CheckJobs(ctx context.Context) ([]replication.JobStatus, bool)
}

// Monitor watches the current master and the replication jobs, reselecting
// on failure and periodically.
//
// Concurrent Safety:
// 1. A single goroutine runs ticks; the next timer is armed only after a tick returns
// 2. Start/Stop use sync.Once; Stop cancels the tick in flight and waits for it
type Monitor struct {
	config  ClusterConfig
	elector *Elector
	jobs    JobChecker
	prober  Prober
	logger  logging.Logger
	metrics *metrics.Registry

	stopCh    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewMonitor creates a monitor driving elector
func NewMonitor(config ClusterConfig, elector *Elector, jobs JobChecker, prober Prober, logger logging.Logger, metricsRegistry *metrics.Registry) *Monitor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Monitor{
		config:  config,
		elector: elector,
		jobs:    jobs,
		prober:  prober,
		logger:  logger.With(logging.Component("monitor"), logging.NodeID(config.NodeID)),
		metrics: metricsRegistry,
		stopCh:  make(chan struct{}),
	}
}

// Start runs the tick loop in the background, first ticking after initialDelay
func (m *Monitor) Start(initialDelay time.Duration) error {
	err := ErrMonitorRunning
	m.startOnce.Do(func() {
		err = nil
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.wg.Add(1)
		go m.loop(ctx, initialDelay)
		m.logger.Info("monitor started",
			logging.Duration("first_tick_in", initialDelay),
			logging.Duration("keep_alive", m.config.KeepAlive))
	})
	return err
}

// Stop ends the loop and waits for a running tick to return
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
		m.logger.Info("monitor stopped")
	})
}

func (m *Monitor) loop(ctx context.Context, delay time.Duration) {
	defer m.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-timer.C:
			timer.Reset(m.Tick(ctx))
		}
	}
}

// Tick runs one health check and returns the delay before the next one.
// Without a master it elects right away and, once a master is found, checks
// on it without waiting; on an unhealthy job or an
// unreachable upstream it drops the master and elects again; a master that
// has been kept longer than the retry interval is reconsidered.
func (m *Monitor) Tick(ctx context.Context) time.Duration {
	master := m.elector.CurrentMaster()
	if master == "" {
		delay := m.reselect(ctx)
		if m.elector.CurrentMaster() != "" {
			return 0
		}
		return delay
	}

	var (
		wg          sync.WaitGroup
		jobsHealthy bool
		upstreamErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, jobsHealthy = m.jobs.CheckJobs(ctx)
	}()
	go func() {
		defer wg.Done()
		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout())
		defer cancel()
		upstreamErr = m.prober.ProbeServer(probeCtx, master)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return m.config.KeepAlive
	}

	if !jobsHealthy || upstreamErr != nil {
		reason := "job"
		if upstreamErr != nil {
			reason = "upstream"
		}
		m.logger.Warn("troubles with master",
			logging.Upstream(couch.Redact(master)),
			logging.String("reason", reason),
			logging.Error(upstreamErr))
		if m.metrics != nil {
			m.metrics.RecordFailover(reason)
		}
		m.elector.Clear()
		return m.reselect(ctx)
	}

	if m.elector.SinceLastReselect() > m.config.RetryMaster {
		m.logger.Debug("reconsidering master", logging.Upstream(couch.Redact(master)))
		return m.reselect(ctx)
	}
	return m.config.KeepAlive
}

func (m *Monitor) reselect(ctx context.Context) time.Duration {
	delay, err := m.elector.Reselect(ctx)
	if err != nil && !errors.Is(err, ErrNoReachableMaster) {
		m.logger.Error("reselect failed", logging.Error(err))
	}
	return delay
}

func (m *Monitor) probeTimeout() time.Duration {
	if m.config.ProbeTimeout > 0 {
		return m.config.ProbeTimeout
	}
	return couch.DefaultTimeout
}
