package cluster

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-syncstore/pkg/metrics"
)

type monitorFixture struct {
	monitor *Monitor
	elector *Elector
	rt      *fakeRetargeter
	prober  *fakeProber
	jobs    *fakeJobs
	metrics *metrics.Registry
}

func newMonitorFixture(down ...string) *monitorFixture {
	config := testConfig()
	reg := metrics.NewRegistry()
	prober := newFakeProber(down...)
	rt := &fakeRetargeter{fail: map[string]bool{}}
	jobs := &fakeJobs{healthy: true}
	elector := NewElector(config, &fakePeers{nodes: peersBAC()}, rt, prober, nil, reg)
	return &monitorFixture{
		monitor: NewMonitor(config, elector, jobs, prober, nil, reg),
		elector: elector,
		rt:      rt,
		prober:  prober,
		jobs:    jobs,
		metrics: reg,
	}
}

func failovers(t *testing.T, reg *metrics.Registry, reason string) float64 {
	t.Helper()
	c, err := reg.ClusterFailoversTotal.GetMetricWithLabelValues(reason)
	require.NoError(t, err)
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.Counter.GetValue()
}

func TestTickWithoutMasterElects(t *testing.T) {
	f := newMonitorFixture(seedURL)

	delay := f.monitor.Tick(context.Background())
	assert.Zero(t, delay, "a freshly elected master is checked on without delay")
	assert.Equal(t, "http://a:5984", f.elector.CurrentMaster())
	assert.Equal(t, 0, f.jobs.checks, "no health check without a master")

	delay = f.monitor.Tick(context.Background())
	assert.Equal(t, f.monitor.config.KeepAlive, delay)
	assert.Equal(t, 1, f.jobs.checks)
}

func TestTickWithoutAnyMasterWaitsRetryInterval(t *testing.T) {
	f := newMonitorFixture(seedURL, "http://a:5984", "http://b:5984", "http://c:5984")

	delay := f.monitor.Tick(context.Background())
	assert.Equal(t, f.monitor.config.RetryMaster, delay)
	assert.Empty(t, f.elector.CurrentMaster())
}

func TestTickHealthyKeepsMaster(t *testing.T) {
	f := newMonitorFixture()
	require.NoError(t, f.elector.Follow(context.Background(), "http://c:5984"))

	delay := f.monitor.Tick(context.Background())
	assert.Equal(t, f.monitor.config.KeepAlive, delay)
	assert.Equal(t, "http://c:5984", f.elector.CurrentMaster())
	assert.Equal(t, 1, f.jobs.checks)
	assert.Empty(t, f.prober.Probed(), "no election while healthy")
}

func TestTickFailsOverWhenUpstreamUnreachable(t *testing.T) {
	f := newMonitorFixture()
	require.NoError(t, f.elector.Follow(context.Background(), seedURL))

	// Jobs still report running, but the master itself stopped answering
	f.prober.setServerDown(seedURL, true)
	f.prober.setDown(seedURL, true)

	delay := f.monitor.Tick(context.Background())
	assert.Equal(t, f.monitor.config.KeepAlive, delay)
	assert.Equal(t, "http://a:5984", f.elector.CurrentMaster())
	assert.Equal(t, []string{seedURL, "http://a:5984"}, f.rt.Calls())
	assert.Equal(t, float64(1), failovers(t, f.metrics, "upstream"))
}

func TestTickFailsOverWhenJobUnhealthy(t *testing.T) {
	f := newMonitorFixture()
	require.NoError(t, f.elector.Follow(context.Background(), seedURL))
	f.jobs.set(false)

	f.monitor.Tick(context.Background())

	// The master is still reachable, so it is chosen again and its jobs are rebuilt
	assert.Equal(t, seedURL, f.elector.CurrentMaster())
	assert.Equal(t, []string{seedURL, seedURL}, f.rt.Calls())
	assert.Equal(t, float64(1), failovers(t, f.metrics, "job"))
}

func TestTickClearsMasterWhenNothingAnswers(t *testing.T) {
	f := newMonitorFixture()
	require.NoError(t, f.elector.Follow(context.Background(), seedURL))
	for _, u := range []string{seedURL, "http://a:5984", "http://b:5984", "http://c:5984"} {
		f.prober.setDown(u, true)
	}

	delay := f.monitor.Tick(context.Background())
	assert.Equal(t, f.monitor.config.RetryMaster, delay)
	assert.Empty(t, f.elector.CurrentMaster())
	assert.Equal(t, []string{seedURL, ""}, f.rt.Calls())
}

func TestTickPeriodicallyReconsidersMaster(t *testing.T) {
	f := newMonitorFixture(seedURL, "http://a:5984")
	require.NoError(t, f.elector.Follow(context.Background(), "http://c:5984"))

	// A better peer comes back; nothing prompts a switch until the master is old enough
	f.prober.setDown("http://a:5984", false)
	f.monitor.Tick(context.Background())
	assert.Equal(t, "http://c:5984", f.elector.CurrentMaster())

	f.elector.now = func() time.Time { return time.Now().Add(f.monitor.config.RetryMaster + time.Second) }
	f.monitor.Tick(context.Background())
	assert.Equal(t, "http://a:5984", f.elector.CurrentMaster())
	assert.Equal(t, []string{"http://c:5984", "http://a:5984"}, f.rt.Calls())
}

func TestMonitorStartStop(t *testing.T) {
	f := newMonitorFixture(seedURL)

	require.NoError(t, f.monitor.Start(0))
	assert.ErrorIs(t, f.monitor.Start(0), ErrMonitorRunning)

	require.Eventually(t, func() bool {
		return f.elector.CurrentMaster() == "http://a:5984"
	}, 2*time.Second, 10*time.Millisecond)

	// The new master is checked straight away, not after the keep-alive
	require.Eventually(t, func() bool {
		f.jobs.mu.Lock()
		defer f.jobs.mu.Unlock()
		return f.jobs.checks > 0
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		f.monitor.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// Idempotent
	f.monitor.Stop()
}

func TestMonitorStopBeforeFirstTick(t *testing.T) {
	f := newMonitorFixture()
	require.NoError(t, f.monitor.Start(time.Hour))
	f.monitor.Stop()
	assert.Empty(t, f.rt.Calls())
}
