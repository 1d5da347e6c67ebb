package replication_test

import (
	"bytes"
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/couch/couchtest"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
	"github.com/dd0wney/cluso-syncstore/pkg/metrics"
	"github.com/dd0wney/cluso-syncstore/pkg/replication"
)

const repDB = "people/_replicator"

func newManager(t *testing.T) (*couchtest.Server, *replication.Manager, *metrics.Registry) {
	t.Helper()
	srv := couchtest.NewServer()
	t.Cleanup(srv.Close)
	reg := metrics.NewRegistry()
	m := replication.NewManager(couch.NewClient(srv.URL), "people", "http://admin:pw@local:5984", nil, reg)
	return srv, m, reg
}

func counter(t *testing.T, reg *metrics.Registry, result string) float64 {
	t.Helper()
	c, err := reg.ReplicationRetargetsTotal.GetMetricWithLabelValues(result)
	require.NoError(t, err)
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.Counter.GetValue()
}

func TestJobsAddressing(t *testing.T) {
	jobs := replication.Jobs("http://local:5984", "http://up:5984/", "people")
	require.Len(t, jobs, 4)

	assert.Equal(t, replication.Job{
		Source:     "http://up:5984/people%2F$nodes",
		Target:     "http://local:5984/people%2F$nodes",
		Continuous: true,
	}, jobs[replication.PullNodes])
	assert.Equal(t, "http://local:5984/people%2F$nodes", jobs[replication.PushNodes].Source)
	assert.Equal(t, "http://up:5984/people", jobs[replication.PullDB].Source)
	assert.Equal(t, "http://local:5984/people", jobs[replication.PullDB].Target)
	assert.Equal(t, "http://up:5984/people", jobs[replication.PushDB].Target)
}

func TestHealthy(t *testing.T) {
	tests := map[string]bool{
		"running":      true,
		"initializing": true,
		"pending":      true,
		"crashing":     false,
		"failed":       false,
		"completed":    false,
		"":             false,
	}
	for state, want := range tests {
		assert.Equal(t, want, replication.Healthy(state), state)
	}
}

func TestRetargetCreatesFourJobs(t *testing.T) {
	srv, m, reg := newManager(t)

	require.NoError(t, m.Retarget(context.Background(), "http://up:5984"))

	assert.Equal(t, []string{"pull_db", "pull_nodes", "push_db", "push_nodes"}, srv.DocIDs(repDB))
	job := srv.Doc(repDB, "pull_db")
	assert.Equal(t, "http://up:5984/people", job["source"])
	assert.Equal(t, "http://admin:pw@local:5984/people", job["target"])
	assert.Equal(t, true, job["continuous"])
	assert.Equal(t, float64(1), counter(t, reg, "configured"))
}

func TestRetargetReplacesJobs(t *testing.T) {
	srv, m, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.Retarget(ctx, "http://a:5984"))
	require.NoError(t, m.Retarget(ctx, "http://b:5984"))

	assert.Equal(t, 2, srv.Requests("DELETE "+repDB))
	assert.Equal(t, "http://b:5984/people", srv.Doc(repDB, "pull_db")["source"])
	for _, id := range srv.DocIDs(repDB) {
		assert.Len(t, srv.LiveLeaves(repDB, id), 1)
	}
}

func TestRetargetStandalone(t *testing.T) {
	srv, m, reg := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.Retarget(ctx, "http://a:5984"))
	require.NoError(t, m.Retarget(ctx, ""))

	assert.True(t, srv.HasDB(repDB))
	assert.Empty(t, srv.DocIDs(repDB))
	assert.Equal(t, float64(1), counter(t, reg, "standalone"))
}

func TestRetargetFailure(t *testing.T) {
	srv, m, reg := newManager(t)
	srv.SetOffline(true)

	err := m.Retarget(context.Background(), "http://a:5984")
	assert.Error(t, err)
	assert.Equal(t, float64(1), counter(t, reg, "failed"))
}

func TestCheckJobs(t *testing.T) {
	srv, m, _ := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.Retarget(ctx, "http://up:5984"))

	statuses, healthy := m.CheckJobs(ctx)
	assert.True(t, healthy)
	require.Len(t, statuses, 4)
	for i, s := range statuses {
		assert.Equal(t, replication.Roles[i], s.Role)
		assert.Equal(t, "running", s.State)
	}

	srv.SetJobState(repDB, "pull_nodes", "initializing")
	_, healthy = m.CheckJobs(ctx)
	assert.True(t, healthy)

	srv.SetJobState(repDB, "push_db", "crashing")
	statuses, healthy = m.CheckJobs(ctx)
	assert.False(t, healthy)
	assert.False(t, statuses[3].Healthy)
	assert.Equal(t, "crashing", statuses[3].State)
}

func TestCheckJobsStandalone(t *testing.T) {
	_, m, _ := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.Retarget(ctx, ""))

	statuses, healthy := m.CheckJobs(ctx)
	assert.False(t, healthy)
	for _, s := range statuses {
		assert.NotEmpty(t, s.Error)
	}
}

func TestJobStatusRedactsCredentials(t *testing.T) {
	_, m, _ := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.Retarget(ctx, "http://admin:secret@up:5984"))

	status, err := m.JobStatus(ctx, replication.PushDB)
	require.NoError(t, err)
	assert.NotContains(t, status.Source, "pw")
	assert.NotContains(t, status.Target, "secret")
	assert.Contains(t, status.Target, "up:5984")
}

func TestRetargetIsTimed(t *testing.T) {
	srv := couchtest.NewServer()
	t.Cleanup(srv.Close)
	var buf bytes.Buffer
	logger := logging.NewJSONLogger(&buf, logging.DebugLevel)
	m := replication.NewManager(couch.NewClient(srv.URL), "people", "http://local:5984", logger, nil)

	require.NoError(t, m.Retarget(context.Background(), "http://admin:pw@up:5984"))

	out := buf.String()
	assert.Contains(t, out, `"msg":"retarget"`)
	assert.Contains(t, out, `"latency"`)
	assert.NotContains(t, out, "pw@", "upstream credentials are redacted")
}
