package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	if r.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal not initialized")
	}
	if r.StoreOperationsTotal == nil {
		t.Error("StoreOperationsTotal not initialized")
	}
	if r.ClusterHasMaster == nil {
		t.Error("ClusterHasMaster not initialized")
	}
	if r.ReplicationJobHealthy == nil {
		t.Error("ReplicationJobHealthy not initialized")
	}
	if r.registry == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r1 := DefaultRegistry()
	r2 := DefaultRegistry()

	if r1 != r2 {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	r := NewRegistry()

	r.RecordHTTPRequest("GET", "/api/docs", "200", 100*time.Millisecond)
	r.RecordHTTPRequest("POST", "/api/docs", "201", 200*time.Millisecond)
	r.RecordHTTPRequest("GET", "/api/docs", "404", 50*time.Millisecond)

	counter, err := r.HTTPRequestsTotal.GetMetricWithLabelValues("GET", "/api/docs", "200")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if v := counterValue(t, counter); v != 1 {
		t.Errorf("Counter value = %v, want 1", v)
	}
}

func TestRecordStoreOperation(t *testing.T) {
	r := NewRegistry()

	r.RecordStoreOperation("update", "success", 10*time.Millisecond)
	r.RecordStoreOperation("update", "success", 20*time.Millisecond)
	r.RecordStoreOperation("update", "error", 5*time.Millisecond)

	success, _ := r.StoreOperationsTotal.GetMetricWithLabelValues("update", "success")
	if v := counterValue(t, success); v != 2 {
		t.Errorf("Success counter = %v, want 2", v)
	}

	failed, _ := r.StoreOperationsTotal.GetMetricWithLabelValues("update", "error")
	if v := counterValue(t, failed); v != 1 {
		t.Errorf("Error counter = %v, want 1", v)
	}

	histogram, _ := r.StoreOperationDuration.GetMetricWithLabelValues("update")
	var metric dto.Metric
	if err := histogram.(prometheus.Histogram).Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 3 {
		t.Errorf("Sample count = %v, want 3", metric.Histogram.GetSampleCount())
	}
}

func TestRecordResolve(t *testing.T) {
	r := NewRegistry()

	r.RecordResolve(0)
	r.RecordResolve(2)

	if v := counterValue(t, r.ConflictsResolvedTotal); v != 1 {
		t.Errorf("ConflictsResolvedTotal = %v, want 1", v)
	}

	var metric dto.Metric
	if err := r.ConflictResolveRounds.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("Sample count = %v, want 2", metric.Histogram.GetSampleCount())
	}
	if metric.Histogram.GetSampleSum() != 2 {
		t.Errorf("Sample sum = %v, want 2", metric.Histogram.GetSampleSum())
	}
}

func TestReplicationMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordRetarget("configured", 20*time.Millisecond)
	r.RecordRetarget("standalone", 5*time.Millisecond)
	r.SetJobHealthy("pull_db", true)
	r.SetJobHealthy("push_db", false)

	configured, _ := r.ReplicationRetargetsTotal.GetMetricWithLabelValues("configured")
	if v := counterValue(t, configured); v != 1 {
		t.Errorf("configured retargets = %v, want 1", v)
	}

	pull, _ := r.ReplicationJobHealthy.GetMetricWithLabelValues("pull_db")
	if v := gaugeValue(t, pull); v != 1 {
		t.Errorf("pull_db healthy = %v, want 1", v)
	}
	push, _ := r.ReplicationJobHealthy.GetMetricWithLabelValues("push_db")
	if v := gaugeValue(t, push); v != 0 {
		t.Errorf("push_db healthy = %v, want 0", v)
	}

	unhealthy, _ := r.ReplicationJobChecksTotal.GetMetricWithLabelValues("unhealthy")
	if v := counterValue(t, unhealthy); v != 1 {
		t.Errorf("unhealthy checks = %v, want 1", v)
	}
}

func TestElectionMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordElection("elected", 3, 150*time.Millisecond)
	if v := gaugeValue(t, r.ClusterHasMaster); v != 1 {
		t.Errorf("ClusterHasMaster = %v, want 1", v)
	}
	if v := gaugeValue(t, r.ClusterPeersTotal); v != 3 {
		t.Errorf("ClusterPeersTotal = %v, want 3", v)
	}

	r.RecordFailover("upstream")
	if v := gaugeValue(t, r.ClusterHasMaster); v != 0 {
		t.Errorf("ClusterHasMaster after failover = %v, want 0", v)
	}

	r.RecordElection("none", 2, 3*time.Second)
	if v := gaugeValue(t, r.ClusterHasMaster); v != 0 {
		t.Errorf("ClusterHasMaster after failed election = %v, want 0", v)
	}

	elected, _ := r.ClusterElectionsTotal.GetMetricWithLabelValues("elected")
	if v := counterValue(t, elected); v != 1 {
		t.Errorf("elected = %v, want 1", v)
	}
	failovers, _ := r.ClusterFailoversTotal.GetMetricWithLabelValues("upstream")
	if v := counterValue(t, failovers); v != 1 {
		t.Errorf("failovers = %v, want 1", v)
	}

	var metric dto.Metric
	if err := r.ClusterElectionDuration.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("Election duration samples = %v, want 2", metric.Histogram.GetSampleCount())
	}
}

func TestSystemMetrics(t *testing.T) {
	r := NewRegistry()

	r.UpdateSystemMetrics(time.Now().Add(-time.Minute))

	if v := gaugeValue(t, r.UptimeSeconds); v < 60 {
		t.Errorf("UptimeSeconds = %v, want >= 60", v)
	}
	if v := gaugeValue(t, r.GoRoutines); v < 1 {
		t.Errorf("GoRoutines = %v, want >= 1", v)
	}
	if v := gaugeValue(t, r.MemoryAllocBytes); v <= 0 {
		t.Errorf("MemoryAllocBytes = %v, want > 0", v)
	}
}

func TestGetPrometheusRegistry(t *testing.T) {
	r := NewRegistry()
	promRegistry := r.GetPrometheusRegistry()

	if promRegistry == nil {
		t.Fatal("GetPrometheusRegistry() returned nil")
	}

	metrics, err := promRegistry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	expectedMetrics := []string{
		"syncstore_cluster_has_master",
		"syncstore_store_write_conflicts_total",
		"syncstore_uptime_seconds",
	}

	metricNames := make(map[string]bool)
	for _, m := range metrics {
		metricNames[m.GetName()] = true
	}

	for _, expected := range expectedMetrics {
		if !metricNames[expected] {
			t.Errorf("Expected metric %s not found", expected)
		}
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.RecordHTTPRequest("GET", "/test", "200", 10*time.Millisecond)
			}
		}()
	}
	wg.Wait()

	counter, err := r.HTTPRequestsTotal.GetMetricWithLabelValues("GET", "/test", "200")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if v := counterValue(t, counter); v != 1000 {
		t.Errorf("Counter = %v, want 1000", v)
	}
}

func TestMetricNaming(t *testing.T) {
	r := NewRegistry()
	r.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)
	r.RecordRetarget("configured", time.Millisecond)

	metrics, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, m := range metrics {
		name := m.GetName()
		if !strings.HasPrefix(name, "syncstore_") {
			t.Errorf("Metric %s does not have syncstore_ prefix", name)
		}
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	r := NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.RecordHTTPRequest("GET", "/api/docs", "200", 10*time.Millisecond)
	}
}

func BenchmarkRecordStoreOperation(b *testing.B) {
	r := NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.RecordStoreOperation("get", "success", 5*time.Millisecond)
	}
}
