package rpmametrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	rpmametrics "github.com/openrdma/gorpma/internal/metrics"
)

const testPeer = "mlx5_0:1"

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := rpmametrics.NewCollector(reg)

	if c.Regions == nil {
		t.Error("Regions is nil")
	}
	if c.Connections == nil {
		t.Error("Connections is nil")
	}
	if c.ConnectionTransitions == nil {
		t.Error("ConnectionTransitions is nil")
	}
	if c.ReadsPosted == nil {
		t.Error("ReadsPosted is nil")
	}
	if c.Completions == nil {
		t.Error("Completions is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestRegisterDeregisterRegion(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := rpmametrics.NewCollector(reg)

	c.RegisterRegion(testPeer)
	c.RegisterRegion(testPeer)

	if val := gaugeValue(t, c.Regions, testPeer); val != 2 {
		t.Errorf("after two RegisterRegion: gauge = %v, want 2", val)
	}

	c.DeregisterRegion(testPeer)

	if val := gaugeValue(t, c.Regions, testPeer); val != 1 {
		t.Errorf("after DeregisterRegion: gauge = %v, want 1", val)
	}
}

func TestRegisterUnregisterConnection(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := rpmametrics.NewCollector(reg)

	c.RegisterConnection(testPeer)

	if val := gaugeValue(t, c.Connections, testPeer); val != 1 {
		t.Errorf("after RegisterConnection: gauge = %v, want 1", val)
	}

	c.UnregisterConnection(testPeer)

	if val := gaugeValue(t, c.Connections, testPeer); val != 0 {
		t.Errorf("after UnregisterConnection: gauge = %v, want 0", val)
	}
}

func TestConnectionTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := rpmametrics.NewCollector(reg)

	c.RecordConnectionTransition(testPeer, "Established", "Closed")
	c.RecordConnectionTransition(testPeer, "Established", "Closed")
	c.RecordConnectionTransition(testPeer, "Established", "Lost")

	if val := counterValue(t, c.ConnectionTransitions, testPeer, "Established", "Closed"); val != 2 {
		t.Errorf("ConnectionTransitions(Established->Closed) = %v, want 2", val)
	}
	if val := counterValue(t, c.ConnectionTransitions, testPeer, "Established", "Lost"); val != 1 {
		t.Errorf("ConnectionTransitions(Established->Lost) = %v, want 1", val)
	}
}

func TestDataPathCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := rpmametrics.NewCollector(reg)

	c.IncReadsPosted(testPeer)
	c.IncReadsPosted(testPeer)
	c.IncReadsPosted(testPeer)

	if val := counterValue(t, c.ReadsPosted, testPeer); val != 3 {
		t.Errorf("ReadsPosted = %v, want 3", val)
	}

	c.IncCompletion(testPeer, "SUCCESS")
	c.IncCompletion(testPeer, "SUCCESS")
	c.IncCompletion(testPeer, "ERROR")

	if val := counterValue(t, c.Completions, testPeer, "SUCCESS"); val != 2 {
		t.Errorf("Completions(SUCCESS) = %v, want 2", val)
	}
	if val := counterValue(t, c.Completions, testPeer, "ERROR"); val != 1 {
		t.Errorf("Completions(ERROR) = %v, want 1", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
