package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSinkRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSinkRunStarted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RunStarted()
	sink.RunStarted()

	val := getCounterValue(t, reg, "flagalerts_pipeline_runs_total")
	if val != 2 {
		t.Errorf("runs_total = %v, want 2", val)
	}
}

func TestPrometheusSinkRunCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RunCompleted(100*time.Millisecond, 5, nil)
	errCount := getCounterValue(t, reg, "flagalerts_pipeline_run_errors_total")
	if errCount != 0 {
		t.Errorf("run_errors_total = %v after success, want 0", errCount)
	}
	built := getCounterValue(t, reg, "flagalerts_pipeline_jobs_built_total")
	if built != 5 {
		t.Errorf("jobs_built_total = %v, want 5", built)
	}

	sink.RunCompleted(100*time.Millisecond, 0, errors.New("db error"))
	errCount = getCounterValue(t, reg, "flagalerts_pipeline_run_errors_total")
	if errCount != 1 {
		t.Errorf("run_errors_total = %v after error, want 1", errCount)
	}
}

func TestPrometheusSinkDeliveryAttemptLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveryAttemptCompleted(1, "2xx", 100*time.Millisecond)
	sink.DeliveryAttemptCompleted(2, "5xx", 200*time.Millisecond)

	val1 := getCounterVecValue(t, reg, "flagalerts_dispatcher_delivery_attempts_total",
		map[string]string{"attempt": "1", "status_class": "2xx"})
	if val1 != 1 {
		t.Errorf("attempt=1,status=2xx = %v, want 1", val1)
	}

	val2 := getCounterVecValue(t, reg, "flagalerts_dispatcher_delivery_attempts_total",
		map[string]string{"attempt": "2", "status_class": "5xx"})
	if val2 != 1 {
		t.Errorf("attempt=2,status=5xx = %v, want 1", val2)
	}
}

func TestPrometheusSinkDeliveryOutcome(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveryOutcome("success")
	sink.DeliveryOutcome("failed")
	sink.DeliveryOutcome("success")

	successVal := getCounterVecValue(t, reg, "flagalerts_dispatcher_delivery_outcomes_total",
		map[string]string{"outcome": "success"})
	if successVal != 2 {
		t.Errorf("outcome=success = %v, want 2", successVal)
	}

	failedVal := getCounterVecValue(t, reg, "flagalerts_dispatcher_delivery_outcomes_total",
		map[string]string{"outcome": "failed"})
	if failedVal != 1 {
		t.Errorf("outcome=failed = %v, want 1", failedVal)
	}
}

func TestPrometheusSinkJobsInFlight(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.JobsInFlightIncr()
	sink.JobsInFlightIncr()
	sink.JobsInFlightDecr()

	val := getGaugeValue(t, reg, "flagalerts_dispatcher_jobs_in_flight")
	if val != 1 {
		t.Errorf("jobs_in_flight = %v, want 1", val)
	}
}

func TestPrometheusSinkBufferMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.BufferCapacitySet(100)
	sink.BufferSizeUpdate(42)
	sink.BufferSaturationUpdate(0.42)

	capVal := getGaugeValue(t, reg, "flagalerts_jobbus_buffer_capacity")
	if capVal != 100 {
		t.Errorf("buffer_capacity = %v, want 100", capVal)
	}

	sizeVal := getGaugeValue(t, reg, "flagalerts_jobbus_buffer_size")
	if sizeVal != 42 {
		t.Errorf("buffer_size = %v, want 42", sizeVal)
	}

	satVal := getGaugeValue(t, reg, "flagalerts_jobbus_buffer_saturation")
	if satVal != 0.42 {
		t.Errorf("buffer_saturation = %v, want 0.42", satVal)
	}
}

func TestPrometheusSinkKeysPruned(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TrackingKeysPruned(7)
	sink.TrackingKeysPruned(3)

	val := getCounterValue(t, reg, "flagalerts_retention_keys_pruned_total")
	if val != 10 {
		t.Errorf("keys_pruned_total = %v, want 10", val)
	}
}

func TestPrometheusSinkLeaderMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.LeaderStatusChanged(true)
	sink.LeaderAcquired()

	if val := getGaugeValue(t, reg, "flagalerts_leader_is_leader"); val != 1 {
		t.Errorf("is_leader = %v, want 1", val)
	}

	sink.LeaderStatusChanged(false)
	sink.LeaderLost("heartbeat failed")

	if val := getGaugeValue(t, reg, "flagalerts_leader_is_leader"); val != 0 {
		t.Errorf("is_leader = %v, want 0", val)
	}
	lost := getCounterVecValue(t, reg, "flagalerts_leader_lost_total",
		map[string]string{"reason": "heartbeat failed"})
	if lost != 1 {
		t.Errorf("leader_lost_total = %v, want 1", lost)
	}
}

func TestPrometheusSinkDuplicateRegistrationNoPanic(t *testing.T) {
	// The second registration fails per collector but must be handled
	// gracefully rather than panic.
	reg := prometheus.NewRegistry()

	sink1 := NewPrometheusSink(reg)
	if sink1 == nil {
		t.Fatal("first NewPrometheusSink returned nil")
	}

	sink2 := NewPrometheusSink(reg)
	if sink2 == nil {
		t.Fatal("second NewPrometheusSink returned nil")
	}
}
