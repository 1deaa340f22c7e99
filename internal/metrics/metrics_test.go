package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// Register latches a process-global guard on first success, so everything
// is exercised against the one registry that first registration used.
func TestRegisterAndHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// Second call must be a no-op, not a duplicate-registration error.
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	SetCircuitState("open")
	RecordCircuitTransition("closed", "open")
	ObserveProbe(0.05, false)
	SetHealthStatus("degraded")
	ObserveTimeout("query", 10)
	IncOutcome("query", true)
	IncOutcome("query", false)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"faultgate_circuit_state",
		"faultgate_circuit_transitions_total",
		"faultgate_health_probe_latency_seconds",
		"faultgate_health_probe_failures_total",
		"faultgate_health_status",
		"faultgate_timeout_computed_seconds",
		"faultgate_commands_outcomes_total",
	} {
		if !found[name] {
			t.Fatalf("metric %s not gathered; got %v", name, found)
		}
	}
}
