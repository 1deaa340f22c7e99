package memory

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/faultgate/internal/store"
)

func TestCircuitPatchSemantics(t *testing.T) {
	db := New()
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	rec, err := db.LoadCircuit(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.State != store.CircuitClosed {
		t.Fatalf("first run state = %s, want closed", rec.State)
	}

	open := store.CircuitOpen
	count := 3
	if err := db.SaveCircuit(ctx, store.CircuitPatch{State: &open, FailureCount: &count}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rc := 1
	if err := db.SaveCircuit(ctx, store.CircuitPatch{RecoverySuccesses: &rc}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	rec, _ = db.LoadCircuit(ctx)
	if rec.State != store.CircuitOpen || rec.FailureCount != 3 || rec.RecoverySuccesses != 1 {
		t.Fatalf("partial update broken: %+v", rec)
	}
}

func TestP95AndSuccessRate(t *testing.T) {
	db := New()
	ctx := context.Background()

	if _, ok, _ := db.QueryP95(ctx, "query"); ok {
		t.Fatalf("expected insufficient data on empty store")
	}
	rate, err := db.RecentSuccessRate(ctx, time.Hour)
	if err != nil || rate != 1.0 {
		t.Fatalf("empty rate = %v (%v), want 1.0", rate, err)
	}

	for i := 1; i <= 20; i++ {
		_ = db.AppendOutcome(ctx, store.Outcome{
			Category: "query", Duration: time.Duration(i*100) * time.Millisecond,
			Success: true, ExecutedAt: time.Now(),
		})
	}
	_ = db.AppendOutcome(ctx, store.Outcome{
		Category: "query", Duration: time.Hour, Success: false,
		ErrorType: "timeout", ExecutedAt: time.Now(),
	})

	p95, ok, err := db.QueryP95(ctx, "query")
	if err != nil || !ok {
		t.Fatalf("p95 not available: %v", err)
	}
	if p95 != 1900*time.Millisecond {
		t.Fatalf("p95 = %v, want 1.9s", p95)
	}
	rate, _ = db.RecentSuccessRate(ctx, time.Hour)
	if rate != 20.0/21.0 {
		t.Fatalf("rate = %v", rate)
	}
}

func TestSweepAndStats(t *testing.T) {
	db := New()
	ctx := context.Background()

	_ = db.AppendOutcome(ctx, store.Outcome{Category: "action", Duration: time.Second, Success: true, ExecutedAt: time.Now().Add(-8 * 24 * time.Hour)})
	_ = db.AppendOutcome(ctx, store.Outcome{Category: "action", Duration: time.Second, Success: true, ExecutedAt: time.Now()})
	_ = db.AppendHealthSample(ctx, store.HealthSample{Status: "healthy", PingSuccess: true, CheckedAt: time.Now().Add(-25 * time.Hour)})
	_ = db.AppendHealthSample(ctx, store.HealthSample{Status: "healthy", PingSuccess: true, CheckedAt: time.Now()})

	outcomes, health, err := db.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if outcomes != 1 || health != 1 {
		t.Fatalf("sweep deleted (%d, %d), want (1, 1)", outcomes, health)
	}

	stats, err := db.Stats(ctx, 30*24*time.Hour, 10)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats.Categories) != 1 || stats.Categories[0].Total != 1 {
		t.Fatalf("stats after sweep: %+v", stats.Categories)
	}
	if len(stats.RecentHealth) != 1 {
		t.Fatalf("health after sweep: %+v", stats.RecentHealth)
	}
}
