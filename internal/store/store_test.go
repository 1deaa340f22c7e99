package store

import (
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	cases := []struct {
		name string
		vals []int64
		p    float64
		want int64
	}{
		{"single", []int64{7}, 0.95, 7},
		{"two", []int64{10, 20}, 0.95, 10}, // idx = int(1*0.95) = 0
		{"twenty", seq(100, 20, 100), 0.95, 1900},
		{"unsorted input", []int64{30, 10, 20}, 0.5, 20},
		{"p100", []int64{1, 2, 3}, 1.0, 3},
	}
	for _, tc := range cases {
		if got := Percentile(tc.vals, tc.p); got != tc.want {
			t.Fatalf("%s: Percentile = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func seq(start, n, step int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = start + int64(i)*step
	}
	return out
}

func TestCircuitPatchMerge(t *testing.T) {
	base := CircuitRecord{
		State:        CircuitOpen,
		FailureCount: 5,
		OpenedAt:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}

	rc := 2
	now := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	got := CircuitPatch{RecoverySuccesses: &rc}.Merge(base, now)
	if got.State != CircuitOpen || got.FailureCount != 5 || !got.OpenedAt.Equal(base.OpenedAt) {
		t.Fatalf("nil fields overwrote record: %+v", got)
	}
	if got.RecoverySuccesses != 2 {
		t.Fatalf("patched field not applied: %+v", got)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at = %v, want %v", got.UpdatedAt, now)
	}

	closed := CircuitClosed
	zero := 0
	got = CircuitPatch{State: &closed, FailureCount: &zero}.Merge(got, now.Add(time.Minute))
	if got.State != CircuitClosed || got.FailureCount != 0 {
		t.Fatalf("explicit fields not applied: %+v", got)
	}
	// Zero values passed by pointer are real values, not "keep previous".
	if got.RecoverySuccesses != 2 {
		t.Fatalf("untouched field lost: %+v", got)
	}
}
