package store

import (
	"context"
	"time"
)

// SchemaVersion is written on first init and checked on every subsequent
// open. A mismatch is an error; there is no migration path yet.
const SchemaVersion = 1

// Retention ages for the append-only tables. Rows older than these are
// deleted in bulk by Sweep at startup, never per-insert.
const (
	OutcomeRetention = 7 * 24 * time.Hour
	HealthRetention  = 24 * time.Hour
)

// CircuitState is the persisted circuit breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitRecord is the singleton persisted breaker state. Zero time values
// mean "never". Only the circuit breaker mutates it, through SaveCircuit.
type CircuitRecord struct {
	State             CircuitState
	FailureCount      int
	LastFailureAt     time.Time
	OpenedAt          time.Time
	RecoverySuccesses int
	UpdatedAt         time.Time
}

// CircuitPatch is a partial update against the singleton CircuitRecord.
// Nil fields keep their persisted value; UpdatedAt always refreshes.
type CircuitPatch struct {
	State             *CircuitState
	FailureCount      *int
	LastFailureAt     *time.Time
	OpenedAt          *time.Time
	RecoverySuccesses *int
}

// Merge applies the patch over rec and stamps UpdatedAt.
func (p CircuitPatch) Merge(rec CircuitRecord, now time.Time) CircuitRecord {
	if p.State != nil {
		rec.State = *p.State
	}
	if p.FailureCount != nil {
		rec.FailureCount = *p.FailureCount
	}
	if p.LastFailureAt != nil {
		rec.LastFailureAt = *p.LastFailureAt
	}
	if p.OpenedAt != nil {
		rec.OpenedAt = *p.OpenedAt
	}
	if p.RecoverySuccesses != nil {
		rec.RecoverySuccesses = *p.RecoverySuccesses
	}
	rec.UpdatedAt = now.UTC()
	return rec
}

// Outcome is one completed (or aborted) protected call.
type Outcome struct {
	ToolName   string
	Category   string
	Duration   time.Duration
	Success    bool
	ErrorType  string // empty on success
	ExecutedAt time.Time
}

// HealthSample is one background probe result.
type HealthSample struct {
	Status      string        `json:"status"`
	Latency     time.Duration `json:"latency"`
	PingSuccess bool          `json:"ping_success"`
	CheckedAt   time.Time     `json:"checked_at"`
}

// CategoryStats aggregates outcomes of one category within a window.
type CategoryStats struct {
	Category     string        `json:"category"`
	Total        int           `json:"total"`
	Successes    int           `json:"successes"`
	SuccessRatio float64       `json:"success_ratio"`
	MeanDuration time.Duration `json:"mean_duration"`
}

// Stats is the aggregate view returned for external reporting.
type Stats struct {
	Window       time.Duration   `json:"window"`
	Categories   []CategoryStats `json:"categories"`
	RecentHealth []HealthSample  `json:"recent_health"`
}

// P95MinSamples is the minimum number of qualifying outcomes QueryP95
// needs before it reports a learned percentile. Below this the caller
// must treat the result as "no adjustment", never as zero.
const P95MinSamples = 10

// P95Window is how many of the most recent successful outcomes per
// category feed the learned percentile.
const P95Window = 100

// Store is the sole persistence and retention authority. Implementations
// assume a single owning process; concurrent access to the same backing
// database from multiple processes is unsupported.
type Store interface {
	// EnsureSchema creates tables if absent, verifies the schema version,
	// and guarantees the singleton CircuitRecord exists (closed on first
	// ever run).
	EnsureSchema(ctx context.Context) error

	LoadCircuit(ctx context.Context) (CircuitRecord, error)
	// SaveCircuit merges the patch over the persisted record. Fields not
	// supplied keep their previous value; updated_at always refreshes.
	SaveCircuit(ctx context.Context, patch CircuitPatch) error

	AppendOutcome(ctx context.Context, o Outcome) error
	AppendHealthSample(ctx context.Context, s HealthSample) error

	// QueryP95 computes the 95th-percentile duration over the most recent
	// P95Window successful outcomes of category. ok is false when fewer
	// than P95MinSamples qualify.
	QueryP95(ctx context.Context, category string) (p95 time.Duration, ok bool, err error)

	// RecentSuccessRate returns successes/total within the trailing
	// window, and 1.0 when there are zero samples: absence of evidence is
	// not evidence of failure.
	RecentSuccessRate(ctx context.Context, window time.Duration) (float64, error)

	// Stats aggregates per-category outcome counts within the window plus
	// the most recent healthLimit health samples.
	Stats(ctx context.Context, window time.Duration, healthLimit int) (Stats, error)

	// Sweep bulk-deletes outcomes older than OutcomeRetention and health
	// samples older than HealthRetention. Run once at startup.
	Sweep(ctx context.Context) (outcomes, health int64, err error)

	Close() error
}
