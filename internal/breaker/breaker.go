// Package breaker implements a persisted three-state circuit breaker
// gating calls to the external command subsystem.
//
// States:
//   - closed:    normal operation, calls pass through
//   - open:      the subsystem is failing, calls are refused
//   - half_open: probation, limited trial calls test recovery
//
// Failure accounting uses a sliding list of failure timestamps pruned on
// every evaluation, so bursts outside the window never accumulate. The
// open→half_open transition is evaluated lazily when eligibility is
// queried, not by a background timer.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/faultgate/internal/metrics"
	"github.com/loykin/faultgate/internal/store"
)

// Config holds the breaker thresholds.
type Config struct {
	// FailureThreshold is the number of failures within FailureWindow
	// that trips the circuit.
	FailureThreshold int
	// FailureWindow is the sliding window for failure accounting.
	FailureWindow time.Duration
	// OpenDuration is how long the circuit stays open before probing.
	OpenDuration time.Duration
	// RecoveryThreshold is the number of consecutive half-open successes
	// required to close the circuit again.
	RecoveryThreshold int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		FailureWindow:     60 * time.Second,
		OpenDuration:      30 * time.Second,
		RecoveryThreshold: 2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = d.FailureWindow
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = d.OpenDuration
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = d.RecoveryThreshold
	}
	return c
}

// Breaker is the circuit breaker. In-memory state is authoritative; every
// transition is mirrored to the store via partial patches. Persistence
// errors are logged, never propagated: losing durability must not take
// down the gate itself.
type Breaker struct {
	cfg Config
	st  store.Store

	mu                sync.Mutex
	state             store.CircuitState
	failures          []time.Time // sliding window, oldest first
	lastFailureAt     time.Time
	openedAt          time.Time
	recoverySuccesses int

	now func() time.Time // test hook
}

// New constructs a Breaker and rehydrates it from the persisted
// CircuitRecord. A record left open longer than OpenDuration rehydrates
// straight into half_open so a crash never freezes the breaker in a stale
// open state.
func New(cfg Config, st store.Store) (*Breaker, error) {
	b := &Breaker{
		cfg:   cfg.withDefaults(),
		st:    st,
		state: store.CircuitClosed,
		now:   time.Now,
	}
	rec, err := st.LoadCircuit(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load circuit record: %w", err)
	}
	b.state = rec.State
	b.lastFailureAt = rec.LastFailureAt
	b.openedAt = rec.OpenedAt
	b.recoverySuccesses = rec.RecoverySuccesses
	// The timestamp list is not persisted; it restarts empty and refills
	// as failures arrive. FailureCount in the record remains for reporting.
	if rec.State == store.CircuitOpen && !rec.OpenedAt.IsZero() &&
		b.now().Sub(rec.OpenedAt) >= b.cfg.OpenDuration {
		b.transition(store.CircuitHalfOpen)
		b.recoverySuccesses = 0
		b.persist(store.CircuitPatch{State: &b.state, RecoverySuccesses: &b.recoverySuccesses})
		slog.Info("circuit rehydrated past open duration", "state", b.state, "opened_at", rec.OpenedAt)
	}
	metrics.SetCircuitState(string(b.state))
	return b, nil
}

// CanExecute reports whether a protected call may proceed. When refused,
// reason explains why. The open→half_open transition happens here, lazily.
func (b *Breaker) CanExecute() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()

	switch b.state {
	case store.CircuitOpen:
		remaining := b.cfg.OpenDuration - b.now().Sub(b.openedAt)
		if remaining > 0 {
			return false, fmt.Sprintf("circuit open; retry in %s", remaining.Round(time.Millisecond))
		}
		b.transition(store.CircuitHalfOpen)
		b.recoverySuccesses = 0
		b.persist(store.CircuitPatch{State: &b.state, RecoverySuccesses: &b.recoverySuccesses})
		return true, "circuit half-open; probing recovery"
	case store.CircuitHalfOpen:
		return true, "circuit half-open; probing recovery"
	default:
		return true, ""
	}
}

// RecordSuccess notes a successful protected call. Only half_open state
// reacts: enough consecutive successes close the circuit. Successes in
// closed state never reset the failure window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != store.CircuitHalfOpen {
		return
	}
	b.recoverySuccesses++
	if b.recoverySuccesses < b.cfg.RecoveryThreshold {
		b.persist(store.CircuitPatch{RecoverySuccesses: &b.recoverySuccesses})
		return
	}
	b.transition(store.CircuitClosed)
	b.failures = b.failures[:0]
	count := 0
	b.persist(store.CircuitPatch{State: &b.state, FailureCount: &count, RecoverySuccesses: &b.recoverySuccesses})
}

// RecordFailure notes a failed protected call. exempt marks failures from
// optional auxiliary calls: they are logged for statistics by the caller
// but never count toward opening the circuit. A single non-exempt failure
// while half_open reopens immediately.
func (b *Breaker) RecordFailure(exempt bool) {
	if exempt {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailureAt = now
	b.failures = append(b.failures, now)
	b.pruneLocked()
	count := len(b.failures)

	switch b.state {
	case store.CircuitHalfOpen:
		b.transition(store.CircuitOpen)
		b.openedAt = now
		b.recoverySuccesses = 0
		b.persist(store.CircuitPatch{
			State: &b.state, FailureCount: &count, LastFailureAt: &b.lastFailureAt,
			OpenedAt: &b.openedAt, RecoverySuccesses: &b.recoverySuccesses,
		})
	case store.CircuitClosed:
		if count >= b.cfg.FailureThreshold {
			b.transition(store.CircuitOpen)
			b.openedAt = now
			b.persist(store.CircuitPatch{
				State: &b.state, FailureCount: &count, LastFailureAt: &b.lastFailureAt, OpenedAt: &b.openedAt,
			})
			return
		}
		b.persist(store.CircuitPatch{FailureCount: &count, LastFailureAt: &b.lastFailureAt})
	default: // already open
		b.persist(store.CircuitPatch{FailureCount: &count, LastFailureAt: &b.lastFailureAt})
	}
}

// State returns the current state without triggering lazy transitions.
func (b *Breaker) State() store.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the number of failures inside the current window.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	return len(b.failures)
}

// LastFailureAt returns the time of the most recent non-exempt failure,
// zero if none since construction or rehydration.
func (b *Breaker) LastFailureAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailureAt
}

// OpensIn returns how long until an open circuit will admit a trial call,
// and zero in any other state.
func (b *Breaker) OpensIn() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != store.CircuitOpen {
		return 0
	}
	remaining := b.cfg.OpenDuration - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// pruneLocked drops failure timestamps older than the window. Callers
// must hold b.mu.
func (b *Breaker) pruneLocked() {
	cutoff := b.now().Add(-b.cfg.FailureWindow)
	i := 0
	for i < len(b.failures) && !b.failures[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = append(b.failures[:0], b.failures[i:]...)
	}
}

func (b *Breaker) transition(to store.CircuitState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	metrics.RecordCircuitTransition(string(from), string(to))
	metrics.SetCircuitState(string(to))
	slog.Info("circuit state changed", "from", from, "to", to)
}

func (b *Breaker) persist(patch store.CircuitPatch) {
	if err := b.st.SaveCircuit(context.Background(), patch); err != nil {
		slog.Warn("failed to persist circuit state", "state", b.state, "error", err)
	}
}
