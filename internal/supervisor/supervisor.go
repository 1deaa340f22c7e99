// Package supervisor composes the circuit breaker, health monitor, and
// adaptive timeout calculator behind the single contract the command
// dispatch layer consumes: may I proceed, how long may I take, record
// what happened, report current state.
//
// The supervisor never cancels or enforces a deadline on a protected
// call. It answers eligibility and computes the deadline; the caller
// races the call against it and reports the loser as a timeout failure.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/faultgate/internal/archive"
	"github.com/loykin/faultgate/internal/breaker"
	"github.com/loykin/faultgate/internal/failure"
	"github.com/loykin/faultgate/internal/health"
	"github.com/loykin/faultgate/internal/metrics"
	"github.com/loykin/faultgate/internal/store"
	"github.com/loykin/faultgate/internal/timeout"
)

// Config aggregates the component configs.
type Config struct {
	Breaker breaker.Config
	Health  health.Config
	Timeout timeout.Config
	// ExemptCategories lists categories whose failures stem from
	// optional auxiliary calls: logged for statistics, never counted
	// toward opening the circuit.
	ExemptCategories []timeout.Category
}

// Decision answers a CanExecute query.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// TimeoutDecision answers a GetTimeout query. Reason lists the rules
// that fired, in order, for observability.
type TimeoutDecision struct {
	Timeout time.Duration `json:"timeout"`
	Reason  string        `json:"reason"`
}

// Stats is the supervisor's condensed state report.
type Stats struct {
	Status         health.Status      `json:"status"`
	CircuitState   store.CircuitState `json:"circuit_state"`
	OpensIn        time.Duration      `json:"opens_in"`
	Latency        time.Duration      `json:"latency"`
	P95Latency     time.Duration      `json:"p95_latency"`
	RecentFailures int                `json:"recent_failures"`
	LastSuccess    time.Time          `json:"last_success"`
	LastFailure    time.Time          `json:"last_failure"`
}

// Supervisor owns one breaker, one monitor, one calculator, and the
// shared store. One instance per process.
type Supervisor struct {
	st   store.Store
	br   *breaker.Breaker
	mon  *health.Monitor
	calc *timeout.Calculator

	mu     sync.RWMutex
	sinks  []archive.Sink
	exempt map[timeout.Category]bool

	lastSuccess time.Time
}

// New initializes the store (schema, singleton circuit record, retention
// sweep) and constructs the component graph. A sweep failure is logged
// and skipped; only an unusable store is fatal to construction. Callers
// wanting the degrade-to-memory behavior pass a memory store instead.
func New(ctx context.Context, st store.Store, probe health.ProbeFunc, cfg Config) (*Supervisor, error) {
	if err := st.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if outcomes, healthRows, err := st.Sweep(ctx); err != nil {
		slog.Warn("retention sweep failed; continuing", "error", err)
	} else if outcomes > 0 || healthRows > 0 {
		slog.Info("retention sweep", "outcomes_deleted", outcomes, "health_deleted", healthRows)
	}

	br, err := breaker.New(cfg.Breaker, st)
	if err != nil {
		return nil, err
	}
	exempt := make(map[timeout.Category]bool, len(cfg.ExemptCategories))
	for _, c := range cfg.ExemptCategories {
		exempt[c] = true
	}
	return &Supervisor{
		st:     st,
		br:     br,
		mon:    health.New(cfg.Health, st, probe),
		calc:   timeout.New(cfg.Timeout, st),
		exempt: exempt,
	}, nil
}

// Start launches the background health monitor.
func (s *Supervisor) Start(ctx context.Context) { s.mon.Start(ctx) }

// Stop terminates the health monitor and waits for it to exit.
func (s *Supervisor) Stop() { s.mon.Stop() }

// Close stops the monitor, closes archive sinks, and closes the store.
func (s *Supervisor) Close() error {
	s.Stop()
	s.mu.Lock()
	sinks := s.sinks
	s.sinks = nil
	s.mu.Unlock()
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			slog.Warn("failed to close archive sink", "error", err)
		}
	}
	return s.st.Close()
}

// SetArchiveSinks configures external outcome sinks (ClickHouse,
// OpenSearch, etc.). Passing no sinks clears the list.
func (s *Supervisor) SetArchiveSinks(sinks ...archive.Sink) {
	s.mu.Lock()
	s.sinks = append([]archive.Sink(nil), sinks...)
	s.mu.Unlock()
}

// CanExecute reports whether a protected call may proceed. A refusal must
// short-circuit the dispatch layer before any external call is attempted.
func (s *Supervisor) CanExecute() Decision {
	allowed, reason := s.br.CanExecute()
	return Decision{Allowed: allowed, Reason: reason}
}

// GetTimeout computes the deadline the caller should race the protected
// call against. An override > 0 wins unconditionally.
func (s *Supervisor) GetTimeout(category timeout.Category, override time.Duration) TimeoutDecision {
	d, rules := s.calc.Compute(context.Background(), category, s.mon.Status(), override)
	metrics.ObserveTimeout(string(category), d.Seconds())
	return TimeoutDecision{Timeout: d, Reason: strings.Join(rules, "; ")}
}

// RecordSuccess reports a completed protected call. Applied to in-memory
// state synchronously, then persisted; ordering follows true completion
// order because there is no buffering.
func (s *Supervisor) RecordSuccess(name string, category timeout.Category, duration time.Duration) {
	s.br.RecordSuccess()
	s.mu.Lock()
	s.lastSuccess = time.Now()
	s.mu.Unlock()
	metrics.IncOutcome(string(category), true)
	s.append(store.Outcome{
		ToolName:   name,
		Category:   string(category),
		Duration:   duration,
		Success:    true,
		ExecutedAt: time.Now(),
	})
}

// RecordFailure reports a failed or aborted protected call. Timeout kinds
// originate from the caller's own deadline race. Failures in exempt
// categories, and circuit_open refusals (which never reached the
// subsystem), are kept out of circuit accounting but still logged.
func (s *Supervisor) RecordFailure(name string, category timeout.Category, duration time.Duration, kind failure.Kind) {
	exempt := s.exempt[category] || kind == failure.CircuitOpen
	s.br.RecordFailure(exempt)
	metrics.IncOutcome(string(category), false)
	s.append(store.Outcome{
		ToolName:   name,
		Category:   string(category),
		Duration:   duration,
		Success:    false,
		ErrorType:  string(kind),
		ExecutedAt: time.Now(),
	})
}

func (s *Supervisor) append(o store.Outcome) {
	ctx := context.Background()
	if err := s.st.AppendOutcome(ctx, o); err != nil {
		slog.Warn("failed to persist outcome", "tool", o.ToolName, "error", err)
	}
	s.mu.RLock()
	sinks := s.sinks
	s.mu.RUnlock()
	for _, sink := range sinks {
		if err := sink.Send(ctx, archive.Event{OccurredAt: o.ExecutedAt, Outcome: o}); err != nil {
			slog.Warn("archive sink send failed", "tool", o.ToolName, "error", err)
		}
	}
}

// GetStats returns the condensed state report.
func (s *Supervisor) GetStats() Stats {
	hs := s.mon.Snapshot()
	s.mu.RLock()
	lastSuccess := s.lastSuccess
	s.mu.RUnlock()
	return Stats{
		Status:         hs.Status,
		CircuitState:   s.br.State(),
		OpensIn:        s.br.OpensIn(),
		Latency:        hs.LastLatency,
		P95Latency:     hs.P95Latency,
		RecentFailures: s.br.FailureCount(),
		LastSuccess:    lastSuccess,
		LastFailure:    s.br.LastFailureAt(),
	}
}

// GetDatabaseStats aggregates per-category outcome statistics within the
// window plus the recent health-sample trend, straight from the store.
func (s *Supervisor) GetDatabaseStats(ctx context.Context, window time.Duration) (store.Stats, error) {
	return s.st.Stats(ctx, window, 20)
}

// Health returns the monitor's in-memory snapshot.
func (s *Supervisor) Health() health.State { return s.mon.Snapshot() }
