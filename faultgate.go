// Package faultgate is a resilience supervisor for calls into an
// unreliable external command-execution subsystem: a persisted circuit
// breaker, a background health monitor, and an adaptive timeout
// calculator behind one contract. The dispatch layer asks for
// eligibility and a deadline before each protected call and reports the
// outcome afterwards; faultgate never issues or cancels the call itself.
package faultgate

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/faultgate/internal/archive"
	chsink "github.com/loykin/faultgate/internal/archive/clickhouse"
	cfg "github.com/loykin/faultgate/internal/config"
	"github.com/loykin/faultgate/internal/failure"
	"github.com/loykin/faultgate/internal/health"
	"github.com/loykin/faultgate/internal/metrics"
	iapi "github.com/loykin/faultgate/internal/server"
	"github.com/loykin/faultgate/internal/store"
	"github.com/loykin/faultgate/internal/store/factory"
	mem "github.com/loykin/faultgate/internal/store/memory"
	"github.com/loykin/faultgate/internal/supervisor"
	"github.com/loykin/faultgate/internal/timeout"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Category = timeout.Category

const (
	CategoryStatus     = timeout.Status
	CategoryQuery      = timeout.Query
	CategoryAction     = timeout.Action
	CategoryHeavy      = timeout.Heavy
	CategoryDiagnostic = timeout.Diagnostic
)

type FailureKind = failure.Kind

const (
	FailureTimeout          = failure.Timeout
	FailureConnectionFailed = failure.ConnectionFailed
	FailureAuthFailed       = failure.AuthFailed
	FailureCircuitOpen      = failure.CircuitOpen
	FailureCommandError     = failure.CommandError
	FailurePermissionDenied = failure.PermissionDenied
	FailureCancelled        = failure.Cancelled
)

type HealthStatus = health.Status

type ProbeFunc = health.ProbeFunc

type Config = cfg.Config

type Store = store.Store

type Decision = supervisor.Decision

type TimeoutDecision = supervisor.TimeoutDecision

type Stats = supervisor.Stats

type ArchiveSink = archive.Sink

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

// New builds a supervisor from config: opens the configured store,
// initializes schema and retention, and rehydrates the circuit breaker.
// It does not fall back to an in-memory store when the durable backend
// cannot be opened; that degradation is the caller's choice, made by
// passing NewMemoryStore() to NewWithStore.
func New(ctx context.Context, c Config, probe ProbeFunc) (*Supervisor, error) {
	st, err := factory.New(c.StoreSettings())
	if err != nil {
		return nil, err
	}
	return NewWithStore(ctx, st, probe, c)
}

// NewWithStore is New with a caller-supplied store, for embedding and
// for degrading to an in-memory store when durability is unavailable.
func NewWithStore(ctx context.Context, st Store, probe ProbeFunc, c Config) (*Supervisor, error) {
	inner, err := supervisor.New(ctx, st, probe, c.SupervisorSettings())
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

// NewMemoryStore returns the ephemeral fallback store.
func NewMemoryStore() Store { return mem.New() }

func (s *Supervisor) Start(ctx context.Context) { s.inner.Start(ctx) }
func (s *Supervisor) Stop()                     { s.inner.Stop() }
func (s *Supervisor) Close() error              { return s.inner.Close() }

func (s *Supervisor) CanExecute() Decision { return s.inner.CanExecute() }
func (s *Supervisor) GetTimeout(category Category, override time.Duration) TimeoutDecision {
	return s.inner.GetTimeout(category, override)
}
func (s *Supervisor) RecordSuccess(name string, category Category, duration time.Duration) {
	s.inner.RecordSuccess(name, category, duration)
}
func (s *Supervisor) RecordFailure(name string, category Category, duration time.Duration, kind FailureKind) {
	s.inner.RecordFailure(name, category, duration, kind)
}
func (s *Supervisor) GetStats() Stats { return s.inner.GetStats() }
func (s *Supervisor) GetDatabaseStats(ctx context.Context, window time.Duration) (store.Stats, error) {
	return s.inner.GetDatabaseStats(ctx, window)
}
func (s *Supervisor) SetArchiveSinks(sinks ...ArchiveSink) { s.inner.SetArchiveSinks(sinks...) }

// LoadConfig reads a TOML config file merged over defaults.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config { return cfg.Default() }

// NewHTTPServer starts an HTTP server exposing the supervisor API.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner)
}

// NewRouter returns an embeddable http.Handler over the supervisor, for
// mounting into an existing gin/echo/net-http server.
func NewRouter(s *Supervisor, basePath string) http.Handler {
	return iapi.NewRouter(s.inner, basePath).Handler()
}

// NewClickHouseSink connects an outcome archive sink to ClickHouse.
func NewClickHouseSink(dsn, table string) (ArchiveSink, error) { return chsink.New(dsn, table) }

// NewOpenSearchSink connects an outcome archive sink to OpenSearch.
func NewOpenSearchSink(baseURL, index string) ArchiveSink {
	return archive.NewOpenSearchSink(baseURL, index)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves Prometheus metrics for the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }
