// Package health maintains an independent, continuously-updated health
// classification of the external subsystem via periodic cheap probes,
// decoupled from command traffic volume.
//
// The in-memory state is deliberately not persisted: every process start
// begins from an optimistic "healthy" assumption even though the circuit
// breaker's persisted record may immediately say otherwise. That
// asymmetry matches the observed design and is intentional.
package health

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/faultgate/internal/metrics"
	"github.com/loykin/faultgate/internal/store"
)

// Status classifies the subsystem's health.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// ProbeFunc is the cheap probe supplied by the embedding application,
// e.g. querying the protected subsystem's version. It must succeed or
// fail quickly; it is never run on the hot command path.
type ProbeFunc func(ctx context.Context) error

// Config holds the monitor cadence.
type Config struct {
	// Interval is the probe period while healthy.
	Interval time.Duration
	// DegradedInterval is the probe period in any non-healthy state.
	DegradedInterval time.Duration
	// ProbeTimeout bounds a single probe call.
	ProbeTimeout time.Duration
}

// DefaultConfig returns the stock cadence.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		DegradedInterval: 5 * time.Second,
		ProbeTimeout:     5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.DegradedInterval <= 0 {
		c.DegradedInterval = d.DegradedInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}

// consecutiveThreshold is how many consecutive results move the status
// between degraded and its neighbors.
const consecutiveThreshold = 3

// ringSize bounds the probe latency ring used for local diagnostics.
const ringSize = 10

// State is a snapshot of the monitor's in-memory view.
type State struct {
	Status               Status        `json:"status"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	LastCheck            time.Time     `json:"last_check"`
	LastSuccess          time.Time     `json:"last_success"`
	LastFailure          time.Time     `json:"last_failure"`
	LastLatency          time.Duration `json:"last_latency"`
	P95Latency           time.Duration `json:"p95_latency"`
}

// Monitor runs the self-rescheduling probe loop. After each probe the
// loop re-arms its timer with the interval for the status computed by
// that probe, so a status change takes effect on the very next cycle.
type Monitor struct {
	cfg   Config
	st    store.Store
	probe ProbeFunc

	mu          sync.Mutex
	status      Status
	latencies   []time.Duration // ring of the last ringSize probe latencies
	consecSucc  int
	consecFail  int
	lastCheck   time.Time
	lastSuccess time.Time
	lastFailure time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}

	now func() time.Time // test hook
}

// New constructs a Monitor. The probe is injected by the embedding
// application; the store receives one HealthSample per probe.
func New(cfg Config, st store.Store, probe ProbeFunc) *Monitor {
	return &Monitor{
		cfg:    cfg.withDefaults(),
		st:     st,
		probe:  probe,
		status: Healthy,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches the probe loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled. Subsequent calls are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.run(ctx)
	})
}

// Stop terminates the probe loop and waits for it to exit. Safe to call
// multiple times, and safe when Start was never called.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if !m.started.Load() {
		return
	}
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	timer := time.NewTimer(m.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-timer.C:
			m.probeOnce(ctx)
			// Reschedule with the interval for the status the probe
			// just computed.
			timer.Reset(m.interval())
		}
	}
}

func (m *Monitor) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == Healthy {
		return m.cfg.Interval
	}
	return m.cfg.DegradedInterval
}

// probeOnce runs a single probe: measures latency, advances the status
// machine, updates the ring, and appends a HealthSample.
func (m *Monitor) probeOnce(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	start := m.now()
	err := m.probe(pctx)
	cancel()
	latency := m.now().Sub(start)

	m.mu.Lock()
	m.lastCheck = m.now()
	if err == nil {
		m.lastSuccess = m.lastCheck
		m.consecFail = 0
		m.consecSucc++
		switch m.status {
		case Unhealthy:
			m.setStatusLocked(Degraded)
		case Degraded:
			if m.consecSucc >= consecutiveThreshold {
				m.setStatusLocked(Healthy)
			}
		}
	} else {
		m.lastFailure = m.lastCheck
		m.consecSucc = 0
		m.consecFail++
		switch m.status {
		case Healthy:
			m.setStatusLocked(Degraded)
		case Degraded:
			if m.consecFail >= consecutiveThreshold {
				m.setStatusLocked(Unhealthy)
			}
		}
		slog.Debug("health probe failed", "error", err, "consecutive", m.consecFail)
	}
	m.latencies = append(m.latencies, latency)
	if len(m.latencies) > ringSize {
		m.latencies = m.latencies[len(m.latencies)-ringSize:]
	}
	sample := store.HealthSample{
		Status:      string(m.status),
		Latency:     latency,
		PingSuccess: err == nil,
		CheckedAt:   m.lastCheck,
	}
	m.mu.Unlock()

	metrics.ObserveProbe(latency.Seconds(), err == nil)
	if serr := m.st.AppendHealthSample(ctx, sample); serr != nil {
		slog.Warn("failed to persist health sample", "error", serr)
	}
}

func (m *Monitor) setStatusLocked(to Status) {
	if m.status == to {
		return
	}
	from := m.status
	m.status = to
	metrics.SetHealthStatus(string(to))
	slog.Info("health status changed", "from", from, "to", to)
}

// Status returns the current classification.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Snapshot returns the full in-memory health view, including the local
// P95 over the bounded latency ring (zero until the ring has data).
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := State{
		Status:               m.status,
		ConsecutiveSuccesses: m.consecSucc,
		ConsecutiveFailures:  m.consecFail,
		LastCheck:            m.lastCheck,
		LastSuccess:          m.lastSuccess,
		LastFailure:          m.lastFailure,
	}
	if n := len(m.latencies); n > 0 {
		s.LastLatency = m.latencies[n-1]
		ms := make([]int64, n)
		for i, d := range m.latencies {
			ms[i] = d.Milliseconds()
		}
		s.P95Latency = time.Duration(store.Percentile(ms, 0.95)) * time.Millisecond
	}
	return s
}
