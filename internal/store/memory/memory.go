package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loykin/faultgate/internal/store"
)

// DB implements store.Store entirely in process memory. It backs tests and
// the degraded mode the supervisor falls into when the durable backend
// cannot be opened: losing durability is acceptable, losing availability
// is not. Nothing survives a restart.
type DB struct {
	mu      sync.Mutex
	circuit store.CircuitRecord
	seeded  bool
	history []store.Outcome
	health  []store.HealthSample
}

func New() *DB { return &DB{} }

func (s *DB) EnsureSchema(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seeded {
		s.circuit = store.CircuitRecord{State: store.CircuitClosed, UpdatedAt: time.Now().UTC()}
		s.seeded = true
	}
	return nil
}

func (s *DB) Close() error { return nil }

func (s *DB) LoadCircuit(_ context.Context) (store.CircuitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.circuit, nil
}

func (s *DB) SaveCircuit(_ context.Context, patch store.CircuitPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circuit = patch.Merge(s.circuit, time.Now())
	return nil
}

func (s *DB) AppendOutcome(_ context.Context, o store.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ExecutedAt = o.ExecutedAt.UTC()
	s.history = append(s.history, o)
	return nil
}

func (s *DB) AppendHealthSample(_ context.Context, h store.HealthSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.CheckedAt = h.CheckedAt.UTC()
	s.health = append(s.health, h)
	return nil
}

func (s *DB) QueryP95(_ context.Context, category string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	durations := make([]int64, 0, store.P95Window)
	// Most recent first, like the SQL backends.
	for i := len(s.history) - 1; i >= 0 && len(durations) < store.P95Window; i-- {
		o := s.history[i]
		if o.Category == category && o.Success {
			durations = append(durations, o.Duration.Milliseconds())
		}
	}
	if len(durations) < store.P95MinSamples {
		return 0, false, nil
	}
	ms := store.Percentile(durations, 0.95)
	return time.Duration(ms) * time.Millisecond, true, nil
}

func (s *DB) RecentSuccessRate(_ context.Context, window time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	since := time.Now().Add(-window).UTC()
	var total, succ int
	for _, o := range s.history {
		if o.ExecutedAt.Before(since) {
			continue
		}
		total++
		if o.Success {
			succ++
		}
	}
	if total == 0 {
		return 1.0, nil
	}
	return float64(succ) / float64(total), nil
}

func (s *DB) Stats(_ context.Context, window time.Duration, healthLimit int) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := store.Stats{Window: window}
	since := time.Now().Add(-window).UTC()

	type agg struct {
		total, succ int
		sumMS       int64
	}
	byCat := make(map[string]*agg)
	for _, o := range s.history {
		if o.ExecutedAt.Before(since) {
			continue
		}
		a := byCat[o.Category]
		if a == nil {
			a = &agg{}
			byCat[o.Category] = a
		}
		a.total++
		if o.Success {
			a.succ++
		}
		a.sumMS += o.Duration.Milliseconds()
	}
	cats := make([]string, 0, len(byCat))
	for c := range byCat {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		a := byCat[c]
		cs := store.CategoryStats{Category: c, Total: a.total, Successes: a.succ}
		cs.SuccessRatio = float64(a.succ) / float64(a.total)
		cs.MeanDuration = time.Duration(a.sumMS/int64(a.total)) * time.Millisecond
		out.Categories = append(out.Categories, cs)
	}

	if healthLimit <= 0 {
		healthLimit = 20
	}
	for i := len(s.health) - 1; i >= 0 && len(out.RecentHealth) < healthLimit; i-- {
		out.RecentHealth = append(out.RecentHealth, s.health[i])
	}
	return out, nil
}

func (s *DB) Sweep(_ context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()

	var outcomes int64
	kept := s.history[:0]
	for _, o := range s.history {
		if now.Sub(o.ExecutedAt) > store.OutcomeRetention {
			outcomes++
			continue
		}
		kept = append(kept, o)
	}
	s.history = kept

	var health int64
	keptH := s.health[:0]
	for _, h := range s.health {
		if now.Sub(h.CheckedAt) > store.HealthRetention {
			health++
			continue
		}
		keptH = append(keptH, h)
	}
	s.health = keptH
	return outcomes, health, nil
}
