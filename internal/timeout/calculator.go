// Package timeout derives effective per-call timeouts from static
// category baselines, learned latency percentiles, and current health.
// The supervisor only computes the value; enforcing it is the caller's
// job (racing the protected call against the deadline).
package timeout

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/faultgate/internal/health"
	"github.com/loykin/faultgate/internal/store"
)

// Category classifies operations by expected duration and risk. It
// selects the baseline timeout and isolates latency statistics.
type Category string

const (
	// Status covers fast liveness and state queries.
	Status Category = "status"
	// Query covers log and data retrieval of moderate size.
	Query Category = "query"
	// Action covers state-changing service-management commands.
	Action Category = "action"
	// Heavy covers long-running bulk operations.
	Heavy Category = "heavy"
	// Diagnostic covers assisted troubleshooting flows; slow and
	// non-critical.
	Diagnostic Category = "diagnostic"
)

// Baselines are the static per-category floors. Adaptation only ever
// extends the allowance, never shrinks below these.
var Baselines = map[Category]time.Duration{
	Status:     5 * time.Second,
	Query:      10 * time.Second,
	Action:     30 * time.Second,
	Heavy:      60 * time.Second,
	Diagnostic: 90 * time.Second,
}

// LearnedFactor is the margin applied to the learned P95 before it can
// replace a baseline.
const LearnedFactor = 1.5

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := Baselines[c]
	return ok
}

// Categories returns all known categories in a stable order.
func Categories() []Category {
	return []Category{Status, Query, Action, Heavy, Diagnostic}
}

// Config controls the calculator.
type Config struct {
	// Adaptive enables P95-based extension of baselines.
	Adaptive bool
	// Baselines overrides the static defaults per category; categories
	// absent from the map keep their stock baseline.
	Baselines map[Category]time.Duration
}

// healthMultipliers shrink the allowance while the subsystem is
// suspect: fail fast while investigating. Unhealthy should rarely be hit
// for real calls since the breaker is expected to be blocking them.
var healthMultipliers = map[health.Status]float64{
	health.Healthy:   1.0,
	health.Degraded:  0.5,
	health.Unhealthy: 0.25,
}

// Calculator computes effective timeouts. The store supplies learned
// percentiles; health supplies the final multiplier.
type Calculator struct {
	cfg Config
	st  store.Store
}

// New constructs a Calculator over the given store.
func New(cfg Config, st store.Store) *Calculator {
	return &Calculator{cfg: cfg, st: st}
}

// Baseline returns the configured floor for category, falling back to
// the stock default for unknown overrides.
func (c *Calculator) Baseline(category Category) time.Duration {
	if c.cfg.Baselines != nil {
		if d, ok := c.cfg.Baselines[category]; ok && d > 0 {
			return d
		}
	}
	return Baselines[category]
}

// Compute applies the policy in order and returns the effective timeout
// plus the ordered list of rules that fired:
//
//  1. An override wins unconditionally; caller knowledge beats learning.
//  2. Start from the category's static baseline.
//  3. With adaptation enabled and enough samples, take
//     max(baseline, p95*LearnedFactor); the baseline is a floor, never
//     shrunk by learning.
//  4. Apply the health multiplier.
func (c *Calculator) Compute(ctx context.Context, category Category, status health.Status, override time.Duration) (time.Duration, []string) {
	if override > 0 {
		return override, []string{fmt.Sprintf("override=%s", override)}
	}

	base := c.Baseline(category)
	rules := []string{fmt.Sprintf("baseline[%s]=%s", category, base)}

	effective := base
	if c.cfg.Adaptive {
		p95, ok, err := c.st.QueryP95(ctx, string(category))
		switch {
		case err != nil:
			rules = append(rules, fmt.Sprintf("adaptive skipped (store error: %v)", err))
		case !ok:
			rules = append(rules, "adaptive skipped (insufficient samples)")
		default:
			learned := time.Duration(float64(p95) * LearnedFactor)
			if learned > effective {
				effective = learned
				rules = append(rules, fmt.Sprintf("learned p95=%s*%.1f=%s", p95, LearnedFactor, learned))
			} else {
				rules = append(rules, fmt.Sprintf("learned p95=%s below baseline; floor kept", p95))
			}
		}
	}

	if mult, ok := healthMultipliers[status]; ok && mult != 1.0 {
		effective = time.Duration(float64(effective) * mult)
		rules = append(rules, fmt.Sprintf("health=%s*%.2f", status, mult))
	}
	return effective, rules
}
