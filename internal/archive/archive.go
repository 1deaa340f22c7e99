// Package archive exports execution outcomes to external analytics
// systems for retention beyond the store's 7-day sweep. Sinks sit off the
// hot path: the supervisor forwards outcomes after recording them, and a
// sink failure is logged, never surfaced to the caller.
package archive

import (
	"context"
	"time"

	"github.com/loykin/faultgate/internal/store"
)

// Event is one exported outcome.
type Event struct {
	OccurredAt time.Time     `json:"occurred_at"`
	Outcome    store.Outcome `json:"outcome"`
}

// Sink is a destination for outcome events (analytics/statistics
// systems). Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
