package factory

import (
	"fmt"
	"strings"

	"github.com/loykin/faultgate/internal/store"
	mem "github.com/loykin/faultgate/internal/store/memory"
	pg "github.com/loykin/faultgate/internal/store/postgres"
	sq "github.com/loykin/faultgate/internal/store/sqlite"
)

// New selects a store implementation from config.
// Supported types: "sqlite" (default; cfg.Path, ":memory:" when empty),
// "postgres" (cfg.DSN), "memory".
func New(cfg store.Config) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return sq.New(path)
	case "postgres", "postgresql":
		return pg.New(cfg.DSN)
	case "memory":
		return mem.New(), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// NewFromDSN selects a store implementation based on DSN shape.
// Supported:
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - sqlite:   "sqlite://<path>", ":memory:", or a bare filepath
//   - memory:   "memory://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case ld == "" || ld == "memory://":
		return mem.New(), nil
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(strings.TrimPrefix(d, "sqlite://"))
	default:
		// default to sqlite path
		return sq.New(d)
	}
}
