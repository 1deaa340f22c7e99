package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/faultgate/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file. Use ":memory:" for an
// in-memory database. A single owning process is assumed.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	if strings.HasPrefix(strings.ToLower(p), "sqlite://") {
		p = p[len("sqlite://"):]
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// SQLite works best with a single connection; avoids table locks
	// between the probe loop and call traffic.
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	if err := d.Ping(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version(
			version INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS circuit_state(
			id INTEGER PRIMARY KEY CHECK (id = 1),
			state TEXT NOT NULL,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_failure_at TIMESTAMP NULL,
			opened_at TIMESTAMP NULL,
			recovery_successes INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS command_history(
			tool_name TEXT NOT NULL,
			category TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			success BOOLEAN NOT NULL,
			error_type TEXT NULL,
			executed_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_command_history_cat ON command_history(category, executed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_command_history_at ON command_history(executed_at);`,
		`CREATE TABLE IF NOT EXISTS health_checks(
			status TEXT NOT NULL,
			latency_ms INTEGER NULL,
			ping_success BOOLEAN NOT NULL,
			checked_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_health_checks_at ON health_checks(checked_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	if err := s.checkVersion(ctx); err != nil {
		return err
	}
	// Singleton circuit record: closed on first ever run.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circuit_state(id, state, failure_count, recovery_successes, updated_at)
		SELECT 1, ?, 0, 0, ?
		WHERE NOT EXISTS (SELECT 1 FROM circuit_state WHERE id = 1);`,
		string(store.CircuitClosed), time.Now().UTC())
	return err
}

func (s *DB) checkVersion(ctx context.Context) error {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1;`).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES(?);`, store.SchemaVersion)
		return err
	case err != nil:
		return err
	case v != store.SchemaVersion:
		return fmt.Errorf("unsupported schema version %d (want %d)", v, store.SchemaVersion)
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) LoadCircuit(ctx context.Context) (store.CircuitRecord, error) {
	var (
		rec         store.CircuitRecord
		state       string
		lastFailure sql.NullTime
		openedAt    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT state, failure_count, last_failure_at, opened_at, recovery_successes, updated_at
		FROM circuit_state WHERE id = 1;`).Scan(
		&state, &rec.FailureCount, &lastFailure, &openedAt, &rec.RecoverySuccesses, &rec.UpdatedAt)
	if err != nil {
		return store.CircuitRecord{}, err
	}
	rec.State = store.CircuitState(state)
	if lastFailure.Valid {
		rec.LastFailureAt = lastFailure.Time
	}
	if openedAt.Valid {
		rec.OpenedAt = openedAt.Time
	}
	return rec, nil
}

func (s *DB) SaveCircuit(ctx context.Context, patch store.CircuitPatch) error {
	rec, err := s.LoadCircuit(ctx)
	if err != nil {
		return err
	}
	rec = patch.Merge(rec, time.Now())
	var lastFailure, openedAt any
	if !rec.LastFailureAt.IsZero() {
		lastFailure = rec.LastFailureAt.UTC()
	}
	if !rec.OpenedAt.IsZero() {
		openedAt = rec.OpenedAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE circuit_state
		SET state=?, failure_count=?, last_failure_at=?, opened_at=?, recovery_successes=?, updated_at=?
		WHERE id=1;`,
		string(rec.State), rec.FailureCount, lastFailure, openedAt, rec.RecoverySuccesses, rec.UpdatedAt)
	return err
}

func (s *DB) AppendOutcome(ctx context.Context, o store.Outcome) error {
	var errType any
	if o.ErrorType != "" {
		errType = o.ErrorType
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_history(tool_name, category, duration_ms, success, error_type, executed_at)
		VALUES(?, ?, ?, ?, ?, ?);`,
		o.ToolName, o.Category, o.Duration.Milliseconds(), o.Success, errType, o.ExecutedAt.UTC())
	return err
}

func (s *DB) AppendHealthSample(ctx context.Context, h store.HealthSample) error {
	var latency any
	if h.Latency > 0 {
		latency = h.Latency.Milliseconds()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_checks(status, latency_ms, ping_success, checked_at)
		VALUES(?, ?, ?, ?);`,
		h.Status, latency, h.PingSuccess, h.CheckedAt.UTC())
	return err
}

func (s *DB) QueryP95(ctx context.Context, category string) (time.Duration, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT duration_ms FROM command_history
		WHERE category=? AND success=1
		ORDER BY executed_at DESC
		LIMIT ?;`, category, store.P95Window)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = rows.Close() }()
	durations := make([]int64, 0, store.P95Window)
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return 0, false, err
		}
		durations = append(durations, ms)
	}
	if err := rows.Err(); err != nil {
		return 0, false, err
	}
	if len(durations) < store.P95MinSamples {
		return 0, false, nil
	}
	ms := store.Percentile(durations, 0.95)
	return time.Duration(ms) * time.Millisecond, true, nil
}

func (s *DB) RecentSuccessRate(ctx context.Context, window time.Duration) (float64, error) {
	since := time.Now().Add(-window).UTC()
	var total, succ int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0)
		FROM command_history WHERE executed_at >= ?;`, since).Scan(&total, &succ)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 1.0, nil
	}
	return float64(succ) / float64(total), nil
}

func (s *DB) Stats(ctx context.Context, window time.Duration, healthLimit int) (store.Stats, error) {
	out := store.Stats{Window: window}
	since := time.Now().Add(-window).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(duration_ms), 0)
		FROM command_history
		WHERE executed_at >= ?
		GROUP BY category
		ORDER BY category;`, since)
	if err != nil {
		return store.Stats{}, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cs store.CategoryStats
		var meanMS float64
		if err := rows.Scan(&cs.Category, &cs.Total, &cs.Successes, &meanMS); err != nil {
			return store.Stats{}, err
		}
		if cs.Total > 0 {
			cs.SuccessRatio = float64(cs.Successes) / float64(cs.Total)
		}
		cs.MeanDuration = time.Duration(meanMS * float64(time.Millisecond))
		out.Categories = append(out.Categories, cs)
	}
	if err := rows.Err(); err != nil {
		return store.Stats{}, err
	}

	if healthLimit <= 0 {
		healthLimit = 20
	}
	hrows, err := s.db.QueryContext(ctx, `
		SELECT status, latency_ms, ping_success, checked_at
		FROM health_checks
		ORDER BY checked_at DESC
		LIMIT ?;`, healthLimit)
	if err != nil {
		return store.Stats{}, err
	}
	defer func() { _ = hrows.Close() }()
	for hrows.Next() {
		var hs store.HealthSample
		var latency sql.NullInt64
		if err := hrows.Scan(&hs.Status, &latency, &hs.PingSuccess, &hs.CheckedAt); err != nil {
			return store.Stats{}, err
		}
		if latency.Valid {
			hs.Latency = time.Duration(latency.Int64) * time.Millisecond
		}
		out.RecentHealth = append(out.RecentHealth, hs)
	}
	return out, hrows.Err()
}

func (s *DB) Sweep(ctx context.Context) (int64, int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM command_history WHERE executed_at < ?;`, now.Add(-store.OutcomeRetention))
	if err != nil {
		return 0, 0, err
	}
	outcomes, _ := res.RowsAffected()
	res, err = s.db.ExecContext(ctx,
		`DELETE FROM health_checks WHERE checked_at < ?;`, now.Add(-store.HealthRetention))
	if err != nil {
		return outcomes, 0, err
	}
	health, _ := res.RowsAffected()
	return outcomes, health, nil
}
