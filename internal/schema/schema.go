// Package schema applies the analytics DDL lazily and exactly once per process.
package schema

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/singleflight"

	"portfolio-analytics/internal/metrics"
	"portfolio-analytics/pkg/logger"
)

// Execer runs a single SQL statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Ensurer is what request handlers depend on
type Ensurer interface {
	Ensure(ctx context.Context) error
}

// ddlTimeout bounds one DDL run; it is detached from the caller that happened to start it
const ddlTimeout = 30 * time.Second

// Statements is the full DDL, in order. Every statement is idempotent and nothing is ever dropped.
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS visitors (
		vid TEXT PRIMARY KEY,
		first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		first_ip TEXT,
		last_ip TEXT,
		first_user_agent TEXT,
		last_user_agent TEXT,
		first_referrer TEXT,
		last_referrer TEXT,
		ipinfo JSONB,
		ipinfo_ip TEXT,
		ipinfo_fetched_at TIMESTAMPTZ,
		ipinfo_error TEXT,
		ipinfo_error_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		sid TEXT PRIMARY KEY,
		vid TEXT NOT NULL REFERENCES visitors(vid) ON DELETE CASCADE,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		ip TEXT,
		user_agent TEXT,
		accept_language TEXT,
		referrer TEXT,
		page TEXT,
		is_mobile BOOLEAN,
		orientation TEXT,
		geo JSONB,
		bot_score INTEGER,
		bot_reasons TEXT,
		is_bot BOOLEAN,
		ipinfo JSONB,
		first_interaction_seconds INTEGER,
		interactions INTEGER,
		active_seconds INTEGER,
		overlays JSONB,
		overlays_unique INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		sid TEXT NOT NULL REFERENCES sessions(sid) ON DELETE CASCADE,
		vid TEXT NOT NULL REFERENCES visitors(vid) ON DELETE CASCADE,
		ts TIMESTAMPTZ NOT NULL,
		type TEXT NOT NULL,
		seq INTEGER,
		data JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS ipinfo_cache (
		ip TEXT PRIMARY KEY,
		data JSONB,
		fetched_at TIMESTAMPTZ,
		error TEXT,
		error_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS ptr_cache (
		ip TEXT PRIMARY KEY,
		ptr TEXT,
		fetched_at TIMESTAMPTZ,
		error TEXT,
		error_at TIMESTAMPTZ
	)`,
	// Columns added after the first deployments
	`ALTER TABLE visitors
		ADD COLUMN IF NOT EXISTS ptr TEXT,
		ADD COLUMN IF NOT EXISTS ptr_ip TEXT,
		ADD COLUMN IF NOT EXISTS ptr_fetched_at TIMESTAMPTZ,
		ADD COLUMN IF NOT EXISTS ptr_error TEXT,
		ADD COLUMN IF NOT EXISTS ptr_error_at TIMESTAMPTZ,
		ADD COLUMN IF NOT EXISTS display_name TEXT`,
	`ALTER TABLE sessions
		ADD COLUMN IF NOT EXISTS ptr TEXT,
		ADD COLUMN IF NOT EXISTS idle_seconds INTEGER,
		ADD COLUMN IF NOT EXISTS session_seconds INTEGER`,
	`CREATE INDEX IF NOT EXISTS idx_events_sid_ts ON events(sid, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_is_bot_started_at ON sessions(is_bot, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_vid_started_at ON sessions(vid, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_visitors_last_seen_at ON visitors(last_seen_at DESC)`,
}

// Manager runs Statements at most once successfully. Concurrent callers share
// one in-flight run; a failed run is reported to all of its waiters and the
// next call starts a fresh attempt.
type Manager struct {
	db     Execer
	logger *logger.Logger
	ready  atomic.Bool
	group  singleflight.Group
}

// NewManager creates a schema manager over db
func NewManager(db Execer, logger *logger.Logger) *Manager {
	return &Manager{db: db, logger: logger}
}

// Ensure applies the schema if it has not been applied by this process yet
func (m *Manager) Ensure(ctx context.Context) error {
	if m.ready.Load() {
		return nil
	}

	ch := m.group.DoChan("schema", func() (interface{}, error) {
		// A previous flight may have finished between the Load above and DoChan.
		if m.ready.Load() {
			return nil, nil
		}

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ddlTimeout)
		defer cancel()

		if err := m.apply(runCtx); err != nil {
			metrics.SchemaEnsureRuns.WithLabelValues("error").Inc()
			return nil, err
		}
		m.ready.Store(true)
		metrics.SchemaEnsureRuns.WithLabelValues("success").Inc()
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the schema has been applied
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

func (m *Manager) apply(ctx context.Context) error {
	start := time.Now()
	for i, stmt := range Statements {
		if _, err := m.db.Exec(ctx, stmt); err != nil {
			m.logger.WithError(err).WithField("statement", i).Error("Schema statement failed")
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	m.logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Schema ensured")
	return nil
}
