package repository

import (
	"context"
	"fmt"
	"strings"

	"portfolio-analytics/internal/domain"
	"portfolio-analytics/pkg/database"

	"github.com/goccy/go-json"
)

// enrichmentColumns names where one enrichment kind lands on the session and visitor rows
type enrichmentColumns struct {
	column string // sessions.<column>, visitors.<column>, visitors.<column>_ip, ...
	cast   string // parameter cast for the value
}

var enrichmentTargets = map[domain.EnrichmentKind]enrichmentColumns{
	domain.EnrichmentIPInfo: {column: "ipinfo", cast: "::jsonb"},
	domain.EnrichmentPTR:    {column: "ptr"},
}

// ingestRepository writes ingestion data with PostgreSQL
type ingestRepository struct {
	db database.DB
}

// NewIngestRepository creates a new ingest repository
func NewIngestRepository(db database.DB) IngestRepository {
	return &ingestRepository{
		db: db,
	}
}

// UpsertVisitor creates the visitor or refreshes its last_* fields
func (r *ingestRepository) UpsertVisitor(ctx context.Context, in *domain.Collect) error {
	query := `
		INSERT INTO visitors (vid, first_ip, last_ip, first_user_agent, last_user_agent, first_referrer, last_referrer)
		VALUES ($1, $2, $2, $3, $3, $4, $4)
		ON CONFLICT (vid) DO UPDATE SET
			last_seen_at = GREATEST(visitors.last_seen_at, NOW()),
			first_ip = COALESCE(visitors.first_ip, EXCLUDED.first_ip),
			first_user_agent = COALESCE(visitors.first_user_agent, EXCLUDED.first_user_agent),
			first_referrer = COALESCE(visitors.first_referrer, EXCLUDED.first_referrer),
			last_ip = COALESCE(EXCLUDED.last_ip, visitors.last_ip),
			last_user_agent = COALESCE(EXCLUDED.last_user_agent, visitors.last_user_agent),
			last_referrer = COALESCE(EXCLUDED.last_referrer, visitors.last_referrer)
	`

	if _, err := r.db.Exec(ctx, query, in.VID, in.IP, in.UserAgent, in.Referrer); err != nil {
		return fmt.Errorf("failed to upsert visitor: %w", err)
	}
	return nil
}

// UpsertSession merges the call into the session row and returns the stored is_bot flag.
// started_at is only written on insert; bot_score keeps its maximum and is_bot never reverts.
func (r *ingestRepository) UpsertSession(ctx context.Context, in *domain.Collect) (bool, error) {
	query := `
		INSERT INTO sessions (
			sid, vid, started_at, ip, user_agent, accept_language, referrer, page, is_mobile, orientation,
			geo, bot_score, bot_reasons, is_bot
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13, $14)
		ON CONFLICT (sid) DO UPDATE SET
			updated_at = NOW(),
			ip = COALESCE(EXCLUDED.ip, sessions.ip),
			user_agent = COALESCE(EXCLUDED.user_agent, sessions.user_agent),
			accept_language = COALESCE(EXCLUDED.accept_language, sessions.accept_language),
			referrer = COALESCE(EXCLUDED.referrer, sessions.referrer),
			page = COALESCE(EXCLUDED.page, sessions.page),
			is_mobile = COALESCE(EXCLUDED.is_mobile, sessions.is_mobile),
			orientation = COALESCE(EXCLUDED.orientation, sessions.orientation),
			geo = COALESCE(EXCLUDED.geo, sessions.geo),
			bot_reasons = CASE
				WHEN EXCLUDED.bot_score >= COALESCE(sessions.bot_score, 0)
					THEN COALESCE(NULLIF(EXCLUDED.bot_reasons, ''), sessions.bot_reasons)
				ELSE sessions.bot_reasons
			END,
			bot_score = GREATEST(COALESCE(sessions.bot_score, 0), EXCLUDED.bot_score),
			is_bot = COALESCE(sessions.is_bot, false) OR EXCLUDED.is_bot
		RETURNING COALESCE(is_bot, false)
	`

	var geo *string
	if in.Geo != nil && !in.Geo.IsEmpty() {
		raw, err := json.Marshal(in.Geo)
		if err != nil {
			return false, fmt.Errorf("failed to encode session geo: %w", err)
		}
		s := string(raw)
		geo = &s
	}

	var isBot bool
	err := r.db.QueryRow(ctx, query,
		in.SID,
		in.VID,
		in.StartedAt,
		in.IP,
		in.UserAgent,
		in.AcceptLanguage,
		in.Referrer,
		in.Page,
		in.IsMobile,
		in.Orientation,
		geo,
		in.Bot.Score,
		nullIfEmpty(in.Bot.ReasonText()),
		in.Bot.IsBot,
	).Scan(&isBot)
	if err != nil {
		return false, fmt.Errorf("failed to upsert session: %w", err)
	}

	return isBot, nil
}

// InsertEvents appends the batch as one multi-row insert
func (r *ingestRepository) InsertEvents(ctx context.Context, sid, vid string, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 6
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)
	for i, e := range events {
		n := i * cols
		placeholders = append(placeholders,
			fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d::jsonb)", n+1, n+2, n+3, n+4, n+5, n+6))

		data := "null"
		if len(e.Data) > 0 {
			data = string(e.Data)
		}
		args = append(args, sid, vid, e.TS, e.Type, e.Seq, data)
	}

	query := `INSERT INTO events (sid, vid, ts, type, seq, data) VALUES ` + strings.Join(placeholders, ", ")

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert %d events: %w", len(events), err)
	}
	return nil
}

// ApplySummary writes the terminal session summary and stamps ended_at.
// Unlike the upsert, these fields are overwritten as sent.
func (r *ingestRepository) ApplySummary(ctx context.Context, sid string, s *domain.Summary) error {
	query := `
		UPDATE sessions SET
			ended_at = NOW(),
			updated_at = NOW(),
			first_interaction_seconds = $2,
			interactions = $3,
			active_seconds = $4,
			idle_seconds = $5,
			session_seconds = $6,
			overlays = $7::jsonb,
			overlays_unique = $8
		WHERE sid = $1
	`

	var overlays *string
	if len(s.Overlays) > 0 {
		raw := string(s.Overlays)
		overlays = &raw
	}

	_, err := r.db.Exec(ctx, query,
		sid,
		s.FirstInteractionSeconds,
		s.Interactions,
		s.ActiveSeconds,
		s.IdleSeconds,
		s.SessionSeconds,
		overlays,
		s.OverlaysUnique,
	)
	if err != nil {
		return fmt.Errorf("failed to apply session summary: %w", err)
	}
	return nil
}

// ApplyEnrichment copies a resolved lookup onto the session and visitor rows.
// A value always replaces the session copy but is only adopted by the visitor
// when it has none; an error is only recorded while the visitor has no value.
func (r *ingestRepository) ApplyEnrichment(ctx context.Context, kind domain.EnrichmentKind, sid, vid, ip string, result domain.EnrichmentResult) error {
	target, ok := enrichmentTargets[kind]
	if !ok {
		return fmt.Errorf("unknown enrichment kind %q", kind)
	}
	col := target.column

	if result.OK() {
		sessionQuery := fmt.Sprintf(`UPDATE sessions SET %[1]s = $2%[2]s WHERE sid = $1`, col, target.cast)
		if _, err := r.db.Exec(ctx, sessionQuery, sid, result.Value); err != nil {
			return fmt.Errorf("failed to store session %s: %w", kind, err)
		}

		visitorQuery := fmt.Sprintf(`
			UPDATE visitors SET
				%[1]s = COALESCE(visitors.%[1]s, $2%[2]s),
				%[1]s_ip = COALESCE(visitors.%[1]s_ip, $1),
				%[1]s_fetched_at = COALESCE(visitors.%[1]s_fetched_at, NOW()),
				%[1]s_error = NULL,
				%[1]s_error_at = NULL
			WHERE vid = $3
		`, col, target.cast)
		if _, err := r.db.Exec(ctx, visitorQuery, ip, result.Value, vid); err != nil {
			return fmt.Errorf("failed to store visitor %s: %w", kind, err)
		}
		return nil
	}

	if result.Err == "" {
		return nil
	}

	errorQuery := fmt.Sprintf(`
		UPDATE visitors SET
			%[1]s_error = $1,
			%[1]s_error_at = NOW()
		WHERE vid = $2 AND %[1]s IS NULL
	`, col)
	if _, err := r.db.Exec(ctx, errorQuery, result.Err, vid); err != nil {
		return fmt.Errorf("failed to store visitor %s error: %w", kind, err)
	}
	return nil
}

// nullIfEmpty maps "" to SQL NULL
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
