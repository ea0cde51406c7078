package repository

import (
	"context"
	"errors"
	"fmt"

	"portfolio-analytics/internal/domain"
	"portfolio-analytics/pkg/database"

	"github.com/jackc/pgx/v5"
)

// sessionColumns is the select list shared by every session query; keep it in sync with scanSession
const sessionColumns = `
	s.sid, s.vid, v.display_name, s.started_at, s.ended_at, s.ip, s.ptr,
	s.user_agent, s.accept_language, s.referrer, s.page, s.is_mobile, s.orientation,
	s.geo, s.bot_score, s.bot_reasons, s.is_bot, s.ipinfo,
	s.active_seconds, s.idle_seconds, s.session_seconds, s.interactions,
	s.first_interaction_seconds, s.overlays, s.overlays_unique
`

const visitorColumns = `
	vid, display_name, first_seen_at, last_seen_at, first_ip, last_ip,
	first_user_agent, last_user_agent, first_referrer, last_referrer,
	ipinfo, ipinfo_ip, ipinfo_fetched_at, ipinfo_error, ipinfo_error_at,
	ptr, ptr_ip, ptr_fetched_at, ptr_error, ptr_error_at
`

// botWindow restricts a sessions query to bot sessions started within the last $1 days
const botWindow = `
	s.started_at >= NOW() - ($1::int * INTERVAL '1 day')
	AND COALESCE(s.is_bot, false) = true
`

// adminRepository implements AdminRepository using PostgreSQL
type adminRepository struct {
	db database.DB
}

// NewAdminRepository creates a new admin repository
func NewAdminRepository(db database.DB) AdminRepository {
	return &adminRepository{
		db: db,
	}
}

func (r *adminRepository) ListSessions(ctx context.Context, bots bool, limit int) ([]domain.SessionRow, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		JOIN visitors v ON v.vid = s.vid
		WHERE COALESCE(s.is_bot, false) = $1
		ORDER BY s.started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, bots, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return collectSessions(rows)
}

func (r *adminRepository) GetSession(ctx context.Context, sid string) (*domain.SessionRow, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		JOIN visitors v ON v.vid = s.vid
		WHERE s.sid = $1
	`

	row, err := scanSession(r.db.QueryRow(ctx, query, sid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return row, nil
}

func (r *adminRepository) ListEvents(ctx context.Context, sid string, limit int) ([]domain.EventRecord, error) {
	query := `
		SELECT id, ts, type, seq, data
		FROM events
		WHERE sid = $1
		ORDER BY ts ASC, id ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, sid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []domain.EventRecord{}
	for rows.Next() {
		var (
			e    domain.EventRecord
			data []byte
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Seq, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Data = domain.RawJSON(data)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

func (r *adminRepository) ListVisitors(ctx context.Context, limit int) ([]domain.Visitor, error) {
	query := `
		SELECT ` + visitorColumns + `
		FROM visitors
		ORDER BY last_seen_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list visitors: %w", err)
	}
	defer rows.Close()

	visitors := []domain.Visitor{}
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visitor: %w", err)
		}
		visitors = append(visitors, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read visitors: %w", err)
	}
	return visitors, nil
}

func (r *adminRepository) GetVisitor(ctx context.Context, vid string) (*domain.Visitor, error) {
	query := `
		SELECT ` + visitorColumns + `
		FROM visitors
		WHERE vid = $1
	`

	v, err := scanVisitor(r.db.QueryRow(ctx, query, vid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get visitor: %w", err)
	}
	return v, nil
}

func (r *adminRepository) ListVisitorSessions(ctx context.Context, vid string, limit int) ([]domain.SessionRow, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		JOIN visitors v ON v.vid = s.vid
		WHERE s.vid = $1
		ORDER BY s.started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, vid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list visitor sessions: %w", err)
	}
	return collectSessions(rows)
}

// RenameVisitor sets the display name; nil clears it. Unknown vids are a no-op.
func (r *adminRepository) RenameVisitor(ctx context.Context, vid string, displayName *string) error {
	query := `UPDATE visitors SET display_name = $2 WHERE vid = $1`

	if _, err := r.db.Exec(ctx, query, vid, displayName); err != nil {
		return fmt.Errorf("failed to rename visitor: %w", err)
	}
	return nil
}

// FillDisplayNames writes generated names in one statement without overwriting a name set meanwhile
func (r *adminRepository) FillDisplayNames(ctx context.Context, names map[string]string) error {
	if len(names) == 0 {
		return nil
	}

	vids := make([]string, 0, len(names))
	values := make([]string, 0, len(names))
	for vid, name := range names {
		vids = append(vids, vid)
		values = append(values, name)
	}

	query := `
		UPDATE visitors v
		SET display_name = n.name
		FROM unnest($1::text[], $2::text[]) AS n(vid, name)
		WHERE v.vid = n.vid AND v.display_name IS NULL
	`

	if _, err := r.db.Exec(ctx, query, vids, values); err != nil {
		return fmt.Errorf("failed to backfill display names: %w", err)
	}
	return nil
}

func (r *adminRepository) BotSessions(ctx context.Context, days, limit int) ([]domain.SessionRow, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		JOIN visitors v ON v.vid = s.vid
		WHERE ` + botWindow + `
		ORDER BY s.started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, days, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bot sessions: %w", err)
	}
	return collectSessions(rows)
}

func (r *adminRepository) BotReasons(ctx context.Context, days, limit int) ([]domain.ReasonCount, error) {
	query := `
		SELECT trim(t.r) AS reason, COUNT(*) AS count
		FROM (
			SELECT unnest(string_to_array(COALESCE(s.bot_reasons, ''), ',')) AS r
			FROM sessions s
			WHERE ` + botWindow + `
		) t
		WHERE trim(t.r) <> ''
		GROUP BY reason
		ORDER BY count DESC, reason ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, days, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count bot reasons: %w", err)
	}
	defer rows.Close()

	reasons := []domain.ReasonCount{}
	for rows.Next() {
		var rc domain.ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan bot reason: %w", err)
		}
		reasons = append(reasons, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bot reasons: %w", err)
	}
	return reasons, nil
}

func (r *adminRepository) BotUserAgents(ctx context.Context, days, limit int) ([]domain.UserAgentCount, error) {
	query := `
		SELECT s.user_agent, COUNT(*) AS count
		FROM sessions s
		WHERE ` + botWindow + `
			AND s.user_agent IS NOT NULL AND s.user_agent <> ''
		GROUP BY s.user_agent
		ORDER BY count DESC, s.user_agent ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, days, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count bot user agents: %w", err)
	}
	defer rows.Close()

	agents := []domain.UserAgentCount{}
	for rows.Next() {
		var uc domain.UserAgentCount
		if err := rows.Scan(&uc.UserAgent, &uc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan bot user agent: %w", err)
		}
		agents = append(agents, uc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bot user agents: %w", err)
	}
	return agents, nil
}

// MapRows returns the latest human session per visitor together with that visitor's human session count
func (r *adminRepository) MapRows(ctx context.Context, limit int) ([]domain.MapRow, error) {
	query := `
		SELECT DISTINCT ON (s.vid)
			s.vid,
			v.display_name,
			s.sid,
			s.started_at,
			s.ip,
			s.ptr,
			s.geo,
			s.ipinfo,
			(SELECT COUNT(*) FROM sessions sx
				WHERE sx.vid = s.vid AND COALESCE(sx.is_bot, false) = false) AS sessions
		FROM sessions s
		JOIN visitors v ON v.vid = s.vid
		WHERE COALESCE(s.is_bot, false) = false
		ORDER BY s.vid, s.started_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load map rows: %w", err)
	}
	defer rows.Close()

	out := []domain.MapRow{}
	for rows.Next() {
		var m domain.MapRow
		if err := rows.Scan(&m.VID, &m.DisplayName, &m.SID, &m.StartedAt, &m.IP, &m.PTR, &m.Geo, &m.IPInfo, &m.Sessions); err != nil {
			return nil, fmt.Errorf("failed to scan map row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read map rows: %w", err)
	}
	return out, nil
}

func (r *adminRepository) Counts(ctx context.Context) (*domain.TableCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM visitors),
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM ipinfo_cache),
			(SELECT COUNT(*) FROM ptr_cache)
	`

	var c domain.TableCounts
	err := r.db.QueryRow(ctx, query).Scan(&c.Visitors, &c.Sessions, &c.Events, &c.IPInfoCache, &c.PTRCache)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	return &c, nil
}

func collectSessions(rows pgx.Rows) ([]domain.SessionRow, error) {
	defer rows.Close()

	sessions := []domain.SessionRow{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row pgx.Row) (*domain.SessionRow, error) {
	var s domain.SessionRow
	err := row.Scan(
		&s.SID,
		&s.VID,
		&s.DisplayName,
		&s.StartedAt,
		&s.EndedAt,
		&s.IP,
		&s.PTR,
		&s.UserAgent,
		&s.AcceptLanguage,
		&s.Referrer,
		&s.Page,
		&s.IsMobile,
		&s.Orientation,
		&s.Geo,
		&s.BotScore,
		&s.BotReasons,
		&s.IsBot,
		&s.IPInfo,
		&s.ActiveSeconds,
		&s.IdleSeconds,
		&s.SessionSeconds,
		&s.Interactions,
		&s.FirstInteractionSeconds,
		&s.Overlays,
		&s.OverlaysUnique,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanVisitor(row pgx.Row) (*domain.Visitor, error) {
	var v domain.Visitor
	err := row.Scan(
		&v.VID,
		&v.DisplayName,
		&v.FirstSeenAt,
		&v.LastSeenAt,
		&v.FirstIP,
		&v.LastIP,
		&v.FirstUserAgent,
		&v.LastUserAgent,
		&v.FirstReferrer,
		&v.LastReferrer,
		&v.IPInfo,
		&v.IPInfoIP,
		&v.IPInfoFetchedAt,
		&v.IPInfoError,
		&v.IPInfoErrorAt,
		&v.PTR,
		&v.PTRIP,
		&v.PTRFetchedAt,
		&v.PTRError,
		&v.PTRErrorAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
