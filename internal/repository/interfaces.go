package repository

import (
	"context"

	"portfolio-analytics/internal/domain"
)

// IngestRepository writes visitors, sessions and events for /api/collect.
// Every method is a single statement and safe to repeat.
type IngestRepository interface {
	// UpsertVisitor creates the visitor or refreshes its last_* fields
	UpsertVisitor(ctx context.Context, in *domain.Collect) error

	// UpsertSession merges the call into the session row and returns the stored is_bot flag
	UpsertSession(ctx context.Context, in *domain.Collect) (bool, error)

	// InsertEvents appends the batch as one multi-row insert
	InsertEvents(ctx context.Context, sid, vid string, events []domain.Event) error

	// ApplySummary writes the terminal session summary and stamps ended_at
	ApplySummary(ctx context.Context, sid string, summary *domain.Summary) error

	// ApplyEnrichment copies a resolved lookup onto the session and visitor rows
	ApplyEnrichment(ctx context.Context, kind domain.EnrichmentKind, sid, vid, ip string, result domain.EnrichmentResult) error
}

// EnrichmentCacheRepository is one persisted per-IP lookup cache
type EnrichmentCacheRepository interface {
	// Get returns the cached entry, or an empty result when the IP was never looked up
	Get(ctx context.Context, ip string) (domain.EnrichmentResult, error)

	// PutValue records a successful lookup and clears any earlier error
	PutValue(ctx context.Context, ip, value string) error

	// PutError records a failed lookup, keeping any earlier value
	PutError(ctx context.Context, ip, message string) error

	// ClearErrors forgets failed lookups that never produced a value
	ClearErrors(ctx context.Context) (int64, error)
}

// AdminRepository serves the admin read endpoints and visitor renames
type AdminRepository interface {
	// ListSessions returns the latest sessions, either bots or humans
	ListSessions(ctx context.Context, bots bool, limit int) ([]domain.SessionRow, error)

	// GetSession returns one session, or nil when it does not exist
	GetSession(ctx context.Context, sid string) (*domain.SessionRow, error)

	// ListEvents returns a session's events ordered by ts then insertion
	ListEvents(ctx context.Context, sid string, limit int) ([]domain.EventRecord, error)

	// ListVisitors returns visitors by last_seen_at descending
	ListVisitors(ctx context.Context, limit int) ([]domain.Visitor, error)

	// GetVisitor returns one visitor, or nil when it does not exist
	GetVisitor(ctx context.Context, vid string) (*domain.Visitor, error)

	// ListVisitorSessions returns a visitor's sessions, newest first
	ListVisitorSessions(ctx context.Context, vid string, limit int) ([]domain.SessionRow, error)

	// RenameVisitor sets or clears the display name
	RenameVisitor(ctx context.Context, vid string, displayName *string) error

	// FillDisplayNames sets display names only where none is stored yet
	FillDisplayNames(ctx context.Context, names map[string]string) error

	// BotSessions returns bot sessions started within the last days
	BotSessions(ctx context.Context, days, limit int) ([]domain.SessionRow, error)

	// BotReasons counts individual reasons across bot sessions within the last days
	BotReasons(ctx context.Context, days, limit int) ([]domain.ReasonCount, error)

	// BotUserAgents counts user agents across bot sessions within the last days
	BotUserAgents(ctx context.Context, days, limit int) ([]domain.UserAgentCount, error)

	// MapRows returns the latest human session for each visitor
	MapRows(ctx context.Context, limit int) ([]domain.MapRow, error)

	// Counts returns row counts for every table
	Counts(ctx context.Context) (*domain.TableCounts, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Ingest      IngestRepository
	IPInfoCache EnrichmentCacheRepository
	PTRCache    EnrichmentCacheRepository
	Admin       AdminRepository
}
