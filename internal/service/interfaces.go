package service

import (
	"context"

	"portfolio-analytics/internal/domain"
)

// IngestService defines the /api/collect write pipeline
type IngestService interface {
	// Ingest scores and writes one normalized collect call
	Ingest(ctx context.Context, sub *Submission) error
}

// AdminService defines the admin dashboard read operations and visitor renames
type AdminService interface {
	// ListSessions returns the latest bot or human sessions
	ListSessions(ctx context.Context, bots bool) ([]domain.SessionView, error)

	// GetSession returns a session with its events, or nil when unknown
	GetSession(ctx context.Context, sid string) (*domain.SessionDetail, error)

	// ListVisitors returns the latest visitors with display names
	ListVisitors(ctx context.Context) ([]domain.VisitorView, error)

	// GetVisitor returns a visitor with its sessions, or nil when unknown
	GetVisitor(ctx context.Context, vid string) (*domain.VisitorDetail, error)

	// RenameVisitor sets or clears a visitor's display name
	RenameVisitor(ctx context.Context, rename domain.VisitorRename) error

	// Bots summarizes bot sessions over the last days
	Bots(ctx context.Context, days int) (*domain.BotSummary, error)

	// MapPoints returns the latest located human session per visitor
	MapPoints(ctx context.Context) ([]domain.MapPoint, error)
}

// TaskRunner runs best-effort background tasks
type TaskRunner interface {
	// Start launches the worker
	Start(ctx context.Context) error

	// Stop drains queued tasks and shuts the worker down
	Stop(ctx context.Context) error

	// Submit queues a task without blocking the caller
	Submit(task Task) error
}

// Services aggregates all service interfaces
type Services struct {
	Ingest IngestService
	Admin  AdminService
	Tasks  TaskRunner
}
