package service

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"portfolio-analytics/internal/domain"
)

// MockIngestRepository for testing
type MockIngestRepository struct {
	mock.Mock
}

func (m *MockIngestRepository) UpsertVisitor(ctx context.Context, in *domain.Collect) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

func (m *MockIngestRepository) UpsertSession(ctx context.Context, in *domain.Collect) (bool, error) {
	args := m.Called(ctx, in)
	return args.Bool(0), args.Error(1)
}

func (m *MockIngestRepository) InsertEvents(ctx context.Context, sid, vid string, events []domain.Event) error {
	args := m.Called(ctx, sid, vid, events)
	return args.Error(0)
}

func (m *MockIngestRepository) ApplySummary(ctx context.Context, sid string, summary *domain.Summary) error {
	args := m.Called(ctx, sid, summary)
	return args.Error(0)
}

func (m *MockIngestRepository) ApplyEnrichment(ctx context.Context, kind domain.EnrichmentKind, sid, vid, ip string, result domain.EnrichmentResult) error {
	args := m.Called(ctx, kind, sid, vid, ip, result)
	return args.Error(0)
}

// MockAdminRepository for testing
type MockAdminRepository struct {
	mock.Mock
}

func (m *MockAdminRepository) ListSessions(ctx context.Context, bots bool, limit int) ([]domain.SessionRow, error) {
	args := m.Called(ctx, bots, limit)
	return args.Get(0).([]domain.SessionRow), args.Error(1)
}

func (m *MockAdminRepository) GetSession(ctx context.Context, sid string) (*domain.SessionRow, error) {
	args := m.Called(ctx, sid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionRow), args.Error(1)
}

func (m *MockAdminRepository) ListEvents(ctx context.Context, sid string, limit int) ([]domain.EventRecord, error) {
	args := m.Called(ctx, sid, limit)
	return args.Get(0).([]domain.EventRecord), args.Error(1)
}

func (m *MockAdminRepository) ListVisitors(ctx context.Context, limit int) ([]domain.Visitor, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]domain.Visitor), args.Error(1)
}

func (m *MockAdminRepository) GetVisitor(ctx context.Context, vid string) (*domain.Visitor, error) {
	args := m.Called(ctx, vid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Visitor), args.Error(1)
}

func (m *MockAdminRepository) ListVisitorSessions(ctx context.Context, vid string, limit int) ([]domain.SessionRow, error) {
	args := m.Called(ctx, vid, limit)
	return args.Get(0).([]domain.SessionRow), args.Error(1)
}

func (m *MockAdminRepository) RenameVisitor(ctx context.Context, vid string, displayName *string) error {
	args := m.Called(ctx, vid, displayName)
	return args.Error(0)
}

func (m *MockAdminRepository) FillDisplayNames(ctx context.Context, names map[string]string) error {
	args := m.Called(ctx, names)
	return args.Error(0)
}

func (m *MockAdminRepository) BotSessions(ctx context.Context, days, limit int) ([]domain.SessionRow, error) {
	args := m.Called(ctx, days, limit)
	return args.Get(0).([]domain.SessionRow), args.Error(1)
}

func (m *MockAdminRepository) BotReasons(ctx context.Context, days, limit int) ([]domain.ReasonCount, error) {
	args := m.Called(ctx, days, limit)
	return args.Get(0).([]domain.ReasonCount), args.Error(1)
}

func (m *MockAdminRepository) BotUserAgents(ctx context.Context, days, limit int) ([]domain.UserAgentCount, error) {
	args := m.Called(ctx, days, limit)
	return args.Get(0).([]domain.UserAgentCount), args.Error(1)
}

func (m *MockAdminRepository) MapRows(ctx context.Context, limit int) ([]domain.MapRow, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]domain.MapRow), args.Error(1)
}

func (m *MockAdminRepository) Counts(ctx context.Context) (*domain.TableCounts, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TableCounts), args.Error(1)
}

// stubEnsurer counts schema calls and fails with err when set
type stubEnsurer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubEnsurer) Ensure(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

// stubResolver returns a fixed result and records the order it was called in
type stubResolver struct {
	kind   domain.EnrichmentKind
	result domain.EnrichmentResult
	err    error
	order  *[]domain.EnrichmentKind
}

func (s *stubResolver) Kind() domain.EnrichmentKind {
	return s.kind
}

func (s *stubResolver) Resolve(context.Context, string) (domain.EnrichmentResult, error) {
	if s.order != nil {
		*s.order = append(*s.order, s.kind)
	}
	return s.result, s.err
}
