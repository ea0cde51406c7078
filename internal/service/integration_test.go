//go:build integration

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-analytics/internal/bot"
	"portfolio-analytics/internal/domain"
	"portfolio-analytics/internal/enrichment"
	"portfolio-analytics/internal/repository"
	"portfolio-analytics/internal/schema"
	"portfolio-analytics/internal/testinfra"
	"portfolio-analytics/pkg/database"
	"portfolio-analytics/pkg/logger"
)

type pipeline struct {
	db     database.DB
	ingest IngestService
	admin  AdminService
	repo   repository.IngestRepository
}

// fixedSource answers every lookup with the same value, or err when set
type fixedSource struct {
	value string
	err   error
	calls int
}

func (s *fixedSource) Lookup(context.Context, string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.value, nil
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	pg := testinfra.NewPostgres(t)
	pool := pg.DB.Pool

	manager := schema.NewManager(pool, logger.NewNop())
	repo := repository.NewIngestRepository(pool)
	return &pipeline{
		db:     pool,
		repo:   repo,
		ingest: NewIngestService(repo, manager, bot.NewEvaluator(bot.DefaultThreshold), logger.NewNop()),
		admin:  NewAdminService(repository.NewAdminRepository(pool), manager, nil, logger.NewNop()),
	}
}

func (p *pipeline) count(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, p.db.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func (p *pipeline) send(t *testing.T, body string, rc RequestContext) {
	t.Helper()
	sub, err := DecodePayload([]byte(body)).Normalize(rc, testNow)
	require.NoError(t, err)
	require.NoError(t, p.ingest.Ingest(context.Background(), sub))
}

func TestIntegration_ReingestIsIdempotentExceptEvents(t *testing.T) {
	p := newPipeline(t)
	body := `{"vid":"v1","sid":"s1","page":"/","events":[{"type":"visit","ts":"2024-01-01T00:00:00Z"},{"type":"click_target","ts":"2024-01-01T00:00:03Z"}]}`

	p.send(t, body, browserContext)
	p.send(t, body, browserContext)

	assert.Equal(t, int64(1), p.count(t, `SELECT COUNT(*) FROM visitors`))
	assert.Equal(t, int64(1), p.count(t, `SELECT COUNT(*) FROM sessions`))
	assert.Equal(t, int64(4), p.count(t, `SELECT COUNT(*) FROM events WHERE sid = 's1'`))
}

func TestIntegration_BotScoreIsMonotonic(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	require.NoError(t, schema.NewManager(p.db, logger.NewNop()).Ensure(ctx))

	in := &domain.Collect{VID: "v1", SID: "s1", StartedAt: testNow}
	require.NoError(t, p.repo.UpsertVisitor(ctx, in))

	verdicts := []domain.BotVerdict{
		{Score: 3, Reasons: []string{"no-accept-language"}},
		{Score: 7, Reasons: []string{"headless"}, IsBot: true},
		{Score: 2, Reasons: []string{"short-session"}},
	}
	var stored bool
	for _, v := range verdicts {
		in.Bot = v
		var err error
		stored, err = p.repo.UpsertSession(ctx, in)
		require.NoError(t, err)
	}

	assert.True(t, stored)
	assert.Equal(t, int64(7), p.count(t, `SELECT bot_score FROM sessions WHERE sid = 's1'`))

	var reasons string
	require.NoError(t, p.db.QueryRow(ctx, `SELECT bot_reasons FROM sessions WHERE sid = 's1'`).Scan(&reasons))
	assert.Equal(t, "headless", reasons)
}

func TestIntegration_UpsertDoesNotEraseFields(t *testing.T) {
	p := newPipeline(t)

	p.send(t, `{"vid":"v1","sid":"s1","page":"/projects","referrer":"https://github.com/"}`, browserContext)
	p.send(t, `{"vid":"v1","sid":"s1"}`, RequestContext{IP: "198.51.100.4", AcceptLanguage: "en"})

	var page, referrer, ua string
	require.NoError(t, p.db.QueryRow(context.Background(),
		`SELECT page, referrer, user_agent FROM sessions WHERE sid = 's1'`).Scan(&page, &referrer, &ua))
	assert.Equal(t, "/projects", page)
	assert.Equal(t, "https://github.com/", referrer)
	assert.Equal(t, browserContext.UserAgent, ua)
}

func TestIntegration_EventBatchIsCapped(t *testing.T) {
	p := newPipeline(t)

	items := make([]string, 301)
	for i := range items {
		items[i] = fmt.Sprintf(`{"type":"hover_start","seq":%d}`, i)
	}
	p.send(t, `{"vid":"v1","sid":"s1","events":[`+strings.Join(items, ",")+`]}`, browserContext)

	assert.Equal(t, int64(300), p.count(t, `SELECT COUNT(*) FROM events`))
}

func TestIntegration_VisitorEnrichmentIsSticky(t *testing.T) {
	source := &fixedSource{value: `{"ip":"198.51.100.4","city":"Oslo","org":"AS2119 Telenor"}`}

	p := newPipeline(t)
	ipinfo := enrichment.NewEnricher(domain.EnrichmentIPInfo, source, repository.NewIPInfoCacheRepository(p.db), logger.NewNop())
	p.ingest = NewIngestService(repository.NewIngestRepository(p.db), schema.NewManager(p.db, logger.NewNop()),
		bot.NewEvaluator(bot.DefaultThreshold), logger.NewNop(), ipinfo)

	p.send(t, `{"vid":"v1","sid":"s1"}`, browserContext)

	source.value = `{"ip":"203.0.113.9","city":"Bergen"}`
	second := browserContext
	second.IP = "203.0.113.9"
	p.send(t, `{"vid":"v1","sid":"s2"}`, second)

	var visitorCity, visitorIP, sessionCity string
	ctx := context.Background()
	require.NoError(t, p.db.QueryRow(ctx, `SELECT ipinfo->>'city', ipinfo_ip FROM visitors WHERE vid = 'v1'`).Scan(&visitorCity, &visitorIP))
	require.NoError(t, p.db.QueryRow(ctx, `SELECT ipinfo->>'city' FROM sessions WHERE sid = 's2'`).Scan(&sessionCity))

	assert.Equal(t, "Oslo", visitorCity)
	assert.Equal(t, "198.51.100.4", visitorIP)
	assert.Equal(t, "Bergen", sessionCity)

	// Same IP again is served from the cache table.
	p.send(t, `{"vid":"v1","sid":"s3"}`, second)
	assert.Equal(t, 2, source.calls)
}

func TestIntegration_FirstVisitShowsUpInAdmin(t *testing.T) {
	p := newPipeline(t)

	p.send(t, `{"vid":"v-first","sid":"s-first","page":"/","events":[{"type":"visit","ts":"2024-06-01T11:59:00Z","data":{"path":"/"}}]}`, browserContext)
	p.send(t, `{"vid":"v-first","sid":"s-first","summary":{"active_seconds":41.6,"interactions":3,"overlays":[{"key":"about","seconds":9}],"overlays_unique":1}}`, browserContext)

	detail, err := p.admin.GetSession(context.Background(), "s-first")
	require.NoError(t, err)
	require.NotNil(t, detail)

	s := detail.Session
	assert.Equal(t, DisplayName("v-first"), s.DisplayName)
	assert.False(t, s.IsBot)
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, int64(42), *s.ActiveSeconds)
	assert.Equal(t, int64(3), *s.Interactions)
	assert.Equal(t, "2024-06-01T11:59:00Z", s.StartedAt.UTC().Format("2006-01-02T15:04:05Z"))

	require.Len(t, detail.Events, 1)
	assert.Equal(t, domain.EventVisit, detail.Events[0].Type)
	assert.JSONEq(t, `{"path":"/"}`, string(detail.Events[0].Data))

	sessions, err := p.admin.ListSessions(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s-first", sessions[0].SID)

	missing, err := p.admin.GetSession(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIntegration_ClearCacheErrors(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	require.NoError(t, schema.NewManager(p.db, logger.NewNop()).Ensure(ctx))

	cache := repository.NewPTRCacheRepository(p.db)
	require.NoError(t, cache.PutError(ctx, "198.51.100.4", "no PTR record"))
	require.NoError(t, cache.PutValue(ctx, "203.0.113.9", "host.example.net"))

	cleared, err := cache.ClearErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	result, err := cache.Get(ctx, "198.51.100.4")
	require.NoError(t, err)
	assert.True(t, result.Empty())

	result, err = cache.Get(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, "host.example.net", result.Value)
}

func TestIntegration_EnrichmentFailuresAndPTR(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	ipinfoSource := &fixedSource{value: `{"ip":"198.51.100.4","city":"Oslo"}`}
	ptrSource := &fixedSource{value: "host-4.example.net"}

	p.ingest = NewIngestService(p.repo, schema.NewManager(p.db, logger.NewNop()),
		bot.NewEvaluator(bot.DefaultThreshold), logger.NewNop(),
		enrichment.NewEnricher(domain.EnrichmentIPInfo, ipinfoSource, repository.NewIPInfoCacheRepository(p.db), logger.NewNop()),
		enrichment.NewEnricher(domain.EnrichmentPTR, ptrSource, repository.NewPTRCacheRepository(p.db), logger.NewNop()),
	)

	p.send(t, `{"vid":"v1","sid":"s1"}`, browserContext)

	var sessionPTR, visitorPTR, visitorPTRIP string
	require.NoError(t, p.db.QueryRow(ctx, `SELECT ptr FROM sessions WHERE sid = 's1'`).Scan(&sessionPTR))
	require.NoError(t, p.db.QueryRow(ctx, `SELECT ptr, ptr_ip FROM visitors WHERE vid = 'v1'`).Scan(&visitorPTR, &visitorPTRIP))
	assert.Equal(t, "host-4.example.net", sessionPTR)
	assert.Equal(t, "host-4.example.net", visitorPTR)
	assert.Equal(t, "198.51.100.4", visitorPTRIP)

	t.Run("error does not replace a stored value", func(t *testing.T) {
		ipinfoSource.err = errors.New("ipinfo responded 500")
		ptrSource.err = errors.New("no PTR record")
		second := browserContext
		second.IP = "203.0.113.9"
		p.send(t, `{"vid":"v1","sid":"s2"}`, second)

		var city, ptr string
		var ipinfoErr, ptrErr *string
		require.NoError(t, p.db.QueryRow(ctx,
			`SELECT ipinfo->>'city', ipinfo_error, ptr, ptr_error FROM visitors WHERE vid = 'v1'`).
			Scan(&city, &ipinfoErr, &ptr, &ptrErr))
		assert.Equal(t, "Oslo", city)
		assert.Nil(t, ipinfoErr)
		assert.Equal(t, "host-4.example.net", ptr)
		assert.Nil(t, ptrErr)

		var sessionIPInfo, sessionPTR *string
		require.NoError(t, p.db.QueryRow(ctx, `SELECT ipinfo::text, ptr FROM sessions WHERE sid = 's2'`).Scan(&sessionIPInfo, &sessionPTR))
		assert.Nil(t, sessionIPInfo)
		assert.Nil(t, sessionPTR)
	})

	t.Run("error is recorded on a visitor without a value", func(t *testing.T) {
		ipinfoSource.err = errors.New("ipinfo responded 500")
		ptrSource.err = errors.New("no PTR record")
		fresh := browserContext
		fresh.IP = "192.0.2.44"
		p.send(t, `{"vid":"v2","sid":"s3"}`, fresh)

		var ipinfoRaw *string
		var ipinfoErr, ptrErr string
		var ipinfoErrAt, ptrErrAt *time.Time
		require.NoError(t, p.db.QueryRow(ctx,
			`SELECT ipinfo::text, ipinfo_error, ipinfo_error_at, ptr_error, ptr_error_at FROM visitors WHERE vid = 'v2'`).
			Scan(&ipinfoRaw, &ipinfoErr, &ipinfoErrAt, &ptrErr, &ptrErrAt))
		assert.Nil(t, ipinfoRaw)
		assert.Equal(t, "ipinfo responded 500", ipinfoErr)
		assert.NotNil(t, ipinfoErrAt)
		assert.Equal(t, "no PTR record", ptrErr)
		assert.NotNil(t, ptrErrAt)
	})
}
