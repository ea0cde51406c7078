package enrichment

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"portfolio-analytics/internal/domain"
	"portfolio-analytics/internal/metrics"
	"portfolio-analytics/pkg/logger"
	"portfolio-analytics/pkg/redis"
)

// hotEntry is the Redis representation of a successful lookup
type hotEntry struct {
	Value     string    `json:"v"`
	FetchedAt time.Time `json:"f"`
}

// RedisStore fronts a persisted Store with a Redis read-through tier.
// Only successful lookups are kept in Redis so clearing cached errors in
// Postgres takes effect immediately. Redis failures fall through to the inner store.
type RedisStore struct {
	inner  Store
	redis  *redis.Client
	kind   domain.EnrichmentKind
	logger *logger.Logger
}

// NewRedisStore wraps inner with the Redis hot tier
func NewRedisStore(inner Store, client *redis.Client, kind domain.EnrichmentKind, log *logger.Logger) *RedisStore {
	return &RedisStore{
		inner:  inner,
		redis:  client,
		kind:   kind,
		logger: log,
	}
}

func (s *RedisStore) key(ip string) string {
	return s.redis.KeyBuilder.KeyEnrichment(string(s.kind), ip)
}

func (s *RedisStore) Get(ctx context.Context, ip string) (domain.EnrichmentResult, error) {
	raw, err := s.redis.Get(ctx, s.key(ip))
	switch {
	case err == nil:
		var entry hotEntry
		if jsonErr := json.Unmarshal([]byte(raw), &entry); jsonErr == nil && entry.Value != "" {
			metrics.EnrichmentHotCache.WithLabelValues(string(s.kind), "hit").Inc()
			fetchedAt := entry.FetchedAt
			return domain.EnrichmentResult{Value: entry.Value, FetchedAt: &fetchedAt}, nil
		}
		s.logger.Warn("Enrichment hot cache entry corrupted, falling back to database",
			zap.String("kind", string(s.kind)))
		metrics.EnrichmentHotCache.WithLabelValues(string(s.kind), "error").Inc()
	case errors.Is(err, redis.Nil):
		metrics.EnrichmentHotCache.WithLabelValues(string(s.kind), "miss").Inc()
	default:
		s.logger.Warn("Enrichment hot cache error, falling back to database",
			zap.String("kind", string(s.kind)),
			zap.Error(err))
		metrics.EnrichmentHotCache.WithLabelValues(string(s.kind), "error").Inc()
	}

	result, err := s.inner.Get(ctx, ip)
	if err != nil {
		return result, err
	}
	if result.OK() {
		s.remember(ctx, ip, result)
	}
	return result, nil
}

func (s *RedisStore) PutValue(ctx context.Context, ip, value string) error {
	if err := s.inner.PutValue(ctx, ip, value); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.remember(ctx, ip, domain.EnrichmentResult{Value: value, FetchedAt: &now})
	return nil
}

func (s *RedisStore) PutError(ctx context.Context, ip, message string) error {
	return s.inner.PutError(ctx, ip, message)
}

func (s *RedisStore) remember(ctx context.Context, ip string, result domain.EnrichmentResult) {
	entry := hotEntry{Value: result.Value}
	if result.FetchedAt != nil {
		entry.FetchedAt = *result.FetchedAt
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, s.key(ip), string(raw), redis.TTLEnrichment); err != nil {
		s.logger.Warn("Failed to populate enrichment hot cache",
			zap.String("kind", string(s.kind)),
			zap.Error(err))
	}
}
