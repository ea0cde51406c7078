// Package enrichment resolves per-IP lookups (ipinfo, reverse DNS) through a
// persisted cache so each address hits the network at most once.
package enrichment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"portfolio-analytics/internal/domain"
	"portfolio-analytics/internal/metrics"
	"portfolio-analytics/pkg/logger"
)

// maxErrorLength bounds error text persisted in the cache tables
const maxErrorLength = 500

// Source performs the live lookup for one IP
type Source interface {
	Lookup(ctx context.Context, ip string) (string, error)
}

// Store is the persisted cache for one enrichment kind
type Store interface {
	Get(ctx context.Context, ip string) (domain.EnrichmentResult, error)
	PutValue(ctx context.Context, ip, value string) error
	PutError(ctx context.Context, ip, message string) error
}

// Enricher pairs a Source with its Store
type Enricher struct {
	kind   domain.EnrichmentKind
	source Source
	store  Store
	logger *logger.Logger
}

// NewEnricher creates an enricher for one kind
func NewEnricher(kind domain.EnrichmentKind, source Source, store Store, log *logger.Logger) *Enricher {
	return &Enricher{
		kind:   kind,
		source: source,
		store:  store,
		logger: log,
	}
}

// Kind returns the enrichment kind this enricher serves
func (e *Enricher) Kind() domain.EnrichmentKind {
	return e.kind
}

// GetCached reads the store only
func (e *Enricher) GetCached(ctx context.Context, ip string) (domain.EnrichmentResult, error) {
	result, err := e.store.Get(ctx, ip)
	if err != nil {
		return domain.EnrichmentResult{}, fmt.Errorf("%s cache read failed: %w", e.kind, err)
	}
	return result, nil
}

// FetchAndCache performs the live lookup and persists its outcome, success or failure
func (e *Enricher) FetchAndCache(ctx context.Context, ip string) (domain.EnrichmentResult, error) {
	value, lookupErr := e.source.Lookup(ctx, ip)
	now := time.Now().UTC()

	if lookupErr != nil {
		msg := clampError(lookupErr.Error())
		metrics.EnrichmentLookups.WithLabelValues(string(e.kind), "fetch_error").Inc()
		e.logger.Debug("Enrichment lookup failed",
			zap.String("kind", string(e.kind)),
			zap.String("error", msg))

		if err := e.store.PutError(ctx, ip, msg); err != nil {
			return domain.EnrichmentResult{}, fmt.Errorf("%s cache write failed: %w", e.kind, err)
		}
		return domain.EnrichmentResult{Err: msg, ErrorAt: &now}, nil
	}

	metrics.EnrichmentLookups.WithLabelValues(string(e.kind), "fetched").Inc()
	if err := e.store.PutValue(ctx, ip, value); err != nil {
		return domain.EnrichmentResult{}, fmt.Errorf("%s cache write failed: %w", e.kind, err)
	}
	return domain.EnrichmentResult{Value: value, FetchedAt: &now}, nil
}

// Resolve returns the cached entry, fetching only when the IP has never been looked up.
// A cached error is returned as-is and not retried.
func (e *Enricher) Resolve(ctx context.Context, ip string) (domain.EnrichmentResult, error) {
	cached, err := e.GetCached(ctx, ip)
	if err != nil {
		return domain.EnrichmentResult{}, err
	}

	switch {
	case cached.OK():
		metrics.EnrichmentLookups.WithLabelValues(string(e.kind), "cached").Inc()
		return cached, nil
	case cached.Err != "":
		metrics.EnrichmentLookups.WithLabelValues(string(e.kind), "cached_error").Inc()
		return cached, nil
	}

	return e.FetchAndCache(ctx, ip)
}

func clampError(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	r := []rune(msg)
	if len(r) > maxErrorLength {
		return string(r[:maxErrorLength])
	}
	return msg
}
