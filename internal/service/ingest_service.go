package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"portfolio-analytics/internal/bot"
	"portfolio-analytics/internal/domain"
	"portfolio-analytics/internal/enrichment"
	"portfolio-analytics/internal/metrics"
	"portfolio-analytics/internal/repository"
	"portfolio-analytics/internal/schema"
	"portfolio-analytics/pkg/logger"
)

// Resolver is the enrichment policy the ingestion pipeline depends on
type Resolver interface {
	Kind() domain.EnrichmentKind
	Resolve(ctx context.Context, ip string) (domain.EnrichmentResult, error)
}

var _ Resolver = (*enrichment.Enricher)(nil)

// ingestService writes one collect call through the database in a fixed order
type ingestService struct {
	repo      repository.IngestRepository
	schema    schema.Ensurer
	evaluator *bot.Evaluator
	resolvers []Resolver
	logger    *logger.Logger
}

// NewIngestService creates the ingestion pipeline. Resolvers run in the given order.
func NewIngestService(repo repository.IngestRepository, ensurer schema.Ensurer, evaluator *bot.Evaluator, log *logger.Logger, resolvers ...Resolver) IngestService {
	return &ingestService{
		repo:      repo,
		schema:    ensurer,
		evaluator: evaluator,
		resolvers: resolvers,
		logger:    log,
	}
}

// Ingest scores the call, ensures the schema and applies every write.
// Visitor and session writes are required; later steps only log their failures.
func (s *ingestService) Ingest(ctx context.Context, sub *Submission) error {
	in := sub.Collect
	in.Bot = s.evaluator.Evaluate(sub.Signals)

	classification := "human"
	if in.Bot.IsBot {
		classification = "bot"
	}
	metrics.BotSessions.WithLabelValues(classification).Inc()

	log := s.logger.With(zap.String("sid", in.SID), zap.String("vid", in.VID))

	if err := s.schema.Ensure(ctx); err != nil {
		metrics.CollectFailures.WithLabelValues("schema").Inc()
		return fmt.Errorf("schema not ready: %w", err)
	}

	if err := s.repo.UpsertVisitor(ctx, in); err != nil {
		metrics.CollectFailures.WithLabelValues("visitor").Inc()
		return err
	}

	storedBot, err := s.repo.UpsertSession(ctx, in)
	if err != nil {
		metrics.CollectFailures.WithLabelValues("session").Inc()
		return err
	}

	if len(in.Events) > 0 {
		if err := s.repo.InsertEvents(ctx, in.SID, in.VID, in.Events); err != nil {
			metrics.CollectFailures.WithLabelValues("events").Inc()
			log.Error("Failed to insert events", zap.Int("count", len(in.Events)), zap.Error(err))
		} else {
			metrics.CollectEvents.Add(float64(len(in.Events)))
		}
	}

	if in.Summary != nil {
		if err := s.repo.ApplySummary(ctx, in.SID, in.Summary); err != nil {
			metrics.CollectFailures.WithLabelValues("summary").Inc()
			log.Error("Failed to apply session summary", zap.Error(err))
		}
	}

	if storedBot || in.IP == nil {
		log.Debug("Skipping enrichment", zap.Bool("is_bot", storedBot), zap.Bool("has_ip", in.IP != nil))
		return nil
	}

	for _, r := range s.resolvers {
		s.enrich(ctx, log, r, in.SID, in.VID, *in.IP)
	}
	return nil
}

func (s *ingestService) enrich(ctx context.Context, log *zap.Logger, r Resolver, sid, vid, ip string) {
	kind := string(r.Kind())

	result, err := r.Resolve(ctx, ip)
	if err != nil {
		metrics.CollectFailures.WithLabelValues("enrich_" + kind).Inc()
		log.Warn("Enrichment lookup failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	if result.Empty() {
		return
	}

	if err := s.repo.ApplyEnrichment(ctx, r.Kind(), sid, vid, ip, result); err != nil {
		metrics.CollectFailures.WithLabelValues("enrich_" + kind).Inc()
		log.Warn("Failed to apply enrichment", zap.String("kind", kind), zap.Error(err))
	}
}
