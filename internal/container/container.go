package container

import (
	"context"
	"fmt"
	"time"

	"portfolio-analytics/internal/bot"
	"portfolio-analytics/internal/config"
	"portfolio-analytics/internal/domain"
	"portfolio-analytics/internal/enrichment"
	"portfolio-analytics/internal/middleware"
	"portfolio-analytics/internal/repository"
	"portfolio-analytics/internal/schema"
	"portfolio-analytics/internal/service"
	"portfolio-analytics/pkg/database"
	"portfolio-analytics/pkg/logger"
	"portfolio-analytics/pkg/redis"
)

// Background task runner sizing
const (
	taskQueueSize = 32
	taskTimeout   = 30 * time.Second
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *database.PostgresDB // nil when DATABASE_URL is unset
	RedisClient  *redis.Client        // nil when REDIS_URL is unset or unreachable
	Schema       *schema.Manager
	Repositories *repository.Repositories
	Services     *service.Services
	AdminAuth    *middleware.AdminAuth

	closers []func() error
}

// New creates a new dependency injection container. Without a database the
// container still builds: ingestion then accepts and drops calls, and admin
// data endpoints report the missing configuration.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config:    cfg,
		Logger:    log,
		AdminAuth: middleware.NewAdminAuth(cfg.AdminToken, log),
		Services: &service.Services{
			Tasks: service.NewTaskRunner(log, taskQueueSize, taskTimeout),
		},
	}

	if !cfg.DatabaseConfigured() {
		log.Warn("DATABASE_URL not configured, ingestion writes and admin data are disabled")
		return c, nil
	}

	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = db
	c.closers = append(c.closers, func() error {
		db.Close()
		return nil
	})

	if cfg.RedisURL != "" {
		client, err := redis.NewClient(cfg.RedisURL, cfg.Environment, log.Logger)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize Redis client, proceeding without hot cache")
		} else {
			c.RedisClient = client
			c.closers = append(c.closers, client.Close)
			log.Info("Redis client initialized successfully")
		}
	} else {
		log.Info("Redis URL not configured, proceeding without hot cache")
	}

	c.Schema = schema.NewManager(db.Pool, log)
	c.Repositories = &repository.Repositories{
		Ingest:      repository.NewIngestRepository(db.Pool),
		IPInfoCache: repository.NewIPInfoCacheRepository(db.Pool),
		PTRCache:    repository.NewPTRCacheRepository(db.Pool),
		Admin:       repository.NewAdminRepository(db.Pool),
	}

	geoSource, err := c.geoSource()
	if err != nil {
		c.Close()
		return nil, err
	}

	ipinfo := enrichment.NewEnricher(domain.EnrichmentIPInfo, geoSource, c.store(domain.EnrichmentIPInfo, c.Repositories.IPInfoCache), log)
	ptr := enrichment.NewEnricher(domain.EnrichmentPTR, enrichment.NewPTRSource(nil), c.store(domain.EnrichmentPTR, c.Repositories.PTRCache), log)

	c.Services.Ingest = service.NewIngestService(
		c.Repositories.Ingest,
		c.Schema,
		bot.NewEvaluator(cfg.BotScoreThreshold),
		log,
		ipinfo,
		ptr,
	)
	c.Services.Admin = service.NewAdminService(c.Repositories.Admin, c.Schema, c.Services.Tasks, log)

	return c, nil
}

// geoSource picks the local MMDB when configured, else the ipinfo HTTP API
func (c *Container) geoSource() (enrichment.Source, error) {
	if c.Config.GeoIPDBPath == "" {
		return enrichment.NewIPInfoSource(c.Config.IPInfoBaseURL, c.Config.IPInfoToken, c.Logger), nil
	}

	source, closeReader, err := enrichment.OpenGeoIPSource(c.Config.GeoIPDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	c.closers = append(c.closers, closeReader)
	c.Logger.WithField("path", c.Config.GeoIPDBPath).Info("Using local GeoIP database for IP enrichment")
	return source, nil
}

// store layers the Redis hot cache over a Postgres cache table when Redis is available
func (c *Container) store(kind domain.EnrichmentKind, table repository.EnrichmentCacheRepository) enrichment.Store {
	if c.RedisClient == nil {
		return table
	}
	return enrichment.NewRedisStore(table, c.RedisClient, kind, c.Logger)
}

// Status reports which pieces of configuration are present
func (c *Container) Status() domain.Status {
	return domain.Status{
		DBConfigured:          c.DB != nil,
		AdminTokenConfigured:  c.Config.AdminToken != "",
		IPInfoTokenConfigured: c.Config.IPInfoToken != "",
	}
}

// Close releases everything New opened, last opened first
func (c *Container) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.Logger
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.Config
}

// HasRedis returns true if Redis client is available
func (c *Container) HasRedis() bool {
	return c.RedisClient != nil
}
