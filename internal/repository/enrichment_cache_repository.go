package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portfolio-analytics/internal/domain"
	"portfolio-analytics/pkg/database"

	"github.com/jackc/pgx/v5"
)

// enrichmentCacheRepository persists one enrichment kind in its own table
type enrichmentCacheRepository struct {
	db     database.DB
	kind   domain.EnrichmentKind
	table  string
	column string // value column
	cast   string // parameter cast for the value column
}

// NewIPInfoCacheRepository creates the ipinfo_cache repository
func NewIPInfoCacheRepository(db database.DB) EnrichmentCacheRepository {
	return &enrichmentCacheRepository{
		db:     db,
		kind:   domain.EnrichmentIPInfo,
		table:  "ipinfo_cache",
		column: "data",
		cast:   "::jsonb",
	}
}

// NewPTRCacheRepository creates the ptr_cache repository
func NewPTRCacheRepository(db database.DB) EnrichmentCacheRepository {
	return &enrichmentCacheRepository{
		db:     db,
		kind:   domain.EnrichmentPTR,
		table:  "ptr_cache",
		column: "ptr",
	}
}

// Get returns the cached entry, or an empty result when the IP was never looked up
func (r *enrichmentCacheRepository) Get(ctx context.Context, ip string) (domain.EnrichmentResult, error) {
	query := fmt.Sprintf(`
		SELECT %s::text, fetched_at, error, error_at
		FROM %s
		WHERE ip = $1
	`, r.column, r.table)

	var (
		value, errMsg      *string
		fetchedAt, errorAt *time.Time
	)
	err := r.db.QueryRow(ctx, query, ip).Scan(&value, &fetchedAt, &errMsg, &errorAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EnrichmentResult{}, nil
		}
		return domain.EnrichmentResult{}, fmt.Errorf("failed to read %s cache: %w", r.kind, err)
	}

	result := domain.EnrichmentResult{FetchedAt: fetchedAt, ErrorAt: errorAt}
	if value != nil {
		result.Value = *value
	}
	if errMsg != nil {
		result.Err = *errMsg
	}
	return result, nil
}

// PutValue records a successful lookup and clears any earlier error
func (r *enrichmentCacheRepository) PutValue(ctx context.Context, ip, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (ip, %[2]s, fetched_at, error, error_at)
		VALUES ($1, $2%[3]s, NOW(), NULL, NULL)
		ON CONFLICT (ip) DO UPDATE SET
			%[2]s = EXCLUDED.%[2]s,
			fetched_at = EXCLUDED.fetched_at,
			error = NULL,
			error_at = NULL
	`, r.table, r.column, r.cast)

	if _, err := r.db.Exec(ctx, query, ip, value); err != nil {
		return fmt.Errorf("failed to cache %s value: %w", r.kind, err)
	}
	return nil
}

// PutError records a failed lookup, keeping any earlier value
func (r *enrichmentCacheRepository) PutError(ctx context.Context, ip, message string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (ip, error, error_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (ip) DO UPDATE SET
			error = EXCLUDED.error,
			error_at = EXCLUDED.error_at
	`, r.table)

	if _, err := r.db.Exec(ctx, query, ip, message); err != nil {
		return fmt.Errorf("failed to cache %s error: %w", r.kind, err)
	}
	return nil
}

// ClearErrors forgets failed lookups that never produced a value, so the next visit retries them
func (r *enrichmentCacheRepository) ClearErrors(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s IS NULL AND error IS NOT NULL`, r.table, r.column)

	result, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s cache errors: %w", r.kind, err)
	}
	return result.RowsAffected(), nil
}
