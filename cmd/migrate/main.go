package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"portfolio-analytics/internal/repository"
	"portfolio-analytics/internal/schema"
	"portfolio-analytics/pkg/database"
	"portfolio-analytics/pkg/logger"
)

const usage = "Usage: migrate [up|clear-cache-errors [ipinfo|ptr]|status]"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = os.Getenv("POSTGRES_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.NewPostgresDB(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := run(ctx, os.Stdout, db.Pool, os.Args[1:]); err != nil {
		fmt.Println(usage)
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

// run dispatches one maintenance command against db
func run(ctx context.Context, out io.Writer, db database.DB, args []string) error {
	manager := schema.NewManager(db, logger.NewNop())

	switch args[0] {
	case "up":
		if err := manager.Ensure(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "Schema is up to date (%d statements applied)\n", len(schema.Statements))
		return nil

	case "clear-cache-errors":
		if err := manager.Ensure(ctx); err != nil {
			return err
		}
		caches, err := selectCaches(db, args[1:])
		if err != nil {
			return err
		}
		for name, cache := range caches {
			cleared, err := cache.ClearErrors(ctx)
			if err != nil {
				return fmt.Errorf("failed to clear %s errors: %w", name, err)
			}
			fmt.Fprintf(out, "  Cleared %d failed %s lookups\n", cleared, name)
		}
		return nil

	case "status":
		if err := manager.Ensure(ctx); err != nil {
			return err
		}
		counts, err := repository.NewAdminRepository(db).Counts(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "visitors:     %d\n", counts.Visitors)
		fmt.Fprintf(out, "sessions:     %d\n", counts.Sessions)
		fmt.Fprintf(out, "events:       %d\n", counts.Events)
		fmt.Fprintf(out, "ipinfo_cache: %d\n", counts.IPInfoCache)
		fmt.Fprintf(out, "ptr_cache:    %d\n", counts.PTRCache)
		return nil

	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// selectCaches returns the caches named in args, or both when none is named
func selectCaches(db database.DB, args []string) (map[string]repository.EnrichmentCacheRepository, error) {
	all := map[string]repository.EnrichmentCacheRepository{
		"ipinfo": repository.NewIPInfoCacheRepository(db),
		"ptr":    repository.NewPTRCacheRepository(db),
	}
	if len(args) == 0 {
		return all, nil
	}

	selected := make(map[string]repository.EnrichmentCacheRepository, len(args))
	for _, name := range args {
		cache, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("unknown cache: %s", name)
		}
		selected[name] = cache
	}
	return selected, nil
}
