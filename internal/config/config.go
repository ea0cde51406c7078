package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration values for the application
type Config struct {
	Port              string   `validate:"required,numeric"`
	Environment       string   `validate:"required"`
	LogLevel          string   `validate:"oneof=debug info warn warning error fatal"`
	DatabaseURL       string   // empty disables ingestion writes and admin data endpoints
	AdminToken        string   // static admin secret; also signs the admin session cookie
	IPInfoToken       string   // optional, anonymous ipinfo lookups work without it
	IPInfoBaseURL     string   `validate:"required,url"`
	GeoIPDBPath       string   `validate:"omitempty,file"`
	RedisURL          string   `validate:"omitempty,url"`
	BotScoreThreshold int      `validate:"min=1,max=100"`
	AllowedHosts      []string `validate:"dive,hostname_port|hostname_rfc1123"`
	AdminRateLimit    int      `validate:"min=1"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Environment:       getEnv("ENVIRONMENT", "production"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		DatabaseURL:       getEnv("DATABASE_URL", getEnv("POSTGRES_URL", "")),
		AdminToken:        getEnv("ADMIN_TOKEN", ""),
		IPInfoToken:       getEnv("IPINFO_TOKEN", ""),
		IPInfoBaseURL:     strings.TrimRight(getEnv("IPINFO_BASE_URL", "https://ipinfo.io"), "/"),
		GeoIPDBPath:       getEnv("GEOIP_DB_PATH", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		BotScoreThreshold: getIntEnv("BOT_SCORE_THRESHOLD", 6),
		AllowedHosts:      parseHosts(getEnv("ALLOWED_HOSTS", getEnv("REPORT_ALLOWED_HOSTS", ""))),
		AdminRateLimit:    getIntEnv("ADMIN_RATE_LIMIT", 120),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values against their struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DatabaseConfigured reports whether a Postgres DSN is set
func (c *Config) DatabaseConfigured() bool {
	return c.DatabaseURL != ""
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getIntEnv gets an integer environment variable, ignoring unparsable values
func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

// parseHosts parses a comma-separated host list into a lower-cased slice.
// Entries given as full URLs are reduced to their host.
func parseHosts(hosts string) []string {
	if hosts == "" {
		return []string{}
	}

	parts := strings.Split(hosts, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		trimmed = strings.TrimPrefix(trimmed, "https://")
		trimmed = strings.TrimPrefix(trimmed, "http://")
		trimmed = strings.TrimRight(trimmed, "/")
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
