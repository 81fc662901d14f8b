package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/steveyegge/scout/internal/cost"
)

// ApplyEnv overlays environment variables onto cfg.
//
// Environment variables:
//   - SCOUT_DB_BACKEND, SCOUT_DB_PATH, SCOUT_DB_DSN: storage backend and location
//   - SCOUT_MODEL: generation model for aggregation and review
//   - SCOUT_WORKERS: worker pool size for extraction and discovery
//   - SCOUT_MAX_REVISIONS: review revision cap
//   - SCOUT_MAX_RETRIES: retries after the first attempt
//   - SCOUT_LOG_LEVEL, SCOUT_LOG_FORMAT: logging
//   - SCOUT_LOCK_DIR: run lock directory
//   - ANTHROPIC_API_KEY, SCOUT_YOUTUBE_API_KEY, SCOUT_TRENDS_API_KEY: credentials
//   - SCOUT_BUDGET_<CLASS>: per-run ceilings (see cost.LoadFromEnv)
//
// Returns an error if any numeric variable does not parse.
func ApplyEnv(cfg *Config) error {
	parseEnvString("SCOUT_DB_BACKEND", &cfg.Storage.Backend)
	parseEnvString("SCOUT_DB_PATH", &cfg.Storage.Path)
	parseEnvString("SCOUT_DB_DSN", &cfg.Storage.DSN)
	parseEnvString("SCOUT_MODEL", &cfg.AI.Model)
	parseEnvString("SCOUT_LOG_LEVEL", &cfg.Logging.Level)
	parseEnvString("SCOUT_LOG_FORMAT", &cfg.Logging.Format)
	parseEnvString("SCOUT_LOCK_DIR", &cfg.LockDir)
	parseEnvString("ANTHROPIC_API_KEY", &cfg.AI.APIKey)
	parseEnvString("SCOUT_YOUTUBE_API_KEY", &cfg.Sources.Videos.APIKey)
	parseEnvString("SCOUT_TRENDS_API_KEY", &cfg.Trends.APIKey)

	workers := 0
	if err := parseEnvInt("SCOUT_WORKERS", &workers); err != nil {
		return err
	}
	if workers != 0 {
		cfg.Digest.Workers = workers
		cfg.Discovery.Workers = workers
	}
	if err := parseEnvInt("SCOUT_MAX_REVISIONS", &cfg.Digest.MaxRevisions); err != nil {
		return err
	}
	if err := parseEnvInt("SCOUT_MAX_RETRIES", &cfg.Retry.MaxRetries); err != nil {
		return err
	}

	cfg.Budget = cost.LoadFromEnv(cfg.Budget)
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString reads a string from an environment variable
func parseEnvString(key string, dest *string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}
