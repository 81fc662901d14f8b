package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/steveyegge/scout/internal/storage/postgres"
	"github.com/steveyegge/scout/internal/storage/sqlite"
	"github.com/steveyegge/scout/internal/types"
)

// Storage defines the interface for persistence backends
type Storage interface {
	// Digests, unique per natural key
	UpsertDigest(ctx context.Context, key types.NaturalKey, payload json.RawMessage) (*types.PersistedDigest, error)
	GetLatest(ctx context.Context, key types.NaturalKey) (*types.PersistedDigest, error)
	History(ctx context.Context, sourceType types.SourceType, limit, offset int) ([]*types.PersistedDigest, error)

	// Run history
	RecordRun(ctx context.Context, rec *types.RunRecord) error
	ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.RunRecord, error)

	// Lifecycle
	Close() error
}

var (
	_ Storage = (*sqlite.SQLiteStorage)(nil)
	_ Storage = (*postgres.PostgresStorage)(nil)
)

// Backend names
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds database configuration
type Config struct {
	// Backend is "sqlite" (default) or "postgres"
	Backend string `yaml:"backend" json:"backend"`

	// Path is the SQLite database file path
	// Default: ".scout/scout.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string `yaml:"path" json:"path"`

	// DSN is the PostgreSQL connection string
	DSN string `yaml:"dsn" json:"dsn"`

	MaxConns int32 `yaml:"max_conns" json:"max_conns"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendSQLite,
		Path:    ".scout/scout.db",
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendSQLite:
		return nil
	case BackendPostgres:
		if c.DSN == "" {
			return fmt.Errorf("storage dsn is required for the postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}

// NewStorage opens the configured backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.DSN = cfg.DSN
		if cfg.MaxConns > 0 {
			pgCfg.MaxConns = cfg.MaxConns
		}
		return postgres.New(ctx, pgCfg)
	default:
		path := cfg.Path
		if path == "" {
			path = DefaultConfig().Path
		}
		return sqlite.New(ctx, path)
	}
}
