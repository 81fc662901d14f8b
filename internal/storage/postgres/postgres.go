package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/steveyegge/scout/internal/types"
)

// PostgresStorage implements the storage backend on PostgreSQL
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// Config holds PostgreSQL connection configuration
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	HealthCheck     time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DSN:             "postgres://scout@localhost:5432/scout?sslmode=prefer",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 1 * time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		HealthCheck:     1 * time.Minute,
	}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// New creates a PostgreSQL backend with connection pooling
func New(ctx context.Context, cfg *Config) (*PostgresStorage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheck > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheck
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Close closes the connection pool
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// UpsertDigest inserts the digest for key or replaces the payload of the
// existing row, atomically via ON CONFLICT on the natural key.
func (s *PostgresStorage) UpsertDigest(ctx context.Context, key types.NaturalKey, payload json.RawMessage) (*types.PersistedDigest, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	d := &types.PersistedDigest{Key: key, Payload: payload}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO digests (id, date, period, source_type, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (date, period, source_type) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`, uuid.NewString(), key.Date, string(key.Period), string(key.SourceType), string(payload),
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert digest %s: %w", key, err)
	}
	return d, nil
}

// GetLatest returns the digest stored under key
func (s *PostgresStorage) GetLatest(ctx context.Context, key types.NaturalKey) (*types.PersistedDigest, error) {
	query, args, err := digestSelect().
		Where(sq.Eq{"date": key.Date, "period": string(key.Period), "source_type": string(key.SourceType)}).
		ToSql()
	if err != nil {
		return nil, err
	}

	d, err := scanDigest(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("digest %s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get digest %s: %w", key, err)
	}
	return d, nil
}

// History lists digests for a source type, newest date first
func (s *PostgresStorage) History(ctx context.Context, sourceType types.SourceType, limit, offset int) ([]*types.PersistedDigest, error) {
	b := digestSelect().OrderBy("date DESC", "period ASC", "source_type ASC")
	if sourceType != "" {
		b = b.Where(sq.Eq{"source_type": string(sourceType)})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []*types.PersistedDigest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordRun stores (or replaces) a run record
func (s *PostgresStorage) RecordRun(ctx context.Context, rec *types.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (id, kind, date, period, source_type, status, record, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			record = EXCLUDED.record
	`, rec.ID, string(rec.Kind), rec.Date, string(rec.Period), string(rec.SourceType),
		string(rec.Status), string(data), rec.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.ID, err)
	}
	return nil
}

// ListRuns returns run records, most recent first
func (s *PostgresStorage) ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.RunRecord, error) {
	b := psql.Select("record").From("runs").OrderBy("started_at DESC")
	if filter.Kind != "" {
		b = b.Where(sq.Eq{"kind": string(filter.Kind)})
	}
	if filter.SourceType != "" {
		b = b.Where(sq.Eq{"source_type": string(filter.SourceType)})
	}
	if filter.Status != "" {
		b = b.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		b = b.Offset(uint64(filter.Offset))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*types.RunRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec types.RunRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode run record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// IsTransient reports whether err is worth retrying: serialization failures
// and deadlocks (class 40), resource exhaustion (53), connection errors (08),
// admin shutdown, or anything pgconn marks safe to retry.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "40"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "57P01":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

func digestSelect() sq.SelectBuilder {
	return psql.Select("id", "date", "period", "source_type", "payload", "created_at", "updated_at").From("digests")
}

func scanDigest(row pgx.Row) (*types.PersistedDigest, error) {
	var (
		d              types.PersistedDigest
		period, source string
		payload        []byte
	)
	if err := row.Scan(&d.ID, &d.Key.Date, &period, &source, &payload, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Key.Period = types.Period(period)
	d.Key.SourceType = types.SourceType(source)
	d.Payload = json.RawMessage(payload)
	return &d, nil
}
