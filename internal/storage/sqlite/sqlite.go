package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/steveyegge/scout/internal/storage/migrations"
	"github.com/steveyegge/scout/internal/types"
)

// timeLayout is fixed-width so text columns sort chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStorage stores digests and run history in a SQLite file
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (creating if needed) the database at path and migrates it
func New(ctx context.Context, path string) (*SQLiteStorage, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := migrations.NewManager(schemaMigrations...).Apply(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// UpsertDigest inserts the digest for key or replaces the payload of the
// existing row. A single statement keeps it atomic against concurrent callers.
func (s *SQLiteStorage) UpsertDigest(ctx context.Context, key types.NaturalKey, payload json.RawMessage) (*types.PersistedDigest, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	d := &types.PersistedDigest{Key: key, Payload: payload}
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO digests (id, date, period, source_type, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date, period, source_type) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at
	`, uuid.NewString(), key.Date, string(key.Period), string(key.SourceType),
		string(payload), now.Format(timeLayout), now.Format(timeLayout),
	).Scan(&d.ID, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert digest %s: %w", key, err)
	}

	if d.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	if d.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at %q: %w", updatedAt, err)
	}
	return d, nil
}

// GetLatest returns the digest stored under key
func (s *SQLiteStorage) GetLatest(ctx context.Context, key types.NaturalKey) (*types.PersistedDigest, error) {
	query, args, err := digestSelect().
		Where(sq.Eq{"date": key.Date, "period": string(key.Period), "source_type": string(key.SourceType)}).
		ToSql()
	if err != nil {
		return nil, err
	}

	d, err := scanDigest(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("digest %s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get digest %s: %w", key, err)
	}
	return d, nil
}

// History lists digests for a source type, newest date first. An empty
// sourceType lists every source.
func (s *SQLiteStorage) History(ctx context.Context, sourceType types.SourceType, limit, offset int) ([]*types.PersistedDigest, error) {
	b := digestSelect().OrderBy("date DESC", "period ASC", "source_type ASC")
	if sourceType != "" {
		b = b.Where(sq.Eq{"source_type": string(sourceType)})
	}
	b = paginate(b, limit, offset)

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLiteStorage) RecordRun(ctx context.Context, rec *types.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, date, period, source_type, status, record, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			record = excluded.record
	`, rec.ID, string(rec.Kind), rec.Date, string(rec.Period), string(rec.SourceType),
		string(rec.Status), string(data), rec.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.ID, err)
	}
	return nil
}

// ListRuns returns run records, most recent first
func (s *SQLiteStorage) ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.RunRecord, error) {
	b := sq.Select("record").From("runs").OrderBy("started_at DESC")
	if filter.Kind != "" {
		b = b.Where(sq.Eq{"kind": string(filter.Kind)})
	}
	if filter.SourceType != "" {
		b = b.Where(sq.Eq{"source_type": string(filter.SourceType)})
	}
	if filter.Status != "" {
		b = b.Where(sq.Eq{"status": string(filter.Status)})
	}
	b = paginate(b, filter.Limit, filter.Offset)

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*types.RunRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec types.RunRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode run record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// IsTransient reports whether err is a SQLite contention error worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, sqlite3.BUSY) || errors.Is(err, sqlite3.LOCKED)
}

// paginate applies LIMIT/OFFSET; SQLite only accepts OFFSET after a LIMIT
func paginate(b sq.SelectBuilder, limit, offset int) sq.SelectBuilder {
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		if limit <= 0 {
			b = b.Limit(math.MaxInt64)
		}
		b = b.Offset(uint64(offset))
	}
	return b
}

func digestSelect() sq.SelectBuilder {
	return sq.Select("id", "date", "period", "source_type", "payload", "created_at", "updated_at").From("digests")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDigest(row scanner) (*types.PersistedDigest, error) {
	var (
		d                    types.PersistedDigest
		period, source       string
		payload              string
		createdAt, updatedAt string
	)
	if err := row.Scan(&d.ID, &d.Key.Date, &period, &source, &payload, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.Key.Period = types.Period(period)
	d.Key.SourceType = types.SourceType(source)
	d.Payload = json.RawMessage(payload)

	var err error
	if d.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	if d.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at %q: %w", updatedAt, err)
	}
	return &d, nil
}
