package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/storage/postgres"
	"github.com/steveyegge/scout/internal/storage/sqlite"
	"github.com/steveyegge/scout/internal/types"
)

// ErrPersistFailed marks a persistence failure that survived retries
var ErrPersistFailed = errors.New("persist failed")

// PersistError is returned when a computed payload could not be stored. The
// payload itself is not lost: the caller still holds it and may retry.
type PersistError struct {
	Key types.NaturalKey
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Is matches ErrPersistFailed
func (e *PersistError) Is(target error) bool { return target == ErrPersistFailed }

// Classify is the retry classifier for storage errors
func Classify(err error) retry.Classification {
	if sqlite.IsTransient(err) || postgres.IsTransient(err) {
		return retry.Retryable
	}
	return retry.DefaultClassifier(err)
}

// Gateway is the persistence entry point used by runs: every call goes
// through the retry wrapper with the storage classifier.
type Gateway struct {
	store  Storage
	policy retry.Policy
	logger *slog.Logger

	// RetryOptions are appended to the gateway's own options
	RetryOptions []retry.Option
}

// NewGateway wraps a backend
func NewGateway(store Storage, policy retry.Policy, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{store: store, policy: policy, logger: logger}
}

func (g *Gateway) options() []retry.Option {
	return append([]retry.Option{retry.WithClassifier(Classify), retry.WithLogger(g.logger)}, g.RetryOptions...)
}

// Upsert stores payload under key, replacing any previous payload. A final
// failure is returned as a *PersistError.
func (g *Gateway) Upsert(ctx context.Context, key types.NaturalKey, payload json.RawMessage) (*types.PersistedDigest, error) {
	if err := key.Validate(); err != nil {
		return nil, &PersistError{Key: key, Err: err}
	}
	if !json.Valid(payload) {
		return nil, &PersistError{Key: key, Err: errors.New("payload is not valid JSON")}
	}

	d, err := retry.Do(ctx, g.policy, "upsert "+key.String(), func(ctx context.Context) (*types.PersistedDigest, error) {
		return g.store.UpsertDigest(ctx, key, payload)
	}, g.options()...)
	if err != nil {
		g.logger.Error("persist failed", "key", key.String(), "err", err)
		return nil, &PersistError{Key: key, Err: err}
	}
	g.logger.Info("digest persisted", "key", key.String(), "id", d.ID, "bytes", len(payload))
	return d, nil
}

// GetLatest returns the digest stored under key, or types.ErrNotFound
func (g *Gateway) GetLatest(ctx context.Context, key types.NaturalKey) (*types.PersistedDigest, error) {
	return retry.Do(ctx, g.policy, "get "+key.String(), func(ctx context.Context) (*types.PersistedDigest, error) {
		return g.store.GetLatest(ctx, key)
	}, g.options()...)
}

// History pages through digests for a source type, newest first
func (g *Gateway) History(ctx context.Context, sourceType types.SourceType, limit, offset int) ([]*types.PersistedDigest, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("limit and offset must be non-negative")
	}
	return retry.Do(ctx, g.policy, "history", func(ctx context.Context) ([]*types.PersistedDigest, error) {
		return g.store.History(ctx, sourceType, limit, offset)
	}, g.options()...)
}

// RecordRun stores a run record
func (g *Gateway) RecordRun(ctx context.Context, rec *types.RunRecord) error {
	return retry.DoErr(ctx, g.policy, "record run", func(ctx context.Context) error {
		return g.store.RecordRun(ctx, rec)
	}, g.options()...)
}

// ListRuns returns run records, most recent first
func (g *Gateway) ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.RunRecord, error) {
	return retry.Do(ctx, g.policy, "list runs", func(ctx context.Context) ([]*types.RunRecord, error) {
		return g.store.ListRuns(ctx, filter)
	}, g.options()...)
}

// Close closes the backend
func (g *Gateway) Close() error {
	return g.store.Close()
}
