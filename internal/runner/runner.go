// Package runner is the run trigger: it wires one digest or discovery run
// from configuration, owns its RunRecord and governor, and hands the result
// to the persistence gateway.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/config"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/discovery"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/sources"
	"github.com/steveyegge/scout/internal/storage"
	"github.com/steveyegge/scout/internal/trends"
	"github.com/steveyegge/scout/internal/types"
)

// Options are the per-invocation switches a caller can set
type Options struct {
	// DryRun computes everything but takes no lock and persists nothing
	DryRun bool

	// Concurrency overrides the configured worker count when > 0
	Concurrency int

	// Force bypasses the day-of-week skip rule
	Force bool
}

// Deps are the collaborators a Runner needs. Config, Generator and Store are
// required; the rest default from Config.
type Deps struct {
	Config    *config.Config
	Generator ai.Generator
	Store     *storage.Gateway
	Logger    *slog.Logger

	// Sources builds the digest source registry for one run
	Sources func(sources.Deps) *sources.Registry

	// Miners builds the pain-point source registry for one discovery run
	Miners func(sources.Deps) (*discovery.Registry, error)

	// Validator overrides the trend validator built from Config.Trends
	Validator discovery.Validator

	Now func() time.Time

	// RetryOptions are appended to every retry the run performs (tests use
	// retry.WithSleeper to skip real backoff)
	RetryOptions []retry.Option
}

// Runner executes runs. It is safe for concurrent use: every run gets its
// own governor, and only the generation circuit breaker is shared.
type Runner struct {
	cfg       *config.Config
	gen       ai.Generator
	store     *storage.Gateway
	logger    *slog.Logger
	sources   func(sources.Deps) *sources.Registry
	miners    func(sources.Deps) (*discovery.Registry, error)
	validator discovery.Validator
	breaker   *retry.CircuitBreaker
	now       func() time.Time
	retryOpts []retry.Option
}

// New creates a runner
func New(deps Deps) (*Runner, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	cfg := deps.Config
	r := &Runner{
		cfg:       cfg,
		gen:       deps.Generator,
		store:     deps.Store,
		logger:    deps.Logger,
		sources:   deps.Sources,
		miners:    deps.Miners,
		validator: deps.Validator,
		now:       deps.Now,
		retryOpts: deps.RetryOptions,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.sources == nil {
		r.sources = func(d sources.Deps) *sources.Registry {
			return sources.NewRegistryFromConfig(&cfg.Sources, d)
		}
	}
	if r.miners == nil {
		r.miners = func(d sources.Deps) (*discovery.Registry, error) {
			return sources.NewMinerRegistry(&cfg.Sources, d)
		}
	}
	if r.validator == nil && cfg.Trends.BaseURL != "" {
		v, err := trends.NewHTTPValidator(cfg.Trends, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create trend validator: %w", err)
		}
		r.validator = v
	}
	if cfg.Retry.BreakerEnabled {
		r.breaker = retry.NewCircuitBreaker("generation",
			cfg.Retry.BreakerFailureThreshold, cfg.Retry.BreakerSuccessThreshold,
			cfg.Retry.BreakerOpenTimeout, r.logger)
	}
	return r, nil
}

func (r *Runner) newRecord(kind types.RunKind, key types.NaturalKey, opts Options) *types.RunRecord {
	return &types.RunRecord{
		ID:         uuid.New().String(),
		Kind:       kind,
		Date:       key.Date,
		Period:     key.Period,
		SourceType: key.SourceType,
		DryRun:     opts.DryRun,
		StartedAt:  r.now().UTC(),
	}
}

// newGovernor builds the run-scoped governor from a copy of the budget
func (r *Runner) newGovernor(adjust func(*cost.Config)) (*cost.Governor, error) {
	budget := cost.DefaultConfig()
	if r.cfg.Budget != nil {
		budget = r.cfg.Budget.Clone()
	}
	if adjust != nil {
		adjust(budget)
	}
	gov, err := cost.NewGovernor(budget)
	if err != nil {
		return nil, fmt.Errorf("failed to create governor: %w", err)
	}
	return gov, nil
}

// invoker returns the generation invoker for one run. It carries the shared
// circuit breaker so a dead service stops every run at once.
func (r *Runner) invoker(gov *cost.Governor, logger *slog.Logger) *ai.Invoker {
	inv := ai.NewInvoker(r.gen, gov, logger)
	inv.Policy = r.cfg.Retry.Policy()
	inv.Policy.Breaker = r.breaker
	inv.RetryOptions = r.retryOpts
	return inv
}

func (r *Runner) sourceDeps(gov *cost.Governor, logger *slog.Logger) sources.Deps {
	return sources.Deps{
		Governor:     gov,
		Policy:       r.cfg.Retry.Policy(),
		Logger:       logger,
		RetryOptions: r.retryOpts,
	}
}

func (r *Runner) lock(key types.NaturalKey, rec *types.RunRecord, opts Options) (*storage.RunLock, error) {
	if opts.DryRun || r.cfg.LockDir == "" {
		return nil, nil
	}
	return storage.AcquireRunLock(r.cfg.LockDir, key, rec.ID)
}

func workers(configured int, opts Options) int {
	if opts.Concurrency > 0 {
		return opts.Concurrency
	}
	return configured
}

// fail marks the run failed with err
func fail(rec *types.RunRecord, logger *slog.Logger, err error) {
	rec.Status = types.RunFailed
	rec.AddError("%v", err)
	logger.Error("run failed", "err", err)
}

// finish copies the governor state onto rec, then persists the payload and
// the record unless this is a dry run. Persistence is detached from run
// cancellation so a computed result is not dropped during a drain. The
// returned error is a *storage.PersistError; rec is complete either way.
func (r *Runner) finish(ctx context.Context, rec *types.RunRecord, gov *cost.Governor, logger *slog.Logger) (*types.RunRecord, error) {
	if gov != nil {
		snap := gov.Snapshot()
		rec.CallCounts = snap.Counts
		rec.DeniedCounts = snap.Denied
		rec.CostEstimate = snap.EstimatedCost
	}
	rec.CompletedAt = r.now().UTC()

	attrs := []any{"status", rec.Status, "calls", rec.CallCounts, "cost", fmt.Sprintf("$%.4f", rec.CostEstimate),
		"duration", rec.CompletedAt.Sub(rec.StartedAt).Round(time.Millisecond)}
	if rec.DryRun {
		logger.Info("dry run complete, nothing persisted", attrs...)
		return rec, nil
	}

	ctx = context.WithoutCancel(ctx)
	var persistErr error
	if rec.Status != types.RunFailed && rec.Status != types.RunSkipped && rec.Payload != nil {
		persistErr = r.persist(ctx, rec)
	}
	r.recordRun(ctx, rec, logger)

	logger.Info("run complete", append(attrs, "persisted", rec.Persisted)...)
	return rec, persistErr
}

// Persist stores rec's payload under its natural key and updates the run
// history. It retries persistence of a run whose payload was computed but
// not stored, without recomputing anything.
func (r *Runner) Persist(ctx context.Context, rec *types.RunRecord) error {
	if rec == nil || rec.Payload == nil {
		return errors.New("run has no payload to persist")
	}
	if rec.DryRun {
		return errors.New("dry runs are not persisted")
	}
	err := r.persist(ctx, rec)
	r.recordRun(ctx, rec, r.logger.With("run_id", rec.ID))
	return err
}

func (r *Runner) persist(ctx context.Context, rec *types.RunRecord) error {
	if _, err := r.store.Upsert(ctx, rec.Key(), rec.Payload); err != nil {
		rec.Persisted = false
		rec.PersistError = err.Error()
		return err
	}
	rec.Persisted = true
	rec.PersistError = ""
	return nil
}

// recordRun stores the run history entry. Its failure is logged but does not
// change the outcome of the run.
func (r *Runner) recordRun(ctx context.Context, rec *types.RunRecord, logger *slog.Logger) {
	if err := r.store.RecordRun(ctx, rec); err != nil {
		logger.Warn("failed to record run", "err", err)
	}
}
