package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/discovery"
	"github.com/steveyegge/scout/internal/logging"
	"github.com/steveyegge/scout/internal/types"
)

// DiscoveryPayload is what a discovery run persists under
// (date, daily, discovery)
type DiscoveryPayload struct {
	RunID         string              `json:"run_id"`
	Date          string              `json:"date"`
	Opportunities []types.Opportunity `json:"opportunities"`
	PainPoints    int                 `json:"pain_points"`
	Candidates    int                 `json:"candidates"`
	Errors        []string            `json:"errors,omitempty"`
	GeneratedAt   time.Time           `json:"generated_at"`
}

// DiscoveryKey is the natural key a discovery run for date persists under
func DiscoveryKey(date string) types.NaturalKey {
	return types.NaturalKey{Date: date, Period: types.PeriodDaily, SourceType: types.SourceDiscovery}
}

// RunDiscovery mines pain points, filters, validates and ranks them, and
// persists the opportunity list. Errors follow RunDigest.
func (r *Runner) RunDiscovery(ctx context.Context, date string, opts Options) (*types.RunRecord, error) {
	key := DiscoveryKey(date)
	if err := key.Validate(); err != nil {
		return nil, err
	}

	rec := r.newRecord(types.RunKindDiscovery, key, opts)
	logger := logging.ForRun(r.logger, rec.ID, string(rec.Kind)).With("key", key.String())

	lock, err := r.lock(key, rec, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release run lock", "err", err)
		}
	}()

	dcfg := r.cfg.Discovery
	dcfg.Workers = workers(dcfg.Workers, opts)

	gov, err := r.newGovernor(dcfg.ApplyCeilings)
	if err != nil {
		return nil, err
	}
	logger.Info("discovery run started", "dry_run", opts.DryRun, "sources", len(dcfg.Sources))

	r.discover(ctx, rec, dcfg, gov, logger)
	return r.finish(ctx, rec, gov, logger)
}

func (r *Runner) discover(ctx context.Context, rec *types.RunRecord, dcfg discovery.Config, gov *cost.Governor, logger *slog.Logger) {
	miners, err := r.miners(r.sourceDeps(gov, logger))
	if err != nil {
		fail(rec, logger, fmt.Errorf("failed to build pain-point sources: %w", err))
		return
	}
	if r.validator == nil {
		logger.Warn("no trend validator configured, demand signals will be empty")
	}

	pipeline := discovery.NewPipeline(dcfg, miners, r.validator, r.invoker(gov, logger), logger)
	res, err := pipeline.Run(ctx)

	var errs []string
	if res != nil {
		rec.ItemsFetched = len(res.PainPoints)
		rec.Opportunities = len(res.Opportunities)
		for i := range res.Errors {
			msg := res.Errors[i].Error()
			errs = append(errs, msg)
			rec.AddError("%s", msg)
		}
	}
	if err != nil {
		fail(rec, logger, err)
		return
	}

	payload, err := json.Marshal(DiscoveryPayload{
		RunID:         rec.ID,
		Date:          rec.Date,
		Opportunities: res.Opportunities,
		PainPoints:    len(res.PainPoints),
		Candidates:    len(res.Candidates),
		Errors:        errs,
		GeneratedAt:   r.now().UTC(),
	})
	if err != nil {
		fail(rec, logger, fmt.Errorf("failed to encode payload: %w", err))
		return
	}
	rec.Payload = payload

	rec.Status = types.RunSucceeded
	if res.Degraded() {
		rec.Status = types.RunSucceededDegraded
	}
}
