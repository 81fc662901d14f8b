package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steveyegge/scout/internal/aggregation"
	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/extraction"
	"github.com/steveyegge/scout/internal/logging"
	"github.com/steveyegge/scout/internal/review"
	"github.com/steveyegge/scout/internal/types"
)

// DigestPayload is what a digest run persists under its natural key
type DigestPayload struct {
	Key         types.NaturalKey `json:"key"`
	RunID       string           `json:"run_id"`
	Briefing    *types.Briefing  `json:"briefing"`
	Summaries   []types.Summary  `json:"summaries"`
	Failed      []FailedItem     `json:"failed,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// FailedItem is an item whose extraction failed
type FailedItem struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

// RunDigest fetches the items for (date, period, sourceType), extracts,
// aggregates and reviews them, and persists the approved briefing.
//
// Computation failures never surface as an error: they come back as a
// record with status Failed. The error return is reserved for an invalid
// key, a held run lock, and persistence failure; in the last case the record
// is returned as well, with its payload, for Persist.
func (r *Runner) RunDigest(ctx context.Context, date string, period types.Period, sourceType types.SourceType, opts Options) (*types.RunRecord, error) {
	key := types.NaturalKey{Date: date, Period: period, SourceType: sourceType}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if sourceType == types.SourceDiscovery {
		return nil, fmt.Errorf("%s is not a digest source", sourceType)
	}
	day, _ := time.Parse(types.DateLayout, date)

	rec := r.newRecord(types.RunKindDigest, key, opts)
	logger := logging.ForRun(r.logger, rec.ID, string(rec.Kind)).With("key", key.String())

	if !opts.Force && r.cfg.Digest.Skips(period, day) {
		rec.Status = types.RunSkipped
		logger.Info("run skipped on this weekday", "weekday", day.Weekday().String())
		return r.finish(ctx, rec, nil, logger)
	}

	lock, err := r.lock(key, rec, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release run lock", "err", err)
		}
	}()

	gov, err := r.newGovernor(nil)
	if err != nil {
		return nil, err
	}
	logger.Info("digest run started", "dry_run", opts.DryRun)

	r.digest(ctx, rec, day, gov, opts, logger)
	return r.finish(ctx, rec, gov, logger)
}

// digest runs fetch, extraction, aggregation and review, setting rec's
// status, counters and payload
func (r *Runner) digest(ctx context.Context, rec *types.RunRecord, day time.Time, gov *cost.Governor, opts Options, logger *slog.Logger) {
	src, err := r.sources(r.sourceDeps(gov, logger)).Get(rec.SourceType)
	if err != nil {
		fail(rec, logger, &types.StageError{Stage: "fetch", Err: err})
		return
	}

	since := day.Add(24*time.Hour - rec.Period.Lookback())
	items, err := src.Fetch(ctx, since)
	if err != nil {
		fail(rec, logger, &types.StageError{Stage: "fetch", Err: err})
		return
	}
	rec.ItemsFetched = len(items)
	logger.Info("items fetched", "stage", "fetch", "items", len(items), "since", since.Format(time.RFC3339))
	if len(items) == 0 {
		fail(rec, logger, &types.StageError{Stage: "fetch", Err: errors.New("no items since " + since.Format(time.RFC3339))})
		return
	}

	inv := r.invoker(gov, logger)
	stage := extraction.New(inv, extraction.Config{
		Workers:  workers(r.cfg.Digest.Workers, opts),
		Model:    r.simpleModel(),
		MaxChars: r.cfg.Digest.MaxChars,
	}, logger)

	summaries, failures, err := stage.ExtractAll(ctx, items)
	rec.ItemsFailed = len(failures)
	failed := make([]FailedItem, 0, len(failures))
	for _, f := range failures {
		rec.AddError("extract %s: %v", f.ItemID, f.Err)
		failed = append(failed, FailedItem{ItemID: f.ItemID, Error: f.Err.Error()})
	}
	if err != nil {
		fail(rec, logger, err)
		return
	}

	agg := aggregation.New(inv, aggregation.Config{Model: r.cfg.AI.Model, MaxTokens: r.cfg.AI.MaxTokens}, logger)
	draft, err := agg.Aggregate(ctx, rec.ID, summaries, nil)
	if err != nil {
		fail(rec, logger, err)
		return
	}

	loop := review.NewLoop(&review.GenerationJudge{Invoker: inv, Model: r.cfg.AI.Model},
		review.Config{MaxRevisions: r.cfg.Digest.MaxRevisions}, logger)
	briefing, err := loop.Run(ctx, draft, review.ReviserFunc(func(ctx context.Context, feedback []string) (string, error) {
		revised, err := agg.Aggregate(ctx, rec.ID, summaries, feedback)
		if err != nil {
			return "", err
		}
		return revised.Text, nil
	}))
	if err != nil {
		fail(rec, logger, &types.StageError{Stage: "review", Err: err})
		return
	}
	rec.RevisionCount = briefing.RevisionCount
	rec.ForcedApproval = briefing.ForcedApproval

	payload, err := json.Marshal(DigestPayload{
		Key:         rec.Key(),
		RunID:       rec.ID,
		Briefing:    briefing,
		Summaries:   summaries,
		Failed:      failed,
		GeneratedAt: r.now().UTC(),
	})
	if err != nil {
		fail(rec, logger, fmt.Errorf("failed to encode payload: %w", err))
		return
	}
	rec.Payload = payload

	rec.Status = types.RunSucceeded
	if rec.ItemsFailed > 0 || rec.ForcedApproval {
		rec.Status = types.RunSucceededDegraded
	}
}

func (r *Runner) simpleModel() string {
	if r.cfg.AI.SimpleModel != "" {
		return r.cfg.AI.SimpleModel
	}
	return ai.GetSimpleTaskModel()
}
