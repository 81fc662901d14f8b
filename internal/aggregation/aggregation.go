// Package aggregation combines an ordered summary list into one briefing draft.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/types"
)

// StageName is used in stage errors and log attributes
const StageName = "aggregation"

// Config holds aggregation settings
type Config struct {
	Model     string // empty means ai.GetDefaultModel()
	MaxTokens int    // default: 4096
}

// Aggregator makes the single aggregation call
type Aggregator struct {
	invoker *ai.Invoker
	cfg     Config
	logger  *slog.Logger
}

// New creates an aggregator
func New(invoker *ai.Invoker, cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.Model == "" {
		cfg.Model = ai.GetDefaultModel()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{invoker: invoker, cfg: cfg, logger: logger}
}

// Aggregate produces a Drafted briefing from summaries, in the order given.
// feedback is the reviewer's notes when this is a revision, nil otherwise.
// Any failure is returned as a *types.StageError: no partial briefing exists.
func (a *Aggregator) Aggregate(ctx context.Context, runID string, summaries []types.Summary, feedback []string) (*types.Briefing, error) {
	if len(summaries) == 0 {
		return nil, &types.StageError{Stage: StageName, Err: errors.New("no summaries")}
	}

	resp, err := a.invoker.Invoke(ctx, cost.ResourceGeneration, ai.Request{
		Operation: "aggregate",
		System:    systemPrompt,
		Prompt:    buildPrompt(summaries, feedback),
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
	})
	if err != nil {
		return nil, &types.StageError{Stage: StageName, Err: err}
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, &types.StageError{Stage: StageName, Err: fmt.Errorf("empty briefing")}
	}

	a.logger.Info("briefing drafted", "run_id", runID, "summaries", len(summaries),
		"revision", len(feedback) > 0, "chars", len(text))

	return &types.Briefing{
		RunID:        runID,
		Text:         text,
		State:        types.BriefingDrafted,
		SummaryCount: len(summaries),
	}, nil
}
