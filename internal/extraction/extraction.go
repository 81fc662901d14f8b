// Package extraction turns items into structured summaries, one generation
// call per item, on a bounded worker pool.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/fanout"
	"github.com/steveyegge/scout/internal/types"
)

// StageName is used in stage errors and log attributes
const StageName = "extraction"

// Config holds extraction settings
type Config struct {
	Workers   int    // worker pool size (default: fanout.DefaultWorkers)
	Model     string // empty means ai.GetSimpleTaskModel()
	MaxTokens int    // default: 1024
	MaxChars  int    // item text is truncated to this many characters (default: 12000)
}

// ExtractionError records one item whose extraction failed
type ExtractionError struct {
	ItemID string
	Index  int
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract item %s (#%d): %v", e.ItemID, e.Index, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Stage is the extraction fan-out
type Stage struct {
	invoker *ai.Invoker
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an extraction stage
func New(invoker *ai.Invoker, cfg Config, logger *slog.Logger) *Stage {
	if cfg.Workers < 1 {
		cfg.Workers = fanout.DefaultWorkers
	}
	if cfg.Model == "" {
		cfg.Model = ai.GetSimpleTaskModel()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 12000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{invoker: invoker, cfg: cfg, logger: logger, now: time.Now}
}

// ExtractAll extracts every item. Summaries come back in item order with
// failed items omitted; each failure is listed in the returned errors. The
// stage fails (a *types.StageError) only when no summary was produced.
func (s *Stage) ExtractAll(ctx context.Context, items []types.Item) ([]types.Summary, []ExtractionError, error) {
	if len(items) == 0 {
		return nil, nil, &types.StageError{Stage: StageName, Err: errors.New("no items to extract")}
	}

	slots := make([]*types.Summary, len(items))
	errs := fanout.Run(ctx, len(items), s.cfg.Workers, func(ctx context.Context, i int) error {
		sum, err := s.extract(ctx, &items[i])
		if err != nil {
			return err
		}
		slots[i] = sum
		return nil
	})

	summaries := make([]types.Summary, 0, len(items))
	var failures []ExtractionError
	for i, slot := range slots {
		if errs[i] != nil {
			failures = append(failures, ExtractionError{ItemID: items[i].ID, Index: i, Err: errs[i]})
			if errors.Is(errs[i], cost.ErrBudgetDenied) {
				s.logger.Debug("extraction skipped", "item_id", items[i].ID, "err", errs[i])
			} else {
				s.logger.Warn("extraction failed", "item_id", items[i].ID, "err", errs[i])
			}
			continue
		}
		summaries = append(summaries, *slot)
	}

	s.logger.Info("extraction complete", "stage", StageName,
		"items", len(items), "summaries", len(summaries), "failed", len(failures))

	if len(summaries) == 0 {
		return nil, failures, &types.StageError{
			Stage: StageName,
			Err:   fmt.Errorf("all %d items failed (first: %w)", len(items), failures[0].Err),
		}
	}
	return summaries, failures, nil
}

func (s *Stage) extract(ctx context.Context, item *types.Item) (*types.Summary, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	fields, err := ai.InvokeJSON[map[string]any](ctx, s.invoker, cost.ResourceExtraction, ai.Request{
		Operation: "extract",
		System:    systemPrompt,
		Prompt:    buildPrompt(item, s.cfg.MaxChars),
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	return &types.Summary{
		ItemID:            item.ID,
		Title:             item.Title,
		CategorizedFields: normalizeFields(fields),
		ExtractedAt:       s.now().UTC(),
	}, nil
}

// normalizeFields keeps the known categories, accepting a bare string where a
// list was expected, and drops blank entries.
func normalizeFields(raw map[string]any) map[string][]string {
	out := make(map[string][]string, len(types.SummaryFields))
	for _, field := range types.SummaryFields {
		var values []string
		switch v := raw[field].(type) {
		case string:
			values = appendNonBlank(values, v)
		case []any:
			for _, e := range v {
				if str, ok := e.(string); ok {
					values = appendNonBlank(values, str)
				}
			}
		}
		out[field] = values
	}
	return out
}

func appendNonBlank(values []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		values = append(values, s)
	}
	return values
}
