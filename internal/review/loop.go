// Package review runs the bounded quality-review cycle over a briefing draft.
//
// The cycle is an explicit state machine (see types.Briefing.Transition):
//
//	Drafted -> UnderReview -> Approved
//	UnderReview -> RevisionRequested -> Revising -> Drafted (revision += 1)
//	Drafted -> Approved                 (forced)
//
// At most MaxRevisions revision cycles run. A draft still judged deficient
// after that is approved anyway with ForcedApproval set, so the caller can
// tell the output is degraded.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/steveyegge/scout/internal/types"
)

// DefaultMaxRevisions is the production revision cap
const DefaultMaxRevisions = 1

// Verdict is the judge's decision on one draft
type Verdict struct {
	Approved bool     `json:"approved"`
	Feedback []string `json:"feedback"`
}

// Judge evaluates a draft
type Judge interface {
	Judge(ctx context.Context, b *types.Briefing) (*Verdict, error)
}

// Reviser produces a new draft text addressing feedback (typically by
// re-running aggregation)
type Reviser interface {
	Revise(ctx context.Context, feedback []string) (string, error)
}

// ReviserFunc adapts a function to Reviser
type ReviserFunc func(ctx context.Context, feedback []string) (string, error)

// Revise implements Reviser
func (f ReviserFunc) Revise(ctx context.Context, feedback []string) (string, error) {
	return f(ctx, feedback)
}

// Config holds review loop settings
type Config struct {
	MaxRevisions int // default: DefaultMaxRevisions; 0 disables revisions
}

// Loop drives a draft to Approved
type Loop struct {
	judge        Judge
	maxRevisions int
	logger       *slog.Logger
}

// NewLoop creates a review loop. A negative MaxRevisions means the default.
func NewLoop(judge Judge, cfg Config, logger *slog.Logger) *Loop {
	if cfg.MaxRevisions < 0 {
		cfg.MaxRevisions = DefaultMaxRevisions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{judge: judge, maxRevisions: cfg.MaxRevisions, logger: logger}
}

// Run reviews draft until it is approved and returns it. Failures of the
// judge or the reviser never fail the run: they end the loop with a forced
// approval of the current draft. Run only returns an error for a draft that
// is not in the Drafted state.
func (l *Loop) Run(ctx context.Context, draft *types.Briefing, reviser Reviser) (*types.Briefing, error) {
	if draft == nil {
		return nil, errors.New("nil draft")
	}
	if draft.State != types.BriefingDrafted {
		return nil, fmt.Errorf("review requires a drafted briefing, got %s", draft.State)
	}
	b := draft

	for {
		// Graceful drain: no new judgment once the run is canceled
		if err := ctx.Err(); err != nil {
			l.logger.Warn("review skipped, run canceled", "run_id", b.RunID, "err", err)
			return l.force(b)
		}

		if err := b.Transition(types.BriefingUnderReview); err != nil {
			return nil, err
		}

		verdict, err := l.judge.Judge(ctx, b)
		if err != nil {
			l.logger.Warn("review judgment failed, approving current draft",
				"run_id", b.RunID, "revision", b.RevisionCount, "err", err)
			return l.force(b)
		}

		if verdict.Approved {
			l.logger.Info("briefing approved", "run_id", b.RunID, "revision", b.RevisionCount)
			if err := b.Transition(types.BriefingApproved); err != nil {
				return nil, err
			}
			return b, nil
		}

		b.Feedback = verdict.Feedback
		if b.RevisionCount >= l.maxRevisions {
			l.logger.Warn("briefing still deficient at revision cap, forcing approval",
				"run_id", b.RunID, "revision", b.RevisionCount, "feedback", len(verdict.Feedback))
			return l.force(b)
		}

		if err := b.Transition(types.BriefingRevisionRequested); err != nil {
			return nil, err
		}
		if err := b.Transition(types.BriefingRevising); err != nil {
			return nil, err
		}

		text, reviseErr := reviser.Revise(ctx, verdict.Feedback)
		if err := b.Transition(types.BriefingDrafted); err != nil {
			return nil, err
		}
		if reviseErr != nil {
			l.logger.Warn("revision failed, keeping previous draft",
				"run_id", b.RunID, "revision", b.RevisionCount, "err", reviseErr)
			return l.force(b)
		}
		b.Text = text
		l.logger.Info("briefing revised", "run_id", b.RunID, "revision", b.RevisionCount)
	}
}

func (l *Loop) force(b *types.Briefing) (*types.Briefing, error) {
	b.ForcedApproval = true
	if err := b.Transition(types.BriefingApproved); err != nil {
		return nil, err
	}
	return b, nil
}
