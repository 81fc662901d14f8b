// Package discovery turns mined complaint text into a ranked list of product
// opportunities.
//
// The pipeline runs four phases strictly in sequence, each on the full output
// of the previous one:
//
//  1. Mine: one call per (source, query) across every configured source
//  2. Filter: batched generation calls keep the viable pain points
//  3. Validate: one demand lookup per candidate
//  4. Rank: weighted score, stable sort, top-K
//
// Mine, Filter and Validate are bounded fan-outs sharing the run's governor
// and retry policy. A failed or budget-denied unit drops only its own
// contribution; the phase error list records it and the run is degraded.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/types"
)

// Phase names a pipeline phase
type Phase string

const (
	PhaseMine     Phase = "mine"
	PhaseFilter   Phase = "filter"
	PhaseValidate Phase = "validate"
	PhaseRank     Phase = "rank"
)

// PhaseError records one failed unit of work within a phase
type PhaseError struct {
	Phase Phase
	Unit  string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Unit, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Denied reports whether the unit was skipped for budget rather than failed
func (e *PhaseError) Denied() bool { return errors.Is(e.Err, cost.ErrBudgetDenied) }

// Validator looks up the external demand signal for a keyword
type Validator interface {
	Validate(ctx context.Context, keyword string) (*types.DemandSignal, error)
}

// Result is the pipeline output
type Result struct {
	PainPoints    []types.PainPoint
	Candidates    []types.Candidate
	Opportunities []types.Opportunity
	Errors        []PhaseError
}

// Degraded reports whether any unit failed or was denied
func (r *Result) Degraded() bool { return len(r.Errors) > 0 }

func (r *Result) addError(phase Phase, unit string, err error) {
	r.Errors = append(r.Errors, PhaseError{Phase: phase, Unit: unit, Err: err})
}

// Pipeline runs discovery for one run. The invoker carries the run's governor
// and retry policy, which every phase shares.
type Pipeline struct {
	cfg       Config
	sources   *Registry
	validator Validator
	invoker   *ai.Invoker
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. validator may be nil, in which case every
// candidate keeps a nil demand signal.
func NewPipeline(cfg Config, sources *Registry, validator Validator, invoker *ai.Invoker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, sources: sources, validator: validator, invoker: invoker, logger: logger}
}

// Run executes mine, filter, validate and rank. It returns a
// *types.StageError when mining yields nothing or every filter batch fails;
// the partial Result is returned alongside so its errors can be reported.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	res := &Result{}

	res.PainPoints = p.mine(ctx, res)
	if len(res.PainPoints) == 0 {
		return res, &types.StageError{Stage: string(PhaseMine), Err: errors.New("no pain points mined")}
	}

	candidates, err := p.filter(ctx, res.PainPoints, res)
	if err != nil {
		return res, err
	}

	p.validate(ctx, candidates, res)
	res.Candidates = candidates

	res.Opportunities = Rank(candidates, p.cfg.Weights, p.cfg.TopK, p.cfg.MissingDemandScore)
	p.logger.Info("discovery complete",
		"pain_points", len(res.PainPoints), "candidates", len(candidates),
		"opportunities", len(res.Opportunities), "errors", len(res.Errors))
	return res, nil
}

// sourcePolicy is the invoker's policy without its circuit breaker, which
// belongs to the generation service alone
func (p *Pipeline) sourcePolicy() retry.Policy {
	policy := p.invoker.Policy
	policy.Breaker = nil
	return policy
}

func (p *Pipeline) retryOptions(classify retry.Classifier, charges ...cost.Charge) []retry.Option {
	opts := []retry.Option{retry.WithClassifier(classify), retry.WithLogger(p.logger)}
	if p.invoker.Governor != nil {
		opts = append(opts, retry.WithGate(p.invoker.Governor.Gate(charges...)))
	}
	return append(opts, p.invoker.RetryOptions...)
}

func (p *Pipeline) logUnitError(phase Phase, unit string, err error) {
	if errors.Is(err, cost.ErrBudgetDenied) {
		p.logger.Debug("unit skipped", "phase", phase, "unit", unit, "err", err)
		return
	}
	p.logger.Warn("unit failed", "phase", phase, "unit", unit, "err", err)
}
