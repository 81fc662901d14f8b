package discovery

import (
	"context"
	"fmt"

	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/fanout"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/types"
)

// validate attaches a demand signal to each candidate in place. Denied or
// failed lookups leave the signal nil.
func (p *Pipeline) validate(ctx context.Context, candidates []types.Candidate, res *Result) {
	if p.validator == nil {
		p.logger.Info("no demand validator configured, skipping validate phase", "phase", PhaseValidate)
		return
	}

	errs := fanout.Run(ctx, len(candidates), p.cfg.Workers, func(ctx context.Context, i int) error {
		keyword := candidates[i].Keyword
		if keyword == "" {
			return nil
		}
		signal, err := retry.Do(ctx, p.sourcePolicy(), "validate",
			func(ctx context.Context) (*types.DemandSignal, error) {
				return p.validator.Validate(ctx, keyword)
			}, p.retryOptions(classifierFor(p.validator), cost.One(cost.ResourceValidation))...)
		if err != nil {
			return err
		}
		candidates[i].Demand = signal
		return nil
	})

	for i, err := range errs {
		if err == nil {
			continue
		}
		unit := fmt.Sprintf("%q", candidates[i].Keyword)
		p.logUnitError(PhaseValidate, unit, err)
		res.addError(PhaseValidate, unit, err)
	}

	p.logger.Info("validate phase complete", "phase", PhaseValidate,
		"candidates", len(candidates), "failed", len(candidates)-fanout.Count(errs))
}
