package discovery

import (
	"context"
	"errors"
	"strings"

	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/fanout"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/types"
)

type mineUnit struct {
	source PainPointSource
	query  string
}

func (u mineUnit) String() string { return u.source.Name() + ": " + u.query }

// mine fans out one call per (source, query) and flattens the results in
// unit order, numbering them with MineIndex.
func (p *Pipeline) mine(ctx context.Context, res *Result) []types.PainPoint {
	var units []mineUnit
	for _, sc := range p.cfg.Sources {
		src, ok := p.sources.Get(sc.Name)
		if !ok {
			res.addError(PhaseMine, sc.Name, errors.New("source not registered"))
			continue
		}
		for _, q := range sc.Queries {
			units = append(units, mineUnit{source: src, query: q})
		}
	}

	slots := make([][]types.PainPoint, len(units))
	errs := fanout.Run(ctx, len(units), p.cfg.Workers, func(ctx context.Context, i int) error {
		u := units[i]
		charges := []cost.Charge{
			cost.One(cost.ResourceMining),
			cost.One(cost.SourceResource(cost.ResourceMining, u.source.Name())),
		}
		if qc, ok := u.source.(QuotaCharger); ok {
			charges = append(charges, qc.QuotaCharges()...)
		}

		points, err := retry.Do(ctx, p.sourcePolicy(), "mine "+u.source.Name(),
			func(ctx context.Context) ([]types.PainPoint, error) {
				return u.source.Mine(ctx, u.query)
			}, p.retryOptions(classifierFor(u.source), charges...)...)
		if err != nil {
			return err
		}
		slots[i] = points
		return nil
	})

	var out []types.PainPoint
	for i, u := range units {
		if errs[i] != nil {
			p.logUnitError(PhaseMine, u.String(), errs[i])
			res.addError(PhaseMine, u.String(), errs[i])
			continue
		}
		for _, pt := range slots[i] {
			if strings.TrimSpace(pt.Text) == "" {
				continue
			}
			if pt.Source == "" {
				pt.Source = u.source.Name()
			}
			if pt.Query == "" {
				pt.Query = u.query
			}
			pt.MineIndex = len(out)
			out = append(out, pt)
		}
	}

	p.logger.Info("mine phase complete", "phase", PhaseMine,
		"units", len(units), "failed", len(units)-fanout.Count(errs), "pain_points", len(out))
	return out
}
