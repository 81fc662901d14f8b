package discovery

import (
	"cmp"
	"math"
	"slices"

	"github.com/steveyegge/scout/internal/types"
)

// Rank scores candidates and returns the top-K opportunities, highest score
// first. Equal scores keep mine order.
//
// Sub-scores are all in [0,1]:
//   - demand: the validated trend score / 100, or missingDemand without a signal
//   - virality: log-scaled engagement relative to the most engaged candidate
//   - buildability: the filter's judgment
func Rank(candidates []types.Candidate, w Weights, topK int, missingDemand float64) []types.Opportunity {
	maxEngagement := 0.0
	for _, c := range candidates {
		maxEngagement = max(maxEngagement, c.Engagement)
	}

	opps := make([]types.Opportunity, len(candidates))
	for i, c := range candidates {
		demand := missingDemand
		if c.Demand != nil {
			demand = clamp01(c.Demand.Score / 100)
		}
		virality := 0.0
		if maxEngagement > 0 && c.Engagement > 0 {
			virality = math.Log1p(c.Engagement) / math.Log1p(maxEngagement)
		}
		buildability := clamp01(c.Buildability)

		opps[i] = types.Opportunity{
			Candidate:         c,
			DemandScore:       demand,
			ViralityScore:     virality,
			BuildabilityScore: buildability,
			OpportunityScore:  w.Demand*demand + w.Virality*virality + w.Buildability*buildability,
		}
	}

	slices.SortStableFunc(opps, func(a, b types.Opportunity) int {
		if c := cmp.Compare(b.OpportunityScore, a.OpportunityScore); c != 0 {
			return c
		}
		return cmp.Compare(a.MineIndex, b.MineIndex)
	})

	if topK > 0 && len(opps) > topK {
		opps = opps[:topK]
	}
	for i := range opps {
		opps[i].Rank = i + 1
	}
	return opps
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
