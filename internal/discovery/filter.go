package discovery

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/fanout"
	"github.com/steveyegge/scout/internal/types"
)

const filterSystemPrompt = `You screen user complaints for software product opportunities a small team could build.
Respond with a single JSON object and nothing else.`

// maxPainPointChars bounds each pain point's text in the filter prompt
const maxPainPointChars = 600

type filterVerdict struct {
	Index        int     `json:"index"`
	Viability    float64 `json:"viability"`
	Buildability float64 `json:"buildability"`
	Idea         string  `json:"idea"`
	Keyword      string  `json:"keyword"`
}

type filterResponse struct {
	Candidates []filterVerdict `json:"candidates"`
}

// filter judges pain points in batches. Pain points the model omits or scores
// below the viability threshold are dropped without error. It fails only when
// every batch failed.
func (p *Pipeline) filter(ctx context.Context, points []types.PainPoint, res *Result) ([]types.Candidate, error) {
	size := p.cfg.FilterBatchSize
	batches := make([][]types.PainPoint, 0, (len(points)+size-1)/size)
	for start := 0; start < len(points); start += size {
		batches = append(batches, points[start:min(start+size, len(points))])
	}

	slots := make([][]types.Candidate, len(batches))
	errs := fanout.Run(ctx, len(batches), p.cfg.Workers, func(ctx context.Context, i int) error {
		resp, err := ai.InvokeJSON[filterResponse](ctx, p.invoker, cost.ResourceGeneration, ai.Request{
			Operation: "filter",
			System:    filterSystemPrompt,
			Prompt:    buildFilterPrompt(batches[i]),
			Model:     p.cfg.Model,
			MaxTokens: 4096,
		})
		if err != nil {
			return err
		}
		slots[i] = p.candidatesFrom(batches[i], resp.Candidates)
		return nil
	})

	var out []types.Candidate
	for i := range batches {
		if errs[i] != nil {
			unit := fmt.Sprintf("batch %d", i+1)
			p.logUnitError(PhaseFilter, unit, errs[i])
			res.addError(PhaseFilter, unit, errs[i])
			continue
		}
		out = append(out, slots[i]...)
	}

	p.logger.Info("filter phase complete", "phase", PhaseFilter,
		"batches", len(batches), "failed", len(batches)-fanout.Count(errs), "candidates", len(out))

	if fanout.Count(errs) == 0 {
		return nil, &types.StageError{Stage: string(PhaseFilter), Err: fmt.Errorf("all %d batches failed", len(batches))}
	}
	return out, nil
}

// candidatesFrom maps verdicts back onto the batch, in mine order
func (p *Pipeline) candidatesFrom(batch []types.PainPoint, verdicts []filterVerdict) []types.Candidate {
	seen := make(map[int]bool, len(verdicts))
	var out []types.Candidate
	for _, v := range verdicts {
		if v.Index < 0 || v.Index >= len(batch) || seen[v.Index] {
			continue
		}
		seen[v.Index] = true

		viability := clamp01(v.Viability)
		if viability < p.cfg.ViabilityThreshold {
			continue
		}
		keyword := strings.TrimSpace(v.Keyword)
		if keyword == "" {
			keyword = strings.TrimSpace(v.Idea)
		}
		out = append(out, types.Candidate{
			PainPoint:    batch[v.Index],
			Idea:         strings.TrimSpace(v.Idea),
			Keyword:      keyword,
			Viability:    viability,
			Buildability: clamp01(v.Buildability),
		})
	}
	slices.SortFunc(out, func(a, b types.Candidate) int { return a.MineIndex - b.MineIndex })
	return out
}

func buildFilterPrompt(batch []types.PainPoint) string {
	var b strings.Builder
	b.WriteString("For each complaint below decide whether it points to a product someone would pay for.\n\n")
	for i, pt := range batch {
		text := strings.Join(strings.Fields(pt.Text), " ")
		if len(text) > maxPainPointChars {
			text = text[:maxPainPointChars] + "..."
		}
		fmt.Fprintf(&b, "[%d] (%s, engagement %.0f) %s\n", i, pt.Source, pt.Engagement, text)
	}
	b.WriteString(`
Return {"candidates": [{"index": <n>, "viability": <0..1>, "buildability": <0..1>, "idea": "<one-line product idea>", "keyword": "<2-4 word search term>"}]}.
Include every complaint you consider, using the index shown in brackets. buildability is how feasible the idea is for a small team.`)
	return b.String()
}
