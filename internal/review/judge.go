package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/types"
)

const judgeSystemPrompt = `You are a demanding editor reviewing a tech briefing before it is published.
Respond with a single JSON object: {"approved": true|false, "feedback": ["..."]}.
Only reject a draft for concrete, fixable problems and list each one in feedback.`

// GenerationJudge asks the generation service for a verdict
type GenerationJudge struct {
	Invoker *ai.Invoker
	Model   string // empty means the client default
}

// Judge implements Judge
func (j *GenerationJudge) Judge(ctx context.Context, b *types.Briefing) (*Verdict, error) {
	var p strings.Builder
	fmt.Fprintf(&p, "The briefing below was written from %d source notes", b.SummaryCount)
	if b.RevisionCount > 0 {
		fmt.Fprintf(&p, " and has been revised %d time(s)", b.RevisionCount)
	}
	p.WriteString(".\nCheck coverage, accuracy against its own claims, structure, and length.\n\nBRIEFING:\n")
	p.WriteString(b.Text)

	v, err := ai.InvokeJSON[Verdict](ctx, j.Invoker, cost.ResourceGeneration, ai.Request{
		Operation: "review",
		System:    judgeSystemPrompt,
		Prompt:    p.String(),
		Model:     j.Model,
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}
