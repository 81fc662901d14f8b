package aggregation

import (
	"fmt"
	"strings"

	"github.com/steveyegge/scout/internal/types"
)

const systemPrompt = `You write concise tech briefings in Markdown.
Group related stories, lead with the most important headlines, and keep every claim traceable to the notes provided.`

func buildPrompt(summaries []types.Summary, feedback []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a briefing from these %d item notes. Keep the order of the notes when ranking otherwise equal stories.\n\n", len(summaries))

	for i, s := range summaries {
		fmt.Fprintf(&b, "## Note %d", i+1)
		if s.Title != "" {
			fmt.Fprintf(&b, ": %s", s.Title)
		}
		b.WriteString("\n")
		for _, field := range types.SummaryFields {
			values := s.CategorizedFields[field]
			if len(values) == 0 {
				continue
			}
			fmt.Fprintf(&b, "%s:\n", field)
			for _, v := range values {
				fmt.Fprintf(&b, "  - %s\n", v)
			}
		}
		b.WriteString("\n")
	}

	if len(feedback) > 0 {
		b.WriteString("A reviewer found the previous draft deficient. Address every point:\n")
		for _, f := range feedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}
