package extraction

import (
	"fmt"
	"strings"

	"github.com/steveyegge/scout/internal/types"
)

const systemPrompt = `You extract structured notes from tech news content for a daily briefing.
Respond with a single JSON object and nothing else.`

func buildPrompt(item *types.Item, maxChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\n", item.SourceType)
	if item.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", item.Title)
	}
	if item.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", item.URL)
	}
	if !item.OccurredAt.IsZero() {
		fmt.Fprintf(&b, "Published: %s\n", item.OccurredAt.UTC().Format(types.DateLayout))
	}

	text := item.RawText
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	b.WriteString("\nCONTENT:\n")
	b.WriteString(text)

	b.WriteString("\n\nReturn JSON with these keys, each a list of short strings (empty list if nothing applies):\n")
	for _, f := range types.SummaryFields {
		fmt.Fprintf(&b, "- %q\n", f)
	}
	return b.String()
}
