package types

import (
	"fmt"
	"strings"
	"time"
)

// SourceType identifies which adapter produced an item
type SourceType string

const (
	SourceNewsletter  SourceType = "newsletter"
	SourceLaunches    SourceType = "launches"
	SourceDiscussions SourceType = "discussions"
	SourceVideos      SourceType = "videos"
	// SourceDiscovery is the source type under which opportunity lists are persisted
	SourceDiscovery SourceType = "discovery"
)

// IsValid checks if the source type value is valid
func (s SourceType) IsValid() bool {
	switch s {
	case SourceNewsletter, SourceLaunches, SourceDiscussions, SourceVideos, SourceDiscovery:
		return true
	}
	return false
}

// Item is one normalized unit of source content entering extraction.
// Items are immutable once a source adapter returns them.
type Item struct {
	ID         string            `json:"id"`
	SourceType SourceType        `json:"source_type"`
	Title      string            `json:"title,omitempty"`
	URL        string            `json:"url,omitempty"`
	RawText    string            `json:"raw_text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Validate checks if the item has valid field values
func (i *Item) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("item id is required")
	}
	if !i.SourceType.IsValid() {
		return fmt.Errorf("invalid source type: %s", i.SourceType)
	}
	if strings.TrimSpace(i.RawText) == "" {
		return fmt.Errorf("item %s has no text", i.ID)
	}
	return nil
}

// Summary is the structured extraction result for one item.
// A missing summary for an item means its extraction failed and was recorded.
type Summary struct {
	ItemID            string              `json:"item_id"`
	Title             string              `json:"title,omitempty"`
	CategorizedFields map[string][]string `json:"categorized_fields"`
	ExtractedAt       time.Time           `json:"extracted_at"`
}

// Field categories the extraction stage asks the model to fill
const (
	FieldHeadlines = "headlines"
	FieldTools     = "tools"
	FieldTrends    = "trends"
	FieldTakeaways = "takeaways"
)

// SummaryFields lists the categories in the order they are rendered into prompts
var SummaryFields = []string{FieldHeadlines, FieldTools, FieldTrends, FieldTakeaways}
