package types

// PainPoint is raw complaint text mined from a discovery source
type PainPoint struct {
	// MineIndex is the position in the flattened mine-phase output; ranking ties
	// fall back to it.
	MineIndex  int     `json:"mine_index"`
	Source     string  `json:"source"`
	Query      string  `json:"query,omitempty"`
	Text       string  `json:"text"`
	URL        string  `json:"url,omitempty"`
	Engagement float64 `json:"engagement"`
}

// DemandSignal is the external trend/demand lookup result for a keyword
type DemandSignal struct {
	Keyword      string   `json:"keyword"`
	Score        float64  `json:"score"` // 0-100
	Direction    string   `json:"direction"`
	RelatedTerms []string `json:"related_terms,omitempty"`
}

// Candidate is a pain point that passed the viability filter
type Candidate struct {
	PainPoint
	Idea         string        `json:"idea"`
	Keyword      string        `json:"keyword"`
	Viability    float64       `json:"viability"`
	Buildability float64       `json:"buildability"`
	Demand       *DemandSignal `json:"demand,omitempty"` // nil when validation was denied or failed
}

// Opportunity is a scored, ranked candidate
type Opportunity struct {
	Candidate
	DemandScore       float64 `json:"demand_score"`
	ViralityScore     float64 `json:"virality_score"`
	BuildabilityScore float64 `json:"buildability_score"`
	OpportunityScore  float64 `json:"opportunity_score"`
	Rank              int     `json:"rank"`
}
