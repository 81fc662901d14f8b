package discovery

import (
	"fmt"

	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/fanout"
)

// Weights combine the three sub-scores into the opportunity score
type Weights struct {
	Demand       float64 `yaml:"demand" json:"demand"`
	Virality     float64 `yaml:"virality" json:"virality"`
	Buildability float64 `yaml:"buildability" json:"buildability"`
}

// SourceConfig enables one pain-point source for mining
type SourceConfig struct {
	Name    string   `yaml:"name" json:"name"`
	Queries []string `yaml:"queries" json:"queries"`

	// Ceiling caps this source's calls per run (0 = only the phase ceiling applies)
	Ceiling int64 `yaml:"ceiling" json:"ceiling"`
}

// Config holds discovery pipeline settings. It is data, passed in per run.
type Config struct {
	Workers            int            `yaml:"workers" json:"workers"`
	Sources            []SourceConfig `yaml:"sources" json:"sources"`
	Weights            Weights        `yaml:"weights" json:"weights"`
	ViabilityThreshold float64        `yaml:"viability_threshold" json:"viability_threshold"`
	FilterBatchSize    int            `yaml:"filter_batch_size" json:"filter_batch_size"`
	TopK               int            `yaml:"top_k" json:"top_k"`

	// MissingDemandScore is the demand sub-score used when validation produced
	// no signal for a candidate
	MissingDemandScore float64 `yaml:"missing_demand_score" json:"missing_demand_score"`

	Model string `yaml:"model" json:"model"` // filter model; empty means the client default
}

// DefaultConfig returns the production discovery settings
func DefaultConfig() *Config {
	return &Config{
		Workers: fanout.DefaultWorkers,
		Sources: []SourceConfig{
			{Name: "discussions", Queries: []string{"I wish there was", "is there a tool", "frustrated with"}, Ceiling: 60},
			{Name: "videos", Queries: []string{"app review problems", "why is there no app"}, Ceiling: 40},
			{Name: "launches", Queries: []string{"productivity", "developer tools"}, Ceiling: 40},
		},
		Weights:            Weights{Demand: 0.4, Virality: 0.3, Buildability: 0.3},
		ViabilityThreshold: 0.5,
		FilterBatchSize:    25,
		TopK:               20,
		MissingDemandScore: 0,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("discovery workers must be >= 1 (got %d)", c.Workers)
	}
	if c.TopK < 1 {
		return fmt.Errorf("discovery top_k must be >= 1 (got %d)", c.TopK)
	}
	if c.FilterBatchSize < 1 {
		return fmt.Errorf("discovery filter_batch_size must be >= 1 (got %d)", c.FilterBatchSize)
	}
	if c.ViabilityThreshold < 0 || c.ViabilityThreshold > 1 {
		return fmt.Errorf("discovery viability_threshold must be in [0,1] (got %.2f)", c.ViabilityThreshold)
	}
	if c.MissingDemandScore < 0 || c.MissingDemandScore > 1 {
		return fmt.Errorf("discovery missing_demand_score must be in [0,1] (got %.2f)", c.MissingDemandScore)
	}
	w := c.Weights
	if w.Demand < 0 || w.Virality < 0 || w.Buildability < 0 {
		return fmt.Errorf("discovery weights must be non-negative")
	}
	if w.Demand+w.Virality+w.Buildability == 0 {
		return fmt.Errorf("discovery weights must not all be zero")
	}
	seen := make(map[string]bool)
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("discovery source name is required")
		}
		if seen[s.Name] {
			return fmt.Errorf("discovery source %q listed twice", s.Name)
		}
		seen[s.Name] = true
		if s.Ceiling < 0 {
			return fmt.Errorf("discovery source %q: ceiling must be non-negative", s.Name)
		}
	}
	return nil
}

// ApplyCeilings copies the per-source ceilings into a budget config as
// "mining:<source>" classes
func (c *Config) ApplyCeilings(budget *cost.Config) {
	if budget.Ceilings == nil {
		budget.Ceilings = make(map[cost.Resource]int64)
	}
	for _, s := range c.Sources {
		if s.Ceiling > 0 {
			budget.Ceilings[cost.SourceResource(cost.ResourceMining, s.Name)] = s.Ceiling
		}
	}
}
