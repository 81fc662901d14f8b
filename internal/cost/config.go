package cost

import (
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
)

// Resource is a class of external call with its own per-run ceiling
type Resource string

const (
	ResourceSource     Resource = "source"      // source adapter fetches
	ResourceExtraction Resource = "extraction"  // per-item extraction generation calls
	ResourceGeneration Resource = "generation"  // aggregation, review, revision and filter calls
	ResourceMining     Resource = "mining"      // discovery pain-point source calls
	ResourceValidation Resource = "validation"  // trend/demand lookups
	ResourceVideoQuota Resource = "video_quota" // video-platform API quota units
)

// SourceResource names the per-source class a discovery source is charged to,
// e.g. "mining:discussions".
func SourceResource(phase Resource, source string) Resource {
	return Resource(string(phase) + ":" + source)
}

// Config holds per-run budget configuration
type Config struct {
	// Ceilings caps the number of units each class may consume in one run.
	// A class without an entry (or with 0) is unlimited.
	Ceilings map[Resource]int64 `json:"ceilings" yaml:"ceilings"`

	// UnitCosts is the estimated USD cost of one unit, used for observability only
	UnitCosts map[Resource]float64 `json:"unit_costs" yaml:"unit_costs"`

	// RatePerSecond paces calls per class; 0 disables pacing
	RatePerSecond map[Resource]float64 `json:"rate_per_second" yaml:"rate_per_second"`

	// Burst is the limiter burst per class (default: 1)
	Burst map[Resource]int `json:"burst" yaml:"burst"`

	// InputTokenCost is the cost per 1M input tokens (in USD)
	// Default: $3.00 for Claude Sonnet 4.5
	InputTokenCost float64 `json:"input_token_cost" yaml:"input_token_cost"`

	// OutputTokenCost is the cost per 1M output tokens (in USD)
	// Default: $15.00 for Claude Sonnet 4.5
	OutputTokenCost float64 `json:"output_token_cost" yaml:"output_token_cost"`
}

// DefaultConfig returns default per-run budgets
func DefaultConfig() *Config {
	return &Config{
		Ceilings: map[Resource]int64{
			ResourceSource:     50,
			ResourceExtraction: 200,
			ResourceGeneration: 40,
			ResourceMining:     200,
			ResourceValidation: 60,
			ResourceVideoQuota: 5000,
		},
		UnitCosts: map[Resource]float64{
			ResourceValidation: 0.002,
			ResourceMining:     0.0005,
		},
		RatePerSecond:   map[Resource]float64{},
		Burst:           map[Resource]int{},
		InputTokenCost:  3.00,
		OutputTokenCost: 15.00,
	}
}

// Clone returns a deep copy, so a run can adjust ceilings without touching
// the shared configuration
func (c *Config) Clone() *Config {
	out := *c
	out.Ceilings = maps.Clone(c.Ceilings)
	out.UnitCosts = maps.Clone(c.UnitCosts)
	out.RatePerSecond = maps.Clone(c.RatePerSecond)
	out.Burst = maps.Clone(c.Burst)
	if out.Ceilings == nil {
		out.Ceilings = make(map[Resource]int64)
	}
	return &out
}

// LoadFromEnv applies environment overrides to cfg (or the defaults when cfg is nil).
// Ceilings are read from SCOUT_BUDGET_<CLASS>, e.g. SCOUT_BUDGET_MINING=150 or
// SCOUT_BUDGET_MINING_DISCUSSIONS=40 for the per-source class "mining:discussions".
func LoadFromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Ceilings == nil {
		cfg.Ceilings = make(map[Resource]int64)
	}

	for _, kv := range os.Environ() {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, "SCOUT_BUDGET_") {
			continue
		}
		class := envToResource(strings.TrimPrefix(name, "SCOUT_BUDGET_"))
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n >= 0 {
			cfg.Ceilings[class] = n
		}
	}

	if val := os.Getenv("SCOUT_INPUT_TOKEN_COST"); val != "" {
		if c, err := strconv.ParseFloat(val, 64); err == nil && c >= 0 {
			cfg.InputTokenCost = c
		}
	}
	if val := os.Getenv("SCOUT_OUTPUT_TOKEN_COST"); val != "" {
		if c, err := strconv.ParseFloat(val, 64); err == nil && c >= 0 {
			cfg.OutputTokenCost = c
		}
	}
	return cfg
}

// envToResource maps MINING_DISCUSSIONS to "mining:discussions" and VIDEO_QUOTA to "video_quota"
func envToResource(s string) Resource {
	s = strings.ToLower(s)
	for _, base := range []Resource{ResourceVideoQuota, ResourceSource, ResourceExtraction, ResourceGeneration, ResourceMining, ResourceValidation} {
		if s == string(base) {
			return base
		}
		if rest, ok := strings.CutPrefix(s, string(base)+"_"); ok {
			return SourceResource(base, rest)
		}
	}
	return Resource(s)
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	for r, n := range c.Ceilings {
		if n < 0 {
			return fmt.Errorf("ceiling for %s must be non-negative, got %d", r, n)
		}
	}
	for r, v := range c.UnitCosts {
		if v < 0 {
			return fmt.Errorf("unit cost for %s must be non-negative, got %.4f", r, v)
		}
	}
	for r, v := range c.RatePerSecond {
		if v < 0 {
			return fmt.Errorf("rate_per_second for %s must be non-negative, got %.2f", r, v)
		}
	}
	if c.InputTokenCost < 0 {
		return fmt.Errorf("input_token_cost must be non-negative, got %.2f", c.InputTokenCost)
	}
	if c.OutputTokenCost < 0 {
		return fmt.Errorf("output_token_cost must be non-negative, got %.2f", c.OutputTokenCost)
	}
	return nil
}
