// Package config loads scout's configuration: a YAML file overlaid with
// SCOUT_* environment variables, validated before any run starts.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/discovery"
	"github.com/steveyegge/scout/internal/fanout"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/review"
	"github.com/steveyegge/scout/internal/sources"
	"github.com/steveyegge/scout/internal/storage"
	"github.com/steveyegge/scout/internal/trends"
	"github.com/steveyegge/scout/internal/types"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given
const DefaultPath = ".scout/config.yaml"

// Config is the complete configuration, passed explicitly to every
// constructor that needs a piece of it
type Config struct {
	Storage   storage.Config   `yaml:"storage"`
	AI        AIConfig         `yaml:"ai"`
	Retry     RetryConfig      `yaml:"retry"`
	Budget    *cost.Config     `yaml:"budget"`
	Digest    DigestConfig     `yaml:"digest"`
	Discovery discovery.Config `yaml:"discovery"`
	Sources   sources.Config   `yaml:"sources"`
	Trends    trends.Config    `yaml:"trends"`
	Logging   LoggingConfig    `yaml:"logging"`

	// LockDir holds per-key run lock files; empty disables locking
	LockDir string `yaml:"lock_dir"`
}

// AIConfig configures the text-generation client
type AIConfig struct {
	APIKey             string `yaml:"-"` // ANTHROPIC_API_KEY only
	Model              string `yaml:"model"`
	SimpleModel        string `yaml:"simple_model"`
	MaxTokens          int    `yaml:"max_tokens"`
	MaxConcurrentCalls int    `yaml:"max_concurrent_calls"`
}

// RetryConfig is the retry policy for external calls, plus the circuit
// breaker shared by every generation call in the process
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"multiplier"`
	Jitter            float64       `yaml:"jitter"`
	Timeout           time.Duration `yaml:"timeout"`

	BreakerEnabled          bool          `yaml:"breaker_enabled"`
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerSuccessThreshold int           `yaml:"breaker_success_threshold"`
	BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout"`
}

// Policy converts the config to a retry policy without a breaker
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:        c.MaxRetries,
		InitialBackoff:    c.InitialBackoff,
		MaxBackoff:        c.MaxBackoff,
		BackoffMultiplier: c.BackoffMultiplier,
		Jitter:            c.Jitter,
		Timeout:           c.Timeout,
	}
}

// DigestConfig configures digest runs
type DigestConfig struct {
	Workers      int `yaml:"workers"`
	MaxRevisions int `yaml:"max_revisions"`
	MaxChars     int `yaml:"max_chars"`

	// SkipWeekdays lists the weekdays on which a period's scheduled run is
	// skipped unless forced, e.g. weekly: [tuesday, ..., sunday]
	SkipWeekdays map[types.Period][]string `yaml:"skip_weekdays"`
}

// Skips reports whether a run for period on date falls on a skipped weekday
func (c DigestConfig) Skips(period types.Period, date time.Time) bool {
	for _, day := range c.SkipWeekdays[period] {
		if wd, ok := parseWeekday(day); ok && wd == date.Weekday() {
			return true
		}
	}
	return false
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	def := retry.DefaultPolicy()
	return &Config{
		Storage: *storage.DefaultConfig(),
		AI: AIConfig{
			MaxTokens:          4096,
			MaxConcurrentCalls: 6,
		},
		Retry: RetryConfig{
			MaxRetries:              def.MaxRetries,
			InitialBackoff:          def.InitialBackoff,
			MaxBackoff:              def.MaxBackoff,
			BackoffMultiplier:       def.BackoffMultiplier,
			Jitter:                  def.Jitter,
			Timeout:                 def.Timeout,
			BreakerEnabled:          true,
			BreakerFailureThreshold: 5,
			BreakerSuccessThreshold: 2,
			BreakerOpenTimeout:      30 * time.Second,
		},
		Budget: cost.DefaultConfig(),
		Digest: DigestConfig{
			Workers:      fanout.DefaultWorkers,
			MaxRevisions: review.DefaultMaxRevisions,
			MaxChars:     12000,
			SkipWeekdays: map[types.Period][]string{
				types.PeriodWeekly: {"tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"},
			},
		},
		Discovery: *discovery.DefaultConfig(),
		Sources:   *sources.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info", Format: "console"},
		LockDir:   ".scout/locks",
	}
}

// Load reads path (DefaultPath when empty) over the defaults, applies the
// environment and validates. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping the values of absent keys
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c.Budget == nil {
		return fmt.Errorf("budget section is required")
	}
	if err := c.Budget.Validate(); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if err := c.Sources.Validate(); err != nil {
		return fmt.Errorf("sources: %w", err)
	}

	if c.AI.MaxTokens < 1 {
		return fmt.Errorf("ai max_tokens must be >= 1 (got %d)", c.AI.MaxTokens)
	}
	if c.AI.MaxConcurrentCalls < 0 {
		return fmt.Errorf("ai max_concurrent_calls must be >= 0 (got %d)", c.AI.MaxConcurrentCalls)
	}

	r := c.Retry
	if r.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must be >= 0 (got %d)", r.MaxRetries)
	}
	if r.InitialBackoff < 0 || r.MaxBackoff < 0 || r.Timeout < 0 {
		return fmt.Errorf("retry durations must be non-negative")
	}
	if r.MaxBackoff > 0 && r.InitialBackoff > r.MaxBackoff {
		return fmt.Errorf("retry initial_backoff (%v) must be <= max_backoff (%v)", r.InitialBackoff, r.MaxBackoff)
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1 (got %.2f)", r.BackoffMultiplier)
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return fmt.Errorf("retry jitter must be in [0,1] (got %.2f)", r.Jitter)
	}
	if r.BreakerEnabled && (r.BreakerFailureThreshold < 1 || r.BreakerSuccessThreshold < 1) {
		return fmt.Errorf("breaker thresholds must be >= 1")
	}

	if c.Digest.Workers < 1 {
		return fmt.Errorf("digest workers must be >= 1 (got %d)", c.Digest.Workers)
	}
	if c.Digest.MaxRevisions < 0 {
		return fmt.Errorf("digest max_revisions must be >= 0 (got %d)", c.Digest.MaxRevisions)
	}
	for period, days := range c.Digest.SkipWeekdays {
		if !period.IsValid() {
			return fmt.Errorf("digest skip_weekdays: invalid period %q", period)
		}
		for _, d := range days {
			if _, ok := parseWeekday(d); !ok {
				return fmt.Errorf("digest skip_weekdays: invalid weekday %q", d)
			}
		}
	}
	return nil
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}
