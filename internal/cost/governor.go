// Package cost enforces per-run call ceilings for each class of external
// resource and estimates what a run spent.
package cost

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ErrBudgetDenied is a control-flow signal, not a failure: the caller skips
// the unit of work it was about to issue.
var ErrBudgetDenied = errors.New("budget denied")

// DeniedError names the class whose ceiling was met
type DeniedError struct {
	Resource Resource
	Ceiling  int64
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%v: %s ceiling %d reached", ErrBudgetDenied, e.Resource, e.Ceiling)
}

// Is matches ErrBudgetDenied
func (e *DeniedError) Is(target error) bool { return target == ErrBudgetDenied }

// Charge is a number of units of one resource class
type Charge struct {
	Resource Resource
	Units    int64
}

// One is a single unit of r
func One(r Resource) Charge { return Charge{Resource: r, Units: 1} }

type counter struct {
	used   atomic.Int64
	denied atomic.Int64
}

// Governor tracks one run's consumption. Counters only grow; a Governor is
// never reset and never shared between runs.
type Governor struct {
	config *Config

	// mu serializes reservations so multi-class charges are all-or-nothing.
	// Reads of the counters are lock-free.
	mu       sync.Mutex
	counters sync.Map // Resource -> *counter
	limiters map[Resource]*rate.Limiter

	costMu       sync.Mutex
	recordedCost map[Resource]float64
}

// NewGovernor creates a governor for one run
func NewGovernor(cfg *Config) (*Governor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget config: %w", err)
	}

	limiters := make(map[Resource]*rate.Limiter)
	for r, perSec := range cfg.RatePerSecond {
		if perSec <= 0 {
			continue
		}
		burst := cfg.Burst[r]
		if burst < 1 {
			burst = 1
		}
		limiters[r] = rate.NewLimiter(rate.Limit(perSec), burst)
	}

	return &Governor{
		config:       cfg,
		limiters:     limiters,
		recordedCost: make(map[Resource]float64),
	}, nil
}

func (g *Governor) counter(r Resource) *counter {
	if c, ok := g.counters.Load(r); ok {
		return c.(*counter)
	}
	c, _ := g.counters.LoadOrStore(r, &counter{})
	return c.(*counter)
}

// Ceiling returns the ceiling for r, 0 meaning unlimited
func (g *Governor) Ceiling(r Resource) int64 {
	return g.config.Ceilings[r]
}

// Reserve takes one unit of every listed class, or none of them
func (g *Governor) Reserve(classes ...Resource) error {
	charges := make([]Charge, len(classes))
	for i, r := range classes {
		charges[i] = One(r)
	}
	return g.ReserveN(charges...)
}

// ReserveN takes the given units of every charged class, or none of them.
// It never blocks; a denied reservation returns a *DeniedError.
func (g *Governor) ReserveN(charges ...Charge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, ch := range charges {
		ceiling := g.config.Ceilings[ch.Resource]
		if ceiling <= 0 {
			continue
		}
		if g.counter(ch.Resource).used.Load()+ch.Units > ceiling {
			g.counter(ch.Resource).denied.Add(1)
			return &DeniedError{Resource: ch.Resource, Ceiling: ceiling}
		}
	}
	for _, ch := range charges {
		g.counter(ch.Resource).used.Add(ch.Units)
	}
	return nil
}

// Gate returns an admission function for retry.WithGate: every attempt
// reserves its charges, then waits for the class rate limiters.
func (g *Governor) Gate(charges ...Charge) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := g.ReserveN(charges...); err != nil {
			return err
		}
		for _, ch := range charges {
			if lim, ok := g.limiters[ch.Resource]; ok {
				if err := lim.WaitN(ctx, int(min(ch.Units, int64(lim.Burst())))); err != nil {
					return fmt.Errorf("rate limit wait for %s: %w", ch.Resource, err)
				}
			}
		}
		return nil
	}
}

// Used returns units consumed so far for r
func (g *Governor) Used(r Resource) int64 {
	return g.counter(r).used.Load()
}

// Remaining returns the units left for r, or math.MaxInt64 if unlimited
func (g *Governor) Remaining(r Resource) int64 {
	ceiling := g.config.Ceilings[r]
	if ceiling <= 0 {
		return math.MaxInt64
	}
	return max(ceiling-g.Used(r), 0)
}

// RecordCost adds an observed cost (e.g. token spend) to a class
func (g *Governor) RecordCost(r Resource, usd float64) {
	if usd <= 0 {
		return
	}
	g.costMu.Lock()
	g.recordedCost[r] += usd
	g.costMu.Unlock()
}

// TokenCost converts token usage into USD using the configured prices
func (g *Governor) TokenCost(inputTokens, outputTokens int64) float64 {
	in := float64(inputTokens) * g.config.InputTokenCost / 1_000_000
	out := float64(outputTokens) * g.config.OutputTokenCost / 1_000_000
	return in + out
}

// Snapshot is the governor state exposed at run end
type Snapshot struct {
	Counts        map[string]int64 `json:"counts"`
	Denied        map[string]int64 `json:"denied,omitempty"`
	EstimatedCost float64          `json:"estimated_cost"`
}

// Snapshot returns final counts and the estimated cost: unit cost × count per
// class plus recorded cost. It does not influence control flow.
func (g *Governor) Snapshot() Snapshot {
	s := Snapshot{Counts: make(map[string]int64), Denied: make(map[string]int64)}
	g.counters.Range(func(k, v any) bool {
		r := k.(Resource)
		c := v.(*counter)
		if used := c.used.Load(); used > 0 {
			s.Counts[string(r)] = used
			s.EstimatedCost += float64(used) * g.config.UnitCosts[r]
		}
		if denied := c.denied.Load(); denied > 0 {
			s.Denied[string(r)] = denied
		}
		return true
	})

	g.costMu.Lock()
	for _, usd := range g.recordedCost {
		s.EstimatedCost += usd
	}
	g.costMu.Unlock()

	if len(s.Denied) == 0 {
		s.Denied = nil
	}
	return s
}

// Classes returns the classes that have been touched, sorted by name
func (s Snapshot) Classes() []string {
	names := make([]string, 0, len(s.Counts))
	for name := range s.Counts {
		names = append(names, name)
	}
	for name := range s.Denied {
		if _, ok := s.Counts[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
