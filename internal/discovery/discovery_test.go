package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/ai/aitest"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name  string
	calls atomic.Int64
	err   error
	quota int64
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Mine(_ context.Context, query string) ([]types.PainPoint, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return []types.PainPoint{
		{Text: fmt.Sprintf("%s complaint about %s", s.name, query), Engagement: float64(len(query))},
	}, nil
}

type quotaSource struct{ fakeSource }

func (s *quotaSource) QuotaCharges() []cost.Charge {
	return []cost.Charge{{Resource: cost.ResourceVideoQuota, Units: s.quota}}
}

type fakeValidator struct {
	calls atomic.Int64
}

func (v *fakeValidator) Validate(_ context.Context, keyword string) (*types.DemandSignal, error) {
	v.calls.Add(1)
	return &types.DemandSignal{Keyword: keyword, Score: float64(len(keyword) % 100), Direction: "rising"}, nil
}

var batchLineRe = regexp.MustCompile(`(?m)^\[(\d+)\] \(([^,]+), engagement (\d+)\) (.*)$`)

// filterAll accepts every pain point with viability 0.9
func filterAll(req ai.Request) (string, error) {
	var resp filterResponse
	for _, m := range batchLineRe.FindAllStringSubmatch(req.Prompt, -1) {
		idx, _ := strconv.Atoi(m[1])
		resp.Candidates = append(resp.Candidates, filterVerdict{
			Index: idx, Viability: 0.9, Buildability: 0.5, Idea: "idea " + m[4], Keyword: m[4],
		})
	}
	out, err := json.Marshal(resp)
	return string(out), err
}

func queries(n int) []string {
	q := make([]string, n)
	for i := range q {
		q[i] = fmt.Sprintf("query %d", i)
	}
	return q
}

type fixture struct {
	gen      *aitest.Generator
	governor *cost.Governor
	pipeline *Pipeline
}

func newFixture(t *testing.T, cfg *Config, budget map[cost.Resource]int64, validator Validator, handler aitest.HandlerFunc, sources ...PainPointSource) *fixture {
	t.Helper()
	costCfg := cost.DefaultConfig()
	for k, v := range budget {
		costCfg.Ceilings[k] = v
	}
	cfg.ApplyCeilings(costCfg)
	gov, err := cost.NewGovernor(costCfg)
	require.NoError(t, err)

	reg := NewRegistry()
	for _, s := range sources {
		require.NoError(t, reg.Register(s))
	}

	gen := aitest.New(handler)
	inv := ai.NewInvoker(gen, gov, nil)
	inv.Policy = retry.Policy{MaxRetries: 0}
	return &fixture{gen: gen, governor: gov, pipeline: NewPipeline(*cfg, reg, validator, inv, nil)}
}

func testConfig(sources ...SourceConfig) *Config {
	cfg := DefaultConfig()
	cfg.Sources = sources
	cfg.FilterBatchSize = 4
	return cfg
}

func TestMineStaysWithinReachableCalls(t *testing.T) {
	a, b, c := &fakeSource{name: "a"}, &fakeSource{name: "b"}, &fakeSource{name: "c"}
	cfg := testConfig(
		SourceConfig{Name: "a", Queries: queries(50)},
		SourceConfig{Name: "b", Queries: queries(50)},
		SourceConfig{Name: "c", Queries: queries(50)},
	)
	cfg.FilterBatchSize = 25
	f := newFixture(t, cfg, map[cost.Resource]int64{cost.ResourceMining: 200, cost.ResourceGeneration: 100}, nil, filterAll, a, b, c)

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)

	used := f.governor.Used(cost.ResourceMining)
	assert.Equal(t, int64(150), used)
	assert.LessOrEqual(t, used, int64(200))
	assert.Len(t, res.PainPoints, 150)
	assert.Empty(t, res.Errors)
}

func TestMineCeilingDeniesExcessCalls(t *testing.T) {
	a, b := &fakeSource{name: "a"}, &fakeSource{name: "b"}
	cfg := testConfig(
		SourceConfig{Name: "a", Queries: queries(10)},
		SourceConfig{Name: "b", Queries: queries(10), Ceiling: 3},
	)
	f := newFixture(t, cfg, map[cost.Resource]int64{cost.ResourceMining: 12}, nil, filterAll, a, b)

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(12), f.governor.Used(cost.ResourceMining))
	assert.LessOrEqual(t, b.calls.Load(), int64(3))
	assert.Equal(t, int64(12), a.calls.Load()+b.calls.Load())
	assert.Len(t, res.Errors, 8)
	for _, e := range res.Errors {
		assert.True(t, e.Denied(), e.Error())
	}
	assert.True(t, res.Degraded())
}

func TestMineChargesQuota(t *testing.T) {
	v := &quotaSource{fakeSource{name: "videos", quota: 100}}
	cfg := testConfig(SourceConfig{Name: "videos", Queries: queries(5)})
	f := newFixture(t, cfg, map[cost.Resource]int64{cost.ResourceVideoQuota: 300}, nil, filterAll, v)

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(300), f.governor.Used(cost.ResourceVideoQuota))
	assert.Equal(t, int64(3), v.calls.Load())
	assert.Len(t, res.PainPoints, 3)
}

func TestPartialSourceFailure(t *testing.T) {
	good := &fakeSource{name: "good"}
	bad := &fakeSource{name: "bad", err: &retry.HTTPError{StatusCode: 404, URL: "x"}}
	cfg := testConfig(
		SourceConfig{Name: "bad", Queries: queries(2)},
		SourceConfig{Name: "good", Queries: queries(3)},
		SourceConfig{Name: "missing", Queries: queries(1)},
	)
	f := newFixture(t, cfg, nil, nil, filterAll, good, bad)

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.PainPoints, 3)
	for i, pt := range res.PainPoints {
		assert.Equal(t, "good", pt.Source)
		assert.Equal(t, i, pt.MineIndex)
	}
	assert.Len(t, res.Errors, 3) // two bad queries plus the unregistered source
	assert.True(t, res.Degraded())
}

func TestAllSourcesFailIsStageFailure(t *testing.T) {
	bad := &fakeSource{name: "bad", err: errors.New("down")}
	f := newFixture(t, testConfig(SourceConfig{Name: "bad", Queries: queries(2)}), nil, nil, filterAll, bad)

	res, err := f.pipeline.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrStageFailed)
	require.NotNil(t, res)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, 0, f.gen.Total(), "filter never runs")
}

func TestFilterDropsBelowThreshold(t *testing.T) {
	src := &fakeSource{name: "s"}
	handler := func(req ai.Request) (string, error) {
		var resp filterResponse
		for _, m := range batchLineRe.FindAllStringSubmatch(req.Prompt, -1) {
			idx, _ := strconv.Atoi(m[1])
			v := 0.9
			if idx%2 == 1 {
				v = 0.1
			}
			resp.Candidates = append(resp.Candidates, filterVerdict{Index: idx, Viability: v, Keyword: m[4]})
		}
		// out-of-range and duplicate indexes are ignored
		resp.Candidates = append(resp.Candidates, filterVerdict{Index: 99, Viability: 1}, filterVerdict{Index: 0, Viability: 1})
		out, _ := json.Marshal(resp)
		return string(out), nil
	}
	f := newFixture(t, testConfig(SourceConfig{Name: "s", Queries: queries(10)}), nil, nil, handler, src)

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.gen.Calls("filter")) // 10 pain points in batches of 4
	// indexes 0 and 2 pass in each batch of 4, index 0 passes in the last batch of 2
	require.Len(t, res.Candidates, 5)
	for i := 1; i < len(res.Candidates); i++ {
		assert.Less(t, res.Candidates[i-1].MineIndex, res.Candidates[i].MineIndex)
	}
	assert.Empty(t, res.Errors)
}

func TestFilterBatchFailureDegrades(t *testing.T) {
	src := &fakeSource{name: "s"}
	var n atomic.Int32
	handler := func(req ai.Request) (string, error) {
		if n.Add(1) == 1 {
			return "not json", nil
		}
		return filterAll(req)
	}
	cfg := testConfig(SourceConfig{Name: "s", Queries: queries(8)})
	cfg.Workers = 1
	f := newFixture(t, cfg, nil, nil, handler, src)

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 4)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, PhaseFilter, res.Errors[0].Phase)
	assert.ErrorIs(t, res.Errors[0].Err, ai.ErrMalformedResponse)
}

func TestFilterAllBatchesFail(t *testing.T) {
	src := &fakeSource{name: "s"}
	handler := func(ai.Request) (string, error) {
		return "", &ai.Error{Kind: ai.ErrAuthFailure, Err: errors.New("401")}
	}
	f := newFixture(t, testConfig(SourceConfig{Name: "s", Queries: queries(5)}), nil, nil, handler, src)

	_, err := f.pipeline.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrStageFailed)
	var stageErr *types.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, string(PhaseFilter), stageErr.Stage)
}

func TestNoCandidatesStillSucceeds(t *testing.T) {
	src := &fakeSource{name: "s"}
	f := newFixture(t, testConfig(SourceConfig{Name: "s", Queries: queries(3)}), nil, nil,
		func(ai.Request) (string, error) { return `{"candidates": []}`, nil }, src)

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Opportunities)
	assert.False(t, res.Degraded())
}

func TestValidateDeniedKeepsNullSignal(t *testing.T) {
	src := &fakeSource{name: "s"}
	val := &fakeValidator{}
	cfg := testConfig(SourceConfig{Name: "s", Queries: queries(6)})
	f := newFixture(t, cfg, map[cost.Resource]int64{cost.ResourceValidation: 4}, val, filterAll, src)

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Candidates, 6)
	assert.Equal(t, int64(4), val.calls.Load())

	withSignal := 0
	for _, c := range res.Candidates {
		if c.Demand != nil {
			withSignal++
		}
	}
	assert.Equal(t, 4, withSignal)
	require.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		assert.Equal(t, PhaseValidate, e.Phase)
		assert.True(t, e.Denied())
	}
	assert.Len(t, res.Opportunities, 6)
}

func TestPipelineRanksOpportunities(t *testing.T) {
	a, b := &fakeSource{name: "a"}, &fakeSource{name: "b"}
	cfg := testConfig(
		SourceConfig{Name: "a", Queries: queries(12)},
		SourceConfig{Name: "b", Queries: queries(12)},
	)
	cfg.TopK = 5
	f := newFixture(t, cfg, nil, &fakeValidator{}, filterAll, a, b)

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Opportunities, 5)
	for i, o := range res.Opportunities {
		assert.Equal(t, i+1, o.Rank)
		if i > 0 {
			assert.GreaterOrEqual(t, res.Opportunities[i-1].OpportunityScore, o.OpportunityScore)
		}
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeSource{name: "b"}))
	require.NoError(t, reg.Register(&fakeSource{name: "a"}))
	assert.Error(t, reg.Register(&fakeSource{name: "a"}))

	assert.Equal(t, []string{"a", "b"}, reg.List())
	_, ok := reg.Get("a")
	assert.True(t, ok)
	_, ok = reg.Get("z")
	assert.False(t, ok)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero top k", func(c *Config) { c.TopK = 0 }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"threshold above one", func(c *Config) { c.ViabilityThreshold = 1.5 }, true},
		{"negative weight", func(c *Config) { c.Weights.Virality = -1 }, true},
		{"all zero weights", func(c *Config) { c.Weights = Weights{} }, true},
		{"duplicate source", func(c *Config) { c.Sources = append(c.Sources, c.Sources[0]) }, true},
		{"negative source ceiling", func(c *Config) { c.Sources[0].Ceiling = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyCeilings(t *testing.T) {
	budget := cost.DefaultConfig()
	DefaultConfig().ApplyCeilings(budget)
	assert.Equal(t, int64(60), budget.Ceilings["mining:discussions"])
	assert.Equal(t, int64(40), budget.Ceilings["mining:videos"])
}
