package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/ai/aitest"
	"github.com/steveyegge/scout/internal/config"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/discovery"
	"github.com/steveyegge/scout/internal/logging"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/sources"
	"github.com/steveyegge/scout/internal/storage"
	"github.com/steveyegge/scout/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

// fakeSource returns the items it holds, or err
type fakeSource struct {
	items []types.Item
	err   error
	since time.Time
	calls atomic.Int32
}

func (s *fakeSource) Type() types.SourceType { return types.SourceNewsletter }

func (s *fakeSource) Fetch(_ context.Context, since time.Time) ([]types.Item, error) {
	s.calls.Add(1)
	s.since = since
	return s.items, s.err
}

func newsItems(titles ...string) []types.Item {
	items := make([]types.Item, len(titles))
	for i, title := range titles {
		items[i] = types.Item{
			ID:         fmt.Sprintf("msg-%d", i),
			SourceType: types.SourceNewsletter,
			Title:      title,
			RawText:    title + " body",
		}
	}
	return items
}

// failingStore fails every digest upsert while failing is set
type failingStore struct {
	storage.Storage
	failing atomic.Bool
}

func (s *failingStore) UpsertDigest(ctx context.Context, key types.NaturalKey, payload json.RawMessage) (*types.PersistedDigest, error) {
	if s.failing.Load() {
		return nil, errors.New("disk full")
	}
	return s.Storage.UpsertDigest(ctx, key, payload)
}

var titleLine = regexp.MustCompile(`(?m)^Title: (.*)$`)

// digestHandler approves every draft; extraction echoes the item title and
// rejects items whose content contains FAIL
func digestHandler(req ai.Request) (string, error) {
	switch req.Operation {
	case "extract":
		if strings.Contains(req.Prompt, "FAIL") {
			return "", &ai.Error{Kind: ai.ErrInvalidInput, Err: errors.New("rejected")}
		}
		var title string
		if m := titleLine.FindStringSubmatch(req.Prompt); m != nil {
			title = m[1]
		}
		return fmt.Sprintf(`{"headlines": [%q], "tools": [], "trends": [], "takeaways": []}`, title), nil
	case "aggregate":
		return "Today in tools: a briefing.", nil
	case "review":
		return `{"approved": true, "feedback": []}`, nil
	}
	return "", fmt.Errorf("unexpected operation %q", req.Operation)
}

type fixture struct {
	runner *Runner
	store  *failingStore
	gw     *storage.Gateway
	gen    *aitest.Generator
	source *fakeSource
	cfg    *config.Config
}

func newFixture(t *testing.T, handler aitest.HandlerFunc, mutate ...func(*Deps)) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.LockDir = filepath.Join(dir, "locks")
	cfg.Retry.MaxRetries = 1
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.BreakerEnabled = false

	backend, err := storage.NewStorage(context.Background(), &storage.Config{Path: filepath.Join(dir, "scout.db")})
	require.NoError(t, err)
	store := &failingStore{Storage: backend}
	gw := storage.NewGateway(store, retry.Policy{MaxRetries: 1, InitialBackoff: time.Millisecond}, logging.Discard())
	gw.RetryOptions = []retry.Option{retry.WithSleeper(noSleep)}
	t.Cleanup(func() { gw.Close() })

	f := &fixture{store: store, gw: gw, gen: aitest.New(handler), source: &fakeSource{}, cfg: cfg}
	deps := Deps{
		Config:    cfg,
		Generator: f.gen,
		Store:     gw,
		Logger:    logging.Discard(),
		Sources: func(sources.Deps) *sources.Registry {
			r := sources.NewRegistry()
			r.Register(f.source)
			return r
		},
		Now:          func() time.Time { return time.Date(2026, 1, 6, 6, 0, 0, 0, time.UTC) },
		RetryOptions: []retry.Option{retry.WithSleeper(noSleep)},
	}
	for _, m := range mutate {
		m(&deps)
	}
	f.runner, err = New(deps)
	require.NoError(t, err)
	return f
}

var newsletterKey = types.NaturalKey{Date: "2026-01-06", Period: types.PeriodDaily, SourceType: types.SourceNewsletter}

func decodeDigest(t *testing.T, d *types.PersistedDigest) DigestPayload {
	t.Helper()
	var p DigestPayload
	require.NoError(t, json.Unmarshal(d.Payload, &p))
	return p
}

func TestRunDigestTwiceKeepsOneRow(t *testing.T) {
	f := newFixture(t, digestHandler)
	ctx := context.Background()

	f.source.items = newsItems("first edition")
	rec1, err := f.runner.RunDigest(ctx, "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, rec1.Status)
	assert.True(t, rec1.Persisted)

	f.source.items = newsItems("second edition", "another story")
	rec2, err := f.runner.RunDigest(ctx, "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{})
	require.NoError(t, err)
	assert.True(t, rec2.Persisted)
	assert.NotEqual(t, rec1.ID, rec2.ID)

	history, err := f.gw.History(ctx, types.SourceNewsletter, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	latest, err := f.gw.GetLatest(ctx, newsletterKey)
	require.NoError(t, err)
	payload := decodeDigest(t, latest)
	assert.Equal(t, rec2.ID, payload.RunID)
	require.Len(t, payload.Summaries, 2)
	assert.Equal(t, "second edition", payload.Summaries[0].Title)
	assert.Equal(t, types.BriefingApproved, payload.Briefing.State)
	assert.JSONEq(t, string(rec2.Payload), string(latest.Payload))

	runs, err := f.gw.ListRuns(ctx, types.RunFilter{Kind: types.RunKindDigest})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunDigestFetchWindow(t *testing.T) {
	f := newFixture(t, digestHandler)
	f.source.items = newsItems("story")

	_, err := f.runner.RunDigest(context.Background(), "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC), f.source.since)

	// Mondays are not skipped for weekly runs
	_, err = f.runner.RunDigest(context.Background(), "2026-01-05", types.PeriodWeekly, types.SourceNewsletter, Options{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC), f.source.since)
}

func TestRunDigestRecordsCounters(t *testing.T) {
	f := newFixture(t, digestHandler)
	f.source.items = newsItems("a", "b", "c")

	rec, err := f.runner.RunDigest(context.Background(), "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ItemsFetched)
	assert.Equal(t, int64(3), rec.CallCounts[string(cost.ResourceExtraction)])
	assert.Equal(t, int64(2), rec.CallCounts[string(cost.ResourceGeneration)], "aggregate + review")
	assert.Greater(t, rec.CostEstimate, 0.0)
	assert.False(t, rec.CompletedAt.IsZero())
}

func TestRunDigestDryRunPersistsNothing(t *testing.T) {
	f := newFixture(t, digestHandler)
	f.source.items = newsItems("story")
	ctx := context.Background()

	rec, err := f.runner.RunDigest(ctx, "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, rec.Status)
	assert.True(t, rec.DryRun)
	assert.False(t, rec.Persisted)
	assert.NotEmpty(t, rec.Payload)

	_, err = f.gw.GetLatest(ctx, newsletterKey)
	assert.ErrorIs(t, err, types.ErrNotFound)
	runs, err := f.gw.ListRuns(ctx, types.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)

	assert.Error(t, f.runner.Persist(ctx, rec), "dry runs cannot be persisted later")
}

func TestRunDigestWeekdaySkip(t *testing.T) {
	f := newFixture(t, digestHandler)
	f.source.items = newsItems("story")
	ctx := context.Background()

	// 2026-01-06 is a Tuesday; weekly runs only happen on Mondays
	rec, err := f.runner.RunDigest(ctx, "2026-01-06", types.PeriodWeekly, types.SourceNewsletter, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.RunSkipped, rec.Status)
	assert.Equal(t, int32(0), f.source.calls.Load())
	assert.Zero(t, f.gen.Total())

	rec, err = f.runner.RunDigest(ctx, "2026-01-06", types.PeriodWeekly, types.SourceNewsletter, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, rec.Status)
	assert.Equal(t, int32(1), f.source.calls.Load())
}

func TestRunDigestPersistFailureThenRetry(t *testing.T) {
	f := newFixture(t, digestHandler)
	f.source.items = newsItems("story")
	ctx := context.Background()

	f.store.failing.Store(true)
	rec, err := f.runner.RunDigest(ctx, "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrPersistFailed)
	require.NotNil(t, rec, "the computed record is returned with the error")
	assert.Equal(t, types.RunSucceeded, rec.Status, "persistence does not change the computed status")
	assert.False(t, rec.Persisted)
	assert.Contains(t, rec.PersistError, "disk full")
	require.NotEmpty(t, rec.Payload)

	calls := f.gen.Total()
	f.store.failing.Store(false)
	require.NoError(t, f.runner.Persist(ctx, rec))
	assert.True(t, rec.Persisted)
	assert.Empty(t, rec.PersistError)
	assert.Equal(t, calls, f.gen.Total(), "retrying persistence does not recompute")

	latest, err := f.gw.GetLatest(ctx, newsletterKey)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, decodeDigest(t, latest).RunID)

	runs, err := f.gw.ListRuns(ctx, types.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Persisted)
}

func TestRunDigestLockContention(t *testing.T) {
	f := newFixture(t, digestHandler)
	f.source.items = newsItems("story")

	held, err := storage.AcquireRunLock(f.cfg.LockDir, newsletterKey, "other-run")
	require.NoError(t, err)

	rec, err := f.runner.RunDigest(context.Background(), "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{})
	assert.ErrorIs(t, err, storage.ErrLocked)
	assert.Nil(t, rec)
	assert.Equal(t, int32(0), f.source.calls.Load())

	// Dry runs take no lock
	_, err = f.runner.RunDigest(context.Background(), "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{DryRun: true})
	assert.NoError(t, err)

	require.NoError(t, held.Release())
	_, err = f.runner.RunDigest(context.Background(), "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{})
	assert.NoError(t, err)
}

func TestRunDigestPartialExtractionIsDegraded(t *testing.T) {
	f := newFixture(t, digestHandler)
	f.source.items = newsItems("good", "FAIL story", "also good")

	rec, err := f.runner.RunDigest(context.Background(), "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceededDegraded, rec.Status)
	assert.Equal(t, 1, rec.ItemsFailed)
	require.Len(t, rec.Errors, 1)
	assert.Contains(t, rec.Errors[0], "msg-1")

	var payload DigestPayload
	require.NoError(t, json.Unmarshal(rec.Payload, &payload))
	assert.Len(t, payload.Summaries, 2)
	require.Len(t, payload.Failed, 1)
	assert.Equal(t, "msg-1", payload.Failed[0].ItemID)
}

func TestRunDigestFailures(t *testing.T) {
	tests := []struct {
		name  string
		items []types.Item
		err   error
	}{
		{"fetch error", nil, errors.New("mailbox unreachable")},
		{"no items", nil, nil},
		{"every extraction fails", newsItems("FAIL one", "FAIL two"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, digestHandler)
			f.source.items = tt.items
			f.source.err = tt.err
			ctx := context.Background()

			rec, err := f.runner.RunDigest(ctx, "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{})
			require.NoError(t, err, "computation failures are reported on the record")
			assert.Equal(t, types.RunFailed, rec.Status)
			assert.NotEmpty(t, rec.Errors)
			assert.False(t, rec.Persisted)
			assert.Zero(t, f.gen.Calls("aggregate"))

			_, err = f.gw.GetLatest(ctx, newsletterKey)
			assert.ErrorIs(t, err, types.ErrNotFound)
			runs, err := f.gw.ListRuns(ctx, types.RunFilter{Status: types.RunFailed})
			require.NoError(t, err)
			assert.Len(t, runs, 1)
		})
	}
}

func TestRunDigestAggregationFailure(t *testing.T) {
	f := newFixture(t, func(req ai.Request) (string, error) {
		if req.Operation == "aggregate" {
			return "", &ai.Error{Kind: ai.ErrAuthFailure, Err: errors.New("bad key")}
		}
		return digestHandler(req)
	})
	f.source.items = newsItems("story")

	rec, err := f.runner.RunDigest(context.Background(), "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, rec.Status)
	assert.Nil(t, rec.Payload)
	assert.Zero(t, f.gen.Calls("review"))
}

func TestRunDigestRevisionCap(t *testing.T) {
	f := newFixture(t, func(req ai.Request) (string, error) {
		if req.Operation == "review" {
			return `{"approved": false, "feedback": ["too long"]}`, nil
		}
		return digestHandler(req)
	})
	f.source.items = newsItems("story")

	rec, err := f.runner.RunDigest(context.Background(), "2026-01-06", types.PeriodDaily, types.SourceNewsletter, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceededDegraded, rec.Status, "forced approval degrades the run")
	assert.Equal(t, 1, rec.RevisionCount)
	assert.True(t, rec.ForcedApproval)
	assert.Equal(t, 2, f.gen.Calls("aggregate"))
	assert.Equal(t, 2, f.gen.Calls("review"))

	var payload DigestPayload
	require.NoError(t, json.Unmarshal(rec.Payload, &payload))
	assert.Equal(t, []string{"too long"}, payload.Briefing.Feedback)
}

func TestRunDigestRejectsBadInput(t *testing.T) {
	f := newFixture(t, digestHandler)
	ctx := context.Background()

	_, err := f.runner.RunDigest(ctx, "06/01/2026", types.PeriodDaily, types.SourceNewsletter, Options{})
	assert.Error(t, err)
	_, err = f.runner.RunDigest(ctx, "2026-01-06", "monthly", types.SourceNewsletter, Options{})
	assert.Error(t, err)
	_, err = f.runner.RunDigest(ctx, "2026-01-06", types.PeriodDaily, types.SourceDiscovery, Options{})
	assert.Error(t, err)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
	_, err = New(Deps{Config: config.Default()})
	assert.Error(t, err)
	_, err = New(Deps{Config: config.Default(), Generator: aitest.Static("")})
	assert.Error(t, err)
}

// Discovery

type fakeMiner struct {
	name string
	err  error
}

func (m *fakeMiner) Name() string { return m.name }

func (m *fakeMiner) Mine(_ context.Context, query string) ([]types.PainPoint, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []types.PainPoint{
		{Text: m.name + " users want " + query, Engagement: float64(10 * len(query))},
		{Text: "minor gripe about " + query, Engagement: 1},
	}, nil
}

type fakeValidator struct{ calls atomic.Int32 }

func (v *fakeValidator) Validate(_ context.Context, keyword string) (*types.DemandSignal, error) {
	v.calls.Add(1)
	return &types.DemandSignal{Keyword: keyword, Score: 80, Direction: "rising"}, nil
}

var filterLine = regexp.MustCompile(`(?m)^\[(\d+)\] \([^)]*\) (.*)$`)

// discoveryHandler keeps complaints that say "want" and drops the rest
func discoveryHandler(req ai.Request) (string, error) {
	if req.Operation != "filter" {
		return "", fmt.Errorf("unexpected operation %q", req.Operation)
	}
	var b strings.Builder
	b.WriteString(`{"candidates": [`)
	first := true
	for _, m := range filterLine.FindAllStringSubmatch(req.Prompt, -1) {
		idx, _ := strconv.Atoi(m[1])
		viability := 0.1
		if strings.Contains(m[2], "want") {
			viability = 0.9
		}
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b, `{"index": %d, "viability": %.1f, "buildability": 0.7, "idea": %q, "keyword": %q}`,
			idx, viability, "tool for "+m[2], m[2])
	}
	b.WriteString("]}")
	return b.String(), nil
}

func discoveryFixture(t *testing.T, validator discovery.Validator, miners ...discovery.PainPointSource) *fixture {
	t.Helper()
	f := newFixture(t, discoveryHandler, func(d *Deps) {
		d.Miners = func(sources.Deps) (*discovery.Registry, error) {
			r := discovery.NewRegistry()
			for _, m := range miners {
				if err := r.Register(m); err != nil {
					return nil, err
				}
			}
			return r, nil
		}
		d.Validator = validator
	})
	f.cfg.Discovery.Sources = []discovery.SourceConfig{
		{Name: "discussions", Queries: []string{"invoicing", "scheduling"}, Ceiling: 10},
		{Name: "videos", Queries: []string{"offline sync"}},
	}
	return f
}

func TestRunDiscovery(t *testing.T) {
	validator := &fakeValidator{}
	f := discoveryFixture(t, validator, &fakeMiner{name: "discussions"}, &fakeMiner{name: "videos"})
	ctx := context.Background()

	rec, err := f.runner.RunDiscovery(ctx, "2026-01-06", Options{})
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, rec.Status)
	assert.Equal(t, types.RunKindDiscovery, rec.Kind)
	assert.Equal(t, 6, rec.ItemsFetched)
	assert.Equal(t, 3, rec.Opportunities)
	assert.Equal(t, int32(3), validator.calls.Load())
	assert.Equal(t, int64(2), rec.CallCounts["mining:discussions"])
	assert.Equal(t, int64(3), rec.CallCounts[string(cost.ResourceMining)])

	latest, err := f.gw.GetLatest(ctx, DiscoveryKey("2026-01-06"))
	require.NoError(t, err)
	var payload DiscoveryPayload
	require.NoError(t, json.Unmarshal(latest.Payload, &payload))
	require.Len(t, payload.Opportunities, 3)
	assert.Equal(t, 6, payload.PainPoints)
	assert.Equal(t, 3, payload.Candidates)
	for i, o := range payload.Opportunities {
		assert.Equal(t, i+1, o.Rank)
		require.NotNil(t, o.Demand)
		if i > 0 {
			assert.GreaterOrEqual(t, payload.Opportunities[i-1].OpportunityScore, o.OpportunityScore)
		}
	}
}

func TestRunDiscoveryDegradedOnSourceFailure(t *testing.T) {
	f := discoveryFixture(t, nil,
		&fakeMiner{name: "discussions"},
		&fakeMiner{name: "videos", err: &retry.HTTPError{StatusCode: 403, URL: "https://videos.example.com"}})

	rec, err := f.runner.RunDiscovery(context.Background(), "2026-01-06", Options{})
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceededDegraded, rec.Status)
	assert.Equal(t, 2, rec.Opportunities)
	require.Len(t, rec.Errors, 1)
	assert.Contains(t, rec.Errors[0], "videos")
	assert.True(t, rec.Persisted)
}

func TestRunDiscoveryNothingMinedFails(t *testing.T) {
	boom := &retry.HTTPError{StatusCode: 401}
	f := discoveryFixture(t, nil, &fakeMiner{name: "discussions", err: boom}, &fakeMiner{name: "videos", err: boom})
	ctx := context.Background()

	rec, err := f.runner.RunDiscovery(ctx, "2026-01-06", Options{})
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, rec.Status)
	assert.Zero(t, f.gen.Total())

	_, err = f.gw.GetLatest(ctx, DiscoveryKey("2026-01-06"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}
