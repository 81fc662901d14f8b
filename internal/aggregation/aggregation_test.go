package aggregation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/ai/aitest"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAggregator(t *testing.T, gen ai.Generator) *Aggregator {
	t.Helper()
	gov, err := cost.NewGovernor(cost.DefaultConfig())
	require.NoError(t, err)
	inv := ai.NewInvoker(gen, gov, nil)
	inv.Policy = retry.Policy{MaxRetries: 0}
	return New(inv, Config{}, nil)
}

func sampleSummaries() []types.Summary {
	return []types.Summary{
		{ItemID: "a", Title: "First", CategorizedFields: map[string][]string{types.FieldHeadlines: {"Go 1.26 released"}}},
		{ItemID: "b", Title: "Second", CategorizedFields: map[string][]string{types.FieldTools: {"sqlc"}}},
	}
}

func TestAggregate(t *testing.T) {
	gen := aitest.Static("  # Briefing\n\nGo 1.26 released.  ")
	agg := newAggregator(t, gen)

	b, err := agg.Aggregate(context.Background(), "run-1", sampleSummaries(), nil)
	require.NoError(t, err)
	assert.Equal(t, "run-1", b.RunID)
	assert.Equal(t, "# Briefing\n\nGo 1.26 released.", b.Text)
	assert.Equal(t, types.BriefingDrafted, b.State)
	assert.Equal(t, 0, b.RevisionCount)
	assert.Equal(t, 2, b.SummaryCount)
	assert.Equal(t, 1, gen.Calls("aggregate"))

	prompt := gen.Requests()[0].Prompt
	assert.Less(t, strings.Index(prompt, "First"), strings.Index(prompt, "Second"), "summary order must be kept")
	assert.NotContains(t, prompt, "reviewer")
}

func TestAggregateWithFeedback(t *testing.T) {
	gen := aitest.Static("revised")
	agg := newAggregator(t, gen)

	_, err := agg.Aggregate(context.Background(), "run-1", sampleSummaries(), []string{"missing tools section"})
	require.NoError(t, err)
	assert.Contains(t, gen.Requests()[0].Prompt, "missing tools section")
}

func TestAggregateFailureIsStageFailure(t *testing.T) {
	gen := aitest.New(func(ai.Request) (string, error) {
		return "", &ai.Error{Kind: ai.ErrAuthFailure, Err: errors.New("401")}
	})
	agg := newAggregator(t, gen)

	b, err := agg.Aggregate(context.Background(), "run-1", sampleSummaries(), nil)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, types.ErrStageFailed)
	assert.ErrorIs(t, err, ai.ErrAuthFailure)
}

func TestAggregateEmpty(t *testing.T) {
	agg := newAggregator(t, aitest.Static("   "))

	_, err := agg.Aggregate(context.Background(), "run-1", nil, nil)
	assert.ErrorIs(t, err, types.ErrStageFailed)

	_, err = agg.Aggregate(context.Background(), "run-1", sampleSummaries(), nil)
	assert.ErrorIs(t, err, types.ErrStageFailed)
}
