package ai_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/ai/aitest"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newInvoker(t *testing.T, gen ai.Generator, ceilings map[cost.Resource]int64) (*ai.Invoker, *cost.Governor) {
	t.Helper()
	cfg := cost.DefaultConfig()
	for k, v := range ceilings {
		cfg.Ceilings[k] = v
	}
	gov, err := cost.NewGovernor(cfg)
	require.NoError(t, err)
	inv := ai.NewInvoker(gen, gov, nil)
	inv.RetryOptions = []retry.Option{retry.WithSleeper(noSleep)}
	return inv, gov
}

func TestInvokeRetriesTransientErrors(t *testing.T) {
	var n atomic.Int32
	gen := aitest.New(func(ai.Request) (string, error) {
		if n.Add(1) < 3 {
			return "", &ai.Error{Kind: ai.ErrRateLimited, Err: errors.New("429")}
		}
		return "ok", nil
	})
	inv, gov := newInvoker(t, gen, nil)

	resp, err := inv.Invoke(context.Background(), cost.ResourceGeneration, ai.Request{Operation: "aggregate", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, gen.Calls("aggregate"))
	// every attempt is charged
	assert.Equal(t, int64(3), gov.Used(cost.ResourceGeneration))
}

func TestInvokeFatalErrorNoRetry(t *testing.T) {
	gen := aitest.New(func(ai.Request) (string, error) {
		return "", &ai.Error{Kind: ai.ErrAuthFailure, Err: errors.New("401")}
	})
	inv, _ := newInvoker(t, gen, nil)

	_, err := inv.Invoke(context.Background(), cost.ResourceGeneration, ai.Request{Operation: "review", Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrAuthFailure)
	assert.Equal(t, 1, gen.Calls("review"))
}

func TestInvokeBudgetDenied(t *testing.T) {
	gen := aitest.Static("ok")
	inv, gov := newInvoker(t, gen, map[cost.Resource]int64{cost.ResourceExtraction: 2})

	for i := 0; i < 2; i++ {
		_, err := inv.Invoke(context.Background(), cost.ResourceExtraction, ai.Request{Operation: "extract", Prompt: "p"})
		require.NoError(t, err)
	}
	_, err := inv.Invoke(context.Background(), cost.ResourceExtraction, ai.Request{Operation: "extract", Prompt: "p"})
	assert.ErrorIs(t, err, cost.ErrBudgetDenied)
	assert.Equal(t, 2, gen.Calls("extract"))
	assert.Equal(t, int64(2), gov.Used(cost.ResourceExtraction))
}

func TestInvokeRecordsTokenCost(t *testing.T) {
	cfg := cost.DefaultConfig()
	cfg.InputTokenCost = 1_000_000
	cfg.OutputTokenCost = 0
	gov, err := cost.NewGovernor(cfg)
	require.NoError(t, err)
	inv := ai.NewInvoker(aitest.Static("x"), gov, nil)

	_, err = inv.Invoke(context.Background(), cost.ResourceGeneration, ai.Request{Operation: "aggregate", Prompt: "12345678"})
	require.NoError(t, err)
	// 8-char prompt is 2 input tokens in the fake
	assert.InDelta(t, 2.0, gov.Snapshot().EstimatedCost, 1e-9)
}

func TestInvokeJSON(t *testing.T) {
	inv, _ := newInvoker(t, aitest.Static("```json\n{\"approved\": true}\n```"), nil)
	v, err := ai.InvokeJSON[struct {
		Approved bool `json:"approved"`
	}](context.Background(), inv, cost.ResourceGeneration, ai.Request{Operation: "review", Prompt: "p"})
	require.NoError(t, err)
	assert.True(t, v.Approved)

	inv, _ = newInvoker(t, aitest.Static("nope"), nil)
	_, err = ai.InvokeJSON[map[string]any](context.Background(), inv, cost.ResourceGeneration, ai.Request{Operation: "review", Prompt: "p"})
	assert.ErrorIs(t, err, ai.ErrMalformedResponse)
}
