package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/types"
	"github.com/stretchr/testify/assert"
)

func init() {
	color.NoColor = true
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "-", formatCounts(nil))
	assert.Equal(t, "extraction=3 generation=2", formatCounts(map[string]int64{"generation": 2, "extraction": 3}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short text", truncate("short\n  text", 20))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"1"}, {"2", "x"}}, []columnAlignment{alignRight})
	assert.Contains(t, out, "A")
	assert.Contains(t, out, "x")
	assert.Empty(t, renderTable(nil, nil, nil))
}

func TestPrintRun(t *testing.T) {
	start := time.Date(2026, 1, 6, 6, 0, 0, 0, time.UTC)
	rec := &types.RunRecord{
		ID: "run-1", Kind: types.RunKindDigest, Date: "2026-01-06", Period: types.PeriodDaily,
		SourceType: types.SourceNewsletter, Status: types.RunSucceededDegraded,
		ItemsFetched: 4, ItemsFailed: 1, RevisionCount: 1, ForcedApproval: true,
		CallCounts: map[string]int64{"extraction": 4}, CostEstimate: 0.0123,
		PersistError: "persist: disk full", Errors: []string{"extract msg-2: rejected"},
		StartedAt: start, CompletedAt: start.Add(1500 * time.Millisecond),
	}
	var buf bytes.Buffer
	printRun(&buf, rec)
	out := buf.String()

	assert.Contains(t, out, "digest run 2026-01-06/daily/newsletter")
	assert.Contains(t, out, "succeeded_degraded")
	assert.Contains(t, out, "4 fetched, 1 failed")
	assert.Contains(t, out, "(forced approval)")
	assert.Contains(t, out, "$0.0123")
	assert.Contains(t, out, "no: persist: disk full")
	assert.Contains(t, out, "extract msg-2: rejected")
	assert.Contains(t, out, "1.5s")
}

func TestBudgetRows(t *testing.T) {
	rows := budgetRows(&cost.Config{
		Ceilings:      map[cost.Resource]int64{cost.ResourceMining: 200, "mining:videos": 0},
		UnitCosts:     map[cost.Resource]float64{cost.ResourceValidation: 0.002},
		RatePerSecond: map[cost.Resource]float64{cost.ResourceMining: 2.5},
	})
	assert.Equal(t, [][]string{
		{"mining", "200", "-", "2.5", "1"},
		{"mining:videos", "unlimited", "-", "-", "-"},
		{"validation", "unlimited", "$0.0020", "-", "-"},
	}, rows)
}
