package usage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usage.json")
	ledger, err := NewLedger(path, nil)
	require.NoError(t, err)
	return ledger, path
}

func TestRecordAccumulates(t *testing.T) {
	ledger, _ := newTestLedger(t)

	ledger.Record("claude-sonnet-4-20250514", 1000, 200)
	ledger.Record("claude-sonnet-4-20250514", 500, 100)

	stats := ledger.Stats()
	u := stats.Models["claude-sonnet-4-20250514"]
	assert.Equal(t, int64(1500), u.InputTokens)
	assert.Equal(t, int64(300), u.OutputTokens)
	assert.Equal(t, int64(2), u.Requests)
}

func TestAggregatesTrackAllModels(t *testing.T) {
	ledger, _ := newTestLedger(t)
	first := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return first }
	ledger.Record("claude-sonnet-4-20250514", 1000, 200)

	second := first.Add(time.Hour)
	ledger.now = func() time.Time { return second }
	ledger.Record("gpt-4o", 500, 100)

	stats := ledger.Stats()
	assert.Equal(t, int64(1500), stats.Totals.InputTokens)
	assert.Equal(t, int64(300), stats.Totals.OutputTokens)
	assert.Equal(t, int64(2), stats.Totals.Requests)
	assert.True(t, stats.FirstRequest.Equal(first))
	assert.True(t, stats.LastRequest.Equal(second))
}

func TestCostUsesFamilyPricing(t *testing.T) {
	ledger, _ := newTestLedger(t)

	// 15.0 for a million opus input tokens, 3.0 for forty thousand
	// output tokens at 75 per million.
	ledger.Record("claude-opus-4-20250514", 1_000_000, 40_000)
	assert.InDelta(t, 18.0, ledger.Cost("claude-opus-4-20250514"), 1e-9)

	ledger.Record("claude-haiku-3-5", 1_000_000, 0)
	assert.InDelta(t, 1.0, ledger.Cost("claude-haiku-3-5"), 1e-9)
	assert.InDelta(t, 19.0, ledger.TotalCost(), 1e-9)
}

func TestUnknownModelFallsBackToDefaultPrice(t *testing.T) {
	ledger, _ := newTestLedger(t)

	ledger.Record("mystery-model", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.0, ledger.Cost("mystery-model"), 1e-9)
}

func TestNegativeCountsIgnored(t *testing.T) {
	ledger, _ := newTestLedger(t)

	ledger.Record("claude-sonnet-4-20250514", -5, 10)
	assert.Empty(t, ledger.Stats().Models)
}

func TestLedgerSurvivesRestart(t *testing.T) {
	ledger, path := newTestLedger(t)
	ledger.Record("claude-sonnet-4-20250514", 100, 50)
	before := ledger.Stats()

	reloaded, err := NewLedger(path, nil)
	require.NoError(t, err)

	stats := reloaded.Stats()
	assert.Equal(t, int64(100), stats.Models["claude-sonnet-4-20250514"].InputTokens)
	assert.True(t, stats.Since.Equal(before.Since))
	assert.True(t, stats.FirstRequest.Equal(before.FirstRequest))
	assert.True(t, stats.LastRequest.Equal(before.LastRequest))
	assert.Equal(t, before.Totals, stats.Totals)
}

func TestPersistedSnapshotCarriesAggregates(t *testing.T) {
	ledger, path := newTestLedger(t)
	ledger.Record("claude-sonnet-4-20250514", 100, 50)
	ledger.Record("claude-opus-4-20250514", 30, 10)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snapshot map[string]any
	require.NoError(t, json.Unmarshal(data, &snapshot))

	assert.EqualValues(t, 130, snapshot["total_input_tokens"])
	assert.EqualValues(t, 60, snapshot["total_output_tokens"])
	assert.EqualValues(t, 2, snapshot["total_requests"])
	assert.NotEmpty(t, snapshot["first_request"])
	assert.NotEmpty(t, snapshot["last_request"])
}

func TestResetZeroesEverything(t *testing.T) {
	ledger, path := newTestLedger(t)
	ledger.Record("claude-sonnet-4-20250514", 100, 50)

	ledger.Reset()
	stats := ledger.Stats()
	assert.Empty(t, stats.Models)
	assert.Zero(t, stats.Totals)
	assert.True(t, stats.FirstRequest.IsZero())
	assert.True(t, stats.LastRequest.IsZero())
	assert.Zero(t, ledger.TotalCost())

	// Reset is durable too.
	reloaded, err := NewLedger(path, nil)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Stats().Models)
}

func TestFormatStats(t *testing.T) {
	ledger, _ := newTestLedger(t)
	assert.Equal(t, "No usage recorded yet.", ledger.FormatStats())

	ledger.Record("claude-sonnet-4-20250514", 1_000_000, 200_000)
	report := ledger.FormatStats()
	assert.Contains(t, report, "claude-sonnet-4-20250514")
	assert.Contains(t, report, "1000000 in / 200000 out")
	assert.Contains(t, report, "Total: 1 requests, 1000000 in / 200000 out, $6.00")
	assert.Contains(t, report, "Last request:")
}
