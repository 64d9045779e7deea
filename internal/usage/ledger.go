// Package usage tracks token consumption and estimated spend per
// model, durably across restarts.
package usage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	natomic "github.com/natefinch/atomic"
)

// Recorder is the sink every LLM call reports into. Callers pass it
// explicitly; nothing records usage implicitly.
type Recorder interface {
	Record(model string, inputTokens, outputTokens int64)
}

// Price is dollars per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// DefaultPricing covers the model families the router serves. Lookup
// is by substring of the full model name, so dated releases inherit
// their family's price.
func DefaultPricing() map[string]Price {
	return map[string]Price{
		"sonnet": {Input: 3.0, Output: 15.0},
		"opus":   {Input: 15.0, Output: 75.0},
		"haiku":  {Input: 1.0, Output: 5.0},
	}
}

var fallbackPrice = Price{Input: 3.0, Output: 15.0}

// ModelUsage is the running counters for one model.
type ModelUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Requests     int64 `json:"requests"`
}

type Stats struct {
	Since        time.Time
	FirstRequest time.Time
	LastRequest  time.Time
	Totals       ModelUsage
	Models       map[string]ModelUsage
}

type ledgerFile struct {
	Since             time.Time             `json:"since"`
	TotalInputTokens  int64                 `json:"total_input_tokens"`
	TotalOutputTokens int64                 `json:"total_output_tokens"`
	TotalRequests     int64                 `json:"total_requests"`
	FirstRequest      time.Time             `json:"first_request,omitempty"`
	LastRequest       time.Time             `json:"last_request,omitempty"`
	Models            map[string]ModelUsage `json:"models"`
}

// Ledger accumulates usage in memory and snapshots the whole state to
// one JSON file on every record. Counters only ever grow between
// resets; a crash loses at most the in-flight record.
type Ledger struct {
	mu      sync.Mutex
	path    string
	since   time.Time
	first   time.Time
	last    time.Time
	totals  ModelUsage
	models  map[string]ModelUsage
	pricing map[string]Price

	now func() time.Time
}

func NewLedger(path string, pricing map[string]Price) (*Ledger, error) {
	if len(pricing) == 0 {
		pricing = DefaultPricing()
	}
	l := &Ledger{
		path:    path,
		since:   time.Now().UTC(),
		models:  make(map[string]ModelUsage),
		pricing: pricing,
		now:     time.Now,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage ledger: %w", err)
	}
	var file ledgerFile
	if err := json.Unmarshal(data, &file); err != nil {
		// A corrupt ledger is not worth refusing to start over; the
		// data is advisory.
		slog.Warn("Usage ledger is corrupt, starting fresh", "path", path)
		return l, nil
	}
	if !file.Since.IsZero() {
		l.since = file.Since
	}
	if file.Models != nil {
		l.models = file.Models
	}
	l.first = file.FirstRequest
	l.last = file.LastRequest
	// Aggregates are derived from the per-model counters, so a snapshot
	// written by hand or by an older build can never disagree with them.
	for _, u := range l.models {
		l.totals.InputTokens += u.InputTokens
		l.totals.OutputTokens += u.OutputTokens
		l.totals.Requests += u.Requests
	}
	return l, nil
}

func (l *Ledger) persist() {
	data, err := json.MarshalIndent(ledgerFile{
		Since:             l.since,
		TotalInputTokens:  l.totals.InputTokens,
		TotalOutputTokens: l.totals.OutputTokens,
		TotalRequests:     l.totals.Requests,
		FirstRequest:      l.first,
		LastRequest:       l.last,
		Models:            l.models,
	}, "", "  ")
	if err != nil {
		return
	}
	if err := natomic.WriteFile(l.path, bytes.NewReader(data)); err != nil {
		slog.Error("Failed to persist usage ledger", "path", l.path, "error", err)
	}
}

// Record adds one call's token counts to the model's counters.
func (l *Ledger) Record(model string, inputTokens, outputTokens int64) {
	if inputTokens < 0 || outputTokens < 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.models[model]
	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens
	u.Requests++
	l.models[model] = u

	l.totals.InputTokens += inputTokens
	l.totals.OutputTokens += outputTokens
	l.totals.Requests++

	now := l.now().UTC()
	if l.first.IsZero() {
		l.first = now
	}
	l.last = now
	l.persist()
}

func (l *Ledger) price(model string) Price {
	for family, p := range l.pricing {
		if strings.Contains(model, family) {
			return p
		}
	}
	return fallbackPrice
}

// Cost estimates dollars spent on one model since the last reset.
func (l *Ledger) Cost(model string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cost(model, l.models[model])
}

func (l *Ledger) cost(model string, u ModelUsage) float64 {
	p := l.price(model)
	return float64(u.InputTokens)/1e6*p.Input + float64(u.OutputTokens)/1e6*p.Output
}

// TotalCost sums Cost over every recorded model.
func (l *Ledger) TotalCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for model, u := range l.models {
		total += l.cost(model, u)
	}
	return total
}

// Reset zeroes all counters and restarts the accounting window.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.models = make(map[string]ModelUsage)
	l.totals = ModelUsage{}
	l.first = time.Time{}
	l.last = time.Time{}
	l.since = l.now().UTC()
	l.persist()
	slog.Info("Usage ledger reset")
}

func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := Stats{
		Since:        l.since,
		FirstRequest: l.first,
		LastRequest:  l.last,
		Totals:       l.totals,
		Models:       make(map[string]ModelUsage, len(l.models)),
	}
	for model, u := range l.models {
		out.Models[model] = u
	}
	return out
}

// FormatStats renders a chat-friendly usage report.
func (l *Ledger) FormatStats() string {
	stats := l.Stats()
	if len(stats.Models) == 0 {
		return "No usage recorded yet."
	}

	models := make([]string, 0, len(stats.Models))
	for model := range stats.Models {
		models = append(models, model)
	}
	sort.Strings(models)

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Usage since %s\n", stats.Since.Format("2006-01-02 15:04 UTC"))
	for _, model := range models {
		u := stats.Models[model]
		fmt.Fprintf(&b, "\n%s\n  requests: %d\n  tokens: %d in / %d out\n  cost: $%.2f\n",
			model, u.Requests, u.InputTokens, u.OutputTokens, l.Cost(model))
	}
	fmt.Fprintf(&b, "\nTotal: %d requests, %d in / %d out, $%.2f",
		stats.Totals.Requests, stats.Totals.InputTokens, stats.Totals.OutputTokens, l.TotalCost())
	if !stats.LastRequest.IsZero() {
		fmt.Fprintf(&b, "\nLast request: %s", stats.LastRequest.Format("2006-01-02 15:04 UTC"))
	}
	return b.String()
}
