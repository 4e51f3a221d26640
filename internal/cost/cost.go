// Package cost keeps running totals of metered resource usage (model tokens,
// compute time) and converts them to dollars using a static pricing table.
package cost

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ModelPrice is the dollar cost per million tokens for one model family.
type ModelPrice struct {
	InputPerM  float64 `json:"input_per_m"`
	OutputPerM float64 `json:"output_per_m"`
}

// Pricing is the static per-unit cost table.
type Pricing struct {
	// Models is keyed by model family; a model name matches the longest
	// family it contains as a substring ("claude-3-5-sonnet" matches "sonnet").
	Models       map[string]ModelPrice `json:"models"`
	DefaultModel string                `json:"default_model"`

	// Compute pricing, Lambda-style.
	PerMillionRequests float64 `json:"per_million_requests"`
	PerGBSecond        float64 `json:"per_gb_second"`
}

// DefaultPricing returns published on-demand list prices.
func DefaultPricing() Pricing {
	return Pricing{
		Models: map[string]ModelPrice{
			"opus":   {InputPerM: 15, OutputPerM: 75},
			"sonnet": {InputPerM: 3, OutputPerM: 15},
			"haiku":  {InputPerM: 0.25, OutputPerM: 1.25},
		},
		DefaultModel:       "sonnet",
		PerMillionRequests: 0.20,
		PerGBSecond:        0.0000166667,
	}
}

// Resolve returns the pricing family for model, falling back to DefaultModel.
func (p Pricing) Resolve(model string) (string, ModelPrice) {
	m := strings.ToLower(model)
	if price, ok := p.Models[m]; ok {
		return m, price
	}
	// Prefer the longest matching family.
	best := ""
	for family := range p.Models {
		if strings.Contains(m, family) && len(family) > len(best) {
			best = family
		}
	}
	if best != "" {
		return best, p.Models[best]
	}
	return p.DefaultModel, p.Models[p.DefaultModel]
}

// Breakdown is the accumulated dollar cost per resource class.
type Breakdown struct {
	Claude float64 `json:"claude"`
	Lambda float64 `json:"lambda"`
	Total  float64 `json:"total"`
}

// Usage is the raw accumulated resource usage.
type Usage struct {
	ClaudeInputTokens  int64 `json:"claude_input_tokens"`
	ClaudeOutputTokens int64 `json:"claude_output_tokens"`
	LambdaInvocations  int64 `json:"lambda_invocations"`
	LambdaDurationMs   int64 `json:"lambda_duration_ms"`

	// LambdaGBSeconds is kept separately because memory varies per call.
	LambdaGBSeconds float64 `json:"lambda_gb_seconds"`
}

// Metrics are pure counters incremented by the pipeline.
type Metrics struct {
	EmailsProcessed          int64 `json:"emails_processed"`
	ResponsesGenerated       int64 `json:"responses_generated"`
	ClassificationsPerformed int64 `json:"classifications_performed"`
}

// Efficiency holds per-unit cost ratios. Zero when the denominator is zero.
type Efficiency struct {
	CostPerEmail    float64 `json:"cost_per_email"`
	CostPerResponse float64 `json:"cost_per_response"`
}

// Costs is a point-in-time view of the ledger.
type Costs struct {
	Breakdown  Breakdown  `json:"breakdown"`
	Usage      Usage      `json:"usage"`
	Metrics    Metrics    `json:"metrics"`
	Efficiency Efficiency `json:"efficiency"`
}

// Snapshot is the persisted form of the ledger.
type Snapshot struct {
	Breakdown Breakdown `json:"breakdown"`
	Usage     Usage     `json:"usage"`
	Metrics   Metrics   `json:"metrics"`
	// Day is the local date (YYYY-MM-DD) DayBase belongs to.
	Day     string  `json:"day,omitempty"`
	DayBase float64 `json:"day_base,omitempty"`
}

// Tracker accumulates usage and cost. The zero value is not usable; call New.
type Tracker struct {
	mu      sync.Mutex
	pricing Pricing
	claude  float64
	lambda  float64
	usage   Usage
	metrics Metrics

	// day and dayBase mark the total at the start of the current local day.
	day     string
	dayBase float64
}

// New creates a Tracker with the given pricing. A pricing table with no
// models is replaced by DefaultPricing.
func New(p Pricing) *Tracker {
	if len(p.Models) == 0 {
		p = DefaultPricing()
	}
	if _, ok := p.Models[p.DefaultModel]; !ok {
		for family := range p.Models {
			p.DefaultModel = family
			break
		}
	}
	return &Tracker{pricing: p}
}

// Pricing returns the table the tracker was built with.
func (t *Tracker) Pricing() Pricing {
	return t.pricing
}

// TrackClaudeUsage records token usage and returns its incremental cost.
// Negative token counts are treated as zero.
func (t *Tracker) TrackClaudeUsage(model string, inputTokens, outputTokens int64) float64 {
	inputTokens = max(inputTokens, 0)
	outputTokens = max(outputTokens, 0)
	_, price := t.pricing.Resolve(model)
	c := float64(inputTokens)/1e6*price.InputPerM + float64(outputTokens)/1e6*price.OutputPerM

	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.ClaudeInputTokens += inputTokens
	t.usage.ClaudeOutputTokens += outputTokens
	t.claude += c
	return c
}

// TrackLambdaInvocation records one compute invocation and returns its cost.
func (t *Tracker) TrackLambdaInvocation(durationMs, memoryMB int64) float64 {
	durationMs = max(durationMs, 0)
	memoryMB = max(memoryMB, 0)
	gbSeconds := float64(memoryMB) / 1024 * float64(durationMs) / 1000
	c := t.pricing.PerMillionRequests/1e6 + gbSeconds*t.pricing.PerGBSecond

	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.LambdaInvocations++
	t.usage.LambdaDurationMs += durationMs
	t.usage.LambdaGBSeconds += gbSeconds
	t.lambda += c
	return c
}

func (t *Tracker) TrackEmailProcessed() {
	t.mu.Lock()
	t.metrics.EmailsProcessed++
	t.mu.Unlock()
}

func (t *Tracker) TrackResponseGenerated() {
	t.mu.Lock()
	t.metrics.ResponsesGenerated++
	t.mu.Unlock()
}

func (t *Tracker) TrackClassification() {
	t.mu.Lock()
	t.metrics.ClassificationsPerformed++
	t.mu.Unlock()
}

// Costs returns the current breakdown and efficiency ratios.
func (t *Tracker) Costs() Costs {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.claude + t.lambda
	return Costs{
		Breakdown: Breakdown{Claude: t.claude, Lambda: t.lambda, Total: total},
		Usage:     t.usage,
		Metrics:   t.metrics,
		Efficiency: Efficiency{
			CostPerEmail:    ratio(total, t.metrics.EmailsProcessed),
			CostPerResponse: ratio(total, t.metrics.ResponsesGenerated),
		},
	}
}

// StartDay opens the ledger day containing now, in now's location. The first
// call on a new day records the running total as that day's baseline.
func (t *Tracker) StartDay(now time.Time) {
	key := dayKey(now)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.day != key {
		t.day = key
		t.dayBase = t.claude + t.lambda
	}
}

// DailyTotal is the spend since StartDay for now's day. A ledger that never
// had a day opened counts everything as today's spend; a day that was never
// opened has spent nothing.
func (t *Tracker) DailyTotal(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.day {
	case "":
		return t.claude + t.lambda
	case dayKey(now):
		return max(t.claude+t.lambda-t.dayBase, 0)
	default:
		return 0
	}
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// Reset zeroes every accumulator and counter.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.claude, t.lambda = 0, 0
	t.usage = Usage{}
	t.metrics = Metrics{}
	t.day, t.dayBase = "", 0
}

// Snapshot captures the ledger for persistence.
func (t *Tracker) Snapshot() Snapshot {
	c := t.Costs()
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Breakdown: c.Breakdown, Usage: c.Usage, Metrics: c.Metrics, Day: t.day, DayBase: t.dayBase}
}

// Restore replaces the ledger with a previously captured snapshot.
func (t *Tracker) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.claude = s.Breakdown.Claude
	t.lambda = s.Breakdown.Lambda
	t.usage = s.Usage
	t.metrics = s.Metrics
	t.day = s.Day
	t.dayBase = s.DayBase
}

func ratio(total float64, n int64) float64 {
	if n <= 0 {
		return 0
	}
	return total / float64(n)
}

// FormatUSD renders a dollar amount with enough precision for sub-cent costs.
func FormatUSD(v float64) string {
	if v != 0 && v < 0.01 && v > -0.01 {
		return fmt.Sprintf("$%.6f", v)
	}
	return fmt.Sprintf("$%.2f", v)
}
