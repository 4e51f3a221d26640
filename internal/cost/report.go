package cost

import (
	"fmt"
	"strings"
	"time"
)

// ProjectionNote labels the projection so nobody mistakes it for a forecast.
const ProjectionNote = "linear extrapolation, not a forecast"

// Projection scales today's spend to a month and a year.
type Projection struct {
	Daily   float64 `json:"daily"`
	Monthly float64 `json:"monthly"`
	Yearly  float64 `json:"yearly"`
	Note    string  `json:"note"`
}

// Report is a formatted cost breakdown plus projection.
type Report struct {
	GeneratedAt time.Time  `json:"generated_at"`
	Costs       Costs      `json:"costs"`
	Projection  Projection `json:"projection"`
}

// Report builds a report from the current ledger. now selects the day whose
// spend is projected and should carry the schedule's location.
func (t *Tracker) Report(now time.Time) Report {
	c := t.Costs()
	daily := t.DailyTotal(now)
	return Report{
		GeneratedAt: now.UTC(),
		Costs:       c,
		Projection: Projection{
			Daily:   daily,
			Monthly: daily * 30,
			Yearly:  daily * 365,
			Note:    ProjectionNote,
		},
	}
}

// String renders the report as plain text.
func (r Report) String() string {
	var b strings.Builder
	c := r.Costs
	fmt.Fprintf(&b, "Cost report (%s)\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "  Claude:  %s (%d in / %d out tokens)\n",
		FormatUSD(c.Breakdown.Claude), c.Usage.ClaudeInputTokens, c.Usage.ClaudeOutputTokens)
	fmt.Fprintf(&b, "  Compute: %s (%d invocations, %dms)\n",
		FormatUSD(c.Breakdown.Lambda), c.Usage.LambdaInvocations, c.Usage.LambdaDurationMs)
	fmt.Fprintf(&b, "  Total:   %s\n", FormatUSD(c.Breakdown.Total))
	fmt.Fprintf(&b, "Activity: %d emails, %d responses, %d classifications\n",
		c.Metrics.EmailsProcessed, c.Metrics.ResponsesGenerated, c.Metrics.ClassificationsPerformed)
	fmt.Fprintf(&b, "Efficiency: %s/email, %s/response\n",
		FormatUSD(c.Efficiency.CostPerEmail), FormatUSD(c.Efficiency.CostPerResponse))
	fmt.Fprintf(&b, "Projection (%s): %s today, %s/month, %s/year\n",
		r.Projection.Note, FormatUSD(r.Projection.Daily), FormatUSD(r.Projection.Monthly), FormatUSD(r.Projection.Yearly))
	return b.String()
}
