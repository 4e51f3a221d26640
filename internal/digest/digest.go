// Package digest renders the briefing and report documents produced in the
// scheduled modes. The document is written as markdown and converted to HTML
// with goldmark; raw HTML in subjects is dropped by the converter.
package digest

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/cost"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

// Input is everything a digest can show.
type Input struct {
	Title    string
	Now      time.Time
	Location *time.Location

	Decisions []*types.Decision // decided inside the digest window
	Pending   []*types.Decision // drafts and flags awaiting review

	ConsecutiveFailures int
	LastRun             *types.RunSummary

	// Cost is included when non-nil.
	Cost *cost.Report
}

// Digest is the rendered document.
type Digest struct {
	Title    string       `json:"title"`
	Markdown string       `json:"markdown"`
	HTML     string       `json:"html"`
	ByTier   map[int]int  `json:"by_tier"`
	Pending  int          `json:"pending"`
	Cost     *cost.Report `json:"cost,omitempty"`
}

// Build renders in.
func Build(in Input) (*Digest, error) {
	md := Markdown(in)
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return nil, fmt.Errorf("render digest: %w", err)
	}

	byTier := make(map[int]int, 4)
	for _, d := range in.Decisions {
		byTier[int(d.Tier)]++
	}
	return &Digest{
		Title:    in.Title,
		Markdown: md,
		HTML:     buf.String(),
		ByTier:   byTier,
		Pending:  len(in.Pending),
		Cost:     in.Cost,
	}, nil
}

var tierOrder = []types.Tier{types.TierEscalate, types.TierHandle, types.TierDraft, types.TierFlag}

var tierHeading = map[types.Tier]string{
	types.TierEscalate: "Escalated",
	types.TierHandle:   "Handled",
	types.TierDraft:    "Drafted",
	types.TierFlag:     "Flagged",
}

// Markdown renders in as a markdown document.
func Markdown(in Input) string {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder

	fmt.Fprintf(&b, "# %s, %s\n\n", in.Title, in.Now.In(loc).Format("Mon 2 Jan 2006 15:04 MST"))

	if in.ConsecutiveFailures > 0 {
		fmt.Fprintf(&b, "**Pipeline: unhealthy** (%d consecutive failed runs", in.ConsecutiveFailures)
		if in.LastRun != nil && in.LastRun.Error != "" {
			fmt.Fprintf(&b, ", last error: %s", escape(in.LastRun.Error))
		}
		b.WriteString(")\n\n")
	} else {
		b.WriteString("**Pipeline: healthy**\n\n")
	}

	counts := make(map[types.Tier]int, 4)
	for _, d := range in.Decisions {
		counts[d.Tier]++
	}
	b.WriteString("## By tier\n\n")
	for _, t := range tierOrder {
		fmt.Fprintf(&b, "- Tier %d %s: %d\n", t, tierHeading[t], counts[t])
	}
	b.WriteString("\n")

	var escalated []*types.Decision
	for _, d := range in.Decisions {
		if d.Tier == types.TierEscalate {
			escalated = append(escalated, d)
		}
	}
	if len(escalated) > 0 {
		b.WriteString("## Escalated\n\n")
		for _, d := range escalated {
			fmt.Fprintf(&b, "- %s\n", line(d))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Awaiting approval\n\n")
	if len(in.Pending) == 0 {
		b.WriteString("Nothing waiting.\n\n")
	} else {
		for _, d := range in.Pending {
			kind := "draft"
			if d.Tier == types.TierFlag {
				kind = "flag"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", kind, line(d))
		}
		b.WriteString("\n")
	}

	if in.Cost != nil {
		c := in.Cost.Costs
		b.WriteString("## Cost\n\n")
		fmt.Fprintf(&b, "- Total: %s (model %s, compute %s)\n",
			cost.FormatUSD(c.Breakdown.Total), cost.FormatUSD(c.Breakdown.Claude), cost.FormatUSD(c.Breakdown.Lambda))
		fmt.Fprintf(&b, "- %d emails, %d responses, %s per email\n",
			c.Metrics.EmailsProcessed, c.Metrics.ResponsesGenerated, cost.FormatUSD(c.Efficiency.CostPerEmail))
		fmt.Fprintf(&b, "- Projection: %s/month, %s/year (%s)\n",
			cost.FormatUSD(in.Cost.Projection.Monthly), cost.FormatUSD(in.Cost.Projection.Yearly), in.Cost.Projection.Note)
	}
	return b.String()
}

func line(d *types.Decision) string {
	subject := d.Subject
	if strings.TrimSpace(subject) == "" {
		subject = "(no subject)"
	}
	s := fmt.Sprintf("**%s** from %s", escape(subject), escape(d.From))
	if d.Reason != "" {
		s += " (" + escape(d.Reason) + ")"
	}
	return s
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "#", `\#`, "<", `\<`, ">", `\>`,
	"\n", " ", "\r", " ",
)

// escape keeps message text from being read as markdown.
func escape(s string) string {
	return mdEscaper.Replace(s)
}
