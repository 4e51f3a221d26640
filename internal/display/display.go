// Package display provides terminal formatting for triage output.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/cost"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/db"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

var (
	// Styles
	Muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	Bold     = lipgloss.NewStyle().Bold(true)
	Success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))

	EscalateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
	HandleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	DraftStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	FlagStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#7c3aed"))
)

func tierStyle(t types.Tier) (lipgloss.Style, bool) {
	switch t {
	case types.TierEscalate:
		return EscalateStyle, true
	case types.TierHandle:
		return HandleStyle, true
	case types.TierDraft:
		return DraftStyle, true
	case types.TierFlag:
		return FlagStyle, true
	}
	return Dim, false
}

// TierDot returns a colored dot for a tier.
func TierDot(t types.Tier) string {
	style, ok := tierStyle(t)
	if !ok {
		return Dim.Render("·")
	}
	if t == types.TierEscalate {
		return style.Render("●")
	}
	return style.Render("○")
}

// TierLabel returns a styled, fixed-width tier name.
func TierLabel(t types.Tier) string {
	label := fmt.Sprintf("%-8s", strings.ToUpper(t.String()))
	if style, ok := tierStyle(t); ok {
		return style.Render(label)
	}
	return label
}

// TierBadge returns dot, tier name and action on one line.
func TierBadge(t types.Tier, action types.Action) string {
	return fmt.Sprintf("%s %s %s", TierDot(t), TierLabel(t), action)
}

// StatusLabel styles a decision status.
func StatusLabel(status string) string {
	switch status {
	case types.StatusDone, types.StatusReviewed:
		return Success.Render(status)
	case types.StatusFailed:
		return ErrStyle.Render(status)
	default:
		return Muted.Render(status)
	}
}

// TimeAgo formats t relative to now.
func TimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}

// TimeAgoString is TimeAgo for a stored timestamp. Unparseable input is
// cut to its date part.
func TimeAgoString(stored string, now time.Time) string {
	if stored == "" {
		return ""
	}
	t := db.ParseTime(stored)
	if t.IsZero() {
		return stored[:min(10, len(stored))]
	}
	return TimeAgo(t, now)
}

// Truncate shortens s to maxLen runes, adding an ellipsis if needed.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// SuccessMsg prints a green checkmark + message.
func SuccessMsg(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(Success.Render("✓") + " " + msg)
}

// ErrorMsg prints a red X + message to stderr.
func ErrorMsg(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, ErrStyle.Render("✗")+" "+msg)
}

// Header prints a section header.
func Header(title string) {
	fmt.Println(Bold.Render(title))
}

// SubHeader prints a dim subsection label.
func SubHeader(title string) {
	fmt.Println(Muted.Render(title))
}

// ThreadTree prints one email of a thread in tree form.
// connector is one of "┌─", "├─", "└─"
func ThreadTree(w io.Writer, connector string, m *types.Message, now time.Time) {
	fmt.Fprintf(w, "  %s %s  ·  %s\n", Muted.Render(connector), Bold.Render(m.From), Dim.Render(TimeAgo(m.ReceivedAt, now)))
	body := strings.TrimSpace(m.BodyText)
	if body == "" {
		return
	}
	prefix := "  │  "
	if connector == "└─" {
		prefix = "     "
	}
	lines := strings.Split(body, "\n")
	const maxLines = 4
	for i, line := range lines {
		if i >= maxLines {
			fmt.Fprintf(w, "%s%s\n", Muted.Render(prefix), Dim.Render(fmt.Sprintf("... (%d more lines)", len(lines)-maxLines)))
			break
		}
		fmt.Fprintf(w, "%s%s\n", Muted.Render(prefix), Truncate(strings.TrimSpace(line), 80))
	}
}

// Connector picks the tree connector for item i of n.
func Connector(i, n int) string {
	switch {
	case i == n-1:
		return "└─"
	case i == 0:
		return "┌─"
	default:
		return "├─"
	}
}

// CostReport writes a styled cost report.
func CostReport(w io.Writer, r cost.Report) {
	c := r.Costs
	fmt.Fprintln(w, Bold.Render("Cost"))
	fmt.Fprintf(w, "  Claude   %s  %s\n", cost.FormatUSD(c.Breakdown.Claude),
		Dim.Render(fmt.Sprintf("(%d in / %d out tokens)", c.Usage.ClaudeInputTokens, c.Usage.ClaudeOutputTokens)))
	fmt.Fprintf(w, "  Compute  %s  %s\n", cost.FormatUSD(c.Breakdown.Lambda),
		Dim.Render(fmt.Sprintf("(%d invocations, %d ms)", c.Usage.LambdaInvocations, c.Usage.LambdaDurationMs)))
	fmt.Fprintf(w, "  Total    %s\n", Bold.Render(cost.FormatUSD(c.Breakdown.Total)))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %d emails, %d responses, %d classifications\n",
		c.Metrics.EmailsProcessed, c.Metrics.ResponsesGenerated, c.Metrics.ClassificationsPerformed)
	fmt.Fprintf(w, "  %s per email, %s per response\n",
		cost.FormatUSD(c.Efficiency.CostPerEmail), cost.FormatUSD(c.Efficiency.CostPerResponse))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Projected: %s/day  %s/month  %s/year\n",
		cost.FormatUSD(r.Projection.Daily), cost.FormatUSD(r.Projection.Monthly), cost.FormatUSD(r.Projection.Yearly))
	fmt.Fprintln(w, "  "+Muted.Render(r.Projection.Note))
}

// Health renders the pipeline health line.
func Health(consecutiveFailures int, lastError string) string {
	if consecutiveFailures == 0 {
		return Success.Render("●") + " pipeline healthy"
	}
	line := fmt.Sprintf("%s pipeline unhealthy: %d consecutive failed runs", ErrStyle.Render("●"), consecutiveFailures)
	if lastError != "" {
		line += Dim.Render(" (" + lastError + ")")
	}
	return line
}
