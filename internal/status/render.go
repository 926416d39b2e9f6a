package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/camuig/hype-trader/internal/storage"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#3B82F6")).
		Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#3B82F6"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#F59E0B")).
		Bold(true)

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#EF4444")).
		Bold(true)

	mutedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280"))
)

var operationOrder = []storage.OperationStatus{
	storage.OperationPending,
	storage.OperationSubmitted,
	storage.OperationFilled,
	storage.OperationFailed,
	storage.OperationSkipped,
}

// Render formats the report for a terminal.
func Render(r *Report) string {
	sections := []string{
		titleStyle.Render(fmt.Sprintf("HYPE TRADER STATUS (%s)", r.Mode)),
		sectionStyle.Render(portfolioSection(r)),
		sectionStyle.Render(cycleSection(r)),
		sectionStyle.Render(operationsSection(r)),
	}
	if len(r.ManualReview) > 0 {
		sections = append(sections, sectionStyle.Render(reviewSection(r)))
	}
	if len(r.Failed) > 0 {
		sections = append(sections, sectionStyle.Render(failedSection(r)))
	}
	if len(r.Errors) > 0 {
		sections = append(sections, sectionStyle.Render(errorsSection(r)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func portfolioSection(r *Report) string {
	p := r.Portfolio
	kill := okStyle.Render("off")
	if p.KillSwitch {
		kill = errorStyle.Render("ENGAGED")
		if p.KillSwitchAt != nil {
			kill += mutedStyle.Render(" since " + formatTime(*p.KillSwitchAt))
		}
	}

	lines := []string{
		headerStyle.Render("Portfolio"),
		fmt.Sprintf("Equity:      %.2f", p.CurrentEquity),
		fmt.Sprintf("Peak:        %.2f", p.PeakEquity),
		fmt.Sprintf("Drawdown:    %.2f%%", p.Drawdown*100),
		fmt.Sprintf("Positions:   %d", p.OpenPositions),
		"Kill switch: " + kill,
	}
	return strings.Join(lines, "\n")
}

func cycleSection(r *Report) string {
	c := r.LastCycle
	if c == nil {
		return headerStyle.Render("Last cycle") + "\n" + mutedStyle.Render("no cycles yet")
	}

	status := string(c.Status)
	switch c.Status {
	case storage.CycleCompleted:
		status = okStyle.Render(status)
	case storage.CycleFailed:
		status = errorStyle.Render(status)
	default:
		status = warnStyle.Render(status)
	}

	lines := []string{
		headerStyle.Render("Last cycle"),
		fmt.Sprintf("ID:          %s", c.CycleID),
		"Status:      " + status,
		fmt.Sprintf("Started:     %s", formatTime(c.StartedAt)),
	}
	if c.FinishedAt != nil {
		lines = append(lines, fmt.Sprintf("Duration:    %s", c.FinishedAt.Sub(c.StartedAt).Round(time.Millisecond)))
	}
	if c.Reason != "" {
		lines = append(lines, fmt.Sprintf("Reason:      %s", c.Reason))
	}
	lines = append(lines, fmt.Sprintf("Instruments: %d  decisions: %d  rejections: %d  orders: %d  errors: %d",
		c.Instruments, c.Decisions, c.Rejections, c.Orders, c.Errors))
	if c.Error != "" {
		lines = append(lines, errorStyle.Render("Error: ")+c.Error)
	}
	return strings.Join(lines, "\n")
}

func operationsSection(r *Report) string {
	parts := make([]string, 0, len(operationOrder))
	for _, s := range operationOrder {
		parts = append(parts, fmt.Sprintf("%s: %d", s, r.Operations[s]))
	}
	return headerStyle.Render("Operations") + "\n" + strings.Join(parts, "  ")
}

func reviewSection(r *Report) string {
	lines := []string{warnStyle.Render("Manual review")}
	for _, op := range r.ManualReview {
		lines = append(lines, fmt.Sprintf("%s  %s %s x%d  ref=%s  %s",
			op.OpID, op.Symbol, op.Side, op.Quantity, op.BrokerRef, op.LastError))
	}
	return strings.Join(lines, "\n")
}

func failedSection(r *Report) string {
	lines := []string{headerStyle.Render("Failed operations")}
	for _, op := range r.Failed {
		lines = append(lines, fmt.Sprintf("%s  %s  %s", formatTime(op.UpdatedAt), op.OpID, op.LastError))
	}
	return strings.Join(lines, "\n")
}

func errorsSection(r *Report) string {
	lines := []string{headerStyle.Render("Recent errors")}
	for _, e := range r.Errors {
		subject := e.Stage
		if e.Symbol != "" {
			subject = e.Symbol + "/" + e.Stage
		}
		lines = append(lines, fmt.Sprintf("%s  %s  %s", formatTime(e.CreatedAt), subject, e.Error))
	}
	return strings.Join(lines, "\n")
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05Z")
}
