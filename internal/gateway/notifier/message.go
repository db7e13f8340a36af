package notifier

import (
	"fmt"
	"strings"
	"time"

	"deltabot/internal/risk"
)

const maxStructuredMessageLen = 3800

type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage renders as a Markdown header plus a fenced block.
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(m.Icon + " " + m.Title)
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("at " + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxStructuredMessageLen {
		body = body[:maxStructuredMessageLen] + "..."
	}
	return body
}

// RiskMessage describes a risk transition for operators.
func RiskMessage(tr risk.Transition) StructuredMessage {
	icon, title := "⚠️", "Risk level "+string(tr.To.Level)
	switch {
	case !tr.From.TradingHalted && tr.To.TradingHalted:
		icon, title = "🛑", "Trading halted: "+string(tr.To.HaltReason)
	case tr.From.TradingHalted && !tr.To.TradingHalted:
		icon, title = "✅", "Trading resumed"
	}
	return StructuredMessage{
		Icon:  icon,
		Title: title,
		Sections: []MessageSection{{
			Title: "State",
			Lines: []string{
				fmt.Sprintf("level %s -> %s", tr.From.Level, tr.To.Level),
				fmt.Sprintf("equity %s peak %s", tr.To.Equity.StringFixed(2), tr.To.PeakEquity.StringFixed(2)),
				fmt.Sprintf("drawdown %s%%", tr.To.Drawdown.Shift(2).StringFixed(2)),
				fmt.Sprintf("daily realized %s", tr.To.DailyRealizedPnL.StringFixed(2)),
				fmt.Sprintf("open positions %d exposure %s", tr.To.OpenPositions, tr.To.Exposure.StringFixed(2)),
			},
		}},
		Footer:    "cause: " + tr.Cause,
		Timestamp: tr.At,
	}
}

func renderSections(secs []MessageSection) string {
	hasContent := false
	for _, sec := range secs {
		if len(sanitizeLines(sec.Lines)) > 0 {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return ""
	}
	var b strings.Builder
	b.WriteString("```\n")
	for idx, sec := range secs {
		lines := sanitizeLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(sanitize(title))
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
		if idx != len(secs)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n\n")
	return b.String()
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
