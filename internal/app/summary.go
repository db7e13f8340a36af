package app

import (
	"fmt"
	"sort"
	"strings"

	"deltabot/internal/config"
	"deltabot/internal/logger"
	"deltabot/internal/strategy/catalog"
)

type StartupSummary struct {
	Mode        string
	Exchange    string
	Feed        string
	Tick        string
	Instruments []config.InstrumentConfig
	Risk        config.RiskConfig
	Strategies  catalog.Snapshot
	Stores      []string
	HTTPAddr    string
}

func newStartupSummary(cfg *config.Config, exchangeName string, strategies catalog.Snapshot, stores []string) *StartupSummary {
	return &StartupSummary{
		Mode:        cfg.Trading.Mode,
		Exchange:    exchangeName,
		Feed:        cfg.Feed.Source,
		Tick:        fmt.Sprintf("%s (offset %s)", cfg.Engine.TickInterval, cfg.Engine.TickOffset),
		Instruments: cfg.Instruments,
		Risk:        cfg.Risk,
		Strategies:  strategies,
		Stores:      stores,
		HTTPAddr:    cfg.App.HTTPAddr,
	}
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 72)
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "%*s\n", 36+len("STARTUP SUMMARY")/2, "STARTUP SUMMARY")
	fmt.Fprintln(&b, line)

	fmt.Fprintln(&b, "[TRADING]")
	fmt.Fprintf(&b, "  mode: %s  exchange: %s  feed: %s\n", s.Mode, s.Exchange, s.Feed)
	fmt.Fprintf(&b, "  tick: %s\n", s.Tick)
	fmt.Fprintf(&b, "  http: %s\n", orDash(s.HTTPAddr))
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[INSTRUMENTS]")
	if len(s.Instruments) == 0 {
		fmt.Fprintln(&b, "  (none)")
	}
	for _, inst := range s.Instruments {
		fmt.Fprintf(&b, "  > %s min=%g max=%g step=%g\n", inst.Symbol, inst.MinQty, inst.MaxQty, inst.QtyStep)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[RISK]")
	fmt.Fprintf(&b, "  risk/trade: %g%%  daily loss: %g  drawdown: %g%%\n", s.Risk.RiskPerTradePct, s.Risk.MaxDailyLoss, s.Risk.DrawdownLimitPct)
	fmt.Fprintf(&b, "  max positions: %d  max exposure: %g  stop/target: %g%%/%g%%\n", s.Risk.MaxOpenPositions, s.Risk.MaxExposure, s.Risk.StopLossPct, s.Risk.TakeProfitPct)
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "[STRATEGIES v%d from %s]\n", s.Strategies.Version, orDash(s.Strategies.Source))
	for _, def := range s.Strategies.Strategies {
		fmt.Fprintf(&b, "  - %s (%s)%s\n", def.ID, def.Type, formatParams(def.Params))
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[PERSISTENCE]")
	fmt.Fprintf(&b, "  %s\n", formatList(s.Stores))
	fmt.Fprintln(&b, line)
	return b.String()
}

// Print logs the summary so it also lands in the log file.
func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}

func formatParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return " " + strings.Join(parts, " ")
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
