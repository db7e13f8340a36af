package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig wraps every validation failure. Startup must stop on it.
var ErrInvalidConfig = errors.New("invalid config")

func validate(c *Config) error {
	checks := []func() error{
		c.Engine.validate,
		c.Risk.validate,
		c.Execution.validate,
		c.validateInstruments,
		c.Trading.validate,
		c.Feed.validate,
		c.Store.validate,
		c.Notify.validate,
		c.validateStrategies,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be > 0")
	}
	if e.TickOffset < 0 || e.TickOffset >= e.TickInterval {
		return fmt.Errorf("engine.tick_offset must be within [0, tick_interval)")
	}
	if e.ReconcileEvery < 0 || e.SnapshotEvery < 0 {
		return fmt.Errorf("engine.reconcile_every and engine.snapshot_every must be >= 0")
	}
	if e.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be > 0")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.RiskPerTradePct <= 0 || r.RiskPerTradePct > 100 {
		return fmt.Errorf("risk.risk_per_trade_pct must be within (0, 100]")
	}
	if r.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if r.DrawdownLimitPct <= 0 || r.DrawdownLimitPct >= 100 {
		return fmt.Errorf("risk.drawdown_limit_pct must be within (0, 100)")
	}
	if r.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be > 0")
	}
	if r.MaxExposure <= 0 {
		return fmt.Errorf("risk.max_exposure must be > 0")
	}
	if r.StopLossPct <= 0 || r.StopLossPct >= 100 {
		return fmt.Errorf("risk.stop_loss_pct must be within (0, 100)")
	}
	if r.TakeProfitPct <= r.StopLossPct {
		return fmt.Errorf("risk.take_profit_pct (%.4g) must be greater than risk.stop_loss_pct (%.4g)", r.TakeProfitPct, r.StopLossPct)
	}
	if _, err := time.LoadLocation(r.TradingDayTZ); err != nil {
		return fmt.Errorf("risk.trading_day_tz: %w", err)
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	if e.MaxAttempts <= 0 {
		return fmt.Errorf("execution.max_attempts must be > 0")
	}
	if e.MaxBackoff < e.InitialBackoff {
		return fmt.Errorf("execution.max_backoff must be >= execution.initial_backoff")
	}
	if e.BackoffFactor < 1 {
		return fmt.Errorf("execution.backoff_factor must be >= 1")
	}
	if e.MaxTotalWait < e.InitialBackoff {
		return fmt.Errorf("execution.max_total_wait must be >= execution.initial_backoff")
	}
	if e.BreakerThreshold <= 0 {
		return fmt.Errorf("execution.breaker_threshold must be > 0")
	}
	if e.BreakerCooldown <= 0 {
		return fmt.Errorf("execution.breaker_cooldown must be > 0")
	}
	return nil
}

func (c *Config) validateInstruments() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("instruments requires at least one symbol")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instruments contains entry without symbol")
		}
		if seen[inst.Symbol] {
			return fmt.Errorf("instruments.%s declared twice", inst.Symbol)
		}
		seen[inst.Symbol] = true
		if inst.MinQty > inst.MaxQty {
			return fmt.Errorf("instruments.%s min_qty > max_qty", inst.Symbol)
		}
	}
	return nil
}

func (t *TradingConfig) validate() error {
	switch t.Mode {
	case "paper":
		if t.PaperBalance <= 0 {
			return fmt.Errorf("trading.paper_balance must be > 0")
		}
	case "live":
	default:
		return fmt.Errorf("trading.mode must be paper or live, got %q", t.Mode)
	}
	return nil
}

func (f *FeedConfig) validate() error {
	switch f.Source {
	case "none", "binance", "delta":
		return nil
	default:
		return fmt.Errorf("feed.source must be none, binance or delta, got %q", f.Source)
	}
}

func (s *StoreConfig) validate() error {
	if s.QueueSize <= 0 {
		return fmt.Errorf("store.queue_size must be > 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}

// validateStrategies only checks identity. Params are validated by the
// strategy catalog against the per-type schema.
func (c *Config) validateStrategies() error {
	if strings.TrimSpace(c.Strategies.CatalogPath) != "" {
		return nil
	}
	if len(c.Strategies.Items) == 0 {
		return fmt.Errorf("strategies requires catalog_path or at least one item")
	}
	seen := make(map[string]bool, len(c.Strategies.Items))
	for _, s := range c.Strategies.Items {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return fmt.Errorf("strategies.items contains entry without id")
		}
		if seen[id] {
			return fmt.Errorf("strategies.items.%s declared twice", id)
		}
		seen[id] = true
		if strings.TrimSpace(s.Type) == "" {
			return fmt.Errorf("strategies.items.%s missing type", id)
		}
	}
	return nil
}
