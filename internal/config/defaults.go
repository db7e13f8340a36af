package config

import (
	"strings"
	"time"
)

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogFormat    = "text"
	defaultAppHTTPAddr     = ":9991"
	defaultTickInterval    = 5 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultReconcileEvery  = 12
	defaultSnapshotEvery   = 12
	defaultQueueSize       = 1024
	defaultHistoryHeadroom = 16

	defaultRiskPerTradePct  = 1.0
	defaultMaxDailyLoss     = 100.0
	defaultDrawdownLimitPct = 10.0
	defaultMaxOpenPositions = 5
	defaultMaxExposure      = 50000.0
	defaultStopLossPct      = 2.0
	defaultTakeProfitPct    = 3.0
	defaultTradingDayTZ     = "UTC"

	defaultMaxAttempts      = 3
	defaultInitialBackoff   = 250 * time.Millisecond
	defaultMaxBackoff       = 4 * time.Second
	defaultBackoffFactor    = 2.0
	defaultMaxTotalWait     = 15 * time.Second
	defaultAttemptTimeout   = 5 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second

	defaultInstrumentMaxQty  = 1.0
	defaultInstrumentQtyStep = 0.001

	defaultTradingMode  = "paper"
	defaultPaperBalance = 10000.0

	defaultFeedSource   = "none"
	defaultPollInterval = 2 * time.Second
	defaultDeltaWSURL   = "wss://socket.india.delta.exchange"

	defaultExchangeName    = "binance"
	defaultExchangeTimeout = 10 * time.Second
	defaultRecvWindow      = 5000

	defaultStoreDSN       = "data/deltabot.db"
	defaultJournalPath    = "data/journal.db"
	defaultStoreQueueSize = 512

	defaultProfilingApp = "deltabot"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	for i := range c.Instruments {
		c.Instruments[i].applyDefaults()
	}
	c.Trading.applyDefaults(keys)
	c.Feed.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	applyFieldDefaults(keys,
		stringFieldDefault("profiling.app_name", &c.Profiling.AppName, defaultProfilingApp),
	)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		durationFieldDefault("engine.tick_interval", &e.TickInterval, defaultTickInterval),
		durationFieldDefault("engine.shutdown_timeout", &e.ShutdownTimeout, defaultShutdownTimeout),
		boolFieldDefault("engine.close_on_shutdown", &e.CloseOnShutdown, true),
		boolFieldDefault("engine.run_immediately", &e.RunImmediately, true),
		intFieldDefault("engine.reconcile_every", &e.ReconcileEvery, defaultReconcileEvery),
		intFieldDefault("engine.snapshot_every", &e.SnapshotEvery, defaultSnapshotEvery),
		intFieldDefault("engine.queue_size", &e.QueueSize, defaultQueueSize),
		intFieldDefault("engine.history_headroom", &e.HistoryHeadroom, defaultHistoryHeadroom),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("risk.risk_per_trade_pct", &r.RiskPerTradePct, defaultRiskPerTradePct),
		floatFieldDefault("risk.max_daily_loss", &r.MaxDailyLoss, defaultMaxDailyLoss),
		floatFieldDefault("risk.drawdown_limit_pct", &r.DrawdownLimitPct, defaultDrawdownLimitPct),
		intFieldDefault("risk.max_open_positions", &r.MaxOpenPositions, defaultMaxOpenPositions),
		floatFieldDefault("risk.max_exposure", &r.MaxExposure, defaultMaxExposure),
		floatFieldDefault("risk.stop_loss_pct", &r.StopLossPct, defaultStopLossPct),
		floatFieldDefault("risk.take_profit_pct", &r.TakeProfitPct, defaultTakeProfitPct),
		boolFieldDefault("risk.reset_on_new_day", &r.ResetOnNewDay, true),
		stringFieldDefault("risk.trading_day_tz", &r.TradingDayTZ, defaultTradingDayTZ),
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("execution.max_attempts", &e.MaxAttempts, defaultMaxAttempts),
		durationFieldDefault("execution.initial_backoff", &e.InitialBackoff, defaultInitialBackoff),
		durationFieldDefault("execution.max_backoff", &e.MaxBackoff, defaultMaxBackoff),
		floatFieldDefault("execution.backoff_factor", &e.BackoffFactor, defaultBackoffFactor),
		durationFieldDefault("execution.max_total_wait", &e.MaxTotalWait, defaultMaxTotalWait),
		durationFieldDefault("execution.attempt_timeout", &e.AttemptTimeout, defaultAttemptTimeout),
		intFieldDefault("execution.breaker_threshold", &e.BreakerThreshold, defaultBreakerThreshold),
		durationFieldDefault("execution.breaker_cooldown", &e.BreakerCooldown, defaultBreakerCooldown),
	)
}

func (i *InstrumentConfig) applyDefaults() {
	i.Symbol = strings.ToUpper(strings.TrimSpace(i.Symbol))
	if i.MaxQty <= 0 {
		i.MaxQty = defaultInstrumentMaxQty
	}
	if i.QtyStep <= 0 {
		i.QtyStep = defaultInstrumentQtyStep
	}
	if i.MinQty < 0 {
		i.MinQty = 0
	}
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("trading.mode", &t.Mode, defaultTradingMode),
		floatFieldDefault("trading.paper_balance", &t.PaperBalance, defaultPaperBalance),
	)
	t.Mode = strings.ToLower(strings.TrimSpace(t.Mode))
}

func (f *FeedConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("feed.source", &f.Source, defaultFeedSource),
		durationFieldDefault("feed.poll_interval", &f.PollInterval, defaultPollInterval),
		stringFieldDefault("feed.ws_url", &f.WSURL, defaultDeltaWSURL),
	)
	f.Source = strings.ToLower(strings.TrimSpace(f.Source))
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		durationFieldDefault("exchange.timeout", &e.Timeout, defaultExchangeTimeout),
		fieldDefault{
			key:   "exchange.recv_window",
			need:  func() bool { return e.RecvWindow <= 0 },
			apply: func() { e.RecvWindow = defaultRecvWindow },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.dsn", &s.DSN, defaultStoreDSN),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
		intFieldDefault("store.queue_size", &s.QueueSize, defaultStoreQueueSize),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

// boolFieldDefault only applies when the key is absent from the files, so an
// explicit false survives.
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
