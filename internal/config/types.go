package config

import (
	"strings"
	"time"
)

// Config is the root configuration of the engine process.
type Config struct {
	App         AppConfig          `toml:"app"`
	Engine      EngineConfig       `toml:"engine"`
	Risk        RiskConfig         `toml:"risk"`
	Execution   ExecutionConfig    `toml:"execution"`
	Instruments []InstrumentConfig `toml:"instruments"`
	Strategies  StrategiesConfig   `toml:"strategies"`
	Trading     TradingConfig      `toml:"trading"`
	Feed        FeedConfig         `toml:"feed"`
	Exchange    ExchangeConfig     `toml:"exchange"`
	Store       StoreConfig        `toml:"store"`
	Notify      NotifyConfig       `toml:"notify"`
	Profiling   ProfilingConfig    `toml:"profiling"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

// EngineConfig controls tick pacing and lifecycle behaviour.
type EngineConfig struct {
	TickInterval    time.Duration `toml:"tick_interval"`
	TickOffset      time.Duration `toml:"tick_offset"`
	RunImmediately  bool          `toml:"run_immediately"`
	CloseOnShutdown bool          `toml:"close_on_shutdown"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	ReconcileEvery  int           `toml:"reconcile_every"` // ticks; 0 disables
	SnapshotEvery   int           `toml:"snapshot_every"`  // ticks; 0 disables
	QueueSize       int           `toml:"queue_size"`
	HistoryHeadroom int           `toml:"history_headroom"`
}

// RiskConfig holds the limits consumed by the risk gate. Percentages are
// expressed in percent (1 means 1%).
type RiskConfig struct {
	RiskPerTradePct  float64 `toml:"risk_per_trade_pct"`
	MaxDailyLoss     float64 `toml:"max_daily_loss"`
	DrawdownLimitPct float64 `toml:"drawdown_limit_pct"`
	MaxOpenPositions int     `toml:"max_open_positions"`
	MaxExposure      float64 `toml:"max_exposure"`
	StopLossPct      float64 `toml:"stop_loss_pct"`
	TakeProfitPct    float64 `toml:"take_profit_pct"`
	ResetOnNewDay    bool    `toml:"reset_on_new_day"`
	TradingDayTZ     string  `toml:"trading_day_tz"`
}

// ExecutionConfig holds retry and circuit-breaker settings for order submission.
type ExecutionConfig struct {
	MaxAttempts      int           `toml:"max_attempts"`
	InitialBackoff   time.Duration `toml:"initial_backoff"`
	MaxBackoff       time.Duration `toml:"max_backoff"`
	BackoffFactor    float64       `toml:"backoff_factor"`
	MaxTotalWait     time.Duration `toml:"max_total_wait"`
	AttemptTimeout   time.Duration `toml:"attempt_timeout"`
	BreakerThreshold int           `toml:"breaker_threshold"`
	BreakerCooldown  time.Duration `toml:"breaker_cooldown"`
}

// InstrumentConfig describes the tradable constraints of one symbol.
type InstrumentConfig struct {
	Symbol  string  `toml:"symbol"`
	MinQty  float64 `toml:"min_qty"`
	MaxQty  float64 `toml:"max_qty"`
	QtyStep float64 `toml:"qty_step"`
}

type StrategiesConfig struct {
	CatalogPath string           `toml:"catalog_path"`
	Items       []StrategyConfig `toml:"items"`
}

// StrategyConfig is one configured strategy instance. Params are decoded by
// the strategy factory registered for Type.
type StrategyConfig struct {
	ID       string         `toml:"id" yaml:"id" json:"id"`
	Type     string         `toml:"type" yaml:"type" json:"type"`
	Priority int            `toml:"priority" yaml:"priority" json:"priority"`
	Enabled  *bool          `toml:"enabled" yaml:"enabled" json:"enabled,omitempty"`
	Params   map[string]any `toml:"params" yaml:"params" json:"params,omitempty"`
}

func (s StrategyConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// TradingConfig selects paper or live trading.
type TradingConfig struct {
	Mode         string  `toml:"mode"` // "paper" | "live"
	PaperBalance float64 `toml:"paper_balance"`
	PaperFeeBps  float64 `toml:"paper_fee_bps"`
}

func (t TradingConfig) IsLive() bool {
	return strings.EqualFold(strings.TrimSpace(t.Mode), "live")
}

type FeedConfig struct {
	Source       string        `toml:"source"` // "none" | "binance" | "delta"
	PollInterval time.Duration `toml:"poll_interval"`
	WSURL        string        `toml:"ws_url"`
}

type ExchangeConfig struct {
	Name       string        `toml:"name"`
	BaseURL    string        `toml:"base_url"`
	APIKey     string        `toml:"api_key"`
	APISecret  string        `toml:"api_secret"`
	Testnet    bool          `toml:"testnet"`
	RecvWindow int64         `toml:"recv_window"`
	Timeout    time.Duration `toml:"timeout"`
}

// StoreConfig selects the persistence backends. DSN prefixes "postgres://"
// or "postgresql://" select postgres, anything else is a sqlite path.
type StoreConfig struct {
	DSN         string `toml:"dsn"`
	JournalPath string `toml:"journal_path"`
	QueueSize   int    `toml:"queue_size"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type ProfilingConfig struct {
	Enabled       bool   `toml:"enabled"`
	ServerAddress string `toml:"server_address"`
	AppName       string `toml:"app_name"`
}

// Symbols returns the configured instrument symbols in file order.
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		out = append(out, inst.Symbol)
	}
	return out
}

// fieldDefault applies a default when need reports the key is unset.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

// keySet tracks the key paths explicitly present in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}
