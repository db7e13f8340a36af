package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deltabot/internal/config"
	"deltabot/internal/engine"
	"deltabot/internal/execution"
	"deltabot/internal/gateway"
	"deltabot/internal/gateway/exchange"
	"deltabot/internal/gateway/notifier"
	"deltabot/internal/gateway/paper"
	"deltabot/internal/ledger"
	"deltabot/internal/logger"
	"deltabot/internal/market"
	"deltabot/internal/metrics"
	"deltabot/internal/risk"
	"deltabot/internal/store"
	"deltabot/internal/strategy"
	"deltabot/internal/strategy/catalog"
	livehttp "deltabot/internal/transport/http/live"
)

const alertQueueSize = 64

// AppBuilder assembles an App. The function fields are seams for tests.
type AppBuilder struct {
	cfg *config.Config

	exchangeFn   func(*config.Config, paper.PriceSource) (exchange.Client, error)
	feedFn       func(*config.Config) (market.Feed, error)
	storesFn     func(config.StoreConfig) (storeSetup, error)
	strategiesFn func(config.StrategiesConfig, catalog.CheckFunc) (*catalog.Catalog, error)
	notifierFn   func(config.NotifyConfig) notifier.TextNotifier
	liveHTTPFn   func(*config.Config, liveHTTPDeps) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:          cfg,
		exchangeFn:   gateway.NewExchangeFromConfig,
		feedFn:       gateway.NewFeedFromConfig,
		storesFn:     openStores,
		strategiesFn: openCatalog,
		notifierFn:   newTelegram,
		liveHTTPFn:   buildLiveHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	reg := metrics.New()
	strategies := strategy.DefaultRegistry()
	cat, err := b.strategiesFn(cfg.Strategies, func(defs []config.StrategyConfig) error {
		_, err := strategies.Build(defs)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}

	prices := market.NewStore(cfg.Engine.HistoryHeadroom)
	queue := market.NewQueue(cfg.Engine.QueueSize)
	reg.WatchDrops("market", queue.Dropped)

	client, err := b.exchangeFn(cfg, prices)
	if err != nil {
		return nil, fmt.Errorf("init exchange: %w", err)
	}
	feed, err := b.feedFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("init feed: %w", err)
	}

	stores, err := b.storesFn(cfg.Store)
	if err != nil {
		return nil, err
	}
	persist := store.NewAsync(stores.sink, cfg.Store.QueueSize)
	persist.OnFail(reg.StoreError)
	reg.WatchDrops("store", persist.Dropped)

	loc, err := time.LoadLocation(cfg.Risk.TradingDayTZ)
	if err != nil {
		_ = stores.sink.Close()
		return nil, fmt.Errorf("risk.trading_day_tz: %w", err)
	}
	gate, err := risk.NewGate(risk.LimitsFromConfig(cfg.Risk), risk.InstrumentsFromConfig(cfg.Instruments),
		risk.Options{Location: loc, ResetOnNewDay: cfg.Risk.ResetOnNewDay})
	if err != nil {
		_ = stores.sink.Close()
		return nil, err
	}
	seedPeak(ctx, gate, persist)

	book := ledger.New()
	exec := execution.NewExecutor(client, book, execution.OptionsFromConfig(cfg.Execution))
	exec.Breaker().SetStateChangeHandler(reg.BreakerChanged)

	var alerter *notifier.Alerter
	if tg := b.notifierFn(cfg.Notify); tg != nil {
		alerter = notifier.NewAlerter(tg, alertQueueSize)
		gate.OnTransition(alerter.Notify)
		reg.WatchDrops("alerts", alerter.Dropped)
	}

	eng, err := engine.New(engine.OptionsFromConfig(cfg), engine.Deps{
		Market:     prices,
		Queue:      queue,
		Gate:       gate,
		Ledger:     book,
		Executor:   exec,
		Exchange:   client,
		Strategies: cat,
		Registry:   strategies,
		Sink:       persist,
		Observer:   reg,
	})
	if err != nil {
		_ = stores.sink.Close()
		return nil, err
	}

	server, err := b.liveHTTPFn(cfg, liveHTTPDeps{engine: eng, journal: stores.journal, catalog: cat, metrics: reg})
	if err != nil {
		_ = stores.sink.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		engine:   eng,
		feed:     feed,
		queue:    queue,
		persist:  persist,
		alerter:  alerter,
		catalog:  cat,
		liveHTTP: server,
		Summary:  newStartupSummary(cfg, client.Name(), cat.Snapshot(), stores.names),
	}, nil
}

// seedPeak restores drawdown tracking from the last recorded peak equity.
func seedPeak(ctx context.Context, gate *risk.Gate, src store.PeakSource) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	peak, ok, err := src.PeakEquity(ctx)
	if err != nil {
		log.Warnf("peak equity unavailable, drawdown starts fresh: %v", err)
		return
	}
	if ok {
		gate.Seed(peak)
		log.Infof("drawdown peak restored at %s", peak.StringFixed(2))
	}
}

func openCatalog(cfg config.StrategiesConfig, check catalog.CheckFunc) (*catalog.Catalog, error) {
	if path := strings.TrimSpace(cfg.CatalogPath); path != "" {
		return catalog.Open(path, check)
	}
	return catalog.Static(cfg.Items, check)
}

func newTelegram(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

func WithExchange(fn func(*config.Config, paper.PriceSource) (exchange.Client, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.exchangeFn = fn
		}
	}
}

func WithFeed(fn func(*config.Config) (market.Feed, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.feedFn = fn
		}
	}
}

func WithNotifier(fn func(config.NotifyConfig) notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.notifierFn = fn
		}
	}
}

func WithLiveHTTP(fn func(*config.Config, liveHTTPDeps) (*livehttp.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.liveHTTPFn = fn
		}
	}
}
