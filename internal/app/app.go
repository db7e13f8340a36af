package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"deltabot/internal/config"
	"deltabot/internal/engine"
	"deltabot/internal/gateway/notifier"
	"deltabot/internal/logger"
	"deltabot/internal/market"
	"deltabot/internal/store"
	"deltabot/internal/strategy/catalog"
	livehttp "deltabot/internal/transport/http/live"
)

var log = logger.Component("app")

// App owns the long-running goroutines around the engine.
type App struct {
	cfg      *config.Config
	engine   *engine.Engine
	feed     market.Feed
	queue    *market.Queue
	persist  *store.Async
	alerter  *notifier.Alerter
	catalog  *catalog.Catalog
	liveHTTP *livehttp.Server

	Summary *StartupSummary
}

// NewApp wires every component from cfg without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the feed, the engine and the side services, and returns once
// the engine has shut down. Persistence keeps draining until the engine's
// final records are written.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.engine == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}

	persistCtx, stopPersist := context.WithCancel(context.Background())
	persistDone := make(chan error, 1)
	go func() { persistDone <- a.persist.Run(persistCtx) }()

	if a.catalog != nil {
		a.catalog.Watch()
	}

	group, gctx := errgroup.WithContext(ctx)
	if a.feed != nil {
		group.Go(func() error {
			// a feed stopped by shutdown is not a failure
			if err := a.feed.Run(gctx, a.queue.Sink()); err != nil && gctx.Err() == nil {
				return fmt.Errorf("market feed: %w", err)
			}
			return nil
		})
	}
	if a.alerter != nil {
		group.Go(func() error { return a.alerter.Run(gctx) })
	}
	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(gctx); err != nil {
				return fmt.Errorf("live http server: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error { return a.engine.Run(gctx) })

	err := group.Wait()
	stopPersist()
	<-persistDone
	a.close()
	return err
}

// Engine exposes the engine, mainly for tests and tooling.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

func (a *App) close() {
	if err := a.persist.Close(); err != nil {
		log.Warnf("close store: %v", err)
	}
}
