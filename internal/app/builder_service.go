package app

import (
	"fmt"
	"strings"
	"time"

	"deltabot/internal/config"
	"deltabot/internal/engine"
	"deltabot/internal/metrics"
	"deltabot/internal/store"
	"deltabot/internal/store/gormstore"
	"deltabot/internal/store/journal"
	"deltabot/internal/strategy/catalog"
	livehttp "deltabot/internal/transport/http/live"
)

type storeSetup struct {
	sink    store.Sink
	journal *journal.Journal
	names   []string
}

// openStores opens the gorm store (sqlite or postgres) and the sqlite
// decision journal. Either is skipped when its location is empty.
func openStores(cfg config.StoreConfig) (storeSetup, error) {
	var (
		setup storeSetup
		sinks store.Multi
	)
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		gs, err := gormstore.Open(dsn)
		if err != nil {
			return storeSetup{}, fmt.Errorf("open store: %w", err)
		}
		sinks = append(sinks, gs)
		setup.names = append(setup.names, "gorm:"+redactDSN(dsn))
	}
	if path := strings.TrimSpace(cfg.JournalPath); path != "" {
		j, err := journal.Open(path)
		if err != nil {
			_ = sinks.Close()
			return storeSetup{}, fmt.Errorf("open journal: %w", err)
		}
		sinks = append(sinks, j)
		setup.journal = j
		setup.names = append(setup.names, "journal:"+path)
	}
	if len(sinks) == 0 {
		log.Warnf("persistence disabled: store.dsn and store.journal_path are empty")
		setup.sink = store.Nop{}
		return setup, nil
	}
	setup.sink = sinks
	return setup, nil
}

// redactDSN hides credentials in a postgres URL.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***" + rest[at:]
	}
	return scheme + "://" + rest
}

type liveHTTPDeps struct {
	engine  *engine.Engine
	journal *journal.Journal
	catalog *catalog.Catalog
	metrics *metrics.Registry
}

func buildLiveHTTPServer(cfg *config.Config, deps liveHTTPDeps) (*livehttp.Server, error) {
	if strings.TrimSpace(cfg.App.HTTPAddr) == "" {
		return nil, nil
	}
	logPaths := map[string]string{}
	if path := strings.TrimSpace(cfg.App.LogPath); path != "" {
		logPaths["app"] = path
	}
	sc := livehttp.ServerConfig{
		Addr:       cfg.App.HTTPAddr,
		Engine:     deps.engine,
		Strategies: deps.catalog,
		Metrics:    deps.metrics.Handler(),
		LogPaths:   logPaths,
		StaleAfter: 3*cfg.Engine.TickInterval + time.Minute,
	}
	// a nil *Journal must not become a non-nil interface
	if deps.journal != nil {
		sc.Decisions = deps.journal
	}
	server, err := livehttp.NewServer(sc)
	if err != nil {
		return nil, fmt.Errorf("init live http: %w", err)
	}
	return server, nil
}
