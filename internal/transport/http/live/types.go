package livehttp

import (
	"context"
	"time"

	"deltabot/internal/config"
	"deltabot/internal/engine"
	"deltabot/internal/store"
	"deltabot/internal/store/journal"
	"deltabot/internal/strategy/catalog"
)

// EngineControl is the slice of *engine.Engine the API drives.
type EngineControl interface {
	Status() engine.Status
	RequestReset(reason string)
	RequestHalt(reason string)
}

// DecisionLog is satisfied by *journal.Journal.
type DecisionLog interface {
	ListDecisions(ctx context.Context, q journal.Query) ([]store.DecisionRecord, error)
	CountDecisions(ctx context.Context, q journal.Query) (int, error)
}

// StrategyCatalog is satisfied by *catalog.Catalog.
type StrategyCatalog interface {
	Snapshot() catalog.Snapshot
	Reload() error
}

type riskActionRequest struct {
	Reason string `json:"reason" form:"reason"`
}

type catalogView struct {
	Version    int64                   `json:"version"`
	LoadedAt   time.Time               `json:"loaded_at"`
	Source     string                  `json:"source"`
	Running    int64                   `json:"running_version"`
	Strategies []config.StrategyConfig `json:"strategies"`
}
