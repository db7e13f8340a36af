package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"deltabot/internal/analysis/indicator"
	"deltabot/internal/config"
	"deltabot/internal/types"
)

// Strategy turns a symbol's recent indicator history into at most one signal.
// history is oldest first and its last element is the current tick.
type Strategy interface {
	ID() string
	Type() string
	// Requirements lists the indicators Evaluate reads.
	Requirements() []indicator.Spec
	// Lookback is the number of indicator sets Evaluate needs, current included.
	Lookback() int
	Evaluate(symbol string, history []indicator.IndicatorSet) (types.Signal, bool)
}

// Factory builds a strategy from its configured definition.
type Factory func(def config.StrategyConfig) (Strategy, error)

// Registry maps strategy types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows the built-in strategy types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeSMACrossover, NewSMACrossover)
	r.Register(TypeRSIReversion, NewRSIReversion)
	return r
}

func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeType(typ)] = f
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build instantiates every enabled definition ordered by priority (lower
// first, declaration order breaks ties).
func (r *Registry) Build(defs []config.StrategyConfig) (*Set, error) {
	ordered := make([]config.StrategyConfig, 0, len(defs))
	for _, d := range defs {
		if d.IsEnabled() {
			ordered = append(ordered, d)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	set := &Set{}
	seen := make(map[string]bool, len(ordered))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range ordered {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return nil, fmt.Errorf("strategy of type %q has no id", d.Type)
		}
		if seen[id] {
			return nil, fmt.Errorf("strategy %s declared twice", id)
		}
		seen[id] = true
		f, ok := r.factories[normalizeType(d.Type)]
		if !ok {
			return nil, fmt.Errorf("strategy %s: unknown type %q", id, d.Type)
		}
		s, err := f(d)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", id, err)
		}
		set.strategies = append(set.strategies, s)
	}
	if len(set.strategies) == 0 {
		return nil, fmt.Errorf("no enabled strategies")
	}
	return set, nil
}

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// Set is an immutable, priority ordered group of strategies.
type Set struct {
	strategies []Strategy
}

func NewSet(strategies ...Strategy) *Set {
	return &Set{strategies: append([]Strategy(nil), strategies...)}
}

func (s *Set) Strategies() []Strategy {
	return append([]Strategy(nil), s.strategies...)
}

func (s *Set) Requirements() []indicator.Spec {
	var out []indicator.Spec
	for _, st := range s.strategies {
		out = append(out, st.Requirements()...)
	}
	return out
}

// Lookback is the longest indicator history any member needs.
func (s *Set) Lookback() int {
	n := 1
	for _, st := range s.strategies {
		if l := st.Lookback(); l > n {
			n = l
		}
	}
	return n
}

// Evaluate runs every member and merges the results.
func (s *Set) Evaluate(symbol string, history []indicator.IndicatorSet) (types.Signal, bool) {
	if len(history) == 0 {
		return types.Signal{}, false
	}
	signals := make([]types.Signal, 0, len(s.strategies))
	for _, st := range s.strategies {
		h := history
		if l := st.Lookback(); l > 0 && len(h) > l {
			h = h[len(h)-l:]
		}
		if sig, ok := st.Evaluate(symbol, h); ok {
			signals = append(signals, sig)
		}
	}
	return Merge(signals)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
