package strategy

import (
	"strings"

	"deltabot/internal/types"
)

// Merge collapses signals, given in priority order, into one per symbol.
// Flat signals abstain. If every directional signal agrees the first one
// wins; any disagreement cancels to flat.
func Merge(signals []types.Signal) (types.Signal, bool) {
	var (
		winner   types.Signal
		found    bool
		conflict bool
		voters   []string
	)
	for _, sig := range signals {
		if sig.Direction != types.DirectionLong && sig.Direction != types.DirectionShort {
			continue
		}
		voters = append(voters, sig.StrategyID+"="+string(sig.Direction))
		if !found {
			winner, found = sig, true
			continue
		}
		if sig.Direction != winner.Direction {
			conflict = true
		}
	}
	if !conflict {
		return winner, found
	}
	return types.Signal{
		Symbol:     winner.Symbol,
		Direction:  types.DirectionFlat,
		Kind:       types.KindEntry,
		Timestamp:  winner.Timestamp,
		Price:      winner.Price,
		StrategyID: "merge",
		Reason:     "conflict: " + strings.Join(voters, ","),
	}, true
}
