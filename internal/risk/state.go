package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"deltabot/internal/types"
)

type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Ordinal maps levels to 0..3 for gauges.
func (l Level) Ordinal() int {
	switch l {
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// Reason explains a rejection or a halt.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonTradingHalted         Reason = "TradingHalted"
	ReasonPositionLimitReached  Reason = "PositionLimitReached"
	ReasonExposureLimitExceeded Reason = "ExposureLimitExceeded"
	ReasonDailyLossLimitReached Reason = "DailyLossLimitReached"
	ReasonDrawdownLimitExceeded Reason = "DrawdownLimitExceeded"
	ReasonSizeBelowMinimum      Reason = "SizeBelowMinimum"
	ReasonUnknownInstrument     Reason = "UnknownInstrument"
	ReasonNoEquity              Reason = "NoEquity"
	ReasonInvalidSignal         Reason = "InvalidSignal"
	ReasonOperatorHalt          Reason = "OperatorHalt"
)

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeResized  Outcome = "resized"
	OutcomeRejected Outcome = "rejected"
)

// Decision is the gate's verdict on one signal. Quantity is set for
// approved and resized outcomes.
type Decision struct {
	Outcome  Outcome
	Quantity decimal.Decimal
	Reason   Reason
	Detail   string
	// Exposure is the aggregate exposure the decision was gated against.
	Exposure decimal.Decimal
	// EmergencyCloses is filled when this evaluation tripped the drawdown limit.
	EmergencyCloses []types.Signal
}

func Approved(qty decimal.Decimal) Decision {
	return Decision{Outcome: OutcomeApproved, Quantity: qty}
}

func Resized(qty decimal.Decimal, detail string) Decision {
	return Decision{Outcome: OutcomeResized, Quantity: qty, Detail: detail}
}

func Rejected(reason Reason, detail string) Decision {
	return Decision{Outcome: OutcomeRejected, Reason: reason, Detail: detail}
}

// Allowed is true for approved and resized decisions.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeApproved || d.Outcome == OutcomeResized
}

// State is the gate's view of account risk. The Gate is its only writer;
// everyone else receives copies.
type State struct {
	DailyRealizedPnL decimal.Decimal `json:"daily_realized_pnl"`
	Drawdown         decimal.Decimal `json:"drawdown"` // fraction of peak, 0.11 = 11%
	PeakEquity       decimal.Decimal `json:"peak_equity"`
	Equity           decimal.Decimal `json:"equity"`
	OpenPositions    int             `json:"open_positions"`
	Exposure         decimal.Decimal `json:"exposure"`
	Level            Level           `json:"level"`
	TradingHalted    bool            `json:"trading_halted"`
	HaltReason       Reason          `json:"halt_reason,omitempty"`
	SessionDay       string          `json:"session_day"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Transition describes a change of halt flag or risk level.
type Transition struct {
	From  State
	To    State
	Cause string
	At    time.Time
}

// Critical reports whether the transition entered a halt or the critical level.
func (t Transition) Critical() bool {
	return (!t.From.TradingHalted && t.To.TradingHalted) ||
		(t.From.Level != LevelCritical && t.To.Level == LevelCritical)
}

type Listener func(Transition)
