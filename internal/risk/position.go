// Package risk owns the lifecycle of the single active position: sizing,
// stop-loss, the take-profit ladder, trailing stop, and forced closure. It is
// the only writer of position state.
package risk

import "time"

// Side is the direction of a position.
type Side int

const (
	Long  Side = 1
	Short Side = -1
)

func (s Side) String() string {
	if s == Short {
		return "SHORT"
	}
	return "LONG"
}

// Status tracks the position lifecycle.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosing Status = "CLOSING"
	StatusClosed  Status = "CLOSED"
)

// CloseReason records why a position (or part of it) was closed.
type CloseReason string

const (
	ReasonStopLoss       CloseReason = "STOP_LOSS"
	ReasonTrailingStop   CloseReason = "TRAILING_STOP"
	ReasonTakeProfit     CloseReason = "TAKE_PROFIT"
	ReasonStrategySignal CloseReason = "STRATEGY_SIGNAL"
	ReasonSessionStop    CloseReason = "SESSION_STOP"
)

// TakeProfitLevel is one rung of the ladder. A level fires at most once.
type TakeProfitLevel struct {
	Trigger  float64
	Fraction float64 // of the opened quantity
	Fired    bool
}

// Position is the tracked holding, from open to close. Mutated only by the
// Manager; everyone else sees copies.
type Position struct {
	ID              string
	Symbol          string
	Side            Side
	EntryPrice      float64
	Quantity        float64
	InitialQuantity float64
	StopLoss        float64
	TrailingStop    float64
	TrailingArmed   bool
	TakeProfits     []TakeProfitLevel
	OpenedAt        time.Time
	Status          Status
	CloseReason     CloseReason
	ClosedAt        time.Time
	ExitPrice       float64
	RealizedPnL     float64
}

func (p *Position) clone() Position {
	out := *p
	out.TakeProfits = make([]TakeProfitLevel, len(p.TakeProfits))
	copy(out.TakeProfits, p.TakeProfits)
	return out
}
