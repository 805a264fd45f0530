// Package signal standardizes payloads shared between data ingestion,
// strategy, and risk layers.
package signal

import "time"

// Action is the intent carried by a Signal.
type Action string

const (
	// ActionEnterLong requests opening a long position.
	ActionEnterLong Action = "ENTER_LONG"
	// ActionEnterShort requests opening a short position.
	ActionEnterShort Action = "ENTER_SHORT"
	// ActionClose requests closing the open position.
	ActionClose Action = "CLOSE"
)

// Tick models a single normalized market data observation. Price and Ts are
// required for decision purposes but may be absent on a malformed feed
// payload; consumers must check HasPrice/HasTimestamp instead of assuming a
// zero value means anything.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size,omitempty"`
	Side   int       `json:"side,omitempty"` // +1 aggressive buy, -1 aggressive sell
	Ts     time.Time `json:"ts"`
	Seq    uint64    `json:"seq,omitempty"`
}

// HasPrice reports whether the tick carries a usable price.
func (t Tick) HasPrice() bool { return t.Price > 0 }

// HasTimestamp reports whether the tick carries a usable timestamp.
func (t Tick) HasTimestamp() bool { return !t.Ts.IsZero() }

// Signal expresses a single-tick trading decision produced by the engine.
// It is a transient value, never stored.
type Signal struct {
	Action Action
	Symbol string
	Price  float64
	Reason string
	Ts     time.Time
}

// Enter reports whether the signal opens a position.
func (s Signal) Enter() bool {
	return s.Action == ActionEnterLong || s.Action == ActionEnterShort
}
