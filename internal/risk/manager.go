package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"livetrader-go/internal/diag"
	"livetrader-go/internal/metrics"
	"livetrader-go/internal/signal"
)

const epsilon = 1e-9

var (
	// ErrMissingLotSize and friends are fatal at open time, before any order
	// effect. Sizing parameters are never substituted with defaults.
	ErrMissingLotSize      = errors.New("instrument lot size missing")
	ErrMissingTickSize     = errors.New("instrument tick size missing")
	ErrInsufficientCapital = errors.New("insufficient capital for one lot")
	ErrPositionOpen        = errors.New("a position is already open")
	ErrUnknownTrigger      = errors.New("unknown exit trigger")
)

// Trigger names an exit cause for precedence configuration.
type Trigger string

const (
	TriggerStopLoss       Trigger = "stop_loss"
	TriggerTrailingStop   Trigger = "trailing_stop"
	TriggerTakeProfit     Trigger = "take_profit"
	TriggerStrategySignal Trigger = "strategy_signal"
)

// DefaultPrecedence orders simultaneously satisfied exit triggers on one
// tick, hard stop first for safety.
func DefaultPrecedence() []Trigger {
	return []Trigger{TriggerStopLoss, TriggerTrailingStop, TriggerTakeProfit, TriggerStrategySignal}
}

// ParsePrecedence validates a configured trigger ordering.
func ParsePrecedence(names []string) ([]Trigger, error) {
	if len(names) == 0 {
		return DefaultPrecedence(), nil
	}
	out := make([]Trigger, 0, len(names))
	for _, name := range names {
		t := Trigger(name)
		switch t {
		case TriggerStopLoss, TriggerTrailingStop, TriggerTakeProfit, TriggerStrategySignal:
			out = append(out, t)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownTrigger, name)
		}
	}
	return out, nil
}

// Sizing carries the capital and instrument parameters quantity is computed
// from. All fields are mandatory.
type Sizing struct {
	Capital      float64
	RiskPerTrade float64 // fraction of capital per position
	LotSize      float64
	TickSize     float64
}

// ProfitTarget is a ladder rung expressed as a favorable offset from entry.
type ProfitTarget struct {
	Offset   float64
	Fraction float64
}

// Config parameterizes the manager.
type Config struct {
	Symbol                   string
	Sizing                   Sizing
	StopLossOffset           float64
	TrailingActivationOffset float64 // 0 disables trailing
	TrailingDistance         float64
	TakeProfits              []ProfitTarget
	Precedence               []Trigger // empty selects DefaultPrecedence
}

// Manager is the single writer of position state. The decision engine may
// request a close but never mutates the position directly.
type Manager struct {
	cfg    Config
	log    zerolog.Logger
	events *diag.Emitter

	mu       sync.Mutex
	pos      *Position
	ledger   *Ledger
	realized float64
}

// NewManager validates the exit precedence and builds a manager with an
// empty slot.
func NewManager(cfg Config, events *diag.Emitter, log zerolog.Logger) (*Manager, error) {
	if len(cfg.Precedence) == 0 {
		cfg.Precedence = DefaultPrecedence()
	} else {
		for _, t := range cfg.Precedence {
			switch t {
			case TriggerStopLoss, TriggerTrailingStop, TriggerTakeProfit, TriggerStrategySignal:
			default:
				return nil, fmt.Errorf("%w: %q", ErrUnknownTrigger, t)
			}
		}
	}
	if cfg.StopLossOffset <= 0 {
		return nil, fmt.Errorf("stop loss offset is required")
	}
	if events == nil {
		events = diag.NewEmitter(nil, 0, 0)
	}
	return &Manager{cfg: cfg, log: log, events: events, ledger: NewLedger(16)}, nil
}

// Open creates the position for an entry signal: sizes it from capital and
// lot constraints, places the initial stop, and lays out the take-profit
// ladder. Fails fast on absent sizing parameters.
func (m *Manager) Open(sig *signal.Signal, ts time.Time) (string, error) {
	if sig == nil || !sig.Enter() {
		return "", fmt.Errorf("not an entry signal")
	}
	if m.cfg.Sizing.LotSize <= 0 {
		return "", ErrMissingLotSize
	}
	if m.cfg.Sizing.TickSize <= 0 {
		return "", ErrMissingTickSize
	}
	if m.cfg.Sizing.Capital <= 0 || m.cfg.Sizing.RiskPerTrade <= 0 {
		return "", ErrInsufficientCapital
	}
	if sig.Price <= 0 {
		return "", fmt.Errorf("entry signal without price")
	}

	side := Long
	if sig.Action == signal.ActionEnterShort {
		side = Short
	}

	lot := m.cfg.Sizing.LotSize
	raw := m.cfg.Sizing.Capital * m.cfg.Sizing.RiskPerTrade / sig.Price
	qty := math.Floor(raw/lot+epsilon) * lot
	if qty < lot-epsilon {
		return "", ErrInsufficientCapital
	}

	pos := &Position{
		ID:              uuid.NewString(),
		Symbol:          sig.Symbol,
		Side:            side,
		EntryPrice:      sig.Price,
		Quantity:        qty,
		InitialQuantity: qty,
		StopLoss:        m.roundToTick(sig.Price - float64(side)*m.cfg.StopLossOffset),
		OpenedAt:        ts,
		Status:          StatusOpen,
	}
	for _, target := range m.cfg.TakeProfits {
		pos.TakeProfits = append(pos.TakeProfits, TakeProfitLevel{
			Trigger:  m.roundToTick(sig.Price + float64(side)*target.Offset),
			Fraction: target.Fraction,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Check-and-set under one lock: the open path and the close path share
	// it, which is what enforces at-most-one-position.
	if m.pos != nil && m.pos.Status != StatusClosed {
		return "", ErrPositionOpen
	}
	m.pos = pos

	metrics.PositionsOpenedTotal.Inc()
	m.log.Info().
		Str("id", pos.ID).
		Str("side", side.String()).
		Float64("entry", pos.EntryPrice).
		Float64("qty", pos.Quantity).
		Float64("stop", pos.StopLoss).
		Msg("position opened")
	return pos.ID, nil
}

// OnTick runs the exit triggers for the open position in the configured
// precedence order; the first satisfied trigger wins for this tick.
// strategyClose is the engine's CLOSE request, treated as one more cause.
func (m *Manager) OnTick(tk signal.Tick, strategyClose bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos == nil || m.pos.Status != StatusOpen || !tk.HasPrice() {
		return
	}
	px := tk.Price
	m.updateTrailingLocked(px)

	for _, trig := range m.cfg.Precedence {
		switch trig {
		case TriggerStopLoss:
			if m.stopBreachedLocked(px, m.pos.StopLoss) {
				m.closeAllLocked(px, ReasonStopLoss, tk.Ts)
				return
			}
		case TriggerTrailingStop:
			if m.pos.TrailingArmed && m.stopBreachedLocked(px, m.pos.TrailingStop) {
				m.closeAllLocked(px, ReasonTrailingStop, tk.Ts)
				return
			}
		case TriggerTakeProfit:
			if m.fireTakeProfitsLocked(px, tk.Ts) {
				return
			}
		case TriggerStrategySignal:
			if strategyClose {
				m.closeAllLocked(px, ReasonStrategySignal, tk.Ts)
				return
			}
		}
	}
}

// CloseOpen force-closes any open position, used for session stop. Reports
// whether a position was closed.
func (m *Manager) CloseOpen(px float64, reason CloseReason, ts time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil || m.pos.Status != StatusOpen {
		return false
	}
	m.closeAllLocked(px, reason, ts)
	return true
}

// PositionOpen implements the engine's position gate.
func (m *Manager) PositionOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos != nil && m.pos.Status == StatusOpen
}

// PositionSide reports the open side, 0 when flat.
func (m *Manager) PositionSide() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil || m.pos.Status != StatusOpen {
		return 0
	}
	return int(m.pos.Side)
}

// Snapshot returns a copy of the open position for reads from another
// execution context.
func (m *Manager) Snapshot() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return Position{}, false
	}
	return m.pos.clone(), true
}

// Ledger exposes the closed-position record.
func (m *Manager) Ledger() *Ledger { return m.ledger }

// RealizedPnL returns the session's total realized profit and loss.
func (m *Manager) RealizedPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realized
}

// updateTrailingLocked arms the trailing stop once price moves favorably
// past the activation offset, then ratchets it with further favorable moves;
// it never moves unfavorably.
func (m *Manager) updateTrailingLocked(px float64) {
	if m.cfg.TrailingActivationOffset <= 0 || m.cfg.TrailingDistance <= 0 {
		return
	}
	pos := m.pos
	side := float64(pos.Side)
	if !pos.TrailingArmed {
		if (px-pos.EntryPrice)*side < m.cfg.TrailingActivationOffset {
			return
		}
		pos.TrailingArmed = true
		pos.TrailingStop = m.roundToTick(px - side*m.cfg.TrailingDistance)
		m.log.Debug().Float64("px", px).Float64("trail", pos.TrailingStop).Msg("trailing stop armed")
		return
	}
	candidate := m.roundToTick(px - side*m.cfg.TrailingDistance)
	if (candidate-pos.TrailingStop)*side > 0 {
		pos.TrailingStop = candidate
	}
}

func (m *Manager) stopBreachedLocked(px, stop float64) bool {
	if m.pos.Side == Long {
		return px <= stop+epsilon
	}
	return px >= stop-epsilon
}

// fireTakeProfitsLocked fires every unfired level whose trigger is reached,
// in ladder order, each at most once. Partial closes keep the position open
// until quantity reaches zero (or an untradable residual remains).
func (m *Manager) fireTakeProfitsLocked(px float64, ts time.Time) bool {
	pos := m.pos
	fired := false
	for i := range pos.TakeProfits {
		lvl := &pos.TakeProfits[i]
		if lvl.Fired {
			continue
		}
		if (pos.Side == Long && px < lvl.Trigger-epsilon) || (pos.Side == Short && px > lvl.Trigger+epsilon) {
			continue
		}
		lvl.Fired = true
		fired = true

		qty := lvl.Fraction * pos.InitialQuantity
		if qty > pos.Quantity {
			qty = pos.Quantity
		}
		m.realizePartLocked(qty, px)
		if pos.Quantity <= epsilon {
			break
		}
	}
	if !fired {
		return false
	}

	// Sweep a residual smaller than one lot; it cannot be closed later.
	if pos.Quantity > epsilon && pos.Quantity < m.cfg.Sizing.LotSize-epsilon {
		m.realizePartLocked(pos.Quantity, px)
	}
	if pos.Quantity <= epsilon {
		m.finalizeCloseLocked(px, ReasonTakeProfit, ts)
	} else {
		m.events.ExitTriggered(string(TriggerTakeProfit),
			fmt.Sprintf("partial close, %.8f remaining", pos.Quantity), px, ts)
		m.log.Info().Float64("px", px).Float64("remaining", pos.Quantity).Msg("take profit level filled")
	}
	return true
}

func (m *Manager) closeAllLocked(px float64, reason CloseReason, ts time.Time) {
	m.realizePartLocked(m.pos.Quantity, px)
	m.finalizeCloseLocked(px, reason, ts)
}

func (m *Manager) realizePartLocked(qty, px float64) {
	pos := m.pos
	pnl := (px - pos.EntryPrice) * float64(pos.Side) * qty
	pos.RealizedPnL += pnl
	m.realized += pnl
	pos.Quantity -= qty
	if pos.Quantity < 0 {
		pos.Quantity = 0
	}
}

func (m *Manager) finalizeCloseLocked(px float64, reason CloseReason, ts time.Time) {
	pos := m.pos
	pos.Status = StatusClosing
	pos.ExitPrice = px
	pos.CloseReason = reason
	pos.ClosedAt = ts
	pos.Status = StatusClosed

	m.ledger.Record(pos.clone())
	m.pos = nil // the slot is free; entry evaluation resumes next tick

	metrics.PositionsClosedTotal.WithLabelValues(string(reason)).Inc()
	m.events.ExitTriggered(string(reason),
		fmt.Sprintf("entry %.4f exit %.4f pnl %.4f", pos.EntryPrice, px, pos.RealizedPnL), px, ts)
	m.log.Info().
		Str("id", pos.ID).
		Str("reason", string(reason)).
		Float64("exit", px).
		Float64("pnl", pos.RealizedPnL).
		Msg("position closed")
}

func (m *Manager) roundToTick(v float64) float64 {
	tick := m.cfg.Sizing.TickSize
	if tick <= 0 {
		return v
	}
	return math.Round(v/tick) * tick
}
