// Package strategy contains the per-tick decision engine: incrementally
// updated indicators, attributable entry gates and rules, and strategy-driven
// exit signals.
package strategy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livetrader-go/internal/diag"
	"livetrader-go/internal/signal"
)

// ErrMalformedTick marks a tick skipped for decision purposes: no signal, no
// indicator mutation. The session controller counts these toward its
// consecutive-error streak.
var ErrMalformedTick = errors.New("malformed tick")

// PositionView is the engine's read-only window onto the risk manager's
// position slot. The engine never mutates position state through it.
type PositionView interface {
	PositionOpen() bool
	PositionSide() int // +1 long, -1 short, 0 none
}

// Params groups tunable knobs for the engine.
type Params struct {
	FastPeriod        int
	SlowPeriod        int
	ConsecutiveTicks  int
	MomentumThreshold float64
	MinVolume         float64
	RequireVWAP       bool
	ExitOnDecline     bool
	AllowShort        bool
	WindowStartMin    int // minutes since midnight, inclusive
	WindowEndMin      int // minutes since midnight, exclusive; 1440 = midnight
	MaxDailyTrades    int // <= 0 means uncapped
}

// Snapshot is a lock-free view of the indicator state for a second execution
// context (heartbeat, UI); never read engine fields directly.
type Snapshot struct {
	Fast        float64
	Slow        float64
	Ready       bool
	VWAP        float64
	HasVWAP     bool
	UpStreak    int
	DownStreak  int
	TradesToday int
	LastPrice   float64
}

// Engine evaluates one tick at a time: update indicators, then either entry
// rules (no open position) or exit rules (position open). At most one signal
// per tick.
type Engine struct {
	params Params
	view   PositionView
	events *diag.Emitter
	log    zerolog.Logger

	mu           sync.Mutex
	fast         *EMA
	slow         *EMA
	vwap         *VWAP
	streak       *Streak
	lastPrice    float64
	hasLast      bool
	prevDiffSign int
	tradesToday  int
	day          time.Time
}

// NewEngine constructs a fresh engine; all mutable indicator state is scoped
// to the instance, nothing survives across sessions.
func NewEngine(params Params, view PositionView, events *diag.Emitter, log zerolog.Logger) *Engine {
	if params.FastPeriod < 1 {
		params.FastPeriod = 1
	}
	if params.SlowPeriod <= params.FastPeriod {
		params.SlowPeriod = params.FastPeriod + 1
	}
	if params.ConsecutiveTicks < 1 {
		params.ConsecutiveTicks = 1
	}
	if params.WindowEndMin <= 0 {
		params.WindowEndMin = 24 * 60
	}
	if events == nil {
		events = diag.NewEmitter(nil, 0, 0)
	}
	return &Engine{
		params: params,
		view:   view,
		events: events,
		log:    log,
		fast:   NewEMA(params.FastPeriod),
		slow:   NewEMA(params.SlowPeriod),
		vwap:   &VWAP{},
		streak: &Streak{},
	}
}

// OnTick folds the tick into the indicator state (O(1), independent of
// history length) and evaluates entry or exit rules. A malformed tick is
// skipped entirely and returned as ErrMalformedTick.
func (e *Engine) OnTick(tk signal.Tick) (*signal.Signal, error) {
	if !tk.HasPrice() || !tk.HasTimestamp() {
		return nil, ErrMalformedTick
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollDay(tk.Ts)

	e.fast.Update(tk.Price)
	e.slow.Update(tk.Price)
	e.vwap.Update(tk.Price, tk.Size)
	e.streak.Update(tk.Price)

	diff := e.fast.Value() - e.slow.Value()
	sign := signOf(diff)
	prevSign := e.prevDiffSign
	e.prevDiffSign = sign

	prevPrice, hadPrev := e.lastPrice, e.hasLast
	e.lastPrice = tk.Price
	e.hasLast = true

	if e.view.PositionOpen() {
		return e.evaluateExit(tk, prevPrice, hadPrev, sign, prevSign), nil
	}
	return e.evaluateEntry(tk, diff, sign), nil
}

// Snapshot copies the indicator state for reads from another context.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	vwap, hasVWAP := e.vwap.Value()
	return Snapshot{
		Fast:        e.fast.Value(),
		Slow:        e.slow.Value(),
		Ready:       e.fast.Ready() && e.slow.Ready(),
		VWAP:        vwap,
		HasVWAP:     hasVWAP,
		UpStreak:    e.streak.Up(),
		DownStreak:  e.streak.Down(),
		TradesToday: e.tradesToday,
		LastPrice:   e.lastPrice,
	}
}

// evaluateExit contributes strategy-driven CLOSE signals only; the risk
// manager treats them as one more exit cause alongside its own triggers.
func (e *Engine) evaluateExit(tk signal.Tick, prevPrice float64, hadPrev bool, sign, prevSign int) *signal.Signal {
	side := e.view.PositionSide()
	if side == 0 {
		return nil
	}

	if e.params.ExitOnDecline && hadPrev {
		if (side > 0 && tk.Price < prevPrice) || (side < 0 && tk.Price > prevPrice) {
			reason := fmt.Sprintf("adverse move %.4f -> %.4f", prevPrice, tk.Price)
			return &signal.Signal{Action: signal.ActionClose, Symbol: tk.Symbol, Price: tk.Price, Reason: reason, Ts: tk.Ts}
		}
	}
	if (side > 0 && prevSign > 0 && sign < 0) || (side < 0 && prevSign < 0 && sign > 0) {
		reason := fmt.Sprintf("adverse crossover fast=%.4f slow=%.4f", e.fast.Value(), e.slow.Value())
		return &signal.Signal{Action: signal.ActionClose, Symbol: tk.Symbol, Price: tk.Price, Reason: reason, Ts: tk.Ts}
	}
	return nil
}

// evaluateEntry applies cheap gating filters before indicator rules. Every
// failure is individually attributable through the diagnostic stream; all
// enabled checks must pass for an entry signal.
func (e *Engine) evaluateEntry(tk signal.Tick, diff float64, sign int) *signal.Signal {
	minute := tk.Ts.Hour()*60 + tk.Ts.Minute()
	if minute < e.params.WindowStartMin || minute >= e.params.WindowEndMin {
		e.events.EntryBlocked("session_window",
			fmt.Sprintf("minute %d outside [%d, %d)", minute, e.params.WindowStartMin, e.params.WindowEndMin),
			tk.Price, tk.Ts)
		return nil
	}
	if e.params.MaxDailyTrades > 0 && e.tradesToday >= e.params.MaxDailyTrades {
		e.events.EntryBlocked("daily_trade_cap",
			fmt.Sprintf("%d trades reached cap %d", e.tradesToday, e.params.MaxDailyTrades),
			tk.Price, tk.Ts)
		return nil
	}

	dir := 0
	switch {
	case e.streak.Up() >= e.params.ConsecutiveTicks:
		dir = 1
	case e.params.AllowShort && e.streak.Down() >= e.params.ConsecutiveTicks:
		dir = -1
	default:
		e.events.EntryBlocked("consecutive_ticks",
			fmt.Sprintf("up=%d down=%d, need %d", e.streak.Up(), e.streak.Down(), e.params.ConsecutiveTicks),
			tk.Price, tk.Ts)
		return nil
	}

	if !e.fast.Ready() || !e.slow.Ready() {
		e.events.EntryRejected("ema_warmup", "averages not primed", tk.Price, tk.Ts)
		return nil
	}
	if sign != dir {
		e.events.EntryRejected("crossover",
			fmt.Sprintf("fast=%.4f slow=%.4f disagrees with streak direction %d", e.fast.Value(), e.slow.Value(), dir),
			tk.Price, tk.Ts)
		return nil
	}
	momentum := 0.0
	if slow := e.slow.Value(); slow > 0 {
		momentum = diff / slow
	}
	if abs(momentum) < e.params.MomentumThreshold {
		e.events.EntryRejected("momentum",
			fmt.Sprintf("|%.6f| < %.6f", momentum, e.params.MomentumThreshold),
			tk.Price, tk.Ts)
		return nil
	}
	if e.params.MinVolume > 0 && e.vwap.Volume() < e.params.MinVolume {
		e.events.EntryRejected("volume",
			fmt.Sprintf("%.2f < %.2f", e.vwap.Volume(), e.params.MinVolume),
			tk.Price, tk.Ts)
		return nil
	}
	if e.params.RequireVWAP {
		vwap, ok := e.vwap.Value()
		if !ok || (dir > 0 && tk.Price < vwap) || (dir < 0 && tk.Price > vwap) {
			e.events.EntryRejected("vwap",
				fmt.Sprintf("price %.4f vs vwap %.4f for direction %d", tk.Price, vwap, dir),
				tk.Price, tk.Ts)
			return nil
		}
	}

	e.tradesToday++
	action := signal.ActionEnterLong
	if dir < 0 {
		action = signal.ActionEnterShort
	}
	reason := fmt.Sprintf("streak=%d momentum=%.6f", e.params.ConsecutiveTicks, momentum)
	e.events.EntryAccepted(reason, tk.Price, tk.Ts)
	return &signal.Signal{Action: action, Symbol: tk.Symbol, Price: tk.Price, Reason: reason, Ts: tk.Ts}
}

func (e *Engine) rollDay(ts time.Time) {
	day := ts.Truncate(24 * time.Hour)
	if !day.Equal(e.day) {
		e.day = day
		e.tradesToday = 0
	}
}

func signOf(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
