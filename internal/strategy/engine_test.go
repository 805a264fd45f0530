package strategy

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"livetrader-go/internal/diag"
	"livetrader-go/internal/signal"
)

type stubView struct {
	open bool
	side int
}

func (v *stubView) PositionOpen() bool { return v.open }
func (v *stubView) PositionSide() int  { return v.side }

type captureSink struct {
	mu     sync.Mutex
	events []diag.Event
}

func (c *captureSink) Emit(ev diag.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureSink) last() (diag.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return diag.Event{}, false
	}
	return c.events[len(c.events)-1], true
}

func testParams() Params {
	return Params{
		FastPeriod:       1,
		SlowPeriod:       2,
		ConsecutiveTicks: 2,
		MaxDailyTrades:   10,
	}
}

func tickAt(px float64, ts time.Time) signal.Tick {
	return signal.Tick{Symbol: "BTCUSDT", Price: px, Size: 1, Ts: ts}
}

func TestEntryFiresOnSecondConsecutiveRise(t *testing.T) {
	base := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	engine := NewEngine(testParams(), &stubView{}, nil, zerolog.Nop())

	for i, px := range []float64{100, 101} {
		sig, err := engine.OnTick(tickAt(px, base.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("tick %d returned error: %v", i, err)
		}
		if sig != nil {
			t.Fatalf("no signal expected before the second consecutive rise, got %+v", sig)
		}
	}

	sig, err := engine.OnTick(tickAt(103, base.Add(2*time.Second)))
	if err != nil {
		t.Fatalf("OnTick returned error: %v", err)
	}
	if sig == nil || sig.Action != signal.ActionEnterLong {
		t.Fatalf("expected ENTER_LONG on second consecutive rise, got %+v", sig)
	}
	if sig.Price != 103 {
		t.Fatalf("expected signal at 103, got %.2f", sig.Price)
	}
}

func TestStrategyCloseOnDecline(t *testing.T) {
	base := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	params := testParams()
	params.ExitOnDecline = true
	view := &stubView{}
	engine := NewEngine(params, view, nil, zerolog.Nop())

	if _, err := engine.OnTick(tickAt(103, base)); err != nil {
		t.Fatalf("OnTick returned error: %v", err)
	}

	view.open = true
	view.side = 1
	sig, err := engine.OnTick(tickAt(99, base.Add(time.Second)))
	if err != nil {
		t.Fatalf("OnTick returned error: %v", err)
	}
	if sig == nil || sig.Action != signal.ActionClose {
		t.Fatalf("expected CLOSE on decline against a long, got %+v", sig)
	}
}

func TestMalformedTickSkippedWithoutMutation(t *testing.T) {
	base := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	engine := NewEngine(testParams(), &stubView{}, nil, zerolog.Nop())

	if _, err := engine.OnTick(tickAt(100, base)); err != nil {
		t.Fatalf("OnTick returned error: %v", err)
	}
	before := engine.Snapshot()

	if _, err := engine.OnTick(signal.Tick{Symbol: "BTCUSDT", Ts: base.Add(time.Second)}); !errors.Is(err, ErrMalformedTick) {
		t.Fatalf("expected ErrMalformedTick for missing price, got %v", err)
	}
	if _, err := engine.OnTick(signal.Tick{Symbol: "BTCUSDT", Price: 101}); !errors.Is(err, ErrMalformedTick) {
		t.Fatalf("expected ErrMalformedTick for missing timestamp, got %v", err)
	}

	if engine.Snapshot() != before {
		t.Fatalf("indicator state mutated by a skipped tick:\nbefore %+v\nafter  %+v", before, engine.Snapshot())
	}
}

func TestEntryBlockedOutsideSessionWindow(t *testing.T) {
	params := testParams()
	params.WindowStartMin = 9*60 + 15
	params.WindowEndMin = 15*60 + 30
	sink := &captureSink{}
	engine := NewEngine(params, &stubView{}, diag.NewEmitter(sink, 0, 0), zerolog.Nop())

	early := time.Date(2026, 8, 21, 8, 0, 0, 0, time.UTC)
	if sig, err := engine.OnTick(tickAt(100, early)); err != nil || sig != nil {
		t.Fatalf("expected silent skip outside window, got sig=%+v err=%v", sig, err)
	}
	ev, ok := sink.last()
	if !ok || ev.Kind != diag.EventEntryBlocked || ev.Check != "session_window" {
		t.Fatalf("expected attributable session_window block, got %+v", ev)
	}
}

func TestEntryBlockedByDailyTradeCap(t *testing.T) {
	base := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	params := testParams()
	params.MaxDailyTrades = 1
	sink := &captureSink{}
	engine := NewEngine(params, &stubView{}, diag.NewEmitter(sink, 0, 0), zerolog.Nop())

	prices := []float64{100, 101, 103}
	for i, px := range prices {
		if _, err := engine.OnTick(tickAt(px, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("OnTick returned error: %v", err)
		}
	}
	// First entry consumed the daily budget; the next qualifying streak is
	// blocked by the cap, not re-entered.
	sig, err := engine.OnTick(tickAt(105, base.Add(3*time.Second)))
	if err != nil {
		t.Fatalf("OnTick returned error: %v", err)
	}
	if sig != nil {
		t.Fatalf("expected cap to block entry, got %+v", sig)
	}
	ev, ok := sink.last()
	if !ok || ev.Check != "daily_trade_cap" {
		t.Fatalf("expected attributable daily_trade_cap block, got %+v", ev)
	}
}

func TestEntryRejectedByMomentumThreshold(t *testing.T) {
	base := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	params := testParams()
	params.MomentumThreshold = 0.5 // unreachable on this ramp
	sink := &captureSink{}
	engine := NewEngine(params, &stubView{}, diag.NewEmitter(sink, 0, 0), zerolog.Nop())

	for i, px := range []float64{100, 101, 103} {
		if _, err := engine.OnTick(tickAt(px, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("OnTick returned error: %v", err)
		}
	}
	ev, ok := sink.last()
	if !ok || ev.Kind != diag.EventEntryRejected || ev.Check != "momentum" {
		t.Fatalf("expected attributable momentum rejection, got %+v", ev)
	}
}

func TestNoEntryEvaluationWhileOpen(t *testing.T) {
	base := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	view := &stubView{open: true, side: 1}
	engine := NewEngine(testParams(), view, nil, zerolog.Nop())

	for i, px := range []float64{100, 101, 103, 105} {
		sig, err := engine.OnTick(tickAt(px, base.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("OnTick returned error: %v", err)
		}
		if sig != nil && sig.Enter() {
			t.Fatalf("entry evaluation must not run while a position is open, got %+v", sig)
		}
	}
}
