// Package trader wires the feed adapter, decision engine, and risk manager
// into a run/stop session with one of two interchangeable tick consumption
// strategies.
package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"livetrader-go/internal/exchange"
	"livetrader-go/internal/signal"
)

// Mode selects how ticks move from the adapter to the handler. Fixed for the
// lifetime of a session; mixing is not supported.
type Mode string

const (
	// ModePoll drains the adapter queue on a short fixed interval from the
	// orchestration goroutine.
	ModePoll Mode = "poll"
	// ModeCallback lets the feed goroutine invoke the handler inline,
	// removing the poll-wait latency; the orchestration loop becomes a pure
	// heartbeat/cancellation check.
	ModeCallback Mode = "callback"
)

// ParseMode validates a configured consumption mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePoll, ModeCallback:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown consumption mode %q", s)
}

// Dispatcher runs the consumption loop for the selected mode. Both modes
// route every tick through the same handler, so downstream logic is
// mode-agnostic.
type Dispatcher struct {
	mode         Mode
	adapter      *exchange.Adapter
	handle       func(signal.Tick)
	pollInterval time.Duration
	heartbeat    time.Duration
	hbLimiter    *rate.Limiter
	log          zerolog.Logger
}

// NewDispatcher builds a dispatcher. In callback mode the handler must
// already be bound to the adapter; the dispatcher only heartbeats.
func NewDispatcher(mode Mode, adapter *exchange.Adapter, handle func(signal.Tick), pollInterval, heartbeat time.Duration, log zerolog.Logger) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	if heartbeat <= 0 {
		heartbeat = 5 * time.Second
	}
	return &Dispatcher{
		mode:         mode,
		adapter:      adapter,
		handle:       handle,
		pollInterval: pollInterval,
		heartbeat:    heartbeat,
		// Heartbeat logging is gated purely by wall-clock elapsed time, never
		// by a counter driven from the tick path.
		hbLimiter: rate.NewLimiter(rate.Every(heartbeat), 1),
		log:       log,
	}
}

// Run blocks until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.mode == ModeCallback {
		d.runHeartbeat(ctx)
		return
	}
	d.runPoll(ctx)
}

func (d *Dispatcher) runPoll(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The feed is final or stopping; finish what was already
			// delivered so a finite replay processes every tick.
			d.drain()
			return
		case <-ticker.C:
			if !d.drain() && d.hbLimiter.Allow() {
				d.logHeartbeat("queue empty")
			}
		}
	}
}

// drain hands every queued tick to the handler in FIFO order. An empty queue
// is not an error.
func (d *Dispatcher) drain() bool {
	handled := false
	for {
		tk, ok := d.adapter.NextTick()
		if !ok {
			return handled
		}
		d.handle(tk)
		handled = true
	}
}

// runHeartbeat never touches the tick path: ticks flow through the adapter
// callback on the feed goroutine.
func (d *Dispatcher) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(d.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.logHeartbeat("callback mode")
		}
	}
}

func (d *Dispatcher) logHeartbeat(note string) {
	st := d.adapter.State()
	ev := d.log.Debug().
		Str("status", string(st.Status)).
		Time("last_tick_at", st.LastTickAt).
		Str("note", note)
	if px, ok := d.adapter.LastPrice(); ok {
		ev = ev.Float64("last_price", px)
	}
	ev.Msg("heartbeat")
}
