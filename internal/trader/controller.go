package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"livetrader-go/internal/exchange"
	"livetrader-go/internal/metrics"
	"livetrader-go/internal/risk"
	"livetrader-go/internal/signal"
	"livetrader-go/internal/strategy"
	"livetrader-go/internal/util"
)

// Config holds the session-level knobs of a LiveTrader.
type Config struct {
	Mode           Mode
	PollInterval   time.Duration
	Heartbeat      time.Duration
	MaxErrorStreak int // 0 disables the streak stop
}

// Report is the summary produced when a session stops.
type Report struct {
	StartedAt   time.Time
	StoppedAt   time.Time
	StopCause   string
	Ticks       uint64
	TickErrors  uint64
	Evicted     uint64
	RealizedPnL float64
	Closed      []risk.Position
	Feed        exchange.ConnectionState
}

// LiveTrader owns a trading session: it supervises the feed adapter, routes
// every tick through the decision engine and risk manager, and stops the
// whole pipeline on fatal feed errors, error streaks, or an explicit Stop.
type LiveTrader struct {
	cfg        Config
	log        zerolog.Logger
	engine     *strategy.Engine
	mgr        *risk.Manager
	adapter    *exchange.Adapter
	dispatcher *Dispatcher

	ticks     atomic.Uint64
	tickErrs  atomic.Uint64
	errStreak int // touched only on the tick path

	stopMu    sync.Mutex
	stopCause string
	cancel    context.CancelFunc
}

// New assembles a session around an already-built engine and risk manager.
// In callback mode the trader binds its own tick handler to the adapter, so
// callers must not pass exchange.WithCallback themselves.
func New(cfg Config, src exchange.FeedSource, acfg exchange.AdapterConfig, engine *strategy.Engine, mgr *risk.Manager, log zerolog.Logger, opts ...exchange.AdapterOption) *LiveTrader {
	if cfg.Mode == "" {
		cfg.Mode = ModePoll
	}
	t := &LiveTrader{
		cfg:    cfg,
		log:    log,
		engine: engine,
		mgr:    mgr,
	}
	if cfg.Mode == ModeCallback {
		opts = append(opts, exchange.WithCallback(t.handleTick))
	}
	t.adapter = exchange.NewAdapter(src, acfg, util.Component(log, "feed"), opts...)
	t.dispatcher = NewDispatcher(cfg.Mode, t.adapter, t.handleTick, cfg.PollInterval, cfg.Heartbeat, util.Component(log, "dispatch"))
	return t
}

// handleTick is the single tick entry point for both consumption modes.
func (t *LiveTrader) handleTick(tk signal.Tick) {
	t.ticks.Add(1)

	sig, err := t.engine.OnTick(tk)
	if err != nil {
		t.tickErrs.Add(1)
		metrics.TickErrorsTotal.Inc()
		t.errStreak++
		t.log.Warn().Err(err).Int("streak", t.errStreak).Msg("tick skipped")
		if t.cfg.MaxErrorStreak > 0 && t.errStreak >= t.cfg.MaxErrorStreak {
			t.stopWith(fmt.Sprintf("error streak exceeded: %d consecutive malformed ticks", t.errStreak))
		}
		return
	}
	t.errStreak = 0

	strategyClose := sig != nil && sig.Action == signal.ActionClose
	t.mgr.OnTick(tk, strategyClose)

	if sig == nil {
		return
	}
	metrics.SignalsTotal.WithLabelValues(string(sig.Action)).Inc()
	if sig.Enter() {
		if _, err := t.mgr.Open(sig, tk.Ts); err != nil {
			t.log.Warn().Err(err).Str("action", string(sig.Action)).Msg("entry signal not opened")
		}
	}
}

// Run connects the feed and blocks until the session stops, then performs an
// orderly shutdown: the feed is torn down first, any open position is closed
// at the last observed price, and a report is returned. Run is one-shot.
func (t *LiveTrader) Run(ctx context.Context) (*Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.stopMu.Lock()
	t.cancel = cancel
	t.stopMu.Unlock()

	started := time.Now()
	if err := t.adapter.Connect(runCtx); err != nil {
		return nil, fmt.Errorf("connect feed: %w", err)
	}

	go func() {
		select {
		case err := <-t.adapter.Fatal():
			if errors.Is(err, exchange.ErrExhausted) {
				t.stopWith("feed exhausted")
			} else {
				t.stopWith("feed failure: " + err.Error())
			}
		case <-runCtx.Done():
		}
	}()

	t.log.Info().Str("mode", string(t.cfg.Mode)).Msg("session started")
	t.dispatcher.Run(runCtx)

	// Tear the feed down before touching the position so no late tick can
	// race the forced close.
	t.adapter.Disconnect()

	if px, ok := t.adapter.LastPrice(); ok {
		if t.mgr.CloseOpen(px, risk.ReasonSessionStop, time.Now()) {
			t.log.Info().Float64("px", px).Msg("open position closed on session stop")
		}
	}

	report := &Report{
		StartedAt:   started,
		StoppedAt:   time.Now(),
		StopCause:   t.cause(ctx),
		Ticks:       t.ticks.Load(),
		TickErrors:  t.tickErrs.Load(),
		Evicted:     t.adapter.Evicted(),
		RealizedPnL: t.mgr.RealizedPnL(),
		Closed:      t.mgr.Ledger().Closed(),
		Feed:        t.adapter.State(),
	}
	t.log.Info().
		Str("cause", report.StopCause).
		Uint64("ticks", report.Ticks).
		Uint64("tick_errors", report.TickErrors).
		Int("trades", len(report.Closed)).
		Float64("realized_pnl", report.RealizedPnL).
		Msg("session stopped: " + report.StopCause)
	return report, nil
}

// Stop requests an orderly shutdown. Safe to call from any goroutine and
// more than once.
func (t *LiveTrader) Stop() {
	t.stopWith("stop requested")
}

// stopWith records the first stop cause and cancels the run context. Later
// causes are ignored.
func (t *LiveTrader) stopWith(cause string) {
	t.stopMu.Lock()
	defer t.stopMu.Unlock()
	if t.stopCause != "" {
		return
	}
	t.stopCause = cause
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *LiveTrader) cause(ctx context.Context) string {
	t.stopMu.Lock()
	defer t.stopMu.Unlock()
	if t.stopCause != "" {
		return t.stopCause
	}
	if err := ctx.Err(); err != nil {
		return err.Error()
	}
	return "unknown"
}
