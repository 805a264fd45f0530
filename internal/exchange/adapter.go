package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"livetrader-go/internal/metrics"
	"livetrader-go/internal/signal"
)

// TickHandler receives ticks synchronously on the feed's receiving
// goroutine.
type TickHandler func(signal.Tick)

// AdapterConfig tunes buffering and reconnect supervision.
type AdapterConfig struct {
	QueueSize            int
	SilenceTimeout       time.Duration
	ReconnectMin         time.Duration
	ReconnectMax         time.Duration
	ReconnectMaxAttempts int
}

func (c *AdapterConfig) fill() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 30 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 60 * time.Second
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = 5
	}
}

// AdapterOption configures Adapter construction parameters.
type AdapterOption func(*Adapter)

// WithCallback binds the tick callback once, at construction. The binding is
// immutable afterwards: reconnection never touches it, and a second binding
// is a programming error. Queue delivery stays active regardless, so
// poll-mode consumption is never silently disabled.
func WithCallback(h TickHandler) AdapterOption {
	return func(a *Adapter) {
		if h == nil {
			panic("exchange: nil tick callback")
		}
		if a.callbackBound {
			panic("exchange: tick callback already bound")
		}
		a.callback = h
		a.callbackBound = true
	}
}

// WithRecorder mirrors every normalized tick into a JSONL recorder.
func WithRecorder(r *Recorder) AdapterOption {
	return func(a *Adapter) { a.recorder = r }
}

// Adapter owns the FeedSource connection lifecycle: it normalizes and
// buffers ticks in a bounded queue, optionally hands each tick to the bound
// callback, and supervises the stream with a silence watchdog and capped
// exponential reconnect.
type Adapter struct {
	src      FeedSource
	cfg      AdapterConfig
	log      zerolog.Logger
	queue    *TickQueue
	recorder *Recorder
	boff     *backoff.Backoff

	callback      TickHandler
	callbackBound bool

	mu        sync.Mutex
	state     ConnectionState
	lastPrice float64
	hasPrice  bool

	reconnecting atomic.Bool
	fatal        chan error
	stop         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewAdapter wraps a source. The callback, if any, must be bound here.
func NewAdapter(src FeedSource, cfg AdapterConfig, log zerolog.Logger, opts ...AdapterOption) *Adapter {
	cfg.fill()
	a := &Adapter{
		src:   src,
		cfg:   cfg,
		log:   log,
		queue: NewTickQueue(cfg.QueueSize),
		boff: &backoff.Backoff{
			Min:    cfg.ReconnectMin,
			Max:    cfg.ReconnectMax,
			Factor: 2,
		},
		fatal: make(chan error, 1),
		stop:  make(chan struct{}),
	}
	a.state.Status = StatusDisconnected
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Connect establishes the upstream connection and starts the receive and
// watchdog goroutines.
func (a *Adapter) Connect(ctx context.Context) error {
	a.setStatus(StatusConnecting)
	if err := a.src.Connect(ctx); err != nil {
		a.setStatus(StatusDisconnected)
		return fmt.Errorf("connect feed: %w", err)
	}

	a.mu.Lock()
	a.state.Status = StatusStreaming
	a.state.LastTickAt = time.Now()
	a.mu.Unlock()

	a.wg.Add(2)
	go a.receiveLoop(ctx)
	go a.watchdog(ctx)
	return nil
}

// NextTick is the non-blocking dequeue for poll-mode consumers. An empty
// result does not imply disconnection.
func (a *Adapter) NextTick() (signal.Tick, bool) {
	return a.queue.Pop()
}

// LastPrice returns the latest observed price without consuming the queue.
func (a *Adapter) LastPrice() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPrice, a.hasPrice
}

// State returns a snapshot of the connection state.
func (a *Adapter) State() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Fatal reports unrecoverable feed conditions: either the attempt cap was
// exhausted or a finite source ran out of data.
func (a *Adapter) Fatal() <-chan error {
	return a.fatal
}

// Evicted returns how many ticks were dropped to admit newer ones.
func (a *Adapter) Evicted() uint64 {
	return a.queue.Evicted()
}

// Disconnect terminates the connection and waits for the adapter goroutines
// to finish.
func (a *Adapter) Disconnect() {
	a.stopOnce.Do(func() { close(a.stop) })
	_ = a.src.Disconnect()
	a.wg.Wait()
	a.setStatus(StatusDisconnected)
}

func (a *Adapter) receiveLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		if a.stopping(ctx) {
			return
		}
		raw, err := a.src.NextRawMessage()
		if err != nil {
			if a.stopping(ctx) {
				return
			}
			if errors.Is(err, ErrExhausted) {
				a.setStatus(StatusDisconnected)
				a.reportFatal(ErrExhausted)
				return
			}
			if !a.reconnect(ctx, err) {
				return
			}
			continue
		}

		tick, err := a.src.Normalize(raw)
		if err != nil {
			a.log.Warn().Err(err).Msg("dropping undecodable feed payload")
			continue
		}
		a.deliver(tick)
	}
}

// deliver runs on the feed goroutine. Last-price and queue delivery always
// happen; the callback is invoked in addition, never instead.
func (a *Adapter) deliver(tick signal.Tick) {
	a.mu.Lock()
	a.state.LastTickAt = time.Now()
	a.state.Status = StatusStreaming
	a.state.ConsecutiveFailures = 0
	a.state.BackoffSeconds = 0
	if tick.HasPrice() {
		a.lastPrice = tick.Price
		a.hasPrice = true
	}
	a.mu.Unlock()

	// A successful tick resets the backoff to its initial delay.
	a.boff.Reset()

	metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
	if a.recorder != nil {
		a.recorder.Record(tick)
	}
	if a.queue.Push(tick) {
		metrics.TicksEvictedTotal.Inc()
	}
	if a.callbackBound {
		a.invokeCallback(tick)
	}
}

// invokeCallback contains consumer faults: a panicking callback must not
// unwind into the receive loop and drop subsequent ticks.
func (a *Adapter) invokeCallback(tick signal.Tick) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("tick callback panicked")
		}
	}()
	a.callback(tick)
}

// reconnect retries the source with capped exponential backoff. Returns
// false when the adapter should stop, either cooperatively or because the
// attempt cap was exhausted.
func (a *Adapter) reconnect(ctx context.Context, cause error) bool {
	a.reconnecting.Store(true)
	a.setStatus(StatusReconnecting)
	a.log.Warn().Err(cause).Msg("feed interrupted, reconnecting")

	for attempt := 1; attempt <= a.cfg.ReconnectMaxAttempts; attempt++ {
		delay := a.boff.Duration()
		a.mu.Lock()
		a.state.ConsecutiveFailures++
		a.state.BackoffSeconds = delay.Seconds()
		a.mu.Unlock()

		select {
		case <-time.After(delay):
		case <-a.stop:
			return false
		case <-ctx.Done():
			return false
		}

		metrics.FeedReconnectsTotal.Inc()
		if err := a.src.Connect(ctx); err != nil {
			a.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}

		a.mu.Lock()
		a.state.Status = StatusStreaming
		a.state.LastTickAt = time.Now()
		a.mu.Unlock()
		a.reconnecting.Store(false)
		a.log.Info().Int("attempt", attempt).Msg("feed reconnected")
		return true
	}

	a.setStatus(StatusDisconnected)
	a.reportFatal(fmt.Errorf("feed unrecoverable after %d attempts: %w", a.cfg.ReconnectMaxAttempts, cause))
	return false
}

// watchdog forces a reconnect when the stream stays silent beyond the
// threshold. It only interrupts the blocked read; the receive loop owns the
// actual reconnect, so a reconnect already in progress is never re-triggered.
func (a *Adapter) watchdog(ctx context.Context) {
	defer a.wg.Done()

	interval := a.cfg.SilenceTimeout / 4
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		a.mu.Lock()
		status := a.state.Status
		last := a.state.LastTickAt
		a.mu.Unlock()
		if status != StatusStreaming || time.Since(last) < a.cfg.SilenceTimeout {
			continue
		}
		if a.reconnecting.CompareAndSwap(false, true) {
			a.setStatus(StatusSilent)
			a.log.Warn().Dur("silence", time.Since(last)).Msg("feed silent beyond threshold, forcing reconnect")
			_ = a.src.Disconnect()
		}
	}
}

func (a *Adapter) setStatus(s ConnStatus) {
	a.mu.Lock()
	a.state.Status = s
	a.mu.Unlock()
}

func (a *Adapter) reportFatal(err error) {
	select {
	case a.fatal <- err:
	default:
	}
}

func (a *Adapter) stopping(ctx context.Context) bool {
	select {
	case <-a.stop:
		return true
	default:
	}
	return ctx.Err() != nil
}
