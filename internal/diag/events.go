// Package diag produces the engine's diagnostic event stream for external
// observability collaborators. Rate limiting is purely wall-clock based and
// owned by the emitter, so per-tick chatter can never starve the stream into
// long silence.
package diag

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Kind identifies the diagnostic event type.
type Kind string

const (
	EventEntryBlocked  Kind = "entry_blocked"
	EventEntryRejected Kind = "entry_rejected"
	EventEntryAccepted Kind = "entry_accepted"
	EventExitTriggered Kind = "exit_triggered"
)

// Event is one diagnostic observation. Check names the filter or trigger
// responsible, so a blocked entry is attributable to the exact failing rule.
type Event struct {
	Kind   Kind
	Check  string
	Detail string
	Price  float64
	Ts     time.Time
}

// Sink consumes emitted events.
type Sink interface {
	Emit(Event)
}

// LogSink writes events through zerolog.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Emit(ev Event) {
	s.Log.Info().
		Str("event", string(ev.Kind)).
		Str("check", ev.Check).
		Str("detail", ev.Detail).
		Float64("price", ev.Price).
		Time("tick_ts", ev.Ts).
		Msg("diagnostic event")
}

// Emitter rate-limits the high-frequency event kinds (blocked/rejected fire
// per tick) while always passing accepted entries and exits through.
type Emitter struct {
	sink    Sink
	limiter *rate.Limiter
	dropped atomic.Uint64
}

// NewEmitter allows one noisy event per window with the given burst. A zero
// window disables limiting.
func NewEmitter(sink Sink, window time.Duration, burst int) *Emitter {
	e := &Emitter{sink: sink}
	if window > 0 {
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Every(window), burst)
	}
	return e
}

// EntryBlocked reports a cheap gating filter stopping entry evaluation.
func (e *Emitter) EntryBlocked(check, detail string, price float64, ts time.Time) {
	e.limited(Event{Kind: EventEntryBlocked, Check: check, Detail: detail, Price: price, Ts: ts})
}

// EntryRejected reports an indicator rule failing after the gates passed.
func (e *Emitter) EntryRejected(check, detail string, price float64, ts time.Time) {
	e.limited(Event{Kind: EventEntryRejected, Check: check, Detail: detail, Price: price, Ts: ts})
}

// EntryAccepted reports an emitted entry signal. Never rate-limited.
func (e *Emitter) EntryAccepted(detail string, price float64, ts time.Time) {
	e.emit(Event{Kind: EventEntryAccepted, Detail: detail, Price: price, Ts: ts})
}

// ExitTriggered reports a position exit with its cause. Never rate-limited.
func (e *Emitter) ExitTriggered(cause, detail string, price float64, ts time.Time) {
	e.emit(Event{Kind: EventExitTriggered, Check: cause, Detail: detail, Price: price, Ts: ts})
}

// Dropped returns how many noisy events the limiter suppressed.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *Emitter) limited(ev Event) {
	if e.limiter != nil && !e.limiter.Allow() {
		e.dropped.Add(1)
		return
	}
	e.emit(ev)
}

func (e *Emitter) emit(ev Event) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(ev)
}
