package diag

import (
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Emit(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureSink) count(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestEmitterLimitsButNeverGoesSilent(t *testing.T) {
	sink := &captureSink{}
	em := NewEmitter(sink, 20*time.Millisecond, 1)

	now := time.Now()
	// A burst far beyond the limit within one window.
	for i := 0; i < 100; i++ {
		em.EntryBlocked("consecutive_ticks", "streak 0 < 2", 100, now)
	}
	first := sink.count(EventEntryBlocked)
	if first < 1 {
		t.Fatalf("limiter went fully silent during a burst")
	}
	if first > 2 {
		t.Fatalf("expected at most burst-sized emission, got %d", first)
	}
	if em.Dropped() == 0 {
		t.Fatalf("expected drops to be counted")
	}

	// After the window elapses the stream resumes: never silent for long.
	time.Sleep(25 * time.Millisecond)
	em.EntryBlocked("consecutive_ticks", "streak 1 < 2", 101, now)
	if sink.count(EventEntryBlocked) <= first {
		t.Fatalf("expected a new event after the window elapsed")
	}
}

func TestEmitterNeverLimitsAcceptsAndExits(t *testing.T) {
	sink := &captureSink{}
	em := NewEmitter(sink, time.Hour, 1)

	now := time.Now()
	// Exhaust the noisy budget first.
	em.EntryBlocked("session_window", "outside window", 100, now)
	em.EntryBlocked("session_window", "outside window", 100, now)

	for i := 0; i < 5; i++ {
		em.EntryAccepted("crossover up", 103, now)
		em.ExitTriggered("STOP_LOSS", "189.00 <= 190.00", 189, now)
	}
	if sink.count(EventEntryAccepted) != 5 {
		t.Fatalf("accepted entries must never be limited, got %d", sink.count(EventEntryAccepted))
	}
	if sink.count(EventExitTriggered) != 5 {
		t.Fatalf("exits must never be limited, got %d", sink.count(EventExitTriggered))
	}
}

func TestEmitterZeroWindowDisablesLimiting(t *testing.T) {
	sink := &captureSink{}
	em := NewEmitter(sink, 0, 0)
	for i := 0; i < 10; i++ {
		em.EntryRejected("momentum", "0.0001 < 0.0005", 100, time.Now())
	}
	if sink.count(EventEntryRejected) != 10 {
		t.Fatalf("expected unlimited emission, got %d", sink.count(EventEntryRejected))
	}
}
