package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"livetrader-go/internal/signal"
)

// scriptSource serves a fixed batch of ticks per connection, then blocks
// until disconnected (or reports exhaustion).
type scriptSource struct {
	mu            sync.Mutex
	batches       [][]signal.Tick
	idx           int
	conn          int
	connectTimes  []time.Time
	failReconnect bool
	exhaust       bool
	blocked       chan struct{}
	closed        bool
}

func (s *scriptSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectTimes = append(s.connectTimes, time.Now())
	if s.failReconnect && s.conn > 0 {
		s.conn++
		return errors.New("synthetic connect failure")
	}
	s.conn++
	s.idx = 0
	s.blocked = make(chan struct{})
	s.closed = false
	return nil
}

func (s *scriptSource) NextRawMessage() (RawMessage, error) {
	s.mu.Lock()
	batch := []signal.Tick{}
	if n := s.conn - 1; n >= 0 && n < len(s.batches) {
		batch = s.batches[n]
	}
	if s.idx < len(batch) {
		tk := batch[s.idx]
		s.idx++
		s.mu.Unlock()
		raw, err := json.Marshal(tk)
		return RawMessage(raw), err
	}
	blocked := s.blocked
	s.mu.Unlock()

	if s.exhaust {
		return nil, ErrExhausted
	}
	<-blocked
	return nil, errors.New("connection closed")
}

func (s *scriptSource) Normalize(raw RawMessage) (signal.Tick, error) {
	var tick signal.Tick
	err := json.Unmarshal(raw, &tick)
	return tick, err
}

func (s *scriptSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocked != nil && !s.closed {
		close(s.blocked)
		s.closed = true
	}
	return nil
}

func (s *scriptSource) connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connectTimes)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func ticks(prices ...float64) []signal.Tick {
	out := make([]signal.Tick, len(prices))
	for i, px := range prices {
		out[i] = signal.Tick{Symbol: "BTCUSDT", Price: px, Size: 1, Ts: time.Now()}
	}
	return out
}

func TestAdapterDeliversToQueueAndCallback(t *testing.T) {
	src := &scriptSource{batches: [][]signal.Tick{ticks(100, 101, 102)}}

	var mu sync.Mutex
	var seen []float64
	adapter := NewAdapter(src, AdapterConfig{QueueSize: 10, SilenceTimeout: time.Hour}, zerolog.Nop(),
		WithCallback(func(tk signal.Tick) {
			mu.Lock()
			seen = append(seen, tk.Price)
			mu.Unlock()
		}))

	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer adapter.Disconnect()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, "callback delivery")

	mu.Lock()
	for i, want := range []float64{100, 101, 102} {
		if seen[i] != want {
			t.Fatalf("callback order: expected %.0f at %d, got %.0f", want, i, seen[i])
		}
	}
	mu.Unlock()

	// Queue delivery stays active even with a callback bound.
	for _, want := range []float64{100, 101, 102} {
		tk, ok := adapter.NextTick()
		if !ok || tk.Price != want {
			t.Fatalf("queue delivery: expected %.0f, got %+v ok=%v", want, tk, ok)
		}
	}
	if px, ok := adapter.LastPrice(); !ok || px != 102 {
		t.Fatalf("expected last price 102, got %.0f ok=%v", px, ok)
	}
}

func TestAdapterContainsCallbackPanic(t *testing.T) {
	src := &scriptSource{batches: [][]signal.Tick{ticks(100, 101, 102)}}

	var calls int
	var mu sync.Mutex
	adapter := NewAdapter(src, AdapterConfig{QueueSize: 10, SilenceTimeout: time.Hour}, zerolog.Nop(),
		WithCallback(func(tk signal.Tick) {
			mu.Lock()
			calls++
			mu.Unlock()
			panic("consumer bug")
		}))

	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer adapter.Disconnect()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 3
	}, "all callbacks despite panics")

	// One faulty consumer tick must not drop subsequent ticks.
	waitFor(t, func() bool { return adapter.queue.Len() == 3 }, "queue delivery despite panics")
}

func TestAdapterCallbackRebindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on second callback binding")
		}
	}()
	NewAdapter(&scriptSource{}, AdapterConfig{}, zerolog.Nop(),
		WithCallback(func(signal.Tick) {}),
		WithCallback(func(signal.Tick) {}))
}

func TestSilenceForcesSingleReconnectAndTickResetsBackoff(t *testing.T) {
	src := &scriptSource{batches: [][]signal.Tick{ticks(100), ticks(101)}}
	adapter := NewAdapter(src, AdapterConfig{
		QueueSize:            10,
		SilenceTimeout:       40 * time.Millisecond,
		ReconnectMin:         5 * time.Millisecond,
		ReconnectMax:         20 * time.Millisecond,
		ReconnectMaxAttempts: 5,
	}, zerolog.Nop())

	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer adapter.Disconnect()

	// First tick arrives, then the source goes silent past the threshold.
	waitFor(t, func() bool { px, ok := adapter.LastPrice(); return ok && px == 100 }, "first tick")
	waitFor(t, func() bool { return src.connects() == 2 }, "reconnect after silence")
	waitFor(t, func() bool { px, _ := adapter.LastPrice(); return px == 101 }, "tick after reconnect")

	// A reconnect already in progress is not re-triggered: exactly one
	// additional connect happened for the silence breach.
	if got := src.connects(); got != 2 {
		t.Fatalf("expected exactly 2 connects, got %d", got)
	}

	st := adapter.State()
	if st.Status != StatusStreaming {
		t.Fatalf("expected STREAMING after recovery, got %s", st.Status)
	}
	if st.ConsecutiveFailures != 0 || st.BackoffSeconds != 0 {
		t.Fatalf("expected backoff state reset on tick, got %+v", st)
	}
}

func TestReconnectBackoffMonotoneThenFatal(t *testing.T) {
	src := &scriptSource{batches: [][]signal.Tick{ticks(100)}, failReconnect: true}
	adapter := NewAdapter(src, AdapterConfig{
		QueueSize:            10,
		SilenceTimeout:       30 * time.Millisecond,
		ReconnectMin:         10 * time.Millisecond,
		ReconnectMax:         80 * time.Millisecond,
		ReconnectMaxAttempts: 3,
	}, zerolog.Nop())

	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer adapter.Disconnect()

	var fatal error
	select {
	case fatal = <-adapter.Fatal():
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for unrecoverable feed report")
	}
	if !strings.Contains(fatal.Error(), "unrecoverable after 3 attempts") {
		t.Fatalf("unexpected fatal error: %v", fatal)
	}

	st := adapter.State()
	if st.Status != StatusDisconnected {
		t.Fatalf("expected terminal DISCONNECTED, got %s", st.Status)
	}
	if st.ConsecutiveFailures != 3 {
		t.Fatalf("expected 3 consecutive failures, got %d", st.ConsecutiveFailures)
	}

	// Delays between reconnect attempts are non-decreasing up to the cap.
	times := src.connectTimes[1:] // skip the initial connect
	if len(times) != 3 {
		t.Fatalf("expected 3 reconnect attempts, got %d", len(times))
	}
	gap1 := times[1].Sub(times[0])
	gap2 := times[2].Sub(times[1])
	if gap2 < gap1-2*time.Millisecond {
		t.Fatalf("backoff not monotone: %v then %v", gap1, gap2)
	}
}

func TestExhaustedSourceReportsFatal(t *testing.T) {
	src := &scriptSource{batches: [][]signal.Tick{ticks(100, 101)}, exhaust: true}
	adapter := NewAdapter(src, AdapterConfig{QueueSize: 10, SilenceTimeout: time.Hour}, zerolog.Nop())

	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer adapter.Disconnect()

	select {
	case err := <-adapter.Fatal():
		if !errors.Is(err, ErrExhausted) {
			t.Fatalf("expected ErrExhausted, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for exhaustion")
	}

	// Both ticks were delivered before the stream ended.
	if adapter.queue.Len() != 2 {
		t.Fatalf("expected 2 queued ticks, got %d", adapter.queue.Len())
	}
}
