package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"livetrader-go/internal/signal"
)

// StubSource emits deterministic synthetic ticks on a fixed cadence, useful
// for offline runs and tests.
type StubSource struct {
	symbol   string
	interval time.Duration

	mu    sync.Mutex
	px    float64
	seq   uint64
	stop  chan struct{}
	alive bool
}

// NewStubSource builds a synthetic ramp starting at 100.0.
func NewStubSource(symbol string, interval time.Duration) *StubSource {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &StubSource{symbol: symbol, interval: interval, px: 100.0}
}

func (s *StubSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive {
		close(s.stop)
	}
	s.stop = make(chan struct{})
	s.alive = true
	return nil
}

func (s *StubSource) NextRawMessage() (RawMessage, error) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	stop := s.stop
	s.mu.Unlock()

	select {
	case <-stop:
		return nil, ErrNotConnected
	case <-time.After(s.interval):
	}

	s.mu.Lock()
	s.px += 0.1
	s.seq++
	tick := signal.Tick{Symbol: s.symbol, Price: s.px, Size: 1, Side: 1, Ts: time.Now(), Seq: s.seq}
	s.mu.Unlock()

	raw, err := json.Marshal(tick)
	return RawMessage(raw), err
}

func (s *StubSource) Normalize(raw RawMessage) (signal.Tick, error) {
	var tick signal.Tick
	err := json.Unmarshal(raw, &tick)
	return tick, err
}

func (s *StubSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive {
		close(s.stop)
		s.alive = false
	}
	return nil
}
