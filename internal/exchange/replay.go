package exchange

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"livetrader-go/internal/signal"
)

// ReplaySource replays normalized ticks from a JSONL file, one tick per
// line, in file order. The same format is produced by the tick Recorder, so
// a recorded live session can be replayed deterministically.
type ReplaySource struct {
	path string

	mu      sync.Mutex
	file    *os.File
	scanner *bufio.Scanner
}

// NewReplaySource builds a file-backed source.
func NewReplaySource(path string) *ReplaySource {
	return &ReplaySource{path: path}
}

// Connect opens the replay file. Reconnecting restarts from the beginning;
// in practice a replay ends with ErrExhausted before any reconnect fires.
func (s *ReplaySource) Connect(ctx context.Context) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	s.mu.Lock()
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
	s.scanner = bufio.NewScanner(file)
	s.mu.Unlock()
	return nil
}

// NextRawMessage returns the next line, or ErrExhausted at end of file.
func (s *ReplaySource) NextRawMessage() (RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanner == nil {
		return nil, ErrNotConnected
	}
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out := make(RawMessage, len(line))
		copy(out, line)
		return out, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan replay file: %w", err)
	}
	return nil, ErrExhausted
}

// Normalize decodes one recorded tick.
func (s *ReplaySource) Normalize(raw RawMessage) (signal.Tick, error) {
	var tick signal.Tick
	if err := json.Unmarshal(raw, &tick); err != nil {
		return signal.Tick{}, fmt.Errorf("decode replay tick: %w", err)
	}
	return tick, nil
}

// Disconnect closes the replay file.
func (s *ReplaySource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.scanner = nil
	return err
}
