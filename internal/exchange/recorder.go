package exchange

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"livetrader-go/internal/signal"
)

// Recorder appends normalized ticks as JSON lines. The output is valid
// ReplaySource input, so a live session can be re-run deterministically.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewRecorder creates/opens the target file and returns a recorder.
func NewRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Recorder{file: file, enc: json.NewEncoder(file)}, nil
}

// Record writes a single tick to the underlying JSONL file.
func (r *Recorder) Record(tick signal.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return
	}
	_ = r.enc.Encode(tick)
}

// Close flushes and closes the file handle.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.enc = nil
	return err
}
