package risk

import "sync"

// Ledger stores closed positions in arrival order, forming the session's
// stable, queryable trade record.
type Ledger struct {
	mu     sync.Mutex
	closed []Position
}

// NewLedger creates an empty ledger, optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{closed: make([]Position, 0, capacity)}
}

// Record appends a closed position.
func (l *Ledger) Record(p Position) {
	l.mu.Lock()
	l.closed = append(l.closed, p)
	l.mu.Unlock()
}

// Closed returns a copy of the recorded positions.
func (l *Ledger) Closed() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, len(l.closed))
	copy(out, l.closed)
	return out
}

// Count returns how many positions have been closed.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.closed)
}
