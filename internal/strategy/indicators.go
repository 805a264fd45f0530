package strategy

// Incremental indicator state. Every update is O(1) regardless of how long
// the session has been running; nothing here re-scans history.

// EMA is an exponentially weighted moving average seeded by the first
// observation and considered ready after period updates.
type EMA struct {
	k     float64
	value float64
	count int
	ready int
}

// NewEMA builds an EMA over the given period.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{k: 2.0 / (float64(period) + 1), ready: period}
}

// Update folds a new price into the average.
func (e *EMA) Update(px float64) {
	e.count++
	if e.count == 1 {
		e.value = px
		return
	}
	e.value = px*e.k + e.value*(1-e.k)
}

// Value returns the current average, 0 before any update.
func (e *EMA) Value() float64 { return e.value }

// Ready reports whether enough observations have accumulated.
func (e *EMA) Ready() bool { return e.count >= e.ready }

// VWAP accumulates session volume-weighted average price.
type VWAP struct {
	notional float64
	volume   float64
}

// Update folds a sized observation in. Zero-size ticks are ignored.
func (v *VWAP) Update(px, size float64) {
	if size <= 0 {
		return
	}
	v.notional += px * size
	v.volume += size
}

// Value returns the session VWAP; false while no sized ticks were seen.
func (v *VWAP) Value() (float64, bool) {
	if v.volume <= 0 {
		return 0, false
	}
	return v.notional / v.volume, true
}

// Volume returns total session volume.
func (v *VWAP) Volume() float64 { return v.volume }

// Streak counts consecutive directional price moves. An unchanged price
// breaks the streak in both directions.
type Streak struct {
	last float64
	has  bool
	up   int
	down int
}

// Update observes the next price.
func (s *Streak) Update(px float64) {
	if !s.has {
		s.last = px
		s.has = true
		return
	}
	switch {
	case px > s.last:
		s.up++
		s.down = 0
	case px < s.last:
		s.down++
		s.up = 0
	default:
		s.up = 0
		s.down = 0
	}
	s.last = px
}

// Up returns the count of consecutive rises.
func (s *Streak) Up() int { return s.up }

// Down returns the count of consecutive declines.
func (s *Streak) Down() int { return s.down }
