// Package alert gates repeat notifications and delivers alerts to their sinks.
package alert

import (
	"sync"

	"alertbot-go/internal/signal"
)

type notificationState struct {
	sell, buy       float64
	hasSell, hasBuy bool
}

// Deduplicator remembers the last published score per symbol and direction for the process lifetime.
type Deduplicator struct {
	mu     sync.Mutex
	states map[string]*notificationState
}

// NewDeduplicator returns an empty store.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{states: make(map[string]*notificationState)}
}

// ShouldPublish reports whether score differs from the last recorded score for symbol/dir.
// The first observation always publishes.
func (d *Deduplicator) ShouldPublish(symbol string, dir signal.Direction, score float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changed(symbol, dir, score)
}

// Record stores score as the last published score for symbol/dir.
func (d *Deduplicator) Record(symbol string, dir signal.Direction, score float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(symbol, dir, score)
}

// Admit checks and records under one lock; it returns true when the caller should publish.
func (d *Deduplicator) Admit(symbol string, dir signal.Direction, score float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.changed(symbol, dir, score) {
		return false
	}
	d.record(symbol, dir, score)
	return true
}

// Last returns the last recorded score for symbol/dir.
func (d *Deduplicator) Last(symbol string, dir signal.Direction) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.states[symbol]
	if st == nil {
		return 0, false
	}
	if dir == signal.Buy {
		return st.buy, st.hasBuy
	}
	return st.sell, st.hasSell
}

func (d *Deduplicator) changed(symbol string, dir signal.Direction, score float64) bool {
	st := d.states[symbol]
	if st == nil {
		return true
	}
	if dir == signal.Buy {
		return !st.hasBuy || st.buy != score
	}
	return !st.hasSell || st.sell != score
}

func (d *Deduplicator) record(symbol string, dir signal.Direction, score float64) {
	st := d.states[symbol]
	if st == nil {
		st = &notificationState{}
		d.states[symbol] = st
	}
	if dir == signal.Buy {
		st.buy, st.hasBuy = score, true
		return
	}
	st.sell, st.hasSell = score, true
}
