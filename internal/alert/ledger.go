package alert

import (
	"context"
	"sync"

	"alertbot-go/internal/signal"
)

// Ledger stores delivered alerts in memory for quick inspection.
type Ledger struct {
	mu     sync.Mutex
	alerts []signal.Alert
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{alerts: make([]signal.Alert, 0, capacity)}
}

// Notify appends the alert.
func (l *Ledger) Notify(_ context.Context, a signal.Alert) error {
	l.mu.Lock()
	l.alerts = append(l.alerts, a)
	l.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the recorded alerts.
func (l *Ledger) Snapshot() []signal.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]signal.Alert, len(l.alerts))
	copy(out, l.alerts)
	return out
}

// Reset clears all stored alerts.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.alerts = l.alerts[:0]
	l.mu.Unlock()
}
