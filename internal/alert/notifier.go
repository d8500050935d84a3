package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"alertbot-go/internal/signal"
)

// Notifier delivers an alert to one destination.
type Notifier interface {
	Notify(ctx context.Context, a signal.Alert) error
}

// Closer is implemented by sinks holding connections or files.
type Closer interface {
	Close() error
}

// DeliveryError lists the sinks that rejected an alert.
type DeliveryError struct {
	// Delivered counts destination sinks that accepted the alert.
	Delivered int
	Failed    []error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%d sink(s) failed, %d delivered: %v", len(e.Failed), e.Delivered, errors.Join(e.Failed...))
}

func (e *DeliveryError) Unwrap() []error { return e.Failed }

// Partial reports whether some destination still received the alert.
func (e *DeliveryError) Partial() bool { return e.Delivered > 0 }

// passive sinks observe alerts without being a delivery destination.
type passive interface{ passive() }

// Multi fans an alert out to every sink.
type Multi []Notifier

// Notify delivers to all sinks even when some fail. Failures come back as *DeliveryError.
func (m Multi) Notify(ctx context.Context, a signal.Alert) error {
	var de DeliveryError
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			de.Failed = append(de.Failed, err)
			continue
		}
		if _, ok := n.(passive); !ok {
			de.Delivered++
		}
	}
	if len(de.Failed) == 0 {
		return nil
	}
	return &de
}

// Close closes every sink that supports it.
func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if c, ok := n.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to the structured log. It does not count as a delivery.
type LogNotifier struct{ log zerolog.Logger }

func (*LogNotifier) passive() {}

// NewLogNotifier wraps a zerolog logger.
func NewLogNotifier(log zerolog.Logger) *LogNotifier { return &LogNotifier{log: log} }

// Notify logs the alert and never fails.
func (n *LogNotifier) Notify(_ context.Context, a signal.Alert) error {
	n.log.Info().
		Str("id", a.ID).
		Str("symbol", a.Symbol).
		Str("direction", string(a.Direction)).
		Float64("score", a.Score).
		Float64("current_quote", a.Snapshot.Quote).
		Float64("rsi", a.Snapshot.RSI).
		Msg("alert")
	return nil
}
