// Package signal standardizes payloads shared between ingestion, analysis and alerting layers.
package signal

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// Tick models the latest trade price observed for a symbol.
type Tick struct {
	Symbol string
	Price  float64
	Ts     time.Time
}

// EventKind distinguishes price-only updates from full analysis triggers.
type EventKind int

const (
	// PriceUpdate refreshes the last known price without analysis.
	PriceUpdate EventKind = iota
	// Trigger asks the orchestrator to analyse the symbol at the tick price.
	Trigger
)

func (k EventKind) String() string {
	if k == Trigger {
		return "trigger"
	}
	return "price_update"
}

// Event is what the stream adapter hands to the orchestrator.
type Event struct {
	Kind EventKind
	Tick Tick
}

// Direction names the side of an alert.
type Direction string

const (
	Sell Direction = "SELL"
	Buy  Direction = "BUY"
)

// ErrIncompleteSnapshot is returned by Validate when quote or rsi are missing.
var ErrIncompleteSnapshot = errors.New("incomplete snapshot")

// Snapshot holds normalized indicator readings for one symbol at one evaluation instant.
// A NaN reading marks a value the source could not provide.
type Snapshot struct {
	Symbol  string  `json:"symbol"`
	RSI     float64 `json:"rsi"`
	BBUpper float64 `json:"bb_upper"`
	BBLower float64 `json:"bb_lower"`
	SMA50   float64 `json:"sma50"`
	Quote   float64 `json:"current_quote"`
}

// Validate reports whether the snapshot can be handed to the decision engine.
func (s Snapshot) Validate() error {
	if s.Symbol == "" {
		return errors.Join(ErrIncompleteSnapshot, errors.New("symbol missing"))
	}
	if s.Quote <= 0 || math.IsNaN(s.Quote) {
		return errors.Join(ErrIncompleteSnapshot, errors.New("current quote missing"))
	}
	if math.IsNaN(s.RSI) || s.RSI < 0 || s.RSI > 100 {
		return errors.Join(ErrIncompleteSnapshot, errors.New("rsi missing"))
	}
	return nil
}

// Alert is a scored directional notification ready for delivery.
type Alert struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Score     float64   `json:"score"`
	Snapshot  Snapshot  `json:"snapshot"`
	Ts        time.Time `json:"ts"`
}

// NewAlert stamps an alert with a fresh identifier.
func NewAlert(dir Direction, score float64, snap Snapshot, ts time.Time) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Symbol:    snap.Symbol,
		Direction: dir,
		Score:     score,
		Snapshot:  snap,
		Ts:        ts,
	}
}
