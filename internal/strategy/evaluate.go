package strategy

import (
	"math"

	"alertbot-go/internal/signal"
)

// Evaluate sums the weights of every satisfied rule. The result lies in [0, rs.MaxScore()].
func Evaluate(s signal.Snapshot, rs RuleSet) float64 {
	var score float64
	for _, r := range rs.Rules {
		if Satisfied(s, r) {
			score += r.Weight
		}
	}
	return score
}

// Satisfied reports whether a single rule holds for the snapshot.
func Satisfied(s signal.Snapshot, r Rule) bool {
	if r.Weight <= 0 {
		return false
	}
	actual, ok := r.Metric.Value(s)
	if !ok || math.IsNaN(actual) {
		return false
	}
	threshold := r.Threshold.Resolve(s)
	if math.IsNaN(threshold) {
		return false
	}

	switch r.Variance {
	case Percentage:
		if threshold == 0 {
			return false
		}
		deviation := (actual - threshold) / math.Abs(threshold) * 100
		switch r.Operator {
		case Above:
			return deviation > r.Tolerance
		case Below:
			return deviation < -r.Tolerance
		}
	case Absolute:
		switch r.Operator {
		case Above:
			return actual > threshold
		case Below:
			return actual < threshold
		}
	}
	return false
}

// Gate holds the minimum score, exclusive, a direction needs before it is considered for publication.
type Gate struct {
	SellAbove float64
	BuyAbove  float64
}

// DefaultGate publishes any positive sell score and every buy score.
func DefaultGate() Gate {
	return Gate{SellAbove: 0, BuyAbove: -20}
}

// Allow reports whether score passes the gate for dir.
func (g Gate) Allow(dir signal.Direction, score float64) bool {
	if dir == signal.Buy {
		return score > g.BuyAbove
	}
	return score > g.SellAbove
}
