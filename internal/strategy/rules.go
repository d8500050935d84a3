// Package strategy scores indicator snapshots against weighted rule sets.
package strategy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"alertbot-go/internal/signal"
)

// Metric names a snapshot reading.
type Metric string

const (
	MetricRSI     Metric = "rsi"
	MetricBBUpper Metric = "bb_upper"
	MetricBBLower Metric = "bb_lower"
	MetricSMA50   Metric = "sma50"
)

// Value reads the metric from a snapshot.
func (m Metric) Value(s signal.Snapshot) (float64, bool) {
	switch m {
	case MetricRSI:
		return s.RSI, true
	case MetricBBUpper:
		return s.BBUpper, true
	case MetricBBLower:
		return s.BBLower, true
	case MetricSMA50:
		return s.SMA50, true
	default:
		return 0, false
	}
}

// Operator is the side of the threshold the metric must land on.
type Operator string

const (
	Above Operator = "ABOVE"
	Below Operator = "BELOW"
)

// Variance selects how the metric is compared to the threshold.
type Variance string

const (
	// Absolute compares the raw metric to the threshold.
	Absolute Variance = "ABSOLUTE"
	// Percentage compares the metric's relative deviation from the threshold to a tolerance.
	Percentage Variance = "PERCENTAGE"
)

const currentQuoteToken = "CURRENT_QUOTE"

type thresholdKind int

const (
	literal thresholdKind = iota
	dynamicQuote
)

// Threshold is either a literal number or a reference to the snapshot quote.
type Threshold struct {
	kind  thresholdKind
	value float64
}

// Literal builds a fixed threshold.
func Literal(v float64) Threshold { return Threshold{kind: literal, value: v} }

// CurrentQuote builds a threshold resolved against the snapshot quote.
func CurrentQuote() Threshold { return Threshold{kind: dynamicQuote} }

// IsCurrentQuote reports whether the threshold is dynamic.
func (t Threshold) IsCurrentQuote() bool { return t.kind == dynamicQuote }

// Resolve returns the threshold value for a snapshot.
func (t Threshold) Resolve(s signal.Snapshot) float64 {
	if t.kind == dynamicQuote {
		return s.Quote
	}
	return t.value
}

func (t Threshold) String() string {
	if t.kind == dynamicQuote {
		return currentQuoteToken
	}
	return strconv.FormatFloat(t.value, 'f', -1, 64)
}

// UnmarshalYAML accepts a number or CURRENT_QUOTE.
func (t *Threshold) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: threshold must be a scalar", node.Line)
	}
	raw := strings.TrimSpace(node.Value)
	if strings.EqualFold(raw, currentQuoteToken) {
		*t = CurrentQuote()
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("line %d: threshold %q is neither a number nor %s", node.Line, raw, currentQuoteToken)
	}
	*t = Literal(v)
	return nil
}

// MarshalYAML mirrors UnmarshalYAML.
func (t Threshold) MarshalYAML() (any, error) {
	if t.kind == dynamicQuote {
		return currentQuoteToken, nil
	}
	return t.value, nil
}

// Rule is one weighted condition.
type Rule struct {
	Metric    Metric    `yaml:"metric"`
	Operator  Operator  `yaml:"operator"`
	Threshold Threshold `yaml:"value"`
	Variance  Variance  `yaml:"variance"`
	// Tolerance is the percent deviation a Percentage rule must exceed.
	Tolerance float64 `yaml:"tolerance"`
	Weight    float64 `yaml:"weight"`
}

// Validate rejects rules the evaluator cannot interpret.
func (r Rule) Validate() error {
	if _, ok := r.Metric.Value(signal.Snapshot{}); !ok {
		return fmt.Errorf("unknown metric %q", r.Metric)
	}
	if r.Operator != Above && r.Operator != Below {
		return fmt.Errorf("unknown operator %q", r.Operator)
	}
	if r.Variance != Absolute && r.Variance != Percentage {
		return fmt.Errorf("unknown variance %q", r.Variance)
	}
	if r.Weight <= 0 {
		return fmt.Errorf("weight must be positive, got %v", r.Weight)
	}
	if r.Tolerance < 0 {
		return fmt.Errorf("tolerance must not be negative, got %v", r.Tolerance)
	}
	return nil
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s %s (%s) weight %g", r.Metric, r.Operator, r.Threshold, r.Variance, r.Weight)
}

// RuleSet is an ordered list of rules scored together.
type RuleSet struct {
	Name  string
	Rules []Rule
}

// Validate checks every rule.
func (rs RuleSet) Validate() error {
	if len(rs.Rules) == 0 {
		return fmt.Errorf("rule set %s is empty", rs.Name)
	}
	var errs []error
	for i, r := range rs.Rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rule set %s rule %d: %w", rs.Name, i, err))
		}
	}
	return errors.Join(errs...)
}

// MaxScore is the sum of all weights.
func (rs RuleSet) MaxScore() float64 {
	var total float64
	for _, r := range rs.Rules {
		total += r.Weight
	}
	return total
}

// DefaultSellRules flags overbought symbols trading above their upper band and SMA50.
func DefaultSellRules() RuleSet {
	return RuleSet{Name: string(signal.Sell), Rules: []Rule{
		{Metric: MetricRSI, Operator: Above, Threshold: Literal(66), Variance: Absolute, Weight: 4},
		{Metric: MetricBBUpper, Operator: Below, Threshold: CurrentQuote(), Variance: Percentage, Weight: 4},
		{Metric: MetricSMA50, Operator: Below, Threshold: CurrentQuote(), Variance: Percentage, Weight: 0.5},
	}}
}

// DefaultBuyRules flags oversold symbols trading below their lower band and SMA50.
func DefaultBuyRules() RuleSet {
	return RuleSet{Name: string(signal.Buy), Rules: []Rule{
		{Metric: MetricRSI, Operator: Below, Threshold: Literal(32), Variance: Absolute, Weight: 4},
		{Metric: MetricBBLower, Operator: Above, Threshold: CurrentQuote(), Variance: Percentage, Weight: 4},
		{Metric: MetricSMA50, Operator: Above, Threshold: CurrentQuote(), Variance: Percentage, Weight: 1},
	}}
}

// Normalize folds enum spellings so YAML may use any case.
func (rs RuleSet) Normalize() RuleSet {
	out := RuleSet{Name: strings.ToUpper(strings.TrimSpace(rs.Name)), Rules: make([]Rule, len(rs.Rules))}
	for i, r := range rs.Rules {
		r.Metric = Metric(strings.ToLower(strings.TrimSpace(string(r.Metric))))
		r.Operator = Operator(strings.ToUpper(strings.TrimSpace(string(r.Operator))))
		r.Variance = Variance(strings.ToUpper(strings.TrimSpace(string(r.Variance))))
		if r.Variance == "" {
			r.Variance = Absolute
		}
		out.Rules[i] = r
	}
	return out
}
