package strategy

import (
	"alertbot-go/internal/signal"
)

// Params expresses the rule sets and gate thresholds loaded from configuration.
type Params struct {
	Sell      []Rule
	Buy       []Rule
	SellAbove float64
	BuyAbove  float64
}

// Scores holds one evaluation of both rule sets.
type Scores struct {
	Sell float64
	Buy  float64
}

// Scorer evaluates the SELL and BUY rule sets independently against the same snapshot.
type Scorer struct {
	Sell RuleSet
	Buy  RuleSet
	Gate Gate
}

// Build returns a scorer for params, falling back to the default rule sets when none are configured.
func Build(params Params) (*Scorer, error) {
	sell := DefaultSellRules()
	if len(params.Sell) > 0 {
		sell = RuleSet{Name: string(signal.Sell), Rules: params.Sell}.Normalize()
	}
	buy := DefaultBuyRules()
	if len(params.Buy) > 0 {
		buy = RuleSet{Name: string(signal.Buy), Rules: params.Buy}.Normalize()
	}
	if err := sell.Validate(); err != nil {
		return nil, err
	}
	if err := buy.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{
		Sell: sell,
		Buy:  buy,
		Gate: Gate{SellAbove: params.SellAbove, BuyAbove: params.BuyAbove},
	}, nil
}

// Score evaluates both directions.
func (s *Scorer) Score(snap signal.Snapshot) Scores {
	return Scores{Sell: Evaluate(snap, s.Sell), Buy: Evaluate(snap, s.Buy)}
}

// For returns the score for dir.
func (sc Scores) For(dir signal.Direction) float64 {
	if dir == signal.Buy {
		return sc.Buy
	}
	return sc.Sell
}
