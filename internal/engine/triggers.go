package engine

import (
	"context"
	"sync"
)

// pendingTriggers coalesces stream triggers per symbol, keeping only the newest price.
// Symbols are served in the order they first became pending.
type pendingTriggers struct {
	mu     sync.Mutex
	prices map[string]float64
	order  []string
	wake   chan struct{}
}

func newPendingTriggers() *pendingTriggers {
	return &pendingTriggers{prices: make(map[string]float64), wake: make(chan struct{}, 1)}
}

// push never blocks.
func (p *pendingTriggers) push(symbol string, price float64) {
	p.mu.Lock()
	if _, ok := p.prices[symbol]; !ok {
		p.order = append(p.order, symbol)
	}
	p.prices[symbol] = price
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pendingTriggers) pop() (string, float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return "", 0, false
	}
	symbol := p.order[0]
	p.order = p.order[1:]
	price := p.prices[symbol]
	delete(p.prices, symbol)
	return symbol, price, true
}

// analyseTriggers works through pending triggers until ctx ends, or until
// drained is closed and nothing is left.
func (e *Engine) analyseTriggers(ctx context.Context, drained <-chan struct{}) error {
	for {
		if err := e.safely(func() { e.drainTriggers(ctx) }); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-e.pending.wake:
		case <-drained:
			return e.safely(func() { e.drainTriggers(ctx) })
		}
	}
}

func (e *Engine) drainTriggers(ctx context.Context) {
	for ctx.Err() == nil {
		symbol, price, ok := e.pending.pop()
		if !ok {
			return
		}
		e.analyseLogged(ctx, symbol, price)
	}
}
