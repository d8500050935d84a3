// Package state keeps the last observed trade price per symbol.
package state

import (
	"sort"
	"sync"
	"time"
)

// Price is a cached trade observation.
type Price struct {
	Value float64
	Ts    time.Time
}

// PriceCache is safe for concurrent use by the stream task and the timer loop.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]Price
}

// NewPriceCache returns an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]Price)}
}

// Set overwrites the price for symbol.
func (c *PriceCache) Set(symbol string, value float64, ts time.Time) {
	c.mu.Lock()
	c.prices[symbol] = Price{Value: value, Ts: ts}
	c.mu.Unlock()
}

// Get returns the cached price, if any.
func (c *PriceCache) Get(symbol string) (Price, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	return p, ok
}

// Symbols lists cached symbols in sorted order.
func (c *PriceCache) Symbols() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.prices))
	for sym := range c.prices {
		out = append(out, sym)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}
