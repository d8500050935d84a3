package exchange

import "sync"

// DefaultDownsampleModulus is the number of ticks between analysis triggers.
const DefaultDownsampleModulus = 200

// Downsampler decides which ticks trigger a full analysis.
// The first tick of a symbol triggers, then every modulus-th tick after it.
type Downsampler struct {
	mu       sync.Mutex
	modulus  int
	counters map[string]int
}

// NewDownsampler builds a sampler; modulus <= 0 uses DefaultDownsampleModulus.
func NewDownsampler(modulus int) *Downsampler {
	if modulus <= 0 {
		modulus = DefaultDownsampleModulus
	}
	return &Downsampler{modulus: modulus, counters: make(map[string]int)}
}

// Observe counts a tick and reports whether it should trigger analysis.
func (d *Downsampler) Observe(symbol string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.counters[symbol]
	if !ok || n == d.modulus {
		d.counters[symbol] = 1
		return true
	}
	d.counters[symbol] = n + 1
	return false
}
