// Package gateway serializes and throttles outbound calls to quote, candle and indicator providers.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"alertbot-go/internal/metrics"
)

// ErrLimiterClosed is returned to callers that queue work after Close.
var ErrLimiterClosed = errors.New("limiter closed")

// Limits describes the reservoir and spacing applied to provider calls.
type Limits struct {
	// Reservoir is the number of calls allowed to start inside one RefreshInterval.
	Reservoir       int
	RefreshInterval time.Duration
	// MinTime is the minimum spacing between two call starts.
	MinTime time.Duration
}

// DefaultLimits keeps the bot under the free-tier provider quotas.
func DefaultLimits() Limits {
	return Limits{Reservoir: 40, RefreshInterval: time.Minute, MinTime: time.Second}
}

func (l Limits) normalized() Limits {
	def := DefaultLimits()
	if l.Reservoir <= 0 {
		l.Reservoir = def.Reservoir
	}
	if l.RefreshInterval <= 0 {
		l.RefreshInterval = def.RefreshInterval
	}
	if l.MinTime < 0 {
		l.MinTime = 0
	}
	return l
}

// Limiter runs queued calls one at a time, in arrival order, within the configured Limits.
type Limiter struct {
	limits  Limits
	spacing *rate.Limiter
	jobs    chan job
	done    chan struct{}
	once    sync.Once

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// start times of calls inside the trailing refresh interval, oldest first
	starts []time.Time
}

type job struct {
	ctx      context.Context
	fn       func() error
	enqueued time.Time
	result   chan error
}

// LimiterOption customizes a Limiter.
type LimiterOption func(*Limiter)

// WithClock swaps the time source and sleeper, mostly for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) LimiterOption {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// NewLimiter starts the worker that drains the call queue.
func NewLimiter(limits Limits, opts ...LimiterOption) *Limiter {
	limits = limits.normalized()
	every := rate.Inf
	if limits.MinTime > 0 {
		every = rate.Every(limits.MinTime)
	}
	l := &Limiter{
		limits:  limits,
		spacing: rate.NewLimiter(every, 1),
		jobs:    make(chan job),
		done:    make(chan struct{}),
		now:     time.Now,
		sleep:   sleepContext,
		starts:  make([]time.Time, 0, limits.Reservoir),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.loop()
	return l
}

// Limits returns the effective limits.
func (l *Limiter) Limits() Limits { return l.limits }

// Do queues fn and blocks until it has run or ctx is done while waiting for capacity.
// Calls already running are never interrupted.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	j := job{ctx: ctx, fn: fn, enqueued: l.now(), result: make(chan error, 1)}
	select {
	case l.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLimiterClosed
	}
	return <-j.result
}

// Close stops accepting calls once the running one returns.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Limiter) loop() {
	for {
		select {
		case <-l.done:
			return
		case j := <-l.jobs:
			j.result <- l.run(j)
		}
	}
}

func (l *Limiter) run(j job) error {
	if err := l.acquire(j.ctx); err != nil {
		return err
	}
	metrics.GatewayWaitSeconds.Observe(l.now().Sub(j.enqueued).Seconds())
	return j.fn()
}

func (l *Limiter) acquire(ctx context.Context) error {
	for {
		now := l.now()
		l.prune(now)
		if len(l.starts) < l.limits.Reservoir {
			break
		}
		wait := l.starts[0].Add(l.limits.RefreshInterval).Sub(now)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	now := l.now()
	r := l.spacing.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		if err := l.sleep(ctx, delay); err != nil {
			r.CancelAt(now)
			return err
		}
	}
	l.starts = append(l.starts, l.now())
	return nil
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.limits.RefreshInterval)
	idx := 0
	for idx < len(l.starts) && !l.starts[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.starts = append(l.starts[:0], l.starts[idx:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
