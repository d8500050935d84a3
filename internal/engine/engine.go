// Package engine drives analysis passes and stream events through the alert pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alertbot-go/internal/alert"
	"alertbot-go/internal/gateway"
	"alertbot-go/internal/indicator"
	"alertbot-go/internal/metrics"
	"alertbot-go/internal/signal"
	"alertbot-go/internal/state"
	"alertbot-go/internal/strategy"
)

// Mode selects what triggers a pass and where the current quote comes from.
type Mode string

const (
	// ModePoll analyses every symbol on a timer with a synchronous quote.
	ModePoll Mode = "poll"
	// ModeStreamPoll analyses on a timer using the last streamed price.
	ModeStreamPoll Mode = "stream-poll"
	// ModeStreamTrigger analyses on stream triggers, coalesced per symbol.
	ModeStreamTrigger Mode = "stream-trigger"
)

const (
	defaultPollInterval       = 12 * time.Minute
	defaultStreamPollInterval = 5 * time.Minute
)

var (
	// ErrUnhandled wraps a panic recovered at the orchestration boundary.
	ErrUnhandled = errors.New("unhandled error")
	// ErrDelivery marks a notifier failure.
	ErrDelivery = errors.New("alert delivery failed")
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePoll, ModeStreamPoll, ModeStreamTrigger:
		return m, nil
	default:
		return "", fmt.Errorf("unknown engine mode %q", s)
	}
}

// UsesStream reports whether the mode consumes stream events.
func (m Mode) UsesStream() bool { return m != ModePoll }

// QuoteSource supplies the current quote in poll mode.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (float64, error)
}

// Result describes one analysed symbol.
type Result struct {
	Snapshot  signal.Snapshot
	Scores    strategy.Scores
	Published []signal.Direction
}

// Engine owns the price cache and notification state for one process.
type Engine struct {
	mode     Mode
	symbols  []string
	builder  indicator.Builder
	scorer   *strategy.Scorer
	notifier alert.Notifier
	dedup    *alert.Deduplicator
	prices   *state.PriceCache
	quotes   QuoteSource
	mirror   state.PriceMirror
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
	pending  *pendingTriggers
}

// Option configures Engine construction parameters.
type Option func(*Engine)

// WithQuoteSource sets the poll-mode quote provider.
func WithQuoteSource(q QuoteSource) Option {
	return func(e *Engine) { e.quotes = q }
}

// WithMirror copies cached prices and snapshots to m.
func WithMirror(m state.PriceMirror) Option {
	return func(e *Engine) { e.mirror = m }
}

// WithInterval overrides the pause between timer passes.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithDeduplicator shares notification state.
func WithDeduplicator(d *alert.Deduplicator) Option {
	return func(e *Engine) {
		if d != nil {
			e.dedup = d
		}
	}
}

// WithClock stamps alerts with now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New wires an engine. Poll mode requires a QuoteSource.
func New(mode Mode, symbols []string, builder indicator.Builder, scorer *strategy.Scorer, notifier alert.Notifier, log zerolog.Logger, opts ...Option) (*Engine, error) {
	if builder == nil || scorer == nil || notifier == nil {
		return nil, fmt.Errorf("engine requires a builder, scorer and notifier")
	}
	e := &Engine{
		mode:     mode,
		symbols:  append([]string(nil), symbols...),
		builder:  builder,
		scorer:   scorer,
		notifier: notifier,
		dedup:    alert.NewDeduplicator(),
		prices:   state.NewPriceCache(),
		log:      log,
		now:      time.Now,
		pending:  newPendingTriggers(),
	}
	switch mode {
	case ModePoll:
		e.interval = defaultPollInterval
	case ModeStreamPoll, ModeStreamTrigger:
		e.interval = defaultStreamPollInterval
	default:
		return nil, fmt.Errorf("unknown engine mode %q", mode)
	}
	for _, opt := range opts {
		opt(e)
	}
	if mode == ModePoll && e.quotes == nil {
		return nil, fmt.Errorf("poll mode requires a quote source")
	}
	return e, nil
}

// Prices exposes the last price cache.
func (e *Engine) Prices() *state.PriceCache { return e.prices }

// Deduplicator exposes the notification state.
func (e *Engine) Deduplicator() *alert.Deduplicator { return e.dedup }

// Analyse runs the shared pipeline for one symbol at quote.
func (e *Engine) Analyse(ctx context.Context, symbol string, quote float64) (Result, error) {
	snap, err := e.builder.Build(ctx, symbol, quote)
	if err != nil {
		return Result{}, fmt.Errorf("build snapshot %s: %w", symbol, err)
	}
	if err := snap.Validate(); err != nil {
		return Result{}, fmt.Errorf("validate snapshot %s: %w", symbol, err)
	}
	metrics.EvaluationsTotal.WithLabelValues(symbol).Inc()

	res := Result{Snapshot: snap, Scores: e.scorer.Score(snap)}
	if e.mirror != nil {
		if err := e.mirror.MirrorSnapshot(ctx, snap); err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("mirror snapshot failed")
		}
	}

	var errs []error
	for _, dir := range []signal.Direction{signal.Sell, signal.Buy} {
		score := res.Scores.For(dir)
		if !e.scorer.Gate.Allow(dir, score) {
			metrics.AlertsTotal.WithLabelValues(symbol, string(dir), "gated").Inc()
			continue
		}
		if !e.dedup.ShouldPublish(symbol, dir, score) {
			metrics.AlertsTotal.WithLabelValues(symbol, string(dir), "duplicate").Inc()
			continue
		}
		outcome := "published"
		if err := e.notifier.Notify(ctx, signal.NewAlert(dir, score, snap, e.now())); err != nil {
			// once any destination has the alert it counts as published
			var de *alert.DeliveryError
			if !errors.As(err, &de) || !de.Partial() {
				metrics.AlertsTotal.WithLabelValues(symbol, string(dir), "failed").Inc()
				errs = append(errs, fmt.Errorf("%w: %s %s: %v", ErrDelivery, symbol, dir, err))
				continue
			}
			outcome = "partial"
			e.log.Warn().Err(err).Str("symbol", symbol).Str("direction", string(dir)).Msg("alert missed some sinks")
		}
		e.dedup.Record(symbol, dir, score)
		metrics.AlertsTotal.WithLabelValues(symbol, string(dir), outcome).Inc()
		res.Published = append(res.Published, dir)
	}

	e.log.Info().
		Str("symbol", symbol).
		Float64("current_quote", snap.Quote).
		Float64("rsi", snap.RSI).
		Float64("bb_upper", snap.BBUpper).
		Float64("bb_lower", snap.BBLower).
		Float64("sma50", snap.SMA50).
		Float64("sell_score", res.Scores.Sell).
		Float64("buy_score", res.Scores.Buy).
		Int("published", len(res.Published)).
		Msg("analysis resume")
	return res, errors.Join(errs...)
}

// analyseLogged runs Analyse and reports failures as skips.
func (e *Engine) analyseLogged(ctx context.Context, symbol string, quote float64) bool {
	_, err := e.Analyse(ctx, symbol, quote)
	if err == nil {
		return true
	}
	reason, level := classify(err)
	metrics.SkippedTotal.WithLabelValues(reason).Inc()
	e.log.WithLevel(level).Err(err).Str("symbol", symbol).Str("reason", reason).Msg("symbol skipped")
	return false
}

func classify(err error) (string, zerolog.Level) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled", zerolog.DebugLevel
	case errors.Is(err, indicator.ErrIndicatorUnavailable):
		return "indicator_unavailable", zerolog.WarnLevel
	case errors.Is(err, signal.ErrIncompleteSnapshot):
		return "invalid_snapshot", zerolog.WarnLevel
	case errors.Is(err, ErrDelivery):
		return "delivery", zerolog.ErrorLevel
	case errors.Is(err, gateway.ErrUpstream):
		return "transport", zerolog.ErrorLevel
	default:
		return "error", zerolog.ErrorLevel
	}
}

// PollOnce analyses every symbol sequentially.
func (e *Engine) PollOnce(ctx context.Context) error {
	analysed, skipped := 0, 0
	for _, sym := range e.symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		quote, ok := e.quoteFor(ctx, sym)
		if ok && e.analyseLogged(ctx, sym, quote) {
			analysed++
		} else {
			skipped++
		}
	}
	e.log.Info().Str("mode", string(e.mode)).Int("analysed", analysed).Int("skipped", skipped).Msg("pass complete")
	return nil
}

func (e *Engine) quoteFor(ctx context.Context, symbol string) (float64, bool) {
	if e.mode != ModePoll {
		p, ok := e.prices.Get(symbol)
		if !ok {
			metrics.SkippedTotal.WithLabelValues("no_price").Inc()
			e.log.Debug().Str("symbol", symbol).Msg("no cached price yet")
		}
		return p.Value, ok
	}
	quote, err := e.quotes.Quote(ctx, symbol)
	if err != nil {
		reason, level := classify(err)
		metrics.SkippedTotal.WithLabelValues(reason).Inc()
		e.log.WithLevel(level).Err(err).Str("symbol", symbol).Msg("quote failed")
		return 0, false
	}
	return quote, true
}

// HandleEvent applies one stream event. In stream-trigger mode a trigger is queued for
// analysis, replacing any pending trigger of the same symbol.
func (e *Engine) HandleEvent(ctx context.Context, ev signal.Event) {
	e.prices.Set(ev.Tick.Symbol, ev.Tick.Price, ev.Tick.Ts)
	if e.mirror != nil {
		if err := e.mirror.MirrorPrice(ctx, ev.Tick.Symbol, ev.Tick.Price); err != nil {
			e.log.Warn().Err(err).Str("symbol", ev.Tick.Symbol).Msg("mirror price failed")
		}
	}
	if ev.Kind == signal.Trigger && e.mode == ModeStreamTrigger {
		e.pending.push(ev.Tick.Symbol, ev.Tick.Price)
	}
}

// Run blocks until ctx is done, events closes in trigger mode, or a pass panics.
// Event consumption runs concurrently with the timer loop or the trigger worker,
// so slow analyses never stall the stream.
func (e *Engine) Run(ctx context.Context, events <-chan signal.Event) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 3)
	var wg sync.WaitGroup
	start := func(fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errc <- err
				cancel()
			}
		}()
	}
	drained := make(chan struct{})
	if e.mode.UsesStream() && events != nil {
		start(func(ctx context.Context) error {
			defer close(drained)
			return e.consume(ctx, events)
		})
	} else {
		close(drained)
	}
	if e.mode == ModeStreamTrigger {
		start(func(ctx context.Context) error { return e.analyseTriggers(ctx, drained) })
	} else {
		start(e.loop)
	}
	wg.Wait()
	close(errc)

	if err, ok := <-errc; ok {
		return err
	}
	return parent.Err()
}

func (e *Engine) consume(ctx context.Context, events <-chan signal.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := e.safely(func() { e.HandleEvent(ctx, ev) }); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) loop(ctx context.Context) error {
	// stream-poll waits one interval so the stream can fill the cache
	if e.mode == ModeStreamPoll && !sleep(ctx, e.interval) {
		return nil
	}
	for {
		if err := e.safely(func() { _ = e.PollOnce(ctx) }); err != nil {
			return err
		}
		if !sleep(ctx, e.interval) {
			return nil
		}
	}
}

func (e *Engine) safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("stack", string(debug.Stack())).Interface("panic", r).Msg("recovered panic")
			err = fmt.Errorf("%w: %v", ErrUnhandled, r)
		}
	}()
	fn()
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
