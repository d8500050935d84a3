// Package exchange hosts the streaming trade ingestion adapter.
package exchange

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"alertbot-go/internal/metrics"
	"alertbot-go/internal/signal"
)

const (
	// ProviderStub emits synthetic ticks for offline runs.
	ProviderStub = "stub"
	// ProviderFinnhub streams live trades from the Finnhub websocket.
	ProviderFinnhub = "finnhub"
)

var (
	// ErrMalformedMessage marks an inbound payload that could not be parsed.
	ErrMalformedMessage = errors.New("malformed stream message")
	// ErrConnectionFatal is returned when the stream gives up on its connection.
	ErrConnectionFatal = errors.New("stream connection fatal")
)

// State is the connection lifecycle of a Stream.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "disconnected"
	}
}

// Policy selects what the stream emits per trade.
type Policy int

const (
	// PolicyForward emits a PriceUpdate for every trade.
	PolicyForward Policy = iota
	// PolicyDownsample emits a Trigger when the Downsampler fires and nothing otherwise.
	PolicyDownsample
)

// Reconnect bounds the retry loop. MaxRetries == 0 makes the first failure fatal;
// a negative value retries forever.
type Reconnect struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultReconnect retries five times starting at one second.
func DefaultReconnect() Reconnect {
	return Reconnect{MaxRetries: 5, Backoff: time.Second, MaxBackoff: 30 * time.Second}
}

// Stream represents a pluggable trade stream implementation.
type Stream struct {
	provider     string
	url          string
	symbols      []string
	log          zerolog.Logger
	policy       Policy
	sampler      *Downsampler
	reconnect    Reconnect
	dialer       *websocket.Dialer
	stubInterval time.Duration
	state        atomic.Int32
}

// Option configures Stream construction parameters.
type Option func(*Stream)

// WithURL sets the websocket endpoint.
func WithURL(u string) Option {
	return func(s *Stream) { s.url = u }
}

// WithPolicy selects forward or downsample emission.
func WithPolicy(p Policy) Option {
	return func(s *Stream) { s.policy = p }
}

// WithDownsample overrides the trigger modulus.
func WithDownsample(modulus int) Option {
	return func(s *Stream) { s.sampler = NewDownsampler(modulus) }
}

// WithReconnect overrides the retry policy.
func WithReconnect(r Reconnect) Option {
	return func(s *Stream) {
		if r.Backoff <= 0 {
			r.Backoff = time.Second
		}
		if r.MaxBackoff < r.Backoff {
			r.MaxBackoff = r.Backoff
		}
		s.reconnect = r
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Stream) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithStubInterval changes the synthetic tick cadence.
func WithStubInterval(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.stubInterval = d
		}
	}
}

// NewStream constructs a stream backed by the requested provider.
func NewStream(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Stream {
	if provider == "" {
		provider = ProviderStub
	}
	s := &Stream{
		provider:     strings.ToLower(provider),
		symbols:      normalizeSymbols(symbols),
		log:          log,
		sampler:      NewDownsampler(DefaultDownsampleModulus),
		reconnect:    DefaultReconnect(),
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		stubInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeSymbols(symbols []string) []string {
	unique := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		if _, ok := unique[sym]; ok {
			continue
		}
		unique[sym] = struct{}{}
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// State reports the current connection state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

func (s *Stream) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	metrics.StreamState.Set(float64(st))
	s.log.Debug().Str("provider", s.provider).Str("state", st.String()).Msg("stream state")
}

// Run pushes events onto out until the context is canceled or the connection is fatal.
func (s *Stream) Run(ctx context.Context, out chan<- signal.Event) error {
	defer s.setState(Closed)
	switch s.provider {
	case ProviderFinnhub:
		return s.runWebsocket(ctx, out)
	default:
		return s.runStub(ctx, out)
	}
}

// emit applies the policy to one trade.
func (s *Stream) emit(ctx context.Context, out chan<- signal.Event, tick signal.Tick) error {
	metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
	ev := signal.Event{Kind: signal.PriceUpdate, Tick: tick}
	if s.policy == PolicyDownsample {
		if !s.sampler.Observe(tick.Symbol) {
			return nil
		}
		metrics.TriggersTotal.WithLabelValues(tick.Symbol).Inc()
		ev.Kind = signal.Trigger
	}
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) runStub(ctx context.Context, out chan<- signal.Event) error {
	ticker := time.NewTicker(s.stubInterval)
	defer ticker.Stop()
	s.setState(Connected)

	px := 100.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			px += 0.1
			for _, sym := range s.symbols {
				if err := s.emit(ctx, out, signal.Tick{Symbol: sym, Price: px, Ts: ts}); err != nil {
					return err
				}
			}
		}
	}
}
