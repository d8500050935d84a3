package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"alertbot-go/internal/metrics"
	"alertbot-go/internal/signal"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// tradeServer upgrades every connection, records subscriptions and replays frames.
type tradeServer struct {
	*httptest.Server
	mu            sync.Mutex
	subscriptions []string
	connections   int
}

func newTradeServer(t *testing.T, frames func(conn int) []string) *tradeServer {
	t.Helper()
	ts := &tradeServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ts.mu.Lock()
		ts.connections++
		n := ts.connections
		ts.mu.Unlock()

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var sub subscribeMessage
			if err := conn.ReadJSON(&sub); err != nil {
				return
			}
			ts.mu.Lock()
			ts.subscriptions = append(ts.subscriptions, sub.Type+":"+sub.Symbol)
			done := len(ts.subscriptions)%2 == 0
			ts.mu.Unlock()
			if done {
				break
			}
		}
		for _, f := range frames(n) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if n == 1 && strings.Contains(r.URL.RawQuery, "drop") {
			return
		}
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(server *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "?" + query
}

func trade(symbol string, price float64) string {
	return fmt.Sprintf(`{"type":"trade","data":[{"s":%q,"p":%g,"t":1700000000000,"v":1}]}`, symbol, price)
}

func nextEvent(t *testing.T, events <-chan signal.Event) signal.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return signal.Event{}
}

func TestStreamForwardsTradesAndDropsMalformed(t *testing.T) {
	server := newTradeServer(t, func(int) []string {
		return []string{
			"not json",
			`{"type":"ping"}`,
			`{"type":"trade","data":[]}`,
			`{"type":"trade","data":[{"s":"AAPL"}]}`,
			trade("AAPL", 150.5),
		}
	})
	before := testutil.ToFloat64(metrics.MalformedMessagesTotal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := NewStream(ProviderFinnhub, []string{"MSFT", "AAPL"}, zerolog.Nop(), WithURL(wsURL(server.Server, "token=x")))
	events := make(chan signal.Event, 4)
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx, events) }()

	ev := nextEvent(t, events)
	if ev.Kind != signal.PriceUpdate || ev.Tick.Symbol != "AAPL" || ev.Tick.Price != 150.5 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if got := testutil.ToFloat64(metrics.MalformedMessagesTotal) - before; got != 3 {
		t.Fatalf("expected 3 malformed messages, got %v", got)
	}
	if stream.State() != Connected {
		t.Fatalf("expected connected, got %s", stream.State())
	}

	server.mu.Lock()
	subs := append([]string(nil), server.subscriptions...)
	server.mu.Unlock()
	if len(subs) != 2 || subs[0] != "subscribe:AAPL" || subs[1] != "subscribe:MSFT" {
		t.Fatalf("unexpected subscriptions %v", subs)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not stop after cancel")
	}
	if stream.State() != Closed {
		t.Fatalf("expected closed, got %s", stream.State())
	}
}

func TestStreamDownsamplesTriggers(t *testing.T) {
	server := newTradeServer(t, func(int) []string {
		frames := make([]string, 0, 202)
		for i := 0; i < 201; i++ {
			frames = append(frames, trade("AAPL", 100+float64(i)))
		}
		return append(frames, trade("MSFT", 300))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := NewStream(ProviderFinnhub, []string{"AAPL", "MSFT"}, zerolog.Nop(),
		WithURL(wsURL(server.Server, "")), WithPolicy(PolicyDownsample))
	events := make(chan signal.Event, 8)
	go func() { _ = stream.Run(ctx, events) }()

	var prices []float64
	for {
		ev := nextEvent(t, events)
		if ev.Kind != signal.Trigger {
			t.Fatalf("downsample policy should only emit triggers, got %s", ev.Kind)
		}
		if ev.Tick.Symbol == "MSFT" {
			break
		}
		prices = append(prices, ev.Tick.Price)
	}
	if len(prices) != 2 || prices[0] != 100 || prices[1] != 300 {
		t.Fatalf("expected triggers on tick #1 and #201, got %v", prices)
	}
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	server := newTradeServer(t, func(n int) []string {
		if n == 1 {
			return nil
		}
		return []string{trade("AAPL", 42)}
	})
	before := testutil.ToFloat64(metrics.ReconnectsTotal)

	var dials atomic.Int32
	dialer := &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dials.Add(1)
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := NewStream(ProviderFinnhub, []string{"AAPL", "MSFT"}, zerolog.Nop(),
		WithURL(wsURL(server.Server, "drop=1")),
		WithDialer(dialer),
		WithReconnect(Reconnect{MaxRetries: 3, Backoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}))
	events := make(chan signal.Event, 1)
	go func() { _ = stream.Run(ctx, events) }()

	ev := nextEvent(t, events)
	if ev.Tick.Price != 42 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if got := testutil.ToFloat64(metrics.ReconnectsTotal) - before; got < 1 {
		t.Fatalf("expected a reconnect, got %v", got)
	}
	if got := dials.Load(); got != 2 {
		t.Fatalf("expected both connections through the supplied dialer, got %d", got)
	}
}

func TestStreamUnauthorizedIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	stream := NewStream(ProviderFinnhub, []string{"AAPL"}, zerolog.Nop(),
		WithURL(wsURL(server, "token=bad")),
		WithReconnect(Reconnect{MaxRetries: 5, Backoff: time.Millisecond}))
	err := stream.Run(context.Background(), make(chan signal.Event, 1))
	if !errors.Is(err, ErrConnectionFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if stream.State() != Closed {
		t.Fatalf("expected closed, got %s", stream.State())
	}
}

func TestStreamZeroRetriesIsFatal(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := wsURL(server, "")
	server.Close()

	stream := NewStream(ProviderFinnhub, []string{"AAPL"}, zerolog.Nop(),
		WithURL(addr), WithReconnect(Reconnect{MaxRetries: 0}))
	err := stream.Run(context.Background(), make(chan signal.Event, 1))
	if !errors.Is(err, ErrConnectionFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestStubStreamEmitsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := NewStream(ProviderStub, []string{"BTCUSDT"}, zerolog.Nop(), WithStubInterval(10*time.Millisecond))
	events := make(chan signal.Event, 1)
	go func() { _ = stream.Run(ctx, events) }()

	ev := nextEvent(t, events)
	if ev.Tick.Symbol != "BTCUSDT" || ev.Kind != signal.PriceUpdate {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDownsamplerObserve(t *testing.T) {
	d := NewDownsampler(0)
	fired := 0
	for i := 0; i < DefaultDownsampleModulus; i++ {
		if d.Observe("AAPL") {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("expected exactly one trigger in %d ticks, got %d", DefaultDownsampleModulus, fired)
	}
	if !d.Observe("AAPL") {
		t.Fatalf("tick #%d should trigger", DefaultDownsampleModulus+1)
	}
	if !d.Observe("MSFT") {
		t.Fatalf("first tick of another symbol should trigger")
	}
}

func TestParseTrade(t *testing.T) {
	tick, ok, err := parseTrade([]byte(`{"type":"trade","data":[{"s":"AAPL","p":1.5},{"s":"MSFT","p":2}]}`))
	if err != nil || !ok || tick.Symbol != "AAPL" || tick.Price != 1.5 {
		t.Fatalf("unexpected parse result %+v %v %v", tick, ok, err)
	}
	if _, ok, err := parseTrade([]byte(`{"type":"news"}`)); ok || err != nil {
		t.Fatalf("non-trade messages should be ignored")
	}
	if _, _, err := parseTrade([]byte(`{`)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestFinnhubURL(t *testing.T) {
	if got := FinnhubURL("", "a b"); got != "wss://ws.finnhub.io?token=a+b" {
		t.Fatalf("unexpected url %s", got)
	}
}
