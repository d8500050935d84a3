package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"alertbot-go/internal/metrics"
	"alertbot-go/internal/signal"
)

const (
	readTimeout  = 30 * time.Second
	pingInterval = 15 * time.Second
	writeTimeout = 5 * time.Second
)

// FinnhubURL builds the authenticated websocket endpoint.
func FinnhubURL(server, token string) string {
	if server == "" {
		server = "wss://ws.finnhub.io"
	}
	return strings.TrimSuffix(server, "/") + "?token=" + url.QueryEscape(token)
}

type subscribeMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type tradeEnvelope struct {
	Type string       `json:"type"`
	Data []tradePoint `json:"data"`
}

type tradePoint struct {
	Symbol string   `json:"s"`
	Price  *float64 `json:"p"`
}

func (s *Stream) runWebsocket(ctx context.Context, out chan<- signal.Event) error {
	if len(s.symbols) == 0 {
		return fmt.Errorf("%w: stream requires at least one symbol", ErrConnectionFatal)
	}
	if s.url == "" {
		return fmt.Errorf("%w: stream url not configured", ErrConnectionFatal)
	}

	backoff := s.reconnect.Backoff
	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setState(Connecting)
		connected, err := s.consume(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempts = 0
			backoff = s.reconnect.Backoff
		}
		if errors.Is(err, ErrConnectionFatal) {
			return err
		}
		if s.reconnect.MaxRetries >= 0 && attempts >= s.reconnect.MaxRetries {
			return fmt.Errorf("%w: giving up after %d retries: %v", ErrConnectionFatal, attempts, err)
		}
		attempts++
		s.setState(Reconnecting)
		metrics.ReconnectsTotal.Inc()
		s.log.Warn().Err(err).Int("attempt", attempts).Dur("backoff", backoff).Msg("stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(s.reconnect.MaxBackoff), float64(backoff)*1.8))
	}
}

// consume runs one connection. connected reports whether the handshake succeeded.
func (s *Stream) consume(ctx context.Context, out chan<- signal.Event) (connected bool, err error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, fmt.Errorf("%w: handshake rejected with status %d", ErrConnectionFatal, resp.StatusCode)
		}
		return false, fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.setState(Connected)
	s.log.Info().Str("provider", s.provider).Strs("symbols", s.symbols).Msg("connected trade stream")

	for _, sym := range s.symbols {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Symbol: sym}); err != nil {
			return true, fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		tick, ok, err := parseTrade(message)
		if err != nil {
			metrics.MalformedMessagesTotal.Inc()
			s.log.Warn().Err(err).Msg("dropping stream message")
			continue
		}
		if !ok {
			continue
		}
		if err := s.emit(ctx, out, tick); err != nil {
			return true, err
		}
	}
}

// parseTrade decodes a trade payload; ok is false for other message types.
func parseTrade(message []byte) (signal.Tick, bool, error) {
	var env tradeEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return signal.Tick{}, false, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type != "trade" {
		return signal.Tick{}, false, nil
	}
	if len(env.Data) == 0 {
		return signal.Tick{}, false, fmt.Errorf("%w: trade without data", ErrMalformedMessage)
	}
	point := env.Data[0]
	if point.Symbol == "" || point.Price == nil || *point.Price <= 0 {
		return signal.Tick{}, false, fmt.Errorf("%w: trade missing symbol or price", ErrMalformedMessage)
	}
	return signal.Tick{Symbol: point.Symbol, Price: *point.Price, Ts: time.Now()}, true, nil
}
