// Package market hosts REST clients for quote, candle and indicator providers.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"alertbot-go/internal/gateway"
)

const (
	defaultBinanceBaseURL = "https://api.binance.com"
	defaultCandleLimit    = 200
	defaultCandleInterval = "1d"
)

// Fetcher is the subset of the gateway used by the clients.
type Fetcher interface {
	FetchJSON(ctx context.Context, req gateway.Request, out any) error
}

// BinanceClient reads spot quotes and daily klines.
type BinanceClient struct {
	gw       Fetcher
	baseURL  string
	limit    int
	interval string
}

// BinanceOption configures a BinanceClient.
type BinanceOption func(*BinanceClient)

// WithBinanceBaseURL points the client at another host (tests, mirrors).
func WithBinanceBaseURL(base string) BinanceOption {
	return func(c *BinanceClient) {
		if base != "" {
			c.baseURL = strings.TrimSuffix(base, "/")
		}
	}
}

// WithCandles overrides the kline count and interval.
func WithCandles(limit int, interval string) BinanceOption {
	return func(c *BinanceClient) {
		if limit > 0 {
			c.limit = limit
		}
		if interval != "" {
			c.interval = interval
		}
	}
}

// NewBinanceClient builds a client that routes every call through gw.
func NewBinanceClient(gw Fetcher, opts ...BinanceOption) *BinanceClient {
	c := &BinanceClient{
		gw:       gw,
		baseURL:  defaultBinanceBaseURL,
		limit:    defaultCandleLimit,
		interval: defaultCandleInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Quote returns the latest traded price.
func (c *BinanceClient) Quote(ctx context.Context, symbol string) (float64, error) {
	var ticker binanceTicker
	err := c.gw.FetchJSON(ctx, gateway.Request{
		URL:   c.baseURL + "/api/v3/ticker/price",
		Query: url.Values{"symbol": {symbol}},
	}, &ticker)
	if err != nil {
		return 0, fmt.Errorf("binance quote %s: %w", symbol, err)
	}
	px, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance quote %s: invalid price %q", symbol, ticker.Price)
	}
	return px, nil
}

// Closes returns closing prices ordered oldest to newest.
func (c *BinanceClient) Closes(ctx context.Context, symbol string) ([]float64, error) {
	var klines [][]json.RawMessage
	err := c.gw.FetchJSON(ctx, gateway.Request{
		URL: c.baseURL + "/api/v3/klines",
		Query: url.Values{
			"symbol":   {symbol},
			"limit":    {strconv.Itoa(c.limit)},
			"interval": {c.interval},
		},
	}, &klines)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
	}
	closes := make([]float64, 0, len(klines))
	for i, k := range klines {
		if len(k) < 5 {
			return nil, fmt.Errorf("binance klines %s: candle %d has %d fields", symbol, i, len(k))
		}
		px, err := parseNumber(k[4])
		if err != nil {
			return nil, fmt.Errorf("binance klines %s: candle %d close: %w", symbol, i, err)
		}
		closes = append(closes, px)
	}
	return closes, nil
}

// parseNumber accepts both "1.23" and 1.23 encodings.
func parseNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
