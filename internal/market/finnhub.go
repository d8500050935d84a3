package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"alertbot-go/internal/gateway"
)

const (
	defaultFinnhubBaseURL = "https://finnhub.io"

	// hourly candles, 184 of them, anchor every indicator window
	candleGranularity = 3600 * time.Second
	candleCount       = 184

	rsiPeriod   = 14
	bbandPeriod = 20
	bbandSpan   = 20
)

// FinnhubClient reads provider-computed indicator series and quotes.
type FinnhubClient struct {
	gw      Fetcher
	baseURL string
	token   string
	now     func() time.Time
}

// FinnhubOption configures a FinnhubClient.
type FinnhubOption func(*FinnhubClient)

// WithFinnhubBaseURL points the client at another host.
func WithFinnhubBaseURL(base string) FinnhubOption {
	return func(c *FinnhubClient) {
		if base != "" {
			c.baseURL = strings.TrimSuffix(base, "/")
		}
	}
}

// WithNow fixes the clock used to compute request windows.
func WithNow(now func() time.Time) FinnhubOption {
	return func(c *FinnhubClient) {
		if now != nil {
			c.now = now
		}
	}
}

// NewFinnhubClient builds a client authenticated with token.
func NewFinnhubClient(gw Fetcher, token string, opts ...FinnhubOption) *FinnhubClient {
	c := &FinnhubClient{gw: gw, baseURL: defaultFinnhubBaseURL, token: token, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type finnhubIndicator struct {
	RSI       []float64 `json:"rsi"`
	UpperBand []float64 `json:"upperband"`
	LowerBand []float64 `json:"lowerband"`
	SMA       []float64 `json:"sma"`
	Status    string    `json:"s"`
}

type finnhubQuote struct {
	Current float64 `json:"c"`
}

// RSI returns the 14-period RSI series over hourly candles.
func (c *FinnhubClient) RSI(ctx context.Context, symbol string) ([]float64, error) {
	out, err := c.indicator(ctx, symbol, "60", "rsi", rsiPeriod, 1)
	if err != nil {
		return nil, err
	}
	return out.RSI, nil
}

// BollingerBands returns the 20-period upper and lower band series over daily candles.
func (c *FinnhubClient) BollingerBands(ctx context.Context, symbol string) ([]float64, []float64, error) {
	out, err := c.indicator(ctx, symbol, "D", "bbands", bbandPeriod, bbandSpan)
	if err != nil {
		return nil, nil, err
	}
	return out.UpperBand, out.LowerBand, nil
}

// SMA returns the simple moving average series for period over daily candles.
func (c *FinnhubClient) SMA(ctx context.Context, symbol string, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("finnhub sma %s: invalid period %d", symbol, period)
	}
	out, err := c.indicator(ctx, symbol, "D", "sma", period, period)
	if err != nil {
		return nil, err
	}
	return out.SMA, nil
}

// Quote returns the current price.
func (c *FinnhubClient) Quote(ctx context.Context, symbol string) (float64, error) {
	var q finnhubQuote
	err := c.gw.FetchJSON(ctx, gateway.Request{
		URL:    c.baseURL + "/api/v1/quote",
		Query:  url.Values{"symbol": {symbol}},
		Header: c.header(),
	}, &q)
	if err != nil {
		return 0, fmt.Errorf("finnhub quote %s: %w", symbol, err)
	}
	if q.Current <= 0 {
		return 0, fmt.Errorf("finnhub quote %s: no price", symbol)
	}
	return q.Current, nil
}

func (c *FinnhubClient) indicator(ctx context.Context, symbol, resolution, name string, period, span int) (*finnhubIndicator, error) {
	now := c.now()
	window := candleGranularity * time.Duration(candleCount*span)
	var out finnhubIndicator
	err := c.gw.FetchJSON(ctx, gateway.Request{
		URL: c.baseURL + "/api/v1/indicator",
		Query: url.Values{
			"symbol":     {symbol},
			"resolution": {resolution},
			"from":       {strconv.FormatInt(now.Add(-window).Unix(), 10)},
			"to":         {strconv.FormatInt(now.Unix(), 10)},
			"indicator":  {name},
			"timeperiod": {strconv.Itoa(period)},
		},
		Header: c.header(),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("finnhub %s %s: %w", name, symbol, err)
	}
	return &out, nil
}

func (c *FinnhubClient) header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("X-Finnhub-Token", c.token)
	}
	return h
}
