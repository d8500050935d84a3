package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"alertbot-go/internal/metrics"
)

// ErrUpstream matches every *UpstreamError.
var ErrUpstream = errors.New("upstream error")

// UpstreamError reports a transport failure or non-2xx status from a provider.
type UpstreamError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Request describes one provider call.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is the fully read provider reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Gateway executes provider requests through a shared Limiter.
type Gateway struct {
	client    *http.Client
	limiter   *Limiter
	log       zerolog.Logger
	userAgent string
	ownLimit  bool
}

// Option configures Gateway construction parameters.
type Option func(*Gateway)

// WithHTTPClient overrides the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.client = c
		}
	}
}

// WithLimiter shares an existing limiter between gateways.
func WithLimiter(l *Limiter) Option {
	return func(g *Gateway) {
		if l != nil {
			g.limiter = l
			g.ownLimit = false
		}
	}
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(g *Gateway) { g.userAgent = ua }
}

// New builds a gateway with its own limiter unless WithLimiter is supplied.
func New(log zerolog.Logger, limits Limits, opts ...Option) *Gateway {
	g := &Gateway{
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
		userAgent: "alertbot-go/1.0",
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.limiter == nil {
		g.limiter = NewLimiter(limits)
		g.ownLimit = true
	}
	return g
}

// Close releases the limiter if the gateway created it.
func (g *Gateway) Close() {
	if g.ownLimit {
		g.limiter.Close()
	}
}

// Fetch runs req through the limiter. There is no caching; each call reaches the provider.
func (g *Gateway) Fetch(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := g.limiter.Do(ctx, func() error {
		var err error
		resp, err = g.do(ctx, req)
		return err
	})
	if err != nil {
		outcome := "error"
		if !errors.Is(err, ErrUpstream) {
			outcome = "canceled"
		}
		metrics.GatewayCallsTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}
	metrics.GatewayCallsTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

// FetchJSON fetches and decodes a JSON body into out.
func (g *Gateway) FetchJSON(ctx context.Context, req Request, out any) error {
	resp, err := g.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL, err)
	}
	return nil
}

func (g *Gateway) do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := req.URL
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &UpstreamError{Method: method, URL: req.URL, Err: fmt.Errorf("create request: %w", err)}
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if g.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", g.userAgent)
	}

	start := time.Now()
	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Method: method, URL: req.URL, Err: fmt.Errorf("http do: %w", err)}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &UpstreamError{Method: method, URL: req.URL, Err: fmt.Errorf("read body: %w", err)}
	}
	g.log.Debug().
		Str("method", method).
		Str("url", req.URL).
		Int("status", httpResp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("provider call")
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &UpstreamError{Method: method, URL: req.URL, StatusCode: httpResp.StatusCode}
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}
