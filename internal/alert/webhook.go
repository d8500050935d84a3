package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"alertbot-go/internal/signal"
)

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type SlackBlock struct {
	Type string    `json:"type"`
	Text SlackText `json:"text"`
}

type SlackMessage struct {
	Blocks []SlackBlock `json:"blocks"`
}

// WebhookNotifier posts Slack-style block messages to a per-direction webhook.
type WebhookNotifier struct {
	client *http.Client
	urls   map[signal.Direction]string
	log    zerolog.Logger
}

// NewWebhookNotifier routes SELL alerts to sellURL and BUY alerts to buyURL.
func NewWebhookNotifier(log zerolog.Logger, sellURL, buyURL string) *WebhookNotifier {
	return &WebhookNotifier{
		client: &http.Client{Timeout: 10 * time.Second},
		urls:   map[signal.Direction]string{signal.Sell: sellURL, signal.Buy: buyURL},
		log:    log,
	}
}

// Notify posts the alert; a missing destination is an error.
func (w *WebhookNotifier) Notify(ctx context.Context, a signal.Alert) error {
	url := w.urls[a.Direction]
	if url == "" {
		return fmt.Errorf("no webhook configured for %s alerts", a.Direction)
	}
	body, err := json.Marshal(FormatMessage(a))
	if err != nil {
		return fmt.Errorf("marshal webhook message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: unexpected status %d", a.Direction, resp.StatusCode)
	}
	w.log.Info().Str("symbol", a.Symbol).Str("direction", string(a.Direction)).Msg("published alert to webhook")
	return nil
}

// FormatMessage renders the headline and indicator sections.
func FormatMessage(a signal.Alert) SlackMessage {
	headline := fmt.Sprintf("🔥 SELL alert on %s with sentiment = %g 🔥", a.Symbol, a.Score)
	if a.Direction == signal.Buy {
		headline = fmt.Sprintf("💰 BUY alert on %s with sentiment = %g 💰", a.Symbol, a.Score)
	}
	return SlackMessage{Blocks: []SlackBlock{
		{Type: "section", Text: SlackText{Type: "mrkdwn", Text: headline}},
		{Type: "section", Text: SlackText{Type: "mrkdwn", Text: indicatorView(a.Snapshot)}},
	}}
}

func indicatorView(s signal.Snapshot) string {
	return fmt.Sprintf("| `QUOTE => %g` | `RSI => %g` | `BB_UPPER => %g` | `BB_LOWER => %g` | `SMA50 => %g` |",
		s.Quote, s.RSI, s.BBUpper, s.BBLower, s.SMA50)
}
