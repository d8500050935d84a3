// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"alertbot-go/internal/strategy"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogPretty   bool   `yaml:"log_pretty"`
}

// Exchange lists the symbols the bot watches.
type Exchange struct {
	Symbols []string `yaml:"symbols"`
}

// Stream configures the trade stream and its reconnect policy.
type Stream struct {
	Provider     string `yaml:"provider"`
	Downsample   int    `yaml:"downsample"`
	MaxRetries   *int   `yaml:"max_retries"`
	BackoffMs    int    `yaml:"backoff_ms"`
	MaxBackoffMs int    `yaml:"max_backoff_ms"`
}

// Finnhub holds credentials and endpoints for the Finnhub REST and websocket APIs.
type Finnhub struct {
	Token    string `yaml:"token"`
	BaseURL  string `yaml:"base_url"`
	WSServer string `yaml:"ws_server"`
}

// Binance points the candle client at a spot API host.
type Binance struct {
	BaseURL        string `yaml:"base_url"`
	CandleLimit    int    `yaml:"candle_limit"`
	CandleInterval string `yaml:"candle_interval"`
}

// Providers picks where indicators and quotes come from.
type Providers struct {
	Indicators string  `yaml:"indicators"`
	Quotes     string  `yaml:"quotes"`
	SMAPeriod  int     `yaml:"sma_period"`
	Finnhub    Finnhub `yaml:"finnhub"`
	Binance    Binance `yaml:"binance"`
}

// RateLimit mirrors gateway.Limits in file-friendly units.
type RateLimit struct {
	Reservoir           int `yaml:"reservoir"`
	RefreshIntervalSecs int `yaml:"refresh_interval_secs"`
	MinTimeMs           int `yaml:"min_time_ms"`
}

// Engine selects the orchestration mode and its cadence.
type Engine struct {
	Mode                   string   `yaml:"mode"`
	PollIntervalSecs       int      `yaml:"poll_interval_secs"`
	StreamPollIntervalSecs int      `yaml:"stream_poll_interval_secs"`
	SellAbove              *float64 `yaml:"sell_above"`
	BuyAbove               *float64 `yaml:"buy_above"`
}

// Rules overrides the built-in rule sets when non-empty.
type Rules struct {
	Sell []strategy.Rule `yaml:"sell"`
	Buy  []strategy.Rule `yaml:"buy"`
}

// Notify configures every alert sink. Empty values disable the sink.
type Notify struct {
	SellWebhook  string   `yaml:"sell_webhook"`
	BuyWebhook   string   `yaml:"buy_webhook"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	JournalPath  string   `yaml:"journal_path"`
	RedisAddr    string   `yaml:"redis_addr"`
	RedisTTLSecs int      `yaml:"redis_ttl_secs"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Exchange  Exchange  `yaml:"exchange"`
	Stream    Stream    `yaml:"stream"`
	Providers Providers `yaml:"providers"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Engine    Engine    `yaml:"engine"`
	Rules     Rules     `yaml:"rules"`
	Notify    Notify    `yaml:"notify"`
}

// env lists the variables that override file values when set.
type env struct {
	Symbols         []string `envconfig:"SYMBOLS"`
	FinnhubToken    string   `envconfig:"FINNHUB_TOKEN"`
	FinnhubWSServer string   `envconfig:"FINNHUB_WS_SERVER"`
	SellWebhook     string   `envconfig:"SLACK_SELL_WEBHOOK"`
	BuyWebhook      string   `envconfig:"SLACK_BUY_WEBHOOK"`
	LogLevel        string   `envconfig:"LOG_LEVEL"`
	EngineMode      string   `envconfig:"ENGINE_MODE"`
	KafkaBrokers    []string `envconfig:"KAFKA_BROKERS"`
	RedisAddr       string   `envconfig:"REDIS_ADDR"`
}

// Default returns a config with every default applied and no symbols.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

// LoadWithEnv loads path (skipped when empty), then a best-effort .env, then the environment.
func LoadWithEnv(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	_ = godotenv.Load() // best-effort

	var e env
	if err := envconfig.Process("", &e); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	cfg.overlay(e)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) overlay(e env) {
	if len(e.Symbols) > 0 {
		c.Exchange.Symbols = e.Symbols
	}
	setIfEmpty := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	setIfEmpty(&c.Providers.Finnhub.Token, e.FinnhubToken)
	setIfEmpty(&c.Providers.Finnhub.WSServer, e.FinnhubWSServer)
	setIfEmpty(&c.Notify.SellWebhook, e.SellWebhook)
	setIfEmpty(&c.Notify.BuyWebhook, e.BuyWebhook)
	setIfEmpty(&c.App.LogLevel, e.LogLevel)
	setIfEmpty(&c.Engine.Mode, e.EngineMode)
	setIfEmpty(&c.Notify.RedisAddr, e.RedisAddr)
	if len(e.KafkaBrokers) > 0 {
		c.Notify.KafkaBrokers = e.KafkaBrokers
	}
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "alertbot"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.MetricsAddr == "" {
		c.App.MetricsAddr = ":9090"
	}
	c.Exchange.Symbols = cleanList(c.Exchange.Symbols)

	if c.Stream.Provider == "" {
		c.Stream.Provider = "finnhub"
	}
	if c.Stream.MaxRetries == nil {
		n := 5
		c.Stream.MaxRetries = &n
	}
	if c.Stream.BackoffMs <= 0 {
		c.Stream.BackoffMs = 1000
	}
	if c.Stream.MaxBackoffMs <= 0 {
		c.Stream.MaxBackoffMs = 30000
	}
	if c.Stream.Downsample <= 0 {
		c.Stream.Downsample = 200
	}

	if c.Providers.Indicators == "" {
		c.Providers.Indicators = "finnhub"
	}
	if c.Providers.Quotes == "" {
		c.Providers.Quotes = "finnhub"
	}
	if c.Providers.SMAPeriod <= 0 {
		c.Providers.SMAPeriod = 50
	}

	if c.RateLimit.Reservoir <= 0 {
		c.RateLimit.Reservoir = 40
	}
	if c.RateLimit.RefreshIntervalSecs <= 0 {
		c.RateLimit.RefreshIntervalSecs = 60
	}
	if c.RateLimit.MinTimeMs < 0 {
		c.RateLimit.MinTimeMs = 0
	} else if c.RateLimit.MinTimeMs == 0 {
		c.RateLimit.MinTimeMs = 1000
	}

	if c.Engine.Mode == "" {
		c.Engine.Mode = "stream-poll"
	}
	c.Engine.Mode = strings.ToLower(c.Engine.Mode)
	if c.Engine.PollIntervalSecs <= 0 {
		c.Engine.PollIntervalSecs = 12 * 60
	}
	if c.Engine.StreamPollIntervalSecs <= 0 {
		c.Engine.StreamPollIntervalSecs = 5 * 60
	}
	if c.Engine.SellAbove == nil {
		v := 0.0
		c.Engine.SellAbove = &v
	}
	if c.Engine.BuyAbove == nil {
		v := -20.0
		c.Engine.BuyAbove = &v
	}

	if c.Notify.KafkaTopic == "" {
		c.Notify.KafkaTopic = "alerts"
	}
	c.Notify.KafkaBrokers = cleanList(c.Notify.KafkaBrokers)
	if c.Notify.RedisTTLSecs <= 0 {
		c.Notify.RedisTTLSecs = 15 * 60
	}
}

func cleanList(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate rejects configs the bot cannot start with.
func (c *Config) Validate() error {
	if len(c.Exchange.Symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	if c.Stream.Provider == "finnhub" && c.Engine.Mode != "poll" && c.Providers.Finnhub.Token == "" {
		return fmt.Errorf("finnhub stream requires a token")
	}
	if (c.Notify.SellWebhook == "") != (c.Notify.BuyWebhook == "") {
		return fmt.Errorf("sell_webhook and buy_webhook must be set together")
	}
	return nil
}

// PollInterval is the pause between poll-mode passes.
func (e Engine) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSecs) * time.Second
}

// StreamPollInterval is the pause between stream-poll passes.
func (e Engine) StreamPollInterval() time.Duration {
	return time.Duration(e.StreamPollIntervalSecs) * time.Second
}
