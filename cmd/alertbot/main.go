package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"alertbot-go/internal/alert"
	"alertbot-go/internal/config"
	"alertbot-go/internal/engine"
	"alertbot-go/internal/exchange"
	"alertbot-go/internal/gateway"
	"alertbot-go/internal/indicator"
	"alertbot-go/internal/market"
	"alertbot-go/internal/metrics"
	sig "alertbot-go/internal/signal"
	"alertbot-go/internal/state"
	"alertbot-go/internal/strategy"
	"alertbot-go/internal/util"
)

var (
	configPath string
	modeFlag   string
)

func main() {
	root := &cobra.Command{
		Use:           "alertbot",
		Short:         "Indicator-driven buy/sell alert bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (env only when empty)")
	root.AddCommand(runCmd(), rulesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream prices, evaluate rules and publish alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithEnv(configPath)
			if err != nil {
				return err
			}
			if modeFlag != "" {
				cfg.Engine.Mode = modeFlag
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", "", "engine mode: poll, stream-poll or stream-trigger")
	return cmd
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the effective rule sets and gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithEnv(configPath)
			if err != nil {
				return err
			}
			scorer, err := buildScorer(cfg)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(map[string]any{
				"sell": scorer.Sell.Rules,
				"buy":  scorer.Buy.Rules,
				"gate": map[string]float64{"sell_above": scorer.Gate.SellAbove, "buy_above": scorer.Gate.BuyAbove},
			})
			if err != nil {
				return fmt.Errorf("marshal rules: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func buildScorer(cfg *config.Config) (*strategy.Scorer, error) {
	return strategy.Build(strategy.Params{
		Sell:      cfg.Rules.Sell,
		Buy:       cfg.Rules.Buy,
		SellAbove: *cfg.Engine.SellAbove,
		BuyAbove:  *cfg.Engine.BuyAbove,
	})
}

func run(parent context.Context, cfg *config.Config) error {
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogPretty)

	mode, err := engine.ParseMode(cfg.Engine.Mode)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	scorer, err := buildScorer(cfg)
	if err != nil {
		return fmt.Errorf("invalid rules: %w", err)
	}

	srv := metrics.Serve(cfg.App.MetricsAddr)
	defer srv.Close()
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// one limiter serialises every provider call in the process
	limits := gateway.Limits{
		Reservoir:       cfg.RateLimit.Reservoir,
		RefreshInterval: time.Duration(cfg.RateLimit.RefreshIntervalSecs) * time.Second,
		MinTime:         time.Duration(cfg.RateLimit.MinTimeMs) * time.Millisecond,
	}
	limiter := gateway.NewLimiter(limits)
	defer limiter.Close()
	gw := gateway.New(log.With().Str("component", "gateway").Logger(), limits, gateway.WithLimiter(limiter),
		gateway.WithUserAgent(cfg.App.Name+"/1.0"))

	finnhub := market.NewFinnhubClient(gw, cfg.Providers.Finnhub.Token, market.WithFinnhubBaseURL(cfg.Providers.Finnhub.BaseURL))
	binance := market.NewBinanceClient(gw,
		market.WithBinanceBaseURL(cfg.Providers.Binance.BaseURL),
		market.WithCandles(cfg.Providers.Binance.CandleLimit, cfg.Providers.Binance.CandleInterval))

	var builder indicator.Builder = indicator.NewProviderBuilder(finnhub, cfg.Providers.SMAPeriod)
	if cfg.Providers.Indicators == "binance" {
		builder = indicator.NewCandleBuilder(binance)
	}
	var quotes engine.QuoteSource = finnhub
	if cfg.Providers.Quotes == "binance" {
		quotes = binance
	}

	sinks, err := buildSinks(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Error().Err(err).Msg("flush sinks")
		}
	}()

	interval := cfg.Engine.StreamPollInterval()
	if mode == engine.ModePoll {
		interval = cfg.Engine.PollInterval()
	}
	opts := []engine.Option{engine.WithQuoteSource(quotes), engine.WithInterval(interval)}
	if cfg.Notify.RedisAddr != "" {
		client := state.NewRedisClient(cfg.Notify.RedisAddr)
		defer client.Close()
		opts = append(opts, engine.WithMirror(state.NewRedisMirror(client, time.Duration(cfg.Notify.RedisTTLSecs)*time.Second)))
	}
	eng, err := engine.New(mode, cfg.Exchange.Symbols, builder, scorer, sinks, log.With().Str("component", "engine").Logger(), opts...)
	if err != nil {
		return err
	}

	log.Info().Str("mode", string(mode)).Strs("symbols", cfg.Exchange.Symbols).Msg("alert engine started")
	if !mode.UsesStream() {
		return ignoreCanceled(eng.Run(ctx, nil))
	}

	policy := exchange.PolicyForward
	if mode == engine.ModeStreamTrigger {
		policy = exchange.PolicyDownsample
	}
	stream := exchange.NewStream(cfg.Stream.Provider, cfg.Exchange.Symbols, log.With().Str("component", "stream").Logger(),
		exchange.WithURL(exchange.FinnhubURL(cfg.Providers.Finnhub.WSServer, cfg.Providers.Finnhub.Token)),
		exchange.WithPolicy(policy),
		exchange.WithDownsample(cfg.Stream.Downsample),
		exchange.WithReconnect(exchange.Reconnect{
			MaxRetries: *cfg.Stream.MaxRetries,
			Backoff:    time.Duration(cfg.Stream.BackoffMs) * time.Millisecond,
			MaxBackoff: time.Duration(cfg.Stream.MaxBackoffMs) * time.Millisecond,
		}),
	)

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	events := make(chan sig.Event, 1024)
	streamErr := make(chan error, 1)
	go func() {
		defer close(streamErr)
		if err := stream.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("stream stopped")
			streamErr <- err
			stop()
		}
	}()

	runErr := eng.Run(ctx, events)
	stop()
	if err, ok := <-streamErr; ok {
		return err
	}
	return ignoreCanceled(runErr)
}

func buildSinks(cfg *config.Config, log zerolog.Logger) (alert.Multi, error) {
	sinks := alert.Multi{alert.NewLogNotifier(log.With().Str("component", "alerts").Logger())}
	if cfg.Notify.SellWebhook != "" {
		sinks = append(sinks, alert.NewWebhookNotifier(log, cfg.Notify.SellWebhook, cfg.Notify.BuyWebhook))
	}
	if len(cfg.Notify.KafkaBrokers) > 0 {
		sinks = append(sinks, alert.NewKafkaNotifier(alert.NewKafkaWriter(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)))
	}
	if cfg.Notify.JournalPath != "" {
		rec, err := alert.NewJSONLRecorder(cfg.Notify.JournalPath)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, rec)
	}
	return sinks, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
