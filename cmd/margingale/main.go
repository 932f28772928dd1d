package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tradewell-labs/margingale/internal/alerts"
	"github.com/tradewell-labs/margingale/internal/config"
	"github.com/tradewell-labs/margingale/internal/exchange"
	"github.com/tradewell-labs/margingale/internal/metrics"
	"github.com/tradewell-labs/margingale/internal/workflow"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML config file")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("margingale " + config.Version)
		return
	}

	// A local .env keeps API keys out of the shell history. Absence is
	// the normal case in deployment.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	config.InitLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("version", config.Version).
		Bool("testnet", cfg.Testnet).
		Int("instruments", len(cfg.Instruments)).
		Dur("run_interval", cfg.RunInterval).
		Msg("Starting margingale")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Startup failed")
	}
}

func run(cfg *config.Config) error {
	client, err := exchange.NewClient(exchange.ClientConfig{
		APIKey:      cfg.APIKey,
		APISecret:   cfg.APISecret,
		BaseURL:     cfg.DefaultBaseURL(),
		HTTPTimeout: cfg.HTTPTimeout,
	})
	if err != nil {
		return fmt.Errorf("exchange client: %w", err)
	}

	manager, err := buildAlerts(cfg)
	if err != nil {
		return err
	}

	srv := metrics.NewServer(cfg.MetricsPort, log.Logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.BotStartup {
		if err := manager.Publish(ctx, alerts.Started{
			Instruments: instrumentNames(cfg),
			Testnet:     cfg.Testnet,
		}); err != nil {
			log.Warn().Err(err).Msg("Startup alert failed")
		}
	}

	runner := workflow.NewRunner(client, manager, cfg)
	loop(ctx, runner, cfg)

	// The run context is already cancelled here; shutdown work gets its
	// own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if cfg.RunInterval > 0 {
		if err := manager.Publish(shutdownCtx, alerts.Stopped{Reason: "signal received"}); err != nil {
			log.Warn().Err(err).Msg("Shutdown alert failed")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Metrics server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

// loop runs one tick immediately, then on the configured interval. A
// zero interval means run once and exit, for cron-style deployments.
func loop(ctx context.Context, runner *workflow.Runner, cfg *config.Config) {
	runner.Tick(ctx)
	if cfg.RunInterval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.RunInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Received shutdown signal")
			return
		case <-ticker.C:
			runner.Tick(ctx)
		}
	}
}

// buildAlerts wires the alert fan-out: the structured log always, and
// Telegram when a token is configured.
func buildAlerts(cfg *config.Config) (*alerts.Manager, error) {
	sinks := []alerts.Alerter{alerts.NewLogAlerter()}
	if cfg.TelegramToken != "" {
		tg, err := alerts.NewTelegramAlerter(cfg.TelegramToken, cfg.TelegramChatIDs)
		if err != nil {
			return nil, fmt.Errorf("telegram alerter: %w", err)
		}
		sinks = append(sinks, tg)
	}
	return alerts.NewManager(sinks...), nil
}

func instrumentNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		names = append(names, fmt.Sprintf("%s:%s", inst.Symbol, inst.Side))
	}
	return names
}
