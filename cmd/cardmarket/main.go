package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jensholdgaard/cardmarket/internal/bot"
	"github.com/jensholdgaard/cardmarket/internal/catalog"
	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/config"
	"github.com/jensholdgaard/cardmarket/internal/health"
	"github.com/jensholdgaard/cardmarket/internal/httpapi"
	"github.com/jensholdgaard/cardmarket/internal/importer"
	"github.com/jensholdgaard/cardmarket/internal/leader"
	"github.com/jensholdgaard/cardmarket/internal/market"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/cardmarket/internal/store/entstore"
	_ "github.com/jensholdgaard/cardmarket/internal/store/memstore"
	_ "github.com/jensholdgaard/cardmarket/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database",
		slog.String("driver", cfg.Database.Driver),
		slog.Bool("migrate", cfg.Database.Migrate),
	)

	catalogSvc := catalog.NewService(repos.Cards, repos.Events, logger, tp.TracerProvider, cfg.Catalog)

	marketOpts := []market.Option{market.WithMeterProvider(tp.MeterProvider)}
	if cfg.Discord.WebhookURL != "" {
		notifier, notifyErr := bot.NewWebhookNotifier(cfg.Discord.WebhookURL)
		if notifyErr != nil {
			return fmt.Errorf("configuring sale webhook: %w", notifyErr)
		}
		marketOpts = append(marketOpts, market.WithNotifier(notifier))
	}
	marketSvc, err := market.NewService(repos, clk, logger, tp.TracerProvider, marketOpts...)
	if err != nil {
		return fmt.Errorf("creating market service: %w", err)
	}

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	// The API serves from every replica.
	api := httpapi.NewHandler(catalogSvc, marketSvc, logger, tp.TracerProvider)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.Routes(healthHandler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()
	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "cardmarket is running", slog.String("version", version))

	var jobs []leader.Job
	if cfg.Importer.Enabled {
		imp := importer.New(catalogSvc, repos.Events, nil, cfg.Importer, clk, logger, tp.TracerProvider)
		jobs = append(jobs, leader.Job{Name: "importer", Run: imp.Run})
	}
	if cfg.Discord.Token != "" {
		jobs = append(jobs, leader.Job{Name: "discord", Run: func(ctx context.Context) error {
			discordBot, botErr := bot.New(cfg.Discord, catalogSvc, marketSvc, logger, tp.TracerProvider)
			if botErr != nil {
				return fmt.Errorf("creating bot: %w", botErr)
			}
			if botErr = discordBot.Start(ctx); botErr != nil {
				return fmt.Errorf("starting bot: %w", botErr)
			}
			<-ctx.Done()
			return discordBot.Stop()
		}})
	}

	// lead runs the leader-only jobs and holds leadership until ctx ends.
	lead := func(ctx context.Context) {
		healthHandler.SetLeader(true)
		leader.Supervise(ctx, logger, jobs...)
		<-ctx.Done()
	}
	stopped := func() {
		healthHandler.SetLeader(false)
		if cfg.LeaderElection.Enabled {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}
	}

	if err := leader.Run(ctx, cfg.LeaderElection, logger, lead, stopped); err != nil {
		return fmt.Errorf("leader election: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
