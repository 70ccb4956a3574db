package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alkahfi23/aibottrading/internal/alert"
	"github.com/alkahfi23/aibottrading/internal/config"
	"github.com/alkahfi23/aibottrading/internal/engine"
	"github.com/alkahfi23/aibottrading/internal/exchange/binance"
	"github.com/alkahfi23/aibottrading/internal/instrument"
	"github.com/alkahfi23/aibottrading/internal/orchestrator"
	"github.com/alkahfi23/aibottrading/internal/position"
	"github.com/alkahfi23/aibottrading/internal/risk"
	"github.com/alkahfi23/aibottrading/internal/server"
	tradesignal "github.com/alkahfi23/aibottrading/internal/signal"
	"github.com/alkahfi23/aibottrading/pkg/concurrency"
	"github.com/alkahfi23/aibottrading/pkg/logging"
	"github.com/alkahfi23/aibottrading/pkg/telemetry"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	bootLogger, _ := logging.NewZapLogger("INFO")

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", "file", *configFile, "error", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		bootLogger.Fatal("Failed to initialize logger", "error", err)
	}
	defer logger.Sync()

	logger.Info("Starting trading engine", "config", cfg.String())

	tel, err := telemetry.Setup("aibottrading")
	if err != nil {
		logger.Fatal("Failed to set up telemetry", "error", err)
	}

	gateway := binance.NewGateway(&cfg.Exchange, logger)

	resolver := instrument.NewResolver(gateway, logger)
	tracker := position.NewTracker(gateway)
	sizer := risk.NewSizer(cfg.Risk)
	sequencer := engine.NewSequencer(gateway, resolver, tracker, sizer, logger, cfg)
	source := tradesignal.NewKlineSource(gateway, logger, cfg.App.Interval, cfg.App.ConfirmInterval, cfg.Signal)

	alertMgr := alert.NewAlertManager(logger)
	if cfg.Alert.TelegramBotToken != "" {
		alertMgr.AddChannel(alert.NewTelegramChannel(cfg.Alert.TelegramBotToken, cfg.Alert.TelegramChatID))
	}
	notifier := alert.NewNotifier(alertMgr)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "CyclePool",
		MaxWorkers: cfg.App.MaxWorkers,
	}, logger)
	defer pool.Stop()

	orch := orchestrator.New(source, sequencer, notifier, pool, logger,
		cfg.App.Symbols, config.IntervalDuration(cfg.App.Interval))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.App.PollEnabled {
		go orch.Run(ctx)
	} else {
		logger.Info("Polling disabled, cycles run via /trigger only")
	}

	srv := server.NewServer(orch, logger, cfg.App.Symbols, cfg.Telemetry.EnableMetrics)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.Server.Port); err != nil {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("HTTP server failed", "error", err)
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", "signal", sig.String())
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", "error", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown failed", "error", err)
	}
}
