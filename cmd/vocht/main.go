package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"vocht/internal/amqp"
	"vocht/internal/config"
	apphttp "vocht/internal/http"
	"vocht/internal/ledger"
	applog "vocht/internal/log"
	"vocht/internal/lookup"
	"vocht/internal/services"
	"vocht/internal/store"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(slog.LevelInfo, applog.ComponentApp)
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Durable ledger storage
	entryStore, err := store.NewSQLite(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer entryStore.Close()

	led := ledger.New(entryStore)
	if err := led.Initialize(context.Background()); err != nil {
		logger.Error("Failed to load ledger state", "error", err)
		os.Exit(1)
	}

	// Intake event feed (optional)
	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		events = amqpClient
		logger.Info("Intake event feed enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Intake event feed disabled - no AMQP_URL provided")
	}

	resolver := lookup.NewClient(cfg.LookupBaseURL, cfg.LookupTimeout)
	svc := services.NewIntakeService(led, resolver, events)

	srv := apphttp.NewServer(":"+cfg.Port, logger, svc, led, led, cfg.DailyGoalML)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting vocht server", "port", cfg.Port, "goal_ml", cfg.DailyGoalML)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Persist anything an earlier failed write left behind before
		// the process goes away.
		if err := led.Flush(shutdownCtx); err != nil {
			logger.Warn("Final ledger flush failed", "error", err)
		}

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
