package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vocht/internal/amqp"
	"vocht/internal/config"
	applog "vocht/internal/log"
	"vocht/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(slog.LevelInfo, applog.ComponentWorker)
	applog.SetDefault(logger)

	logger.Info("Starting vocht-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	goalWorker := worker.NewGoalWorker(cfg.DailyGoalML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := amqpClient.ConsumeEventsWithReconnect(ctx, goalWorker.HandleIntake, goalWorker.HandleReset)
		if err != nil && err != context.Canceled {
			logger.Error("Event consumption failed", "error", err)
		}
		cancel()
	}()

	// Periodic progress report
	ticker := time.NewTicker(cfg.ReportInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				goalWorker.LogSnapshot(ctx)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	cancel()
	logger.Info("Shutting down worker...")

	// Give the consume loop a moment to ack or requeue in-flight deliveries.
	time.Sleep(2 * time.Second)
	logger.Info("Worker shutdown complete")
}
