package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subtrack/internal/amqp"
	"subtrack/internal/cli"
	"subtrack/internal/export"
	gsheet "subtrack/internal/export/google"
	mem "subtrack/internal/export/memory"
	"subtrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting subtrack-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data := cli.InitBackend(ctx, logger, cfg)
	defer data.Cleanup()

	// Choose the export sink. Sheets appends to a spreadsheet; memory keeps
	// rows in-process, which is enough for local runs.
	var writer export.EventWriter
	switch cfg.ExportBackend {
	case "sheets":
		client, err := gsheet.NewFromEnv(ctx)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets export initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	default:
		writer = mem.New()
		logger.Info("Memory export initialized")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventQueue, cfg.AMQPReminderQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	exportWorker := worker.NewExportWorker(data.Repository, writer)

	go func() {
		err := amqpClient.ConsumeSubscriptionEvents(ctx, func(msg *amqp.SubscriptionEventMessage) error {
			return exportWorker.HandleEventMessage(ctx, msg)
		})
		if err != nil && err != context.Canceled {
			logger.Error("Event consumption failed", "error", err)
		}
		cancel()
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down subtrack-worker...")
	cancel()

	// Give an in-flight export time to finish before the connection drops.
	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(2 * time.Second):
		logger.Info("subtrack-worker shutdown complete")
	}
}
