package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"subtrack/internal/amqp"
	"subtrack/internal/cli"
	"subtrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting renewal-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data := cli.InitBackend(ctx, logger, cfg)
	defer data.Cleanup()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventQueue, cfg.AMQPReminderQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	renewalWorker := worker.NewRenewalWorker(data.Repository, amqpClient, cfg.ReminderLeadDays)

	logger.Info("Renewal reminder scanner configured",
		"interval", cfg.ReminderScanInterval,
		"lead_days", cfg.ReminderLeadDays)

	g, gctx := errgroup.WithContext(ctx)

	// Periodic scan publishes a reminder for every renewal inside the lead
	// window.
	g.Go(func() error {
		return renewalWorker.Run(gctx, cfg.ReminderScanInterval)
	})

	// Reminder consumption: delivery is a structured log line. A real
	// notification channel would plug in here.
	g.Go(func() error {
		return amqpClient.ConsumeRenewalReminders(gctx, func(msg *amqp.RenewalReminderMessage) error {
			slog.InfoContext(gctx, "Renewal reminder",
				"subscription_id", msg.SubscriptionID,
				"merchant_key", msg.MerchantKey,
				"name", msg.Name,
				"amount_cents", msg.AmountCents,
				"currency", msg.Currency,
				"renews_at", msg.RenewsAt)
			return nil
		})
	})

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-gctx.Done():
		logger.Info("Context cancelled")
	}

	cancel()
	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("Worker stopped with error", "error", err)
	}

	logger.Info("renewal-worker shutdown complete")
}
