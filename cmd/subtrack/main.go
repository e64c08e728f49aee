package main

import (
	"context"
	"os"
	"time"

	"subtrack/internal/amqp"
	"subtrack/internal/cli"
	"subtrack/internal/dashboard"
	"subtrack/internal/detect"
	"subtrack/internal/email"
	apphttp "subtrack/internal/http"
	"subtrack/internal/ledger"
	"subtrack/internal/merchant"
	"subtrack/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting subtrack")

	cfg := cli.LoadAndValidateConfig(logger)

	ctx := context.Background()
	data := cli.InitBackend(ctx, logger, cfg)
	defer data.Cleanup()

	// Merchant normalization, optionally extended from a strip-token file.
	normalizer := merchant.NewNormalizer(nil)
	if cfg.StripListFile != "" {
		var err error
		normalizer, err = merchant.NewFromFile(cfg.StripListFile)
		if err != nil {
			logger.Error("Failed to load strip list", "error", err, "path", cfg.StripListFile)
			os.Exit(1)
		}
	}

	detectCfg := detect.DefaultConfig()
	detectCfg.AmountTolerance = cfg.AmountTolerance
	detectCfg.MinPriorMatches = cfg.MinPriorMatches

	// AMQP is optional: without it the ledger still works, events just stay
	// local.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventQueue, cfg.AMQPReminderQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without event publishing", "error", err)
			amqpClient = nil
		} else {
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP disabled - subscription events will not be published")
	}

	l := ledger.NewLedger(data.Repository, normalizer, detect.New(detectCfg))
	svc := services.NewSubscriptionService(l, email.NewExtractor(email.NewKeywordClassifier()), amqpClient)
	defer svc.Close()

	srv := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		DefaultHorizonDays: cfg.HorizonDays,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	}, svc, dashboard.NewAggregator(data.Repository))

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting subtrack server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.Start(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
