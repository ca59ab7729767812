package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/tmacey/delta-roller/internal/broker"
	"github.com/tmacey/delta-roller/internal/config"
	"github.com/tmacey/delta-roller/internal/retry"
	"github.com/tmacey/delta-roller/internal/strategy"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; config values may reference its variables.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		logger.Warnf("Unknown log level %q, using info", cfg.GetLogLevel())
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Infof("Starting delta roller in %s mode", cfg.Environment.Mode)
	if cfg.Broker.SubmitOrders {
		logger.Warn("Order submission is ENABLED, decisions will be placed with the broker")
	}

	tda := broker.NewAmeritradeAPIWithBaseURL(broker.Credentials{
		ClientID:     cfg.Broker.ClientID,
		AccountID:    cfg.Broker.AccountID,
		RefreshToken: cfg.Broker.RefreshToken,
	}, cfg.Broker.APIEndpoint)

	var b broker.Broker = tda
	b = retry.NewBroker(b, logger)
	b = broker.NewCircuitBreakerBroker(b)

	engine := strategy.NewEngine(b, logger, strategy.Settings{
		MinDelta:        cfg.Rules.MinDelta,
		ShortCloseAsk:   cfg.Rules.ShortCloseAsk,
		StrikeCount:     cfg.Rules.StrikeCount,
		MinOpenInterest: cfg.Rules.MinOpenInterest,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	decisions, err := engine.Run(ctx)
	if err != nil {
		logger.Fatalf("Run failed: %v", err)
	}

	if len(decisions) == 0 {
		logger.Info("No actions this pass")
		return
	}

	for _, d := range decisions {
		logger.WithField("underlying", d.Underlying).Info(d.Reason)

		payload, err := json.MarshalIndent(d.Order, "", "  ")
		if err != nil {
			logger.WithError(err).Error("Failed to render order payload")
			continue
		}
		fmt.Println(string(payload))

		if !cfg.Broker.SubmitOrders {
			continue
		}
		if err := b.PlaceCustomOrder(ctx, d.Order); err != nil {
			logger.WithError(err).WithField("underlying", d.Underlying).Error("Order placement failed")
			continue
		}
		logger.WithField("underlying", d.Underlying).Info("Order placed")
	}
}
