package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/walofficial/wal-server/internal/broker"
	brokermetrics "github.com/walofficial/wal-server/internal/broker/metrics"
	natstransport "github.com/walofficial/wal-server/internal/broker/nats"
	"github.com/walofficial/wal-server/internal/config"
	"github.com/walofficial/wal-server/internal/logging"
	"github.com/walofficial/wal-server/internal/workers"
)

func main() {
	cfg, err := config.LoadConfig("config")
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		slog.Error("failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer logging.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := natstransport.NewProvider(cfg.Broker.URL)
	if err := provider.Connect(ctx); err != nil {
		slog.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}

	registry := broker.NewRegistry(provider, broker.Options{
		StreamName: cfg.Broker.Stream,
		FlowControl: broker.FlowControlConfig{
			MaxMessages:      cfg.Broker.FlowControl.MaxMessages,
			MaxBytes:         cfg.Broker.FlowControl.MaxBytes,
			MaxLeaseDuration: cfg.Broker.FlowControl.MaxLeaseDuration.Std(),
		},
		Retry: broker.RetrySchedule{
			Initial:    cfg.Broker.Retry.InitialDelay.Std(),
			Max:        cfg.Broker.Retry.MaxDelay.Std(),
			Multiplier: cfg.Broker.Retry.Multiplier,
			Jitter:     true,
		},
		PublishTimeout: cfg.Broker.PublishTimeout.Std(),
		AckWait:        cfg.Broker.AckWait.Std(),
	}, brokermetrics.New(), slog.Default())

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr)
	}

	dispatcher := workers.NewDispatcher(slog.Default())
	for _, sub := range cfg.Subscriptions {
		if sub.WebhookURL != "" {
			dispatcher.Register(sub.Kind, workers.NewWebhookWorker(workers.WebhookOptions{
				URL:    sub.WebhookURL,
				Secret: sub.Secret,
			}))
		}

		if _, err := registry.StartSubscription(ctx, sub.Topic, sub.ID, nil, dispatcher.Handler()); err != nil {
			slog.Error("failed to start subscription", "subscription", sub.ID, "error", err)
			os.Exit(1)
		}
		slog.Info("subscription started", "subscription", sub.ID, "topic", sub.Topic)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	if err := registry.Shutdown(cfg.Broker.ShutdownGrace.Std()); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server error", "error", err)
	}
}
