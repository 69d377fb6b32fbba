package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"paywatch/config"
	"paywatch/engine"
	"paywatch/lookup"
	"paywatch/observability/logging"
	"paywatch/provider"
	"paywatch/reconcile"
	"paywatch/refunds"
	"paywatch/server"
	"paywatch/storage"
	"paywatch/webhook"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logging.Setup("paywatch", cfg.Environment)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Error("open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := storage.AutoMigrate(db); err != nil {
		log.Error("migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	stripeClient, err := provider.New(cfg.StripeAPIKey)
	if err != nil {
		log.Error("configure stripe client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dedupe := storage.NewDedupeStore(db, cfg.ProcessingLease.Duration)
	payments := storage.NewPaymentStore(db)
	subscriptions := storage.NewSubscriptionStore(db)
	refundStore := storage.NewRefundStore(db)

	resolver := lookup.NewResolver(stripeClient)
	eng := engine.New(payments, subscriptions, refundStore, resolver, engine.Modules{
		Payments: cfg.Modules.Payments,
		Billing:  cfg.Modules.Billing,
		Refunds:  cfg.Modules.Refunds,
	}, log)

	verifier := webhook.NewVerifier(cfg.SignatureTolerance.Duration, nil)
	pipeline := engine.NewPipeline(verifier, cfg.WebhookSecret, dedupe, eng, log)
	reconciler := reconcile.New(stripeClient, pipeline, log)
	refundCreator := refunds.NewCreator(payments, refundStore, stripeClient, log)

	handler := server.New(server.Options{
		Pipeline:      pipeline,
		Reconciler:    reconciler,
		RefundCreator: refundCreator,
		Log:           log,
		RatePerSecond: cfg.RateLimit.PerSecond,
		RateBurst:     cfg.RateLimit.Burst,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("paywatch listening", slog.String("addr", cfg.ListenAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}
