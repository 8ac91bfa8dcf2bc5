package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shoptech/shoptech/internal/auth"
	"github.com/shoptech/shoptech/internal/checkout"
	"github.com/shoptech/shoptech/internal/config"
	"github.com/shoptech/shoptech/internal/db"
	"github.com/shoptech/shoptech/internal/handler"
	"github.com/shoptech/shoptech/internal/notify"
	"github.com/shoptech/shoptech/internal/order"
	"github.com/shoptech/shoptech/internal/payment"
	"github.com/shoptech/shoptech/internal/transport"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "shoptech").Logger()

	log.Info().Msg("ShopTech backend starting...")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dbConn, err := db.New(ctx, cfg.Postgres)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	if err := db.Migrate(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	var notifier order.Notifier = notify.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := kafkaNotifier.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Kafka writer")
			}
		}()
		notifier = kafkaNotifier
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Order confirmations will be published to Kafka")
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, order confirmations disabled")
	}

	repo := order.NewRepository(dbConn.Pool)
	orderSvc := order.NewService(repo)
	reconciler := order.NewReconciler(repo, notifier)

	processor := payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.Timeout)
	checkoutSvc := checkout.NewService(repo, processor, cfg.App.FrontendURL)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	checkoutH := handler.NewCheckoutHandler(checkoutSvc, reconciler, verifier, payment.ConstructEvent, cfg.Payment.WebhookSecret)
	orderH := handler.NewOrderHandler(orderSvc)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      transport.NewRouter(checkoutH, orderH, verifier),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
