/**
 * @description
 * This is the main entry point for the billing service.
 * It initializes and wires together all the components of the application,
 * including configuration, database connection, repository, services, the
 * cron scheduler, and the HTTP router. Finally, it starts the HTTP server
 * to listen for incoming requests.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/muhabbasim/salla-saas-billing-process/internal/api"
	"github.com/muhabbasim/salla-saas-billing-process/internal/app"
	"github.com/muhabbasim/salla-saas-billing-process/internal/config"
	"github.com/muhabbasim/salla-saas-billing-process/internal/store"
	"github.com/muhabbasim/salla-saas-billing-process/pkg/mailer"
	"github.com/muhabbasim/salla-saas-billing-process/pkg/rabbitmq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up channel to listen for OS signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statements to work with PgBouncer transaction pooling.
	// Simple protocol avoids statement cache errors (SQLSTATE 42P05).
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// RabbitMQ is optional: with no broker configured, billing events are
	// delivered by email only.
	var publisher app.EventPublisher
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Error("unable to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
		logger.Info("rabbitmq connection established")
	} else {
		logger.Warn("RABBITMQ_URL not set, billing events will not be published")
	}

	// Initialize application layers
	repository := store.NewRepository(dbpool)
	mailClient := mailer.NewClient(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFromAddress)

	billing := app.NewService(repository, app.AutoApproveProcessor{}, logger)
	proration := app.NewProrationService(repository, billing, logger)
	sweep := app.NewSweep(repository, billing, logger)
	dispatcher := app.NewDispatcher(repository, mailClient, publisher, logger, cfg.OutboxBatchSize)

	// Start the cron scheduler for the billing sweep and outbox drain
	jobs := app.NewJobs(sweep, dispatcher, logger)
	scheduler := app.NewScheduler(jobs, logger, *cfg)
	scheduler.Start()

	handler := api.NewHandler(repository, billing, proration, sweep, logger)
	router := api.NewRouter(handler)

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	// Stop scheduling new jobs and wait for running ones to finish
	<-scheduler.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
