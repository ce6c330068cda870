/**
 * @description
 * Entry point for billing-api. It wires configuration, the Postgres pool, the
 * optional Redis lease and RabbitMQ producer, the gateway and mail clients,
 * workflow file storage and the HTTP router, then serves until SIGINT/SIGTERM.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/awnexus/billing-service/internal/api"
	"github.com/awnexus/billing-service/internal/app"
	"github.com/awnexus/billing-service/internal/config"
	"github.com/awnexus/billing-service/internal/store"
	"github.com/awnexus/billing-service/pkg/mailer"
	"github.com/awnexus/billing-service/pkg/paymob"
	"github.com/awnexus/billing-service/pkg/rabbitmq"
	"github.com/awnexus/billing-service/pkg/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateAPI(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Simple protocol keeps PgBouncer transaction pooling working (no SQLSTATE 42P05).
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	repository := store.NewRepository(dbpool)

	// The run lease lives in Redis when it is reachable, otherwise in a Postgres advisory lock.
	var locker app.RunLocker = app.NewPostgresRunLocker(repository)
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Info("redis url missing; using postgres advisory lock for the billing lease")
	} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
		logger.Warn("redis url parse failed; using postgres advisory lock", "error", parseErr)
	} else {
		redisClient := redis.NewClient(redisOptions)
		pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
		pingErr := redisClient.Ping(pingCtx).Err()
		cancelPing()
		if pingErr != nil {
			logger.Warn("redis ping failed; using postgres advisory lock", "error", pingErr)
			redisClient.Close()
		} else {
			defer redisClient.Close()
			locker = app.NewRedisRunLocker(redisClient, "billing:lease", cfg.RunLockTTL)
			logger.Info("redis connected")
		}
	}

	var publisher app.EventPublisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		} else {
			defer producer.Close()
			publisher = producer
			logger.Info("rabbitmq producer connected")
		}
	}

	var sender app.EmailSender = mailer.Disabled{Logger: logger}
	if strings.TrimSpace(cfg.MailerAPIKey) != "" {
		sender = mailer.NewClient(cfg.MailerEndpoint, cfg.MailerAPIKey, cfg.MailerFrom)
	} else {
		logger.Warn("MAILER_API_KEY not set; billing emails disabled")
	}

	files, err := storage.New(ctx, storage.Config{
		Driver:         cfg.StorageDriver,
		LocalDir:       cfg.LocalStorageDir,
		LocalURLPrefix: cfg.LocalStorageURL,
		S3Region:       cfg.S3Region,
		S3Bucket:       cfg.S3Bucket,
		S3Prefix:       cfg.S3Prefix,
		S3Endpoint:     cfg.S3Endpoint,
		PresignTTL:     cfg.DownloadURLLifetime,
	})
	if err != nil {
		logger.Error("failed to initialise workflow storage", "error", err)
		os.Exit(1)
	}
	logger.Info("workflow storage ready", "driver", fmt.Sprint(files))

	gateway := paymob.NewClient(cfg.PaymobBaseURL, cfg.PaymobAPIKey, cfg.PaymobIntegrationID, cfg.PaymobIframeID)
	notifier := app.NewNotifier(sender, cfg.OperatorEmail)
	wallClock := clock.WallClock

	opts := app.BillingOptions{
		Policy: app.BillingPolicy{
			MaxRetries:        cfg.BillingMaxRetries,
			IntervalDays:      cfg.BillingIntervalDays,
			RetryIntervalDays: cfg.BillingRetryIntervalDays,
		},
		SettlementCurrency:  cfg.SettlementCurrency,
		StrictExchangeRates: cfg.StrictExchangeRates,
		ChargeTimeout:       cfg.ChargeTimeout,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		EventsExchange:      cfg.EventsExchange,
	}

	billing := app.NewBillingService(repository, gateway, notifier, publisher, locker, wallClock, logger, opts)
	checkout := app.NewCheckoutService(repository, gateway, notifier, publisher, wallClock, logger, opts)

	handler := api.NewHandler(api.Services{
		Billing:   billing,
		Webhooks:  app.NewWebhookService(repository, billing, checkout, cfg.PaymobHMACSecret, logger),
		Checkout:  checkout,
		Catalogue: app.NewCatalogueService(repository, files, logger),
		Leads:     app.NewLeadService(repository, notifier, logger),
		Admin:     app.NewAdminService(repository, publisher, wallClock, logger, opts),
	}, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		InternalAPIKey: cfg.InternalAPIKey,
		AdminJWTSecret: cfg.AdminJWTSecret,
		AdminRole:      cfg.AdminRole,
		AllowedOrigins: cfg.Origins(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	// A billing run in flight gets the full window to finish its current charge.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ChargeTimeout+10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
