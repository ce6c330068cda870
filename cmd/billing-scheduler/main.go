/**
 * @description
 * Entry point for billing-scheduler, a non-HTTP process that triggers the
 * billing API's internal jobs on a cron schedule.
 */
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnexus/billing-service/internal/config"
	"github.com/awnexus/billing-service/internal/scheduler"
	"github.com/awnexus/billing-service/pkg/billingclient"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateScheduler(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	client := billingclient.NewClient(cfg.BillingServiceURL, cfg.BillingInternalAPIKey, cfg.BillingRunTimeout)
	jobs := scheduler.NewJobs(client, logger, cfg.BillingRunTimeout)
	cronScheduler := scheduler.NewScheduler(jobs, logger, scheduler.Schedules{
		BillingRun:         cfg.BillingRunSchedule,
		ConfirmationExpiry: cfg.ConfirmationExpirySchedule,
	})

	if err := cronScheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	<-cronScheduler.Stop().Done() // Wait for running jobs to finish
	logger.Info("scheduler stopped gracefully")
}
