/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions for each job.
type Schedules struct {
	BillingRun         string
	ConfirmationExpiry string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler. A bad schedule
// expression is an error so the process fails at startup.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedules.BillingRun, s.jobs.ProcessDueSubscriptions); err != nil {
		return fmt.Errorf("schedule billing run job: %w", err)
	}
	s.logger.Info("scheduled billing run job", "schedule", s.schedules.BillingRun)

	if _, err := s.cron.AddFunc(s.schedules.ConfirmationExpiry, s.jobs.ExpirePendingConfirmations); err != nil {
		return fmt.Errorf("schedule confirmation expiry job: %w", err)
	}
	s.logger.Info("scheduled confirmation expiry job", "schedule", s.schedules.ConfirmationExpiry)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
