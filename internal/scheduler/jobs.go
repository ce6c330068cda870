/**
 * @description
 * Scheduled job implementations for billing-scheduler. Each job triggers the
 * matching internal endpoint on the billing API and logs the returned summary.
 */
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/awnexus/billing-service/pkg/billingclient"
)

// BillingClient defines the billing API operations the jobs trigger.
type BillingClient interface {
	RunDueCharges(ctx context.Context) (*billingclient.RunSummary, error)
	ExpireConfirmations(ctx context.Context) (*billingclient.ExpirySummary, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	billing BillingClient
	logger  *slog.Logger
	timeout time.Duration
}

// NewJobs creates a new Jobs runner. timeout bounds each triggered run.
func NewJobs(billing BillingClient, logger *slog.Logger, timeout time.Duration) *Jobs {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Jobs{billing: billing, logger: logger, timeout: timeout}
}

// ProcessDueSubscriptions triggers the recurring billing run.
func (j *Jobs) ProcessDueSubscriptions() {
	j.logger.Info("starting subscription billing job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	summary, err := j.billing.RunDueCharges(ctx)
	if errors.Is(err, billingclient.ErrRunInProgress) {
		j.logger.Warn("billing run already in progress, skipping")
		return
	}
	if err != nil {
		j.logger.Error("failed to run subscription billing", "error", err)
		return
	}

	j.logger.Info("subscription billing job finished",
		"processed", summary.Processed,
		"successful", summary.Successful,
		"pending", summary.Pending,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"skipped", summary.Skipped,
	)
}

// ExpirePendingConfirmations fails charges whose gateway confirmation never arrived.
func (j *Jobs) ExpirePendingConfirmations() {
	j.logger.Info("starting confirmation expiry job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	summary, err := j.billing.ExpireConfirmations(ctx)
	if err != nil {
		j.logger.Error("failed to expire pending confirmations", "error", err)
		return
	}
	j.logger.Info("confirmation expiry job finished", "expired", summary.Expired, "cancelled", summary.Cancelled, "recovered", summary.Recovered, "errors", summary.Errors)
}
