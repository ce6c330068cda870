package app

import (
	"fmt"
	"time"

	"github.com/awnexus/billing-service/internal/domain"
)

// BillingPolicy holds the retry and scheduling rules for recurring charges.
type BillingPolicy struct {
	MaxRetries        int
	IntervalDays      int
	RetryIntervalDays int
}

// DefaultBillingPolicy charges every 30 days and gives up after three failed attempts.
func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{MaxRetries: 3, IntervalDays: 30, RetryIntervalDays: 3}
}

// CancellationReason is recorded on subscriptions cancelled by the retry policy.
func (p BillingPolicy) CancellationReason() string {
	return fmt.Sprintf("Payment failed after %d attempts", p.MaxRetries)
}

// OnSuccess resets retries and moves the next charge one interval past chargedAt.
func (p BillingPolicy) OnSuccess(sub domain.Subscription, transactionID string, chargedAt time.Time) domain.SubscriptionSuccess {
	return domain.SubscriptionSuccess{
		SubscriptionID:  sub.ID,
		TransactionID:   transactionID,
		NextPaymentDate: chargedAt.UTC().AddDate(0, 0, p.IntervalDays),
	}
}

// OnFailure decides between a rescheduled retry and cancellation.
// The cancellation branch keeps the stored retry count unchanged.
func (p BillingPolicy) OnFailure(sub domain.Subscription, failedAt time.Time) domain.SubscriptionFailure {
	next := sub.RetryCount + 1
	if next >= p.MaxRetries {
		return domain.SubscriptionFailure{
			SubscriptionID:  sub.ID,
			RetryCount:      sub.RetryCount,
			NextPaymentDate: sub.NextPaymentDate,
			Cancel:          true,
			Reason:          p.CancellationReason(),
			CancelledAt:     failedAt.UTC(),
		}
	}
	return domain.SubscriptionFailure{
		SubscriptionID:  sub.ID,
		RetryCount:      next,
		NextPaymentDate: failedAt.UTC().AddDate(0, 0, p.RetryIntervalDays),
	}
}
