package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/awnexus/billing-service/internal/store"
)

// ErrUnknownOrder is returned when a callback references an order we never issued.
var ErrUnknownOrder = errors.New("unknown merchant order")

// ErrChargeInFlight is returned when a callback arrives for a charge whose run has
// not recorded its transaction yet. The gateway redelivers the callback.
var ErrChargeInFlight = errors.New("charge still in flight")

// ExpirySummary is returned by the confirmation expiry job. Recovered counts
// attempts whose run had already recorded a successful payment.
type ExpirySummary struct {
	Expired   int `json:"expired"`
	Cancelled int `json:"cancelled"`
	Recovered int `json:"recovered"`
	Errors    int `json:"errors"`
}

// ConfirmCharge settles an open subscription charge from the gateway's
// transaction callback. Callbacks for attempts that are already settled are ignored.
func (s *BillingService) ConfirmCharge(ctx context.Context, merchantOrderID string, success bool, gatewayTransactionID, reason string) error {
	attempt, err := s.repo.GetChargeAttemptByMerchantOrderID(ctx, merchantOrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownOrder, merchantOrderID)
		}
		return err
	}
	if !attempt.IsOpen() {
		s.logger.Info("ignoring callback for settled charge attempt", "attempt_id", attempt.ID, "status", attempt.Status)
		return nil
	}

	tx, err := s.attemptTransaction(ctx, *attempt)
	if err != nil {
		return err
	}
	if tx == nil {
		return fmt.Errorf("%w: %s", ErrChargeInFlight, merchantOrderID)
	}

	var gatewayTxID *string
	if gatewayTransactionID != "" {
		gatewayTxID = &gatewayTransactionID
	}
	if reason == "" && !success {
		reason = "payment declined by gateway"
	}
	_, err = s.settleAttempt(ctx, *attempt, tx, success, gatewayTxID, reason)
	return err
}

// ExpireConfirmations closes attempts still open after the confirmation timeout:
// charges whose gateway confirmation never arrived and claims left behind by an
// interrupted run. An attempt whose transaction already succeeded is completed
// as a success; every other one takes the failure path.
func (s *BillingService) ExpireConfirmations(ctx context.Context) (*ExpirySummary, error) {
	now := s.clock.Now().UTC()
	attempts, err := s.repo.ListStaleAttempts(ctx, now.Add(-s.confirmationTimeout))
	if err != nil {
		return nil, fmt.Errorf("list stale attempts: %w", err)
	}

	summary := &ExpirySummary{}
	for _, attempt := range attempts {
		outcome, err := s.expireAttempt(ctx, attempt)
		if err != nil {
			s.logger.Error("failed to expire charge attempt", "attempt_id", attempt.ID, "subscription_id", attempt.SubscriptionID, "status", attempt.Status, "error", err)
			summary.Errors++
			continue
		}
		switch outcome {
		case outcomeCancelled:
			summary.Expired++
			summary.Cancelled++
		case outcomeRetry:
			summary.Expired++
		case outcomeSucceeded:
			summary.Recovered++
		}
	}

	if len(attempts) > 0 {
		s.logger.Info("expired stale charge attempts", "count", len(attempts), "expired", summary.Expired, "cancelled", summary.Cancelled, "recovered", summary.Recovered)
	}
	return summary, nil
}

func (s *BillingService) expireAttempt(ctx context.Context, attempt domain.ChargeAttempt) (chargeOutcome, error) {
	tx, err := s.attemptTransaction(ctx, attempt)
	if err != nil {
		return outcomeError, err
	}
	reason := fmt.Sprintf("gateway confirmation not received within %s", s.confirmationTimeout)
	if attempt.Status == domain.AttemptClaimed && tx == nil {
		reason = "charge interrupted before it was recorded"
	}
	return s.settleAttempt(ctx, attempt, tx, false, nil, reason)
}

// attemptTransaction loads the transaction recorded for an attempt, or nil when
// the run never got that far.
func (s *BillingService) attemptTransaction(ctx context.Context, attempt domain.ChargeAttempt) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransactionByMerchantOrderID(ctx, attempt.MerchantOrderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load attempt transaction: %w", err)
	}
	return tx, nil
}

// settleAttempt moves an open attempt to its final state and runs the matching
// success or failure path on the subscription. A transaction that already
// reached a terminal status decides the outcome over the reported verdict.
func (s *BillingService) settleAttempt(ctx context.Context, attempt domain.ChargeAttempt, tx *domain.Transaction, success bool, gatewayTxID *string, reason string) (chargeOutcome, error) {
	now := s.clock.Now().UTC()
	logger := s.logger.With("subscription_id", attempt.SubscriptionID, "attempt_id", attempt.ID)

	sub, err := s.repo.GetSubscription(ctx, attempt.SubscriptionID)
	if err != nil {
		return outcomeError, fmt.Errorf("load subscription: %w", err)
	}
	link, err := s.repo.GetPaymentLink(ctx, sub.PaymentLinkID)
	if err != nil {
		logger.Warn("payment link unavailable for notification", "error", err)
		link = nil
	}

	settlement := domain.AttemptSettlement{AttemptID: attempt.ID, CompletedAt: now}
	var txID string
	if tx != nil {
		txID = tx.ID
		settlement.TransactionID = &tx.ID
		settlement.GatewayOrderID = tx.GatewayOrderID
		switch tx.Status {
		case domain.TransactionPending:
			settlement.TransactionStatus = domain.TransactionFailed
			if success {
				settlement.TransactionStatus = domain.TransactionSuccess
			}
			settlement.GatewayTransactionID = gatewayTxID
		case domain.TransactionSuccess:
			success = true
		default:
			success = false
			if tx.FailureReason != nil {
				reason = *tx.FailureReason
			}
		}
	}

	if success {
		settled, err := s.completeSuccess(ctx, *sub, link, settlement, txID, attempt.AttemptedAt)
		if err != nil {
			return outcomeError, err
		}
		if !settled {
			return outcomeSkipped, nil
		}
		logger.Info("charge confirmed", "transaction_id", txID)
		return outcomeSucceeded, nil
	}
	return s.completeFailure(ctx, *sub, link, settlement, reason, now)
}
