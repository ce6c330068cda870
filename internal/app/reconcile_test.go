package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/awnexus/billing-service/internal/domain"
)

// newPendingCharge runs a billing pass for a subscription without a saved card,
// leaving one attempt awaiting gateway confirmation.
func newPendingCharge(t *testing.T, retryCount int) (*billingFixture, string) {
	t.Helper()
	f := newBillingFixture(t, BillingOptions{ConfirmationTimeout: 48 * time.Hour})
	sub := dueSubscription("sub-1", retryCount)
	sub.CardToken = nil
	f.repo.addSub(sub)

	summary, err := f.service.RunDueCharges(context.Background())
	if err != nil {
		t.Fatalf("RunDueCharges() error = %v", err)
	}
	if summary.Pending != 1 {
		t.Fatalf("expected a pending charge, got %+v", summary)
	}
	f.publisher.events = nil
	return f, f.repo.attempts[0].MerchantOrderID
}

func TestConfirmChargeSuccessRunsSuccessPath(t *testing.T) {
	f, orderID := newPendingCharge(t, 1)
	f.clock.Advance(10 * time.Minute)

	if err := f.service.ConfirmCharge(context.Background(), orderID, true, "8001", ""); err != nil {
		t.Fatalf("ConfirmCharge() error = %v", err)
	}

	sub := f.repo.sub("sub-1")
	if sub.RetryCount != 0 || sub.TotalPaymentsMade != 5 {
		t.Fatalf("unexpected subscription: retry=%d total=%d", sub.RetryCount, sub.TotalPaymentsMade)
	}
	if want := runTime.AddDate(0, 0, 30); !sub.NextPaymentDate.Equal(want) {
		t.Fatalf("expected next payment anchored at the charge time %s, got %s", want, sub.NextPaymentDate)
	}
	if f.repo.attempts[0].Status != domain.AttemptSucceeded {
		t.Fatalf("expected succeeded attempt, got %s", f.repo.attempts[0].Status)
	}
	tx := f.repo.txs[0]
	if tx.Status != domain.TransactionSuccess || tx.GatewayTransactionID == nil || *tx.GatewayTransactionID != "8001" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if keys := f.publisher.keys(); len(keys) != 1 || keys[0] != domain.EventSubscriptionCharged {
		t.Fatalf("unexpected events: %v", keys)
	}
}

func TestConfirmChargeFailureRunsFailurePath(t *testing.T) {
	f, orderID := newPendingCharge(t, 0)

	if err := f.service.ConfirmCharge(context.Background(), orderID, false, "8002", "Do not honour"); err != nil {
		t.Fatalf("ConfirmCharge() error = %v", err)
	}

	sub := f.repo.sub("sub-1")
	if sub.RetryCount != 1 || sub.Status != domain.SubscriptionActive {
		t.Fatalf("expected a scheduled retry, got %s/%d", sub.Status, sub.RetryCount)
	}
	attempt := f.repo.attempts[0]
	if attempt.Status != domain.AttemptFailed || attempt.FailureReason == nil || *attempt.FailureReason != "Do not honour" {
		t.Fatalf("unexpected attempt: %+v", attempt)
	}
	if f.repo.txs[0].Status != domain.TransactionFailed {
		t.Fatalf("expected failed transaction, got %s", f.repo.txs[0].Status)
	}
}

func TestConfirmChargeAppliesOnce(t *testing.T) {
	f, orderID := newPendingCharge(t, 0)

	for i := 0; i < 2; i++ {
		if err := f.service.ConfirmCharge(context.Background(), orderID, true, "8003", ""); err != nil {
			t.Fatalf("ConfirmCharge() #%d error = %v", i+1, err)
		}
	}
	if f.repo.applySuccessCalls != 1 {
		t.Fatalf("expected success applied once, got %d", f.repo.applySuccessCalls)
	}
	if f.repo.sub("sub-1").TotalPaymentsMade != 5 {
		t.Fatal("payment counted more than once")
	}
}

func TestConfirmChargeUnknownOrder(t *testing.T) {
	f := newBillingFixture(t, BillingOptions{})

	err := f.service.ConfirmCharge(context.Background(), "sub:missing:2026-03-10:x", true, "1", "")
	if !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestConfirmChargeLeavesCancelledSubscription(t *testing.T) {
	f, orderID := newPendingCharge(t, 0)
	sub := f.repo.subs["sub-1"]
	sub.Status = domain.SubscriptionCancelled

	if err := f.service.ConfirmCharge(context.Background(), orderID, true, "8004", ""); err != nil {
		t.Fatalf("ConfirmCharge() error = %v", err)
	}
	if f.repo.sub("sub-1").Status != domain.SubscriptionCancelled {
		t.Fatal("cancelled subscription must stay cancelled")
	}
	if f.repo.applySuccessCalls != 0 {
		t.Fatal("success path should not run for a cancelled subscription")
	}
	if f.repo.attempts[0].Status != domain.AttemptSucceeded {
		t.Fatalf("expected attempt recorded as succeeded, got %s", f.repo.attempts[0].Status)
	}
}

func TestExpireConfirmationsFailsStaleAttempts(t *testing.T) {
	f, _ := newPendingCharge(t, 2)

	summary, err := f.service.ExpireConfirmations(context.Background())
	if err != nil {
		t.Fatalf("ExpireConfirmations() error = %v", err)
	}
	if summary.Expired != 0 {
		t.Fatalf("fresh confirmation should not expire, got %+v", summary)
	}

	f.clock.Advance(49 * time.Hour)
	summary, err = f.service.ExpireConfirmations(context.Background())
	if err != nil {
		t.Fatalf("ExpireConfirmations() error = %v", err)
	}
	if summary.Expired != 1 || summary.Cancelled != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	sub := f.repo.sub("sub-1")
	if sub.Status != domain.SubscriptionCancelled {
		t.Fatalf("expected cancellation after the final attempt expired, got %s", sub.Status)
	}
	if f.mailer.sentTo(operatorEmail) != 1 {
		t.Fatalf("expected operator email, got %v", f.mailer.subjects())
	}
}

func TestConfirmChargeBeforeTransactionIsRetryable(t *testing.T) {
	f := newBillingFixture(t, BillingOptions{})
	sub := dueSubscription("sub-1", 0)
	f.repo.addSub(sub)
	attempt, err := f.repo.ClaimChargeAttempt(context.Background(), sub.ID, sub.DueDate(), 1, "sub:sub-1:2026-03-10:early", runTime)
	if err != nil {
		t.Fatalf("ClaimChargeAttempt() error = %v", err)
	}

	err = f.service.ConfirmCharge(context.Background(), attempt.MerchantOrderID, true, "8007", "")
	if !errors.Is(err, ErrChargeInFlight) {
		t.Fatalf("expected ErrChargeInFlight, got %v", err)
	}
	if f.repo.attempts[0].Status != domain.AttemptClaimed {
		t.Fatalf("attempt must stay open for redelivery, got %s", f.repo.attempts[0].Status)
	}
}

func TestConfirmChargeSettlementErrorKeepsAttemptOpen(t *testing.T) {
	f, orderID := newPendingCharge(t, 0)
	f.repo.settleFailures = 1

	if err := f.service.ConfirmCharge(context.Background(), orderID, true, "8008", ""); err == nil {
		t.Fatal("expected settlement error")
	}
	if f.repo.attempts[0].Status != domain.AttemptPendingConfirmation || f.repo.txs[0].Status != domain.TransactionPending {
		t.Fatal("failed settlement must leave attempt and transaction pending")
	}

	// Redelivery applies the payment.
	if err := f.service.ConfirmCharge(context.Background(), orderID, true, "8008", ""); err != nil {
		t.Fatalf("ConfirmCharge() error = %v", err)
	}
	if f.repo.sub("sub-1").TotalPaymentsMade != 5 || f.repo.txs[0].Status != domain.TransactionSuccess {
		t.Fatal("expected redelivered callback to complete the charge")
	}
}
