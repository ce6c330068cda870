/**
 * @description
 * Domain models for recurring subscriptions and their charge attempts.
 */
package domain

import "time"

// Subscription statuses.
const (
	SubscriptionActive    = "active"
	SubscriptionPaused    = "paused"
	SubscriptionCancelled = "cancelled"
)

// Charge attempt statuses.
const (
	AttemptClaimed             = "claimed"
	AttemptPendingConfirmation = "pending_confirmation"
	AttemptSucceeded           = "succeeded"
	AttemptFailed              = "failed"
)

// Subscription is a standing obligation to charge a customer against a monthly payment link.
type Subscription struct {
	ID                 string     `json:"id"`
	PaymentLinkID      string     `json:"payment_link_id"`
	CustomerEmail      string     `json:"customer_email"`
	CustomerName       string     `json:"customer_name"`
	CustomerPhone      string     `json:"customer_phone,omitempty"`
	Status             string     `json:"status"`
	NextPaymentDate    time.Time  `json:"next_payment_date"`
	RetryCount         int        `json:"retry_count"`
	TotalPaymentsMade  int        `json:"total_payments_made"`
	LastTransactionID  *string    `json:"last_transaction_id,omitempty"`
	CardToken          *string    `json:"-"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// DueDate is the calendar day (UTC) the current charge belongs to.
// It is the idempotency key component for charge attempts.
func (s Subscription) DueDate() time.Time {
	d := s.NextPaymentDate.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// ChargeAttempt records one claimed charge for a (subscription, due date) pair.
type ChargeAttempt struct {
	ID              string     `json:"id"`
	SubscriptionID  string     `json:"subscription_id"`
	DueDate         time.Time  `json:"due_date"`
	AttemptNumber   int        `json:"attempt_number"`
	Status          string     `json:"status"`
	MerchantOrderID string     `json:"merchant_order_id"`
	GatewayOrderID  *string    `json:"gateway_order_id,omitempty"`
	TransactionID   *string    `json:"transaction_id,omitempty"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	AttemptedAt     time.Time  `json:"attempted_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// IsOpen reports whether the attempt still awaits its outcome.
func (a ChargeAttempt) IsOpen() bool {
	return a.Status == AttemptClaimed || a.Status == AttemptPendingConfirmation
}

// SubscriptionSuccess describes the state written after a confirmed payment.
type SubscriptionSuccess struct {
	SubscriptionID  string
	TransactionID   string
	NextPaymentDate time.Time
}

// AttemptSettlement closes an open charge attempt. The attempt, its pending
// transaction (when TransactionStatus is set) and the subscription update are
// written together. Success and Failure are both nil when the subscription is
// left untouched.
type AttemptSettlement struct {
	AttemptID            string
	Status               string
	GatewayOrderID       *string
	TransactionID        *string
	TransactionStatus    string
	GatewayTransactionID *string
	FailureReason        *string
	CompletedAt          time.Time
	Success              *SubscriptionSuccess
	Failure              *SubscriptionFailure
}

// SubscriptionFailure describes the state written after a failed payment.
// When Cancel is set the subscription is cancelled and NextPaymentDate is ignored.
type SubscriptionFailure struct {
	SubscriptionID  string
	RetryCount      int
	NextPaymentDate time.Time
	Cancel          bool
	Reason          string
	CancelledAt     time.Time
}
