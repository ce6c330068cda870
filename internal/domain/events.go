/**
 * @description
 * Gateway webhook records and internal billing events published to the broker.
 */
package domain

import (
	"encoding/json"
	"time"
)

// GatewayEvent is a persisted webhook delivery, unique by EventKey.
type GatewayEvent struct {
	ID           string          `json:"id"`
	EventKey     string          `json:"event_key"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	ReceivedAt   time.Time       `json:"received_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	ProcessError *string         `json:"process_error,omitempty"`
}

// Routing keys on the billing events exchange.
const (
	EventSubscriptionCreated        = "subscription.created"
	EventSubscriptionCharged        = "subscription.charged"
	EventSubscriptionChargePending  = "subscription.charge_pending"
	EventSubscriptionRetryScheduled = "subscription.retry_scheduled"
	EventSubscriptionCancelled      = "subscription.cancelled"
)

// SubscriptionEvent is the payload published for subscription state changes.
type SubscriptionEvent struct {
	SubscriptionID  string    `json:"subscription_id"`
	PaymentLinkID   string    `json:"payment_link_id"`
	CustomerEmail   string    `json:"customer_email"`
	Status          string    `json:"status"`
	RetryCount      int       `json:"retry_count"`
	NextPaymentDate time.Time `json:"next_payment_date"`
	TransactionID   *string   `json:"transaction_id,omitempty"`
	FailureReason   *string   `json:"failure_reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
