package app

import (
	"context"
	"log/slog"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/juju/clock"
)

// eventEmitter publishes subscription events. Publish failures are logged only.
type eventEmitter struct {
	publisher EventPublisher
	exchange  string
	clock     clock.Clock
	logger    *slog.Logger
}

func (e eventEmitter) subscription(ctx context.Context, routingKey string, sub domain.Subscription, transactionID, failureReason *string) {
	if e.publisher == nil {
		return
	}
	event := domain.SubscriptionEvent{
		SubscriptionID:  sub.ID,
		PaymentLinkID:   sub.PaymentLinkID,
		CustomerEmail:   sub.CustomerEmail,
		Status:          sub.Status,
		RetryCount:      sub.RetryCount,
		NextPaymentDate: sub.NextPaymentDate,
		TransactionID:   transactionID,
		FailureReason:   failureReason,
		Timestamp:       e.clock.Now().UTC(),
	}
	if err := e.publisher.Publish(ctx, e.exchange, routingKey, event); err != nil {
		e.logger.Warn("failed to publish billing event", "routing_key", routingKey, "subscription_id", sub.ID, "error", err)
	}
}
