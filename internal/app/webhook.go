/**
 * @description
 * Gateway webhook reconciliation. Verified callbacks are recorded once in
 * gateway_events and dispatched by merchant order id prefix:
 * "sub:" orders settle pending subscription charges, "link:" orders complete
 * checkouts. TOKEN callbacks attach the saved card to the order's subscription.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/awnexus/billing-service/pkg/paymob"
)

// Webhook outcomes reported back to the gateway.
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

// WebhookRepository defines the event log and card token operations.
type WebhookRepository interface {
	RecordGatewayEvent(ctx context.Context, eventKey, eventType string, payload []byte) (string, bool, error)
	MarkGatewayEventProcessed(ctx context.Context, id string, processErr *string) error
	SaveCardTokenForOrder(ctx context.Context, gatewayOrderID, token string) (int64, error)
}

// ChargeConfirmer settles subscription charges awaiting confirmation.
type ChargeConfirmer interface {
	ConfirmCharge(ctx context.Context, merchantOrderID string, success bool, gatewayTransactionID, reason string) error
}

// CheckoutConfirmer completes payment link checkouts.
type CheckoutConfirmer interface {
	ConfirmCheckout(ctx context.Context, c CheckoutConfirmation) error
}

// WebhookService verifies and applies gateway callbacks.
type WebhookService struct {
	repo     WebhookRepository
	charges  ChargeConfirmer
	checkout CheckoutConfirmer
	secret   string
	logger   *slog.Logger
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(repo WebhookRepository, charges ChargeConfirmer, checkout CheckoutConfirmer, hmacSecret string, logger *slog.Logger) *WebhookService {
	return &WebhookService{repo: repo, charges: charges, checkout: checkout, secret: hmacSecret, logger: logger}
}

// HandleCallback verifies a callback body and applies it at most once.
// Signature failures return paymob.ErrInvalidSignature.
func (s *WebhookService) HandleCallback(ctx context.Context, body []byte, providedHMAC string) (string, error) {
	kind, obj, err := paymob.ParseCallback(s.secret, body, providedHMAC)
	if err != nil {
		return "", err
	}

	var eventKey string
	switch cb := obj.(type) {
	case *paymob.TransactionCallback:
		eventKey = fmt.Sprintf("transaction:%s:%t:%t", cb.ID, cb.Success, cb.Pending)
	case *paymob.TokenCallback:
		eventKey = fmt.Sprintf("token:%s", cb.ID)
	}

	eventID, duplicate, err := s.repo.RecordGatewayEvent(ctx, eventKey, kind, body)
	if err != nil {
		return "", fmt.Errorf("record gateway event: %w", err)
	}
	if duplicate {
		s.logger.Info("duplicate gateway callback", "event_key", eventKey)
		return WebhookDuplicate, nil
	}

	outcome, applyErr := s.apply(ctx, obj)
	var processErr *string
	if applyErr != nil {
		msg := applyErr.Error()
		processErr = &msg
	}
	if err := s.repo.MarkGatewayEventProcessed(context.WithoutCancel(ctx), eventID, processErr); err != nil {
		s.logger.Error("failed to mark gateway event processed", "event_key", eventKey, "error", err)
	}
	if applyErr != nil {
		s.logger.Error("failed to apply gateway callback", "event_key", eventKey, "error", applyErr)
		return "", applyErr
	}
	return outcome, nil
}

func (s *WebhookService) apply(ctx context.Context, obj any) (string, error) {
	switch cb := obj.(type) {
	case *paymob.TransactionCallback:
		return s.applyTransaction(ctx, cb)
	case *paymob.TokenCallback:
		return s.applyToken(ctx, cb)
	default:
		return WebhookIgnored, nil
	}
}

func (s *WebhookService) applyTransaction(ctx context.Context, cb *paymob.TransactionCallback) (string, error) {
	orderID := cb.Order.MerchantOrderID
	logger := s.logger.With("merchant_order_id", orderID, "gateway_transaction_id", cb.ID.String())

	if cb.Pending && !cb.Success {
		logger.Info("gateway transaction still pending")
		return WebhookIgnored, nil
	}

	var reason string
	if !cb.Success {
		reason = cb.Data.Message
		if reason == "" && cb.ErrorOccured {
			reason = "gateway reported an error"
		}
	}

	var err error
	switch {
	case strings.HasPrefix(orderID, "sub:"):
		err = s.charges.ConfirmCharge(ctx, orderID, cb.Success, cb.ID.String(), reason)
	case strings.HasPrefix(orderID, "link:"):
		err = s.checkout.ConfirmCheckout(ctx, CheckoutConfirmation{
			MerchantOrderID:      orderID,
			Success:              cb.Success,
			GatewayTransactionID: cb.ID.String(),
			Reason:               reason,
			CustomerName:         cb.CustomerName(),
			CustomerPhone:        strings.TrimSpace(cb.Order.ShippingData.PhoneNumber),
		})
	default:
		logger.Warn("callback for unrecognised merchant order id")
		return WebhookIgnored, nil
	}

	if errors.Is(err, ErrUnknownOrder) {
		logger.Warn("callback for unknown order", "error", err)
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	logger.Info("gateway transaction applied", "success", cb.Success)
	return WebhookProcessed, nil
}

func (s *WebhookService) applyToken(ctx context.Context, cb *paymob.TokenCallback) (string, error) {
	orderID := cb.OrderID.String()
	if cb.Token == "" || orderID == "" {
		return WebhookIgnored, nil
	}
	updated, err := s.repo.SaveCardTokenForOrder(ctx, orderID, cb.Token)
	if err != nil {
		return "", fmt.Errorf("save card token: %w", err)
	}
	if updated == 0 {
		s.logger.Warn("card token for unknown order", "gateway_order_id", orderID)
		return WebhookIgnored, nil
	}
	s.logger.Info("card token saved", "gateway_order_id", orderID, "masked_pan", cb.MaskedPan)
	return WebhookProcessed, nil
}
