/**
 * @description
 * Payment link checkout. A customer opens a link by slug, starts a checkout
 * (gateway order plus payment key, hosted iframe URL) and the gateway's
 * transaction callback completes it. Paying a monthly link starts a subscription.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/awnexus/billing-service/internal/store"
	"github.com/awnexus/billing-service/pkg/paymob"
	"github.com/google/uuid"
	"github.com/juju/clock"
)

// ErrLinkUnavailable is returned when a link cannot be paid right now.
var ErrLinkUnavailable = errors.New("payment link unavailable")

// ValidationError reports invalid client input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CheckoutRepository defines the database operations the checkout flow needs.
type CheckoutRepository interface {
	RateSource
	GetPaymentLink(ctx context.Context, id string) (*domain.PaymentLink, error)
	GetPaymentLinkBySlug(ctx context.Context, slug string) (*domain.PaymentLink, error)
	InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransactionByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.Transaction, error)
	CompleteCheckoutTransaction(ctx context.Context, id, paymentLinkID, status string, gatewayTransactionID, failureReason *string, completedAt time.Time) (changed, counted bool, err error)
	CreateSubscription(ctx context.Context, sub *domain.Subscription, originOrderID string) (*domain.Subscription, bool, error)
}

// CheckoutRequest is the payer's details for a checkout.
type CheckoutRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
}

// CheckoutSession is returned to the browser to continue on the gateway's page.
type CheckoutSession struct {
	PaymentURL      string `json:"payment_url"`
	MerchantOrderID string `json:"merchant_order_id"`
	GatewayOrderID  string `json:"gateway_order_id"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
}

// CheckoutConfirmation is a gateway verdict on a checkout order.
type CheckoutConfirmation struct {
	MerchantOrderID      string
	Success              bool
	GatewayTransactionID string
	Reason               string
	CustomerName         string
	CustomerPhone        string
}

// CheckoutService provides payment link checkout.
type CheckoutService struct {
	repo      CheckoutRepository
	gateway   Gateway
	notifier  *Notifier
	events    eventEmitter
	converter Converter
	policy    BillingPolicy
	clock     clock.Clock
	logger    *slog.Logger
}

// NewCheckoutService creates a new checkout service.
func NewCheckoutService(repo CheckoutRepository, gateway Gateway, notifier *Notifier, publisher EventPublisher, clk clock.Clock, logger *slog.Logger, opts BillingOptions) *CheckoutService {
	if opts.Policy.MaxRetries == 0 {
		opts.Policy = DefaultBillingPolicy()
	}
	if opts.SettlementCurrency == "" {
		opts.SettlementCurrency = "EGP"
	}
	if opts.EventsExchange == "" {
		opts.EventsExchange = "billing.events"
	}
	return &CheckoutService{
		repo:      repo,
		gateway:   gateway,
		notifier:  notifier,
		events:    eventEmitter{publisher: publisher, exchange: opts.EventsExchange, clock: clk, logger: logger},
		converter: NewConverter(repo, opts.SettlementCurrency, opts.StrictExchangeRates, logger),
		policy:    opts.Policy,
		clock:     clk,
		logger:    logger,
	}
}

// GetLink returns a link and whether it can be paid right now.
func (s *CheckoutService) GetLink(ctx context.Context, slug string) (*domain.PaymentLinkView, error) {
	link, err := s.repo.GetPaymentLinkBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		return nil, err
	}
	return &domain.PaymentLinkView{PaymentLink: *link, State: link.State(s.clock.Now())}, nil
}

func validateCustomer(req CheckoutRequest) (CheckoutRequest, error) {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)

	if req.CustomerName == "" {
		return req, &ValidationError{Field: "customer_name", Message: "is required"}
	}
	addr, err := mail.ParseAddress(req.CustomerEmail)
	if err != nil {
		return req, &ValidationError{Field: "customer_email", Message: "is not a valid email address"}
	}
	req.CustomerEmail = strings.ToLower(addr.Address)
	return req, nil
}

// StartCheckout registers an order with the gateway and returns the hosted payment URL.
func (s *CheckoutService) StartCheckout(ctx context.Context, slug string, req CheckoutRequest) (*CheckoutSession, error) {
	req, err := validateCustomer(req)
	if err != nil {
		return nil, err
	}

	link, err := s.repo.GetPaymentLinkBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		return nil, err
	}
	if state := link.State(s.clock.Now()); state != domain.LinkStateActive {
		return nil, fmt.Errorf("%w: link is %s", ErrLinkUnavailable, state)
	}

	conversion, err := s.converter.Convert(ctx, link.Amount, link.Currency)
	if err != nil {
		return nil, err
	}

	merchantOrderID := fmt.Sprintf("link:%s:%s", link.ID, uuid.NewString())
	authToken, err := s.gateway.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	order, err := s.gateway.CreateOrder(ctx, authToken, paymob.OrderRequest{
		AmountCents:     conversion.AmountCents,
		Currency:        conversion.Currency,
		MerchantOrderID: merchantOrderID,
	})
	if err != nil {
		return nil, err
	}
	paymentKey, err := s.gateway.CreatePaymentKey(ctx, authToken, paymob.PaymentKeyRequest{
		AmountCents: conversion.AmountCents,
		Currency:    conversion.Currency,
		OrderID:     order.ID,
		Billing:     paymob.NewBillingData(req.CustomerName, req.CustomerEmail, req.CustomerPhone),
	})
	if err != nil {
		return nil, err
	}

	gatewayOrderID := order.ID.String()
	if _, err := s.repo.InsertTransaction(ctx, domain.Transaction{
		PaymentLinkID:        link.ID,
		MerchantOrderID:      merchantOrderID,
		GatewayOrderID:       &gatewayOrderID,
		Amount:               link.Amount,
		Currency:             link.Currency,
		ConvertedAmountCents: conversion.AmountCents,
		SettlementCurrency:   conversion.Currency,
		ExchangeRate:         conversion.Rate,
		Status:               domain.TransactionPending,
		CustomerEmail:        req.CustomerEmail,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("checkout started", "payment_link_id", link.ID, "merchant_order_id", merchantOrderID, "gateway_order_id", gatewayOrderID)
	return &CheckoutSession{
		PaymentURL:      s.gateway.IframeURL(paymentKey),
		MerchantOrderID: merchantOrderID,
		GatewayOrderID:  gatewayOrderID,
		AmountCents:     conversion.AmountCents,
		Currency:        conversion.Currency,
	}, nil
}

// ConfirmCheckout completes a checkout from the gateway's transaction callback.
// Only the first verdict for a pending transaction takes effect; a later callback
// for a paid checkout only repeats the idempotent subscription start.
func (s *CheckoutService) ConfirmCheckout(ctx context.Context, c CheckoutConfirmation) error {
	tx, err := s.repo.GetTransactionByMerchantOrderID(ctx, c.MerchantOrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownOrder, c.MerchantOrderID)
		}
		return err
	}

	now := s.clock.Now().UTC()
	status := domain.TransactionSuccess
	var failureReason *string
	if !c.Success {
		status = domain.TransactionFailed
		reason := c.Reason
		if reason == "" {
			reason = "payment declined by gateway"
		}
		failureReason = &reason
	}
	var gatewayTxID *string
	if c.GatewayTransactionID != "" {
		gatewayTxID = &c.GatewayTransactionID
	}

	changed, counted, err := s.repo.CompleteCheckoutTransaction(ctx, tx.ID, tx.PaymentLinkID, status, gatewayTxID, failureReason, now)
	if err != nil {
		return err
	}
	paidAt := now
	if !changed {
		if tx.Status != domain.TransactionSuccess {
			s.logger.Info("checkout already settled", "merchant_order_id", c.MerchantOrderID, "status", tx.Status)
			return nil
		}
		// A paid checkout is replayed so a subscription that failed to start is created now.
		if tx.CompletedAt != nil {
			paidAt = *tx.CompletedAt
		}
	} else if !c.Success {
		s.logger.Info("checkout payment failed", "merchant_order_id", c.MerchantOrderID, "reason", *failureReason)
		return nil
	} else if !counted {
		s.logger.Warn("payment accepted on exhausted link", "payment_link_id", tx.PaymentLinkID, "merchant_order_id", c.MerchantOrderID)
	}

	link, err := s.repo.GetPaymentLink(ctx, tx.PaymentLinkID)
	if err != nil {
		return err
	}
	if !link.IsRecurring() {
		return nil
	}
	return s.startSubscription(ctx, *tx, link, c, paidAt)
}

func (s *CheckoutService) startSubscription(ctx context.Context, tx domain.Transaction, link *domain.PaymentLink, c CheckoutConfirmation, paidAt time.Time) error {
	txID := tx.ID
	sub, created, err := s.repo.CreateSubscription(ctx, &domain.Subscription{
		PaymentLinkID:     link.ID,
		CustomerEmail:     tx.CustomerEmail,
		CustomerName:      c.CustomerName,
		CustomerPhone:     c.CustomerPhone,
		NextPaymentDate:   paidAt.AddDate(0, 0, s.policy.IntervalDays),
		TotalPaymentsMade: 1,
		LastTransactionID: &txID,
		CardToken:         tx.CardToken,
	}, tx.MerchantOrderID)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	if !created {
		return nil
	}

	s.logger.Info("subscription created", "subscription_id", sub.ID, "payment_link_id", link.ID, "next_payment_date", sub.NextPaymentDate)
	if err := s.notifier.SubscriptionStarted(ctx, *sub, link); err != nil {
		s.logger.Error("failed to send subscription started email", "subscription_id", sub.ID, "error", err)
	}
	s.events.subscription(ctx, domain.EventSubscriptionCreated, *sub, &txID, nil)
	return nil
}
