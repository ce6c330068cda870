package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/juju/clock"
	"github.com/shopspring/decimal"
)

// ErrInvalidTransition is returned for operator actions a subscription's status does not allow.
var ErrInvalidTransition = errors.New("invalid subscription status transition")

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

const maxAdminListLimit = 500

// AdminRepository defines the operator-facing subscription and rate operations.
type AdminRepository interface {
	ListSubscriptions(ctx context.Context, status string, limit int) ([]domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id, status string) (*domain.Subscription, error)
	CancelSubscription(ctx context.Context, id, reason string, at time.Time) (*domain.Subscription, error)
	UpsertExchangeRate(ctx context.Context, rate domain.ExchangeRate) (*domain.ExchangeRate, error)
}

// AdminService implements operator actions on subscriptions and exchange rates.
type AdminService struct {
	repo       AdminRepository
	events     eventEmitter
	clock      clock.Clock
	settlement string
	logger     *slog.Logger
}

// NewAdminService creates a new admin service.
func NewAdminService(repo AdminRepository, publisher EventPublisher, clk clock.Clock, logger *slog.Logger, opts BillingOptions) *AdminService {
	if opts.SettlementCurrency == "" {
		opts.SettlementCurrency = "EGP"
	}
	if opts.EventsExchange == "" {
		opts.EventsExchange = "billing.events"
	}
	return &AdminService{
		repo:       repo,
		events:     eventEmitter{publisher: publisher, exchange: opts.EventsExchange, clock: clk, logger: logger},
		clock:      clk,
		settlement: opts.SettlementCurrency,
		logger:     logger,
	}
}

// ListSubscriptions lists subscriptions, newest first. An empty status lists all.
func (s *AdminService) ListSubscriptions(ctx context.Context, status string, limit int) ([]domain.Subscription, error) {
	switch status {
	case "", domain.SubscriptionActive, domain.SubscriptionPaused, domain.SubscriptionCancelled:
	default:
		return nil, &ValidationError{Field: "status", Message: "must be active, paused or cancelled"}
	}
	if limit <= 0 || limit > maxAdminListLimit {
		limit = 100
	}
	subs, err := s.repo.ListSubscriptions(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	return subs, nil
}

func (s *AdminService) transition(ctx context.Context, id, from, to string) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == to {
		return sub, nil
	}
	if sub.Status != from {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, sub.Status, to)
	}
	updated, err := s.repo.UpdateSubscriptionStatus(ctx, id, to)
	if err != nil {
		return nil, err
	}
	s.logger.Info("subscription status changed", "subscription_id", id, "from", from, "to", to)
	return updated, nil
}

// Pause stops billing an active subscription.
func (s *AdminService) Pause(ctx context.Context, id string) (*domain.Subscription, error) {
	return s.transition(ctx, id, domain.SubscriptionActive, domain.SubscriptionPaused)
}

// Resume returns a paused subscription to billing. If its payment date has
// passed it is charged by the next run.
func (s *AdminService) Resume(ctx context.Context, id string) (*domain.Subscription, error) {
	return s.transition(ctx, id, domain.SubscriptionPaused, domain.SubscriptionActive)
}

// Cancel cancels a subscription on operator request.
func (s *AdminService) Cancel(ctx context.Context, id, reason string) (*domain.Subscription, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Cancelled by operator"
	}
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubscriptionCancelled {
		return nil, fmt.Errorf("%w: already cancelled", ErrInvalidTransition)
	}

	cancelled, err := s.repo.CancelSubscription(ctx, id, reason, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info("subscription cancelled by operator", "subscription_id", id)
	s.events.subscription(ctx, domain.EventSubscriptionCancelled, *cancelled, nil, &reason)
	return cancelled, nil
}

// SetExchangeRate sets the rate from currency to the settlement currency.
func (s *AdminService) SetExchangeRate(ctx context.Context, currency string, rate decimal.Decimal) (*domain.ExchangeRate, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !currencyCode.MatchString(currency) {
		return nil, &ValidationError{Field: "currency", Message: "must be a three-letter ISO code"}
	}
	if currency == s.settlement {
		return nil, &ValidationError{Field: "currency", Message: "is the settlement currency"}
	}
	if !rate.IsPositive() {
		return nil, &ValidationError{Field: "rate", Message: "must be greater than zero"}
	}

	saved, err := s.repo.UpsertExchangeRate(ctx, domain.ExchangeRate{
		FromCurrency: currency,
		ToCurrency:   s.settlement,
		Rate:         rate,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("exchange rate updated", "from", saved.FromCurrency, "to", saved.ToCurrency, "rate", saved.Rate.String())
	return saved, nil
}
