/**
 * @description
 * Recurring subscription billing. One run charges every active subscription
 * whose next payment date has arrived, sequentially and in isolation: a failed
 * subscription never stops the run.
 *
 * Each due date is claimed in charge_attempts before the gateway is called, so a
 * repeated or overlapping run skips subscriptions that were already attempted.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/awnexus/billing-service/internal/store"
	"github.com/awnexus/billing-service/pkg/paymob"
	"github.com/google/uuid"
	"github.com/juju/clock"
)

const dateLayout = "2006-01-02"

// ErrRunInProgress is returned when another billing run holds the lease.
var ErrRunInProgress = errors.New("billing run already in progress")

// BillingRepository defines the database operations the billing job needs.
type BillingRepository interface {
	RateSource
	ListDueSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	GetPaymentLink(ctx context.Context, id string) (*domain.PaymentLink, error)
	ClaimChargeAttempt(ctx context.Context, subscriptionID string, dueDate time.Time, attemptNumber int, merchantOrderID string, attemptedAt time.Time) (*domain.ChargeAttempt, error)
	MarkAttemptPending(ctx context.Context, attemptID, gatewayOrderID, transactionID string) error
	SettleChargeAttempt(ctx context.Context, s domain.AttemptSettlement) (bool, error)
	GetChargeAttemptByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.ChargeAttempt, error)
	ListStaleAttempts(ctx context.Context, cutoff time.Time) ([]domain.ChargeAttempt, error)
	InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransactionByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.Transaction, error)
}

// Gateway defines the payment gateway operations used for charges and checkouts.
type Gateway interface {
	Authenticate(ctx context.Context) (string, error)
	CreateOrder(ctx context.Context, authToken string, req paymob.OrderRequest) (*paymob.Order, error)
	CreatePaymentKey(ctx context.Context, authToken string, req paymob.PaymentKeyRequest) (string, error)
	PayWithToken(ctx context.Context, cardToken, paymentKey string) (*paymob.PaymentResult, error)
	IframeURL(paymentKey string) string
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
}

// RunLocker hands out the run-level lease that keeps billing runs from overlapping.
type RunLocker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, acquired bool, err error)
}

// BillingOptions carries the tunable parts of the billing job.
type BillingOptions struct {
	Policy              BillingPolicy
	SettlementCurrency  string
	StrictExchangeRates bool
	ChargeTimeout       time.Duration
	ConfirmationTimeout time.Duration
	EventsExchange      string
}

// RunSummary is returned by a billing run. Cancelled subscriptions are also counted as failed.
type RunSummary struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Skipped    int `json:"skipped"`
}

type chargeOutcome int

const (
	outcomeSkipped chargeOutcome = iota
	outcomeSucceeded
	outcomePending
	outcomeRetry
	outcomeCancelled
	outcomeError
)

// BillingService runs recurring charges and settles their gateway confirmations.
type BillingService struct {
	repo                BillingRepository
	gateway             Gateway
	notifier            *Notifier
	events              eventEmitter
	locker              RunLocker
	clock               clock.Clock
	logger              *slog.Logger
	policy              BillingPolicy
	converter           Converter
	chargeTimeout       time.Duration
	confirmationTimeout time.Duration
}

// NewBillingService creates a new billing service.
func NewBillingService(
	repo BillingRepository,
	gateway Gateway,
	notifier *Notifier,
	publisher EventPublisher,
	locker RunLocker,
	clk clock.Clock,
	logger *slog.Logger,
	opts BillingOptions,
) *BillingService {
	if opts.Policy.MaxRetries == 0 {
		opts.Policy = DefaultBillingPolicy()
	}
	if opts.SettlementCurrency == "" {
		opts.SettlementCurrency = "EGP"
	}
	if opts.ChargeTimeout <= 0 {
		opts.ChargeTimeout = 90 * time.Second
	}
	if opts.ConfirmationTimeout <= 0 {
		opts.ConfirmationTimeout = 48 * time.Hour
	}
	if opts.EventsExchange == "" {
		opts.EventsExchange = "billing.events"
	}

	return &BillingService{
		repo:                repo,
		gateway:             gateway,
		notifier:            notifier,
		events:              eventEmitter{publisher: publisher, exchange: opts.EventsExchange, clock: clk, logger: logger},
		locker:              locker,
		clock:               clk,
		logger:              logger,
		policy:              opts.Policy,
		converter:           NewConverter(repo, opts.SettlementCurrency, opts.StrictExchangeRates, logger),
		chargeTimeout:       opts.ChargeTimeout,
		confirmationTimeout: opts.ConfirmationTimeout,
	}
}

// RunDueCharges charges every active subscription that is due. The summary is
// returned even when every charge failed; only a listing failure is an error.
func (s *BillingService) RunDueCharges(ctx context.Context) (*RunSummary, error) {
	release, acquired, err := s.locker.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire billing run lease: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("failed to release billing run lease", "error", err)
		}
	}()

	now := s.clock.Now().UTC()
	subs, err := s.repo.ListDueSubscriptions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}

	s.logger.Info("starting billing run", "count", len(subs))
	summary := &RunSummary{Processed: len(subs)}
	for _, sub := range subs {
		switch s.chargeSubscription(ctx, sub, now) {
		case outcomeSkipped:
			summary.Skipped++
		case outcomeSucceeded:
			summary.Successful++
		case outcomePending:
			summary.Pending++
		case outcomeCancelled:
			summary.Failed++
			summary.Cancelled++
		default:
			summary.Failed++
		}
	}

	s.logger.Info("billing run finished",
		"processed", summary.Processed,
		"successful", summary.Successful,
		"pending", summary.Pending,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

// chargeState collects what a charge produced before it finished or failed.
type chargeState struct {
	link           *domain.PaymentLink
	conversion     Conversion
	gatewayOrderID *string
	result         *paymob.PaymentResult
	pending        bool
	paymentURL     string
}

func subscriptionOrderID(sub domain.Subscription, attemptKey string) string {
	return fmt.Sprintf("sub:%s:%s:%s", sub.ID, sub.DueDate().Format(dateLayout), attemptKey)
}

func (s *BillingService) chargeSubscription(parent context.Context, sub domain.Subscription, now time.Time) chargeOutcome {
	ctx, cancel := context.WithTimeout(parent, s.chargeTimeout)
	defer cancel()

	dueDate := sub.DueDate()
	logger := s.logger.With("subscription_id", sub.ID, "due_date", dueDate.Format(dateLayout))

	attempt, err := s.repo.ClaimChargeAttempt(ctx, sub.ID, dueDate, sub.RetryCount+1, subscriptionOrderID(sub, uuid.NewString()), now)
	if err != nil {
		logger.Error("failed to claim charge attempt", "error", err)
		return outcomeError
	}
	if attempt == nil {
		logger.Info("due date already claimed, skipping")
		return outcomeSkipped
	}

	state, err := s.executeCharge(ctx, sub, *attempt)
	if err != nil {
		logger.Warn("charge failed", "attempt", attempt.AttemptNumber, "error", err)
		return s.failCharge(ctx, sub, *attempt, state, err, now)
	}

	status := domain.TransactionSuccess
	var completedAt *time.Time
	if state.pending {
		status = domain.TransactionPending
	} else {
		completedAt = &now
	}
	var gatewayTxID *string
	if state.result != nil && state.result.ID != "" {
		id := state.result.ID.String()
		gatewayTxID = &id
	}

	tx, err := s.repo.InsertTransaction(ctx, s.newTransaction(sub, *attempt, state, status, gatewayTxID, nil, completedAt))
	if err != nil {
		logger.Error("failed to record transaction", "error", err)
		return s.failCharge(ctx, sub, *attempt, state, err, now)
	}

	if state.pending {
		if err := s.repo.MarkAttemptPending(ctx, attempt.ID, *state.gatewayOrderID, tx.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				logger.Info("charge settled by gateway callback before it was marked pending", "transaction_id", tx.ID)
				return outcomePending
			}
			logger.Error("failed to mark attempt pending", "transaction_id", tx.ID, "error", err)
			return outcomeError
		}
		logger.Info("charge awaiting gateway confirmation", "gateway_order_id", *state.gatewayOrderID)
		if state.paymentURL != "" {
			if err := s.notifier.PaymentRequired(ctx, sub, state.link, state.paymentURL, now.Add(s.confirmationTimeout)); err != nil {
				logger.Error("failed to send payment required email", "error", err)
			}
		}
		s.publishEvent(ctx, domain.EventSubscriptionChargePending, sub, &tx.ID, nil)
		return outcomePending
	}

	settlement := domain.AttemptSettlement{
		AttemptID:      attempt.ID,
		GatewayOrderID: state.gatewayOrderID,
		CompletedAt:    now,
	}
	if _, err := s.completeSuccess(ctx, sub, state.link, settlement, tx.ID, now); err != nil {
		logger.Error("failed to record successful charge", "transaction_id", tx.ID, "error", err)
		return outcomeError
	}
	logger.Info("charge succeeded", "transaction_id", tx.ID, "amount_cents", state.conversion.AmountCents)
	return outcomeSucceeded
}

// executeCharge runs the gateway sequence for one claimed attempt.
func (s *BillingService) executeCharge(ctx context.Context, sub domain.Subscription, attempt domain.ChargeAttempt) (chargeState, error) {
	var state chargeState

	link, err := s.repo.GetPaymentLink(ctx, sub.PaymentLinkID)
	if err != nil {
		return state, fmt.Errorf("load payment link: %w", err)
	}
	state.link = link

	conversion, err := s.converter.Convert(ctx, link.Amount, link.Currency)
	if err != nil {
		return state, err
	}
	state.conversion = conversion

	authToken, err := s.gateway.Authenticate(ctx)
	if err != nil {
		return state, err
	}

	order, err := s.gateway.CreateOrder(ctx, authToken, paymob.OrderRequest{
		AmountCents:     conversion.AmountCents,
		Currency:        conversion.Currency,
		MerchantOrderID: attempt.MerchantOrderID,
	})
	if err != nil {
		return state, err
	}
	orderID := order.ID.String()
	state.gatewayOrderID = &orderID

	paymentKey, err := s.gateway.CreatePaymentKey(ctx, authToken, paymob.PaymentKeyRequest{
		AmountCents:       conversion.AmountCents,
		Currency:          conversion.Currency,
		OrderID:           order.ID,
		Billing:           paymob.NewBillingData(sub.CustomerName, sub.CustomerEmail, sub.CustomerPhone),
		ExpirationSeconds: int(s.confirmationTimeout / time.Second),
	})
	if err != nil {
		return state, err
	}

	// Without a saved card the customer pays on the hosted page.
	if sub.CardToken == nil || *sub.CardToken == "" {
		state.pending = true
		state.paymentURL = s.gateway.IframeURL(paymentKey)
		return state, nil
	}

	result, err := s.gateway.PayWithToken(ctx, *sub.CardToken, paymentKey)
	state.result = result
	if err != nil {
		return state, err
	}
	state.pending = !result.Success
	return state, nil
}

func (s *BillingService) newTransaction(sub domain.Subscription, attempt domain.ChargeAttempt, state chargeState, status string, gatewayTxID, failureReason *string, completedAt *time.Time) domain.Transaction {
	subID := sub.ID
	return domain.Transaction{
		PaymentLinkID:        sub.PaymentLinkID,
		SubscriptionID:       &subID,
		MerchantOrderID:      attempt.MerchantOrderID,
		GatewayOrderID:       state.gatewayOrderID,
		GatewayTransactionID: gatewayTxID,
		Amount:               state.link.Amount,
		Currency:             state.link.Currency,
		ConvertedAmountCents: state.conversion.AmountCents,
		SettlementCurrency:   state.conversion.Currency,
		ExchangeRate:         state.conversion.Rate,
		Status:               status,
		CustomerEmail:        sub.CustomerEmail,
		FailureReason:        failureReason,
		CompletedAt:          completedAt,
	}
}

// failCharge records a failed attempt and applies the retry policy. Writes run on a
// context detached from the charge timeout so a slow gateway cannot skip them.
func (s *BillingService) failCharge(ctx context.Context, sub domain.Subscription, attempt domain.ChargeAttempt, state chargeState, cause error, now time.Time) chargeOutcome {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	logger := s.logger.With("subscription_id", sub.ID, "due_date", attempt.DueDate.Format(dateLayout))
	reason := cause.Error()

	settlement := domain.AttemptSettlement{
		AttemptID:      attempt.ID,
		GatewayOrderID: state.gatewayOrderID,
		CompletedAt:    now,
	}
	if state.gatewayOrderID != nil && state.link != nil {
		var gatewayTxID *string
		if state.result != nil && state.result.ID != "" {
			id := state.result.ID.String()
			gatewayTxID = &id
		}
		tx, err := s.repo.InsertTransaction(recordCtx, s.newTransaction(sub, attempt, state, domain.TransactionFailed, gatewayTxID, &reason, &now))
		if err != nil {
			logger.Error("failed to record failed transaction", "error", err)
		} else {
			settlement.TransactionID = &tx.ID
		}
	}

	outcome, err := s.completeFailure(recordCtx, sub, state.link, settlement, reason, now)
	if err != nil {
		logger.Error("failed to apply failure policy", "error", err)
		return outcomeError
	}
	return outcome
}

// completeSuccess closes the attempt as succeeded and advances the subscription
// in one write, then notifies. It reports false when the attempt was already
// settled elsewhere. A cancelled subscription is left as it is.
func (s *BillingService) completeSuccess(ctx context.Context, sub domain.Subscription, link *domain.PaymentLink, settlement domain.AttemptSettlement, transactionID string, chargedAt time.Time) (bool, error) {
	settlement.Status = domain.AttemptSucceeded
	if transactionID != "" {
		settlement.TransactionID = &transactionID
	}
	var update domain.SubscriptionSuccess
	if sub.Status != domain.SubscriptionCancelled {
		update = s.policy.OnSuccess(sub, transactionID, chargedAt)
		settlement.Success = &update
	}

	settled, err := s.repo.SettleChargeAttempt(ctx, settlement)
	if err != nil {
		return false, err
	}
	logger := s.logger.With("subscription_id", sub.ID, "attempt_id", settlement.AttemptID)
	if !settled {
		logger.Info("charge attempt already settled")
		return false, nil
	}
	if settlement.Success == nil {
		logger.Warn("payment confirmed for cancelled subscription; subscription left cancelled")
		return true, nil
	}

	sub.RetryCount = 0
	sub.TotalPaymentsMade++
	sub.LastTransactionID = &transactionID
	if update.NextPaymentDate.After(sub.NextPaymentDate) {
		sub.NextPaymentDate = update.NextPaymentDate
	}

	if err := s.notifier.PaymentSucceeded(ctx, sub, link, transactionID, sub.NextPaymentDate); err != nil {
		logger.Error("failed to send payment processed email", "error", err)
	}
	s.publishEvent(ctx, domain.EventSubscriptionCharged, sub, &transactionID, nil)
	return true, nil
}

// completeFailure closes the attempt as failed and persists the retry policy
// decision in one write, then notifies the customer (and the operator on
// cancellation). An already settled attempt yields outcomeSkipped.
func (s *BillingService) completeFailure(ctx context.Context, sub domain.Subscription, link *domain.PaymentLink, settlement domain.AttemptSettlement, reason string, failedAt time.Time) (chargeOutcome, error) {
	settlement.Status = domain.AttemptFailed
	settlement.FailureReason = &reason
	var decision domain.SubscriptionFailure
	if sub.Status != domain.SubscriptionCancelled {
		decision = s.policy.OnFailure(sub, failedAt)
		settlement.Failure = &decision
	}

	settled, err := s.repo.SettleChargeAttempt(ctx, settlement)
	if err != nil {
		return outcomeError, err
	}
	logger := s.logger.With("subscription_id", sub.ID, "attempt_id", settlement.AttemptID)
	if !settled {
		logger.Info("charge attempt already settled")
		return outcomeSkipped, nil
	}
	if settlement.Failure == nil {
		return outcomeRetry, nil
	}

	if decision.Cancel {
		sub.Status = domain.SubscriptionCancelled
		sub.CancellationReason = &decision.Reason
		sub.CancelledAt = &decision.CancelledAt
		logger.Warn("subscription cancelled after repeated failures", "retry_count", sub.RetryCount)

		if err := s.notifier.SubscriptionCancelled(ctx, sub, link, decision.Reason); err != nil {
			logger.Error("failed to send cancellation email", "error", err)
		}
		if err := s.notifier.OperatorCancellation(ctx, sub, link, decision.Reason, decision.CancelledAt); err != nil {
			logger.Error("failed to send operator cancellation email", "error", err)
		}
		s.publishEvent(ctx, domain.EventSubscriptionCancelled, sub, nil, &reason)
		return outcomeCancelled, nil
	}

	sub.RetryCount = decision.RetryCount
	if decision.NextPaymentDate.After(sub.NextPaymentDate) {
		sub.NextPaymentDate = decision.NextPaymentDate
	}
	logger.Info("retry scheduled", "retry_count", sub.RetryCount, "next_payment_date", sub.NextPaymentDate)

	if err := s.notifier.RetryScheduled(ctx, sub, link, decision.RetryCount, s.policy.MaxRetries, sub.NextPaymentDate, reason); err != nil {
		logger.Error("failed to send retry scheduled email", "error", err)
	}
	s.publishEvent(ctx, domain.EventSubscriptionRetryScheduled, sub, nil, &reason)
	return outcomeRetry, nil
}

func (s *BillingService) publishEvent(ctx context.Context, routingKey string, sub domain.Subscription, transactionID, failureReason *string) {
	s.events.subscription(ctx, routingKey, sub, transactionID, failureReason)
}
