package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `
	id, payment_link_id, customer_email, customer_name, customer_phone, status,
	next_payment_date, retry_count, total_payments_made, last_transaction_id,
	card_token, cancellation_reason, cancelled_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.PaymentLinkID,
		&sub.CustomerEmail,
		&sub.CustomerName,
		&sub.CustomerPhone,
		&sub.Status,
		&sub.NextPaymentDate,
		&sub.RetryCount,
		&sub.TotalPaymentsMade,
		&sub.LastTransactionID,
		&sub.CardToken,
		&sub.CancellationReason,
		&sub.CancelledAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ListDueSubscriptions fetches active subscriptions whose next payment date has arrived.
// Paused and cancelled rows are never returned, whatever their next payment date.
func (r *Repository) ListDueSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM recurring_subscriptions
		WHERE status = 'active'
		  AND next_payment_date <= $1
		ORDER BY next_payment_date ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// ListSubscriptions returns subscriptions, optionally filtered by status.
func (r *Repository) ListSubscriptions(ctx context.Context, status string, limit int) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM recurring_subscriptions
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// GetSubscription retrieves a subscription by ID.
func (r *Repository) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM recurring_subscriptions WHERE id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

// CreateSubscription inserts a subscription created from a paid monthly link.
// originOrderID makes the insert idempotent for repeated webhook deliveries;
// created is false when the subscription already existed.
func (r *Repository) CreateSubscription(ctx context.Context, sub *domain.Subscription, originOrderID string) (*domain.Subscription, bool, error) {
	query := `
		INSERT INTO recurring_subscriptions (
			payment_link_id, customer_email, customer_name, customer_phone, status,
			next_payment_date, retry_count, total_payments_made, last_transaction_id, card_token, origin_order_id
		)
		VALUES ($1, $2, $3, $4, 'active', $5, 0, $6, $7, $8, $9)
		ON CONFLICT (origin_order_id) DO NOTHING
		RETURNING ` + subscriptionColumns
	created, err := scanSubscription(r.db.QueryRow(ctx, query,
		sub.PaymentLinkID,
		sub.CustomerEmail,
		sub.CustomerName,
		sub.CustomerPhone,
		sub.NextPaymentDate,
		sub.TotalPaymentsMade,
		sub.LastTransactionID,
		sub.CardToken,
		originOrderID,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create subscription: %w", err)
	}

	existing, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM recurring_subscriptions WHERE origin_order_id = $1`, originOrderID))
	if err != nil {
		return nil, false, fmt.Errorf("load existing subscription: %w", err)
	}
	return existing, false, nil
}

// applySubscriptionSuccess records a confirmed payment: retries reset, counter
// incremented and the next payment date moved forward.
func applySubscriptionSuccess(ctx context.Context, db execer, s domain.SubscriptionSuccess) error {
	query := `
		UPDATE recurring_subscriptions
		SET retry_count = 0,
		    total_payments_made = total_payments_made + 1,
		    last_transaction_id = $2,
		    next_payment_date = GREATEST(next_payment_date, $3),
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := db.Exec(ctx, query, s.SubscriptionID, s.TransactionID, s.NextPaymentDate)
	if err != nil {
		return fmt.Errorf("apply subscription success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// applySubscriptionFailure records a failed payment, either rescheduling a retry
// or cancelling the subscription.
func applySubscriptionFailure(ctx context.Context, db execer, f domain.SubscriptionFailure) error {
	var (
		query string
		args  []any
	)
	if f.Cancel {
		query = `
			UPDATE recurring_subscriptions
			SET status = 'cancelled',
			    cancelled_at = $2,
			    cancellation_reason = $3,
			    updated_at = NOW()
			WHERE id = $1
		`
		args = []any{f.SubscriptionID, f.CancelledAt, f.Reason}
	} else {
		query = `
			UPDATE recurring_subscriptions
			SET retry_count = $2,
			    next_payment_date = GREATEST(next_payment_date, $3),
			    updated_at = NOW()
			WHERE id = $1
		`
		args = []any{f.SubscriptionID, f.RetryCount, f.NextPaymentDate}
	}

	tag, err := db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply subscription failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSubscriptionStatus moves a subscription between active and paused.
// Cancelled subscriptions are terminal and are left untouched.
func (r *Repository) UpdateSubscriptionStatus(ctx context.Context, id, status string) (*domain.Subscription, error) {
	query := `
		UPDATE recurring_subscriptions
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND status <> 'cancelled'
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update subscription status: %w", err)
	}
	return sub, nil
}

// CancelSubscription cancels a subscription on operator request.
func (r *Repository) CancelSubscription(ctx context.Context, id, reason string, at time.Time) (*domain.Subscription, error) {
	query := `
		UPDATE recurring_subscriptions
		SET status = 'cancelled',
		    cancelled_at = $2,
		    cancellation_reason = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND status <> 'cancelled'
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id, at, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	return sub, nil
}

// SaveCardTokenForOrder stores a gateway card token against the transaction of
// the given gateway order and against the subscription that order belongs to,
// if it already exists. Subscriptions created later copy the token from the
// transaction. It returns the number of transactions matched.
func (r *Repository) SaveCardTokenForOrder(ctx context.Context, gatewayOrderID, token string) (int64, error) {
	query := `
		WITH tx AS (
			UPDATE payment_transactions
			SET card_token = $2
			WHERE gateway_order_id = $1
			RETURNING subscription_id, merchant_order_id
		), sub AS (
			UPDATE recurring_subscriptions s
			SET card_token = $2,
			    updated_at = NOW()
			FROM tx
			WHERE s.id = tx.subscription_id
			   OR s.origin_order_id = tx.merchant_order_id
			RETURNING s.id
		)
		SELECT (SELECT COUNT(*) FROM tx), (SELECT COUNT(*) FROM sub)
	`
	var matched, subscriptions int64
	if err := r.db.QueryRow(ctx, query, gatewayOrderID, token).Scan(&matched, &subscriptions); err != nil {
		return 0, fmt.Errorf("save card token: %w", err)
	}
	return matched, nil
}
