package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `
	id, payment_link_id, subscription_id, merchant_order_id, gateway_order_id,
	gateway_transaction_id, amount, currency, converted_amount_cents, settlement_currency,
	exchange_rate, status, customer_email, card_token, failure_reason, created_at, completed_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := row.Scan(
		&tx.ID,
		&tx.PaymentLinkID,
		&tx.SubscriptionID,
		&tx.MerchantOrderID,
		&tx.GatewayOrderID,
		&tx.GatewayTransactionID,
		&tx.Amount,
		&tx.Currency,
		&tx.ConvertedAmountCents,
		&tx.SettlementCurrency,
		&tx.ExchangeRate,
		&tx.Status,
		&tx.CustomerEmail,
		&tx.CardToken,
		&tx.FailureReason,
		&tx.CreatedAt,
		&tx.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// InsertTransaction records one payment attempt's outcome.
func (r *Repository) InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	query := `
		INSERT INTO payment_transactions (
			payment_link_id, subscription_id, merchant_order_id, gateway_order_id,
			gateway_transaction_id, amount, currency, converted_amount_cents,
			settlement_currency, exchange_rate, status, customer_email, failure_reason, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + transactionColumns
	created, err := scanTransaction(r.db.QueryRow(ctx, query,
		tx.PaymentLinkID,
		tx.SubscriptionID,
		tx.MerchantOrderID,
		tx.GatewayOrderID,
		tx.GatewayTransactionID,
		tx.Amount,
		tx.Currency,
		tx.ConvertedAmountCents,
		tx.SettlementCurrency,
		tx.ExchangeRate,
		tx.Status,
		tx.CustomerEmail,
		tx.FailureReason,
		tx.CompletedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return created, nil
}

// completePendingTransaction moves a pending transaction to its terminal status.
// Terminal rows are never rewritten; it reports false when nothing changed.
func completePendingTransaction(ctx context.Context, db execer, id, status string, gatewayTransactionID, failureReason *string, completedAt time.Time) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = $2,
		    gateway_transaction_id = COALESCE($3, gateway_transaction_id),
		    failure_reason = $4,
		    completed_at = $5
		WHERE id = $1
		  AND status = 'pending'
	`
	tag, err := db.Exec(ctx, query, id, status, gatewayTransactionID, failureReason, completedAt)
	if err != nil {
		return false, fmt.Errorf("complete pending transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteCheckoutTransaction settles a pending checkout transaction and, when
// it succeeded, counts the payment against its link in the same write. counted
// is false when the link had no uses left; the payment is recorded regardless.
func (r *Repository) CompleteCheckoutTransaction(ctx context.Context, id, paymentLinkID, status string, gatewayTransactionID, failureReason *string, completedAt time.Time) (changed, counted bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, false, fmt.Errorf("begin checkout completion: %w", err)
	}
	defer tx.Rollback(ctx)

	changed, err = completePendingTransaction(ctx, tx, id, status, gatewayTransactionID, failureReason, completedAt)
	if err != nil || !changed {
		return false, false, err
	}
	if status == domain.TransactionSuccess {
		counted, err = incrementLinkUse(ctx, tx, paymentLinkID)
		if err != nil {
			return false, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, false, fmt.Errorf("commit checkout completion: %w", err)
	}
	return true, counted, nil
}

// GetTransactionByMerchantOrderID retrieves a transaction by the order id we issued.
func (r *Repository) GetTransactionByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE merchant_order_id = $1`, merchantOrderID))
}

// GetTransactionByGatewayOrderID retrieves the most recent transaction for a gateway order.
func (r *Repository) GetTransactionByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE gateway_order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanTransaction(r.db.QueryRow(ctx, query, gatewayOrderID))
}
