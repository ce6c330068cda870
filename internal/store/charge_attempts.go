package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

const chargeAttemptColumns = `
	id, subscription_id, due_date, attempt_number, status, merchant_order_id,
	gateway_order_id, transaction_id, failure_reason, attempted_at, completed_at`

func scanChargeAttempt(row pgx.Row) (*domain.ChargeAttempt, error) {
	var attempt domain.ChargeAttempt
	if err := row.Scan(
		&attempt.ID,
		&attempt.SubscriptionID,
		&attempt.DueDate,
		&attempt.AttemptNumber,
		&attempt.Status,
		&attempt.MerchantOrderID,
		&attempt.GatewayOrderID,
		&attempt.TransactionID,
		&attempt.FailureReason,
		&attempt.AttemptedAt,
		&attempt.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ClaimChargeAttempt records the claim for a subscription's due date before any
// gateway call is made. It returns nil when the due date was already claimed.
func (r *Repository) ClaimChargeAttempt(ctx context.Context, subscriptionID string, dueDate time.Time, attemptNumber int, merchantOrderID string, attemptedAt time.Time) (*domain.ChargeAttempt, error) {
	query := `
		INSERT INTO charge_attempts (
			subscription_id, due_date, attempt_number, status, merchant_order_id, attempted_at
		)
		VALUES ($1, $2::DATE, $3, 'claimed', $4, $5)
		ON CONFLICT (subscription_id, due_date) DO NOTHING
		RETURNING ` + chargeAttemptColumns
	attempt, err := scanChargeAttempt(r.db.QueryRow(ctx, query, subscriptionID, dueDate, attemptNumber, merchantOrderID, attemptedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim charge attempt: %w", err)
	}
	return attempt, nil
}

// MarkAttemptPending moves a claimed attempt to pending_confirmation once the
// gateway order exists and the charge awaits the webhook.
func (r *Repository) MarkAttemptPending(ctx context.Context, attemptID, gatewayOrderID, transactionID string) error {
	query := `
		UPDATE charge_attempts
		SET status = 'pending_confirmation',
		    gateway_order_id = $2,
		    transaction_id = $3
		WHERE id = $1
		  AND status = 'claimed'
	`
	tag, err := r.db.Exec(ctx, query, attemptID, gatewayOrderID, transactionID)
	if err != nil {
		return fmt.Errorf("mark attempt pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SettleChargeAttempt closes an open attempt and writes the transaction and
// subscription changes of its outcome in one database transaction. It reports
// false, writing nothing, when the attempt was already terminal.
func (r *Repository) SettleChargeAttempt(ctx context.Context, s domain.AttemptSettlement) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin attempt settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE charge_attempts
		SET status = $2,
		    gateway_order_id = COALESCE($3, gateway_order_id),
		    transaction_id = COALESCE($4, transaction_id),
		    failure_reason = $5,
		    completed_at = $6
		WHERE id = $1
		  AND status IN ('claimed', 'pending_confirmation')
	`
	tag, err := tx.Exec(ctx, query, s.AttemptID, s.Status, s.GatewayOrderID, s.TransactionID, s.FailureReason, s.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("complete charge attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if s.TransactionStatus != "" && s.TransactionID != nil {
		if _, err := completePendingTransaction(ctx, tx, *s.TransactionID, s.TransactionStatus, s.GatewayTransactionID, s.FailureReason, s.CompletedAt); err != nil {
			return false, err
		}
	}
	switch {
	case s.Success != nil:
		err = applySubscriptionSuccess(ctx, tx, *s.Success)
	case s.Failure != nil:
		err = applySubscriptionFailure(ctx, tx, *s.Failure)
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit attempt settlement: %w", err)
	}
	return true, nil
}

// GetChargeAttemptByMerchantOrderID resolves the attempt behind a gateway callback.
func (r *Repository) GetChargeAttemptByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.ChargeAttempt, error) {
	query := `SELECT ` + chargeAttemptColumns + ` FROM charge_attempts WHERE merchant_order_id = $1`
	attempt, err := scanChargeAttempt(r.db.QueryRow(ctx, query, merchantOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return attempt, nil
}

// ListStaleAttempts returns attempts opened before the cutoff that are still
// open: charges awaiting the gateway and claims whose run never finished.
func (r *Repository) ListStaleAttempts(ctx context.Context, cutoff time.Time) ([]domain.ChargeAttempt, error) {
	query := `
		SELECT ` + chargeAttemptColumns + `
		FROM charge_attempts
		WHERE status IN ('claimed', 'pending_confirmation')
		  AND attempted_at < $1
		ORDER BY attempted_at ASC
	`
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.ChargeAttempt
	for rows.Next() {
		attempt, err := scanChargeAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *attempt)
	}
	return attempts, rows.Err()
}
