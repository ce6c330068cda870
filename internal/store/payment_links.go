package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

const paymentLinkColumns = `
	id, slug, title, description, amount, currency, link_type, max_uses,
	use_count, expires_at, is_active, created_at, updated_at`

func scanPaymentLink(row pgx.Row) (*domain.PaymentLink, error) {
	var link domain.PaymentLink
	if err := row.Scan(
		&link.ID,
		&link.Slug,
		&link.Title,
		&link.Description,
		&link.Amount,
		&link.Currency,
		&link.LinkType,
		&link.MaxUses,
		&link.UseCount,
		&link.ExpiresAt,
		&link.IsActive,
		&link.CreatedAt,
		&link.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

// GetPaymentLink retrieves a payment link by ID.
func (r *Repository) GetPaymentLink(ctx context.Context, id string) (*domain.PaymentLink, error) {
	return scanPaymentLink(r.db.QueryRow(ctx, `SELECT `+paymentLinkColumns+` FROM payment_links WHERE id = $1`, id))
}

// GetPaymentLinkBySlug retrieves a payment link by its public slug.
func (r *Repository) GetPaymentLinkBySlug(ctx context.Context, slug string) (*domain.PaymentLink, error) {
	return scanPaymentLink(r.db.QueryRow(ctx, `SELECT `+paymentLinkColumns+` FROM payment_links WHERE slug = $1`, slug))
}

// incrementLinkUse counts one completed payment against the link's usage limit.
// It reports false when the link has no uses left.
func incrementLinkUse(ctx context.Context, db execer, id string) (bool, error) {
	query := `
		UPDATE payment_links
		SET use_count = use_count + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND (max_uses IS NULL OR use_count < max_uses)
	`
	tag, err := db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("increment link use: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
