package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

// GetExchangeRate returns the stored rate from one currency into another.
func (r *Repository) GetExchangeRate(ctx context.Context, from, to string) (*domain.ExchangeRate, error) {
	query := `
		SELECT from_currency, to_currency, rate, updated_at
		FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2
	`
	var rate domain.ExchangeRate
	err := r.db.QueryRow(ctx, query, from, to).Scan(&rate.FromCurrency, &rate.ToCurrency, &rate.Rate, &rate.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get exchange rate: %w", err)
	}
	return &rate, nil
}

// UpsertExchangeRate creates or replaces a currency pair's rate.
func (r *Repository) UpsertExchangeRate(ctx context.Context, rate domain.ExchangeRate) (*domain.ExchangeRate, error) {
	query := `
		INSERT INTO exchange_rates (from_currency, to_currency, rate, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (from_currency, to_currency)
		DO UPDATE SET rate = EXCLUDED.rate, updated_at = NOW()
		RETURNING from_currency, to_currency, rate, updated_at
	`
	var saved domain.ExchangeRate
	err := r.db.QueryRow(ctx, query, rate.FromCurrency, rate.ToCurrency, rate.Rate).
		Scan(&saved.FromCurrency, &saved.ToCurrency, &saved.Rate, &saved.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert exchange rate: %w", err)
	}
	return &saved, nil
}
