package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/awnexus/billing-service/internal/store"
	"github.com/shopspring/decimal"
)

// ErrExchangeRateMissing is returned in strict mode when no rate row exists.
var ErrExchangeRateMissing = errors.New("exchange rate missing")

// RateSource loads stored exchange rates.
type RateSource interface {
	GetExchangeRate(ctx context.Context, from, to string) (*domain.ExchangeRate, error)
}

// Converter turns link amounts into settlement-currency minor units.
type Converter struct {
	rates      RateSource
	settlement string
	strict     bool
	warn       func(msg string, args ...any)
}

// NewConverter creates a converter into the settlement currency.
func NewConverter(rates RateSource, settlement string, strict bool, logger *slog.Logger) Converter {
	c := Converter{rates: rates, settlement: strings.ToUpper(settlement), strict: strict}
	if logger != nil {
		c.warn = logger.Warn
	}
	return c
}

// Conversion is the outcome of converting one amount.
type Conversion struct {
	Rate        decimal.Decimal
	AmountCents int64
	Currency    string
	Fallback    bool
}

// Convert converts amount in currency into settlement cents. A missing rate
// falls back to parity unless the converter is strict.
func (c Converter) Convert(ctx context.Context, amount decimal.Decimal, currency string) (Conversion, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	rate := decimal.NewFromInt(1)
	fallback := false

	if currency != c.settlement {
		stored, err := c.rates.GetExchangeRate(ctx, currency, c.settlement)
		switch {
		case err == nil:
			rate = stored.Rate
		case errors.Is(err, store.ErrNotFound):
			if c.strict {
				return Conversion{}, fmt.Errorf("%w: %s to %s", ErrExchangeRateMissing, currency, c.settlement)
			}
			fallback = true
			if c.warn != nil {
				c.warn("exchange rate missing, charging at parity", "from", currency, "to", c.settlement)
			}
		default:
			return Conversion{}, fmt.Errorf("load exchange rate: %w", err)
		}
	}

	return Conversion{
		Rate:        rate,
		AmountCents: toMinorUnits(amount, rate),
		Currency:    c.settlement,
		Fallback:    fallback,
	}, nil
}

func toMinorUnits(amount, rate decimal.Decimal) int64 {
	return amount.Mul(rate).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
