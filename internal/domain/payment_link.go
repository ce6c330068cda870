/**
 * @description
 * Payment link models. A link is a reusable, parameterized request for payment.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Link types.
const (
	LinkTypeOneTime = "one_time"
	LinkTypeMonthly = "monthly"
)

// Link availability states.
const (
	LinkStateActive    = "active"
	LinkStateExpired   = "expired"
	LinkStateExhausted = "exhausted"
	LinkStateDisabled  = "disabled"
)

// PaymentLink is the configuration a customer pays against.
type PaymentLink struct {
	ID          string          `json:"id"`
	Slug        string          `json:"slug"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	LinkType    string          `json:"link_type"`
	MaxUses     *int            `json:"max_uses,omitempty"`
	UseCount    int             `json:"use_count"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// State reports whether the link can still be paid at the given instant.
func (l PaymentLink) State(now time.Time) string {
	if !l.IsActive {
		return LinkStateDisabled
	}
	if l.ExpiresAt != nil && !now.Before(*l.ExpiresAt) {
		return LinkStateExpired
	}
	if l.MaxUses != nil && l.UseCount >= *l.MaxUses {
		return LinkStateExhausted
	}
	return LinkStateActive
}

// IsRecurring reports whether paying the link creates a subscription.
func (l PaymentLink) IsRecurring() bool {
	return l.LinkType == LinkTypeMonthly
}

// PaymentLinkView is the public representation returned to the checkout page.
type PaymentLinkView struct {
	PaymentLink
	State string `json:"state"`
}
