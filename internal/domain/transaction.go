/**
 * @description
 * Payment transaction and exchange rate models.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction statuses. A pending transaction moves once to success or failed.
const (
	TransactionPending = "pending"
	TransactionSuccess = "success"
	TransactionFailed  = "failed"
)

// Transaction is the record of one payment attempt's outcome.
type Transaction struct {
	ID                   string          `json:"id"`
	PaymentLinkID        string          `json:"payment_link_id"`
	SubscriptionID       *string         `json:"subscription_id,omitempty"`
	MerchantOrderID      string          `json:"merchant_order_id"`
	GatewayOrderID       *string         `json:"gateway_order_id,omitempty"`
	GatewayTransactionID *string         `json:"gateway_transaction_id,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	ConvertedAmountCents int64           `json:"converted_amount_cents"`
	SettlementCurrency   string          `json:"settlement_currency"`
	ExchangeRate         decimal.Decimal `json:"exchange_rate"`
	Status               string          `json:"status"`
	CustomerEmail        string          `json:"customer_email"`
	CardToken            *string         `json:"-"`
	FailureReason        *string         `json:"failure_reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// ExchangeRate converts one unit of FromCurrency into ToCurrency.
type ExchangeRate struct {
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
