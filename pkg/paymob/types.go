package paymob

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ID accepts gateway identifiers that arrive either as JSON numbers or strings.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// OrderRequest describes an order to register with the gateway.
type OrderRequest struct {
	AmountCents     int64
	Currency        string
	MerchantOrderID string
}

// Order is the gateway's order record.
type Order struct {
	ID              ID     `json:"id"`
	MerchantOrderID string `json:"merchant_order_id"`
}

// PaymentKeyRequest describes a payment key to issue for an order.
type PaymentKeyRequest struct {
	AmountCents       int64
	Currency          string
	OrderID           ID
	Billing           BillingData
	ExpirationSeconds int
}

// BillingData is the customer block the gateway requires on every payment key.
type BillingData struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	PhoneNumber    string `json:"phone_number"`
	Apartment      string `json:"apartment"`
	Floor          string `json:"floor"`
	Street         string `json:"street"`
	Building       string `json:"building"`
	ShippingMethod string `json:"shipping_method"`
	PostalCode     string `json:"postal_code"`
	City           string `json:"city"`
	Country        string `json:"country"`
	State          string `json:"state"`
}

// NewBillingData fills the address fields the gateway insists on with "NA".
func NewBillingData(fullName, email, phone string) BillingData {
	first, last := splitName(fullName)
	if phone == "" {
		phone = "NA"
	}
	return BillingData{
		FirstName:      first,
		LastName:       last,
		Email:          email,
		PhoneNumber:    phone,
		Apartment:      "NA",
		Floor:          "NA",
		Street:         "NA",
		Building:       "NA",
		ShippingMethod: "NA",
		PostalCode:     "NA",
		City:           "NA",
		Country:        "NA",
		State:          "NA",
	}
}

func splitName(fullName string) (string, string) {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return "NA", "NA"
	case 1:
		return parts[0], "NA"
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// PaymentResult is the gateway's answer to a token charge.
type PaymentResult struct {
	ID      ID   `json:"id"`
	Success bool `json:"success"`
	Pending bool `json:"pending"`
	Data    struct {
		Message string `json:"message"`
	} `json:"data"`
	DataMessage string `json:"data.message"`
}

// Message returns the gateway's reason text, if any.
func (r PaymentResult) Message() string {
	if r.Data.Message != "" {
		return r.Data.Message
	}
	return r.DataMessage
}

type authRequest struct {
	APIKey string `json:"api_key"`
}

type authResponse struct {
	Token string `json:"token"`
}

type orderRequest struct {
	AuthToken       string `json:"auth_token"`
	DeliveryNeeded  bool   `json:"delivery_needed"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	MerchantOrderID string `json:"merchant_order_id"`
	Items           []any  `json:"items"`
}

type paymentKeyRequest struct {
	AuthToken     string      `json:"auth_token"`
	AmountCents   int64       `json:"amount_cents"`
	Expiration    int         `json:"expiration"`
	OrderID       ID          `json:"order_id"`
	BillingData   BillingData `json:"billing_data"`
	Currency      string      `json:"currency"`
	IntegrationID int64       `json:"integration_id"`
}

type paymentKeyResponse struct {
	Token string `json:"token"`
}

type paySource struct {
	Identifier string `json:"identifier"`
	Subtype    string `json:"subtype"`
}

type payRequest struct {
	Source       paySource `json:"source"`
	PaymentToken string    `json:"payment_token"`
}
