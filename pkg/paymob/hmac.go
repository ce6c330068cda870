package paymob

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Callback types sent to the processed-callback URL.
const (
	CallbackTransaction = "TRANSACTION"
	CallbackToken       = "TOKEN"
)

// Callback is the envelope of a processed callback.
type Callback struct {
	Type string          `json:"type"`
	Obj  json.RawMessage `json:"obj"`
}

// TransactionCallback is the transaction object of a TRANSACTION callback.
type TransactionCallback struct {
	ID                   ID     `json:"id"`
	AmountCents          int64  `json:"amount_cents"`
	CreatedAt            string `json:"created_at"`
	Currency             string `json:"currency"`
	ErrorOccured         bool   `json:"error_occured"`
	HasParentTransaction bool   `json:"has_parent_transaction"`
	IntegrationID        ID     `json:"integration_id"`
	Is3DSecure           bool   `json:"is_3d_secure"`
	IsAuth               bool   `json:"is_auth"`
	IsCapture            bool   `json:"is_capture"`
	IsRefunded           bool   `json:"is_refunded"`
	IsStandalonePayment  bool   `json:"is_standalone_payment"`
	IsVoided             bool   `json:"is_voided"`
	Owner                ID     `json:"owner"`
	Pending              bool   `json:"pending"`
	Success              bool   `json:"success"`
	Order                struct {
		ID              ID     `json:"id"`
		MerchantOrderID string `json:"merchant_order_id"`
		ShippingData    struct {
			FirstName   string `json:"first_name"`
			LastName    string `json:"last_name"`
			Email       string `json:"email"`
			PhoneNumber string `json:"phone_number"`
		} `json:"shipping_data"`
	} `json:"order"`
	SourceData struct {
		Pan     string `json:"pan"`
		SubType string `json:"sub_type"`
		Type    string `json:"type"`
	} `json:"source_data"`
	Data struct {
		Message string `json:"message"`
	} `json:"data"`
}

// CustomerName joins the payer's name from the order's shipping data.
// Placeholder "NA" parts are dropped.
func (t TransactionCallback) CustomerName() string {
	var parts []string
	for _, p := range []string{t.Order.ShippingData.FirstName, t.Order.ShippingData.LastName} {
		if p = strings.TrimSpace(p); p != "" && p != "NA" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// TokenCallback is the card token object of a TOKEN callback.
type TokenCallback struct {
	ID          ID     `json:"id"`
	Token       string `json:"token"`
	MaskedPan   string `json:"masked_pan"`
	MerchantID  ID     `json:"merchant_id"`
	CardSubtype string `json:"card_subtype"`
	CreatedAt   string `json:"created_at"`
	Email       string `json:"email"`
	OrderID     ID     `json:"order_id"`
}

// signedString concatenates the transaction fields in the gateway's fixed order.
func (t TransactionCallback) signedString() string {
	fields := []string{
		strconv.FormatInt(t.AmountCents, 10),
		t.CreatedAt,
		t.Currency,
		strconv.FormatBool(t.ErrorOccured),
		strconv.FormatBool(t.HasParentTransaction),
		t.ID.String(),
		t.IntegrationID.String(),
		strconv.FormatBool(t.Is3DSecure),
		strconv.FormatBool(t.IsAuth),
		strconv.FormatBool(t.IsCapture),
		strconv.FormatBool(t.IsRefunded),
		strconv.FormatBool(t.IsStandalonePayment),
		strconv.FormatBool(t.IsVoided),
		t.Order.ID.String(),
		t.Owner.String(),
		strconv.FormatBool(t.Pending),
		t.SourceData.Pan,
		t.SourceData.SubType,
		t.SourceData.Type,
		strconv.FormatBool(t.Success),
	}
	return strings.Join(fields, "")
}

func (t TokenCallback) signedString() string {
	fields := []string{
		t.CardSubtype,
		t.CreatedAt,
		t.Email,
		t.ID.String(),
		t.MaskedPan,
		t.MerchantID.String(),
		t.OrderID.String(),
		t.Token,
	}
	return strings.Join(fields, "")
}

// Signature returns the hmac value the gateway sends with this callback.
func (t TransactionCallback) Signature(secret string) string {
	return Sign(secret, t.signedString())
}

// Signature returns the hmac value the gateway sends with this callback.
func (t TokenCallback) Signature(secret string) string {
	return Sign(secret, t.signedString())
}

// Sign computes the hex HMAC-SHA512 the gateway attaches to a callback.
func Sign(secret, message string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret, message, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	expected := Sign(secret, message)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}

// ParseCallback verifies a processed callback body against its hmac query value
// and decodes the object for its type. It returns *TransactionCallback or *TokenCallback.
func ParseCallback(secret string, body []byte, providedHMAC string) (string, any, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	switch cb.Type {
	case CallbackTransaction:
		var tx TransactionCallback
		if err := json.Unmarshal(cb.Obj, &tx); err != nil {
			return "", nil, fmt.Errorf("%w: transaction: %v", ErrMalformedCallback, err)
		}
		if !verify(secret, tx.signedString(), providedHMAC) {
			return "", nil, ErrInvalidSignature
		}
		return cb.Type, &tx, nil
	case CallbackToken:
		var tok TokenCallback
		if err := json.Unmarshal(cb.Obj, &tok); err != nil {
			return "", nil, fmt.Errorf("%w: token: %v", ErrMalformedCallback, err)
		}
		if !verify(secret, tok.signedString(), providedHMAC) {
			return "", nil, ErrInvalidSignature
		}
		return cb.Type, &tok, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported type %q", ErrMalformedCallback, cb.Type)
	}
}
