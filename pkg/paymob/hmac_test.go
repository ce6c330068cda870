package paymob

import (
	"errors"
	"testing"
)

const transactionBody = `{
  "type": "TRANSACTION",
  "obj": {
    "id": 192036465,
    "pending": false,
    "amount_cents": 100000,
    "success": true,
    "is_auth": false,
    "is_capture": false,
    "is_standalone_payment": true,
    "is_voided": false,
    "is_refunded": false,
    "is_3d_secure": true,
    "integration_id": 4097558,
    "has_parent_transaction": false,
    "order": {"id": 217503754, "merchant_order_id": "sub:abc:2026-10-15:xyz"},
    "created_at": "2026-10-15T10:00:00.000000",
    "currency": "EGP",
    "source_data": {"pan": "2346", "type": "card", "sub_type": "MasterCard"},
    "error_occured": false,
    "owner": 1600,
    "data": {"message": "Approved"}
  }
}`

func TestParseTransactionCallback(t *testing.T) {
	message := "100000" + "2026-10-15T10:00:00.000000" + "EGP" + "false" + "false" + "192036465" + "4097558" +
		"true" + "false" + "false" + "false" + "true" + "false" + "217503754" + "1600" + "false" +
		"2346" + "MasterCard" + "card" + "true"
	signature := Sign("secret", message)

	kind, obj, err := ParseCallback("secret", []byte(transactionBody), signature)
	if err != nil {
		t.Fatalf("parse callback: %v", err)
	}
	if kind != CallbackTransaction {
		t.Fatalf("kind = %q", kind)
	}
	tx := obj.(*TransactionCallback)
	if !tx.Success || tx.Order.MerchantOrderID != "sub:abc:2026-10-15:xyz" || tx.Order.ID != "217503754" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
}

func TestParseCallbackRejectsTamperedBody(t *testing.T) {
	message := "100000" + "2026-10-15T10:00:00.000000" + "EGP" + "false" + "false" + "192036465" + "4097558" +
		"true" + "false" + "false" + "false" + "true" + "false" + "217503754" + "1600" + "false" +
		"2346" + "MasterCard" + "card" + "false"
	signature := Sign("secret", message)

	if _, _, err := ParseCallback("secret", []byte(transactionBody), signature); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if _, _, err := ParseCallback("", []byte(transactionBody), signature); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected empty secret to reject, got %v", err)
	}
}

func TestParseTokenCallback(t *testing.T) {
	body := `{"type":"TOKEN","obj":{"id":8,"token":"tok_abc","masked_pan":"xxxx-2346","merchant_id":1600,
		"card_subtype":"MasterCard","created_at":"2026-10-15T10:00:01","email":"ada@example.com","order_id":"217503754"}}`
	message := "MasterCard" + "2026-10-15T10:00:01" + "ada@example.com" + "8" + "xxxx-2346" + "1600" + "217503754" + "tok_abc"

	kind, obj, err := ParseCallback("secret", []byte(body), Sign("secret", message))
	if err != nil {
		t.Fatalf("parse token callback: %v", err)
	}
	if kind != CallbackToken || obj.(*TokenCallback).Token != "tok_abc" {
		t.Fatalf("unexpected token callback %q %+v", kind, obj)
	}
}

func TestParseCallbackUnknownType(t *testing.T) {
	if _, _, err := ParseCallback("secret", []byte(`{"type":"DELIVERY_STATUS","obj":{}}`), "x"); !errors.Is(err, ErrMalformedCallback) {
		t.Fatalf("expected ErrMalformedCallback, got %v", err)
	}
	if _, _, err := ParseCallback("secret", []byte(`not json`), "x"); !errors.Is(err, ErrMalformedCallback) {
		t.Fatalf("expected ErrMalformedCallback for bad body, got %v", err)
	}
}

func TestTransactionCallbackCustomerName(t *testing.T) {
	var tx TransactionCallback
	tx.Order.ShippingData.FirstName = "Natasha"
	tx.Order.ShippingData.LastName = "NA"
	if got := tx.CustomerName(); got != "Natasha" {
		t.Fatalf("CustomerName = %q", got)
	}
}
