package paymob

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newGateway(t *testing.T, payAnswer map[string]any) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/tokens", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["api_key"] != "key-123" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"incorrect credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"auth-token"}`))
	})
	mux.HandleFunc("/api/ecommerce/orders", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["auth_token"] != "auth-token" || body["delivery_needed"] != false {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id":98765,"merchant_order_id":"` + body["merchant_order_id"].(string) + `"}`))
	})
	mux.HandleFunc("/api/acceptance/payment_keys", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["order_id"] != "98765" || body["integration_id"] != float64(42) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"token":"payment-key"}`))
	})
	mux.HandleFunc("/api/acceptance/payments/pay", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		_ = json.NewEncoder(w).Encode(payAnswer)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &calls
}

func TestClientFullTokenCharge(t *testing.T) {
	server, calls := newGateway(t, map[string]any{"id": 555, "success": true, "pending": false})
	client := NewClient(server.URL, "key-123", 42, "777")
	ctx := context.Background()

	token, err := client.Authenticate(ctx)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	order, err := client.CreateOrder(ctx, token, OrderRequest{AmountCents: 150000, Currency: "EGP", MerchantOrderID: "sub:1"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID != "98765" {
		t.Fatalf("expected numeric order id decoded as string, got %q", order.ID)
	}
	key, err := client.CreatePaymentKey(ctx, token, PaymentKeyRequest{
		AmountCents: 150000,
		Currency:    "EGP",
		OrderID:     order.ID,
		Billing:     NewBillingData("Ada Lovelace", "ada@example.com", ""),
	})
	if err != nil {
		t.Fatalf("payment key: %v", err)
	}
	result, err := client.PayWithToken(ctx, "card-token", key)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !result.Success || result.ID != "555" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(*calls) != 4 {
		t.Fatalf("expected 4 gateway calls, got %v", *calls)
	}
}

func TestClientPayWithTokenPending(t *testing.T) {
	server, _ := newGateway(t, map[string]any{"id": 556, "success": false, "pending": true})
	client := NewClient(server.URL, "key-123", 42, "777")

	result, err := client.PayWithToken(context.Background(), "card-token", "payment-key")
	if err != nil {
		t.Fatalf("pending must not be an error: %v", err)
	}
	if !result.Pending {
		t.Fatalf("expected pending result")
	}
}

func TestClientPayWithTokenDeclined(t *testing.T) {
	server, _ := newGateway(t, map[string]any{"id": 557, "success": false, "pending": false, "data.message": "Insufficient funds"})
	client := NewClient(server.URL, "key-123", 42, "777")

	result, err := client.PayWithToken(context.Background(), "card-token", "payment-key")
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	if result == nil || result.Message() != "Insufficient funds" {
		t.Fatalf("expected decline reason to be kept, got %+v", result)
	}
}

func TestClientAPIError(t *testing.T) {
	server, _ := newGateway(t, nil)
	client := NewClient(server.URL, "wrong-key", 42, "777")

	_, err := client.Authenticate(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "incorrect credentials" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestNewBillingDataSplitsName(t *testing.T) {
	data := NewBillingData("  Grace  Brewster Hopper ", "g@example.com", "")
	if data.FirstName != "Grace" || data.LastName != "Brewster Hopper" {
		t.Fatalf("unexpected name split %q / %q", data.FirstName, data.LastName)
	}
	if data.PhoneNumber != "NA" || data.City != "NA" {
		t.Fatalf("expected NA placeholders, got %+v", data)
	}

	empty := NewBillingData("", "x@example.com", "0100")
	if empty.FirstName != "NA" || empty.LastName != "NA" || empty.PhoneNumber != "0100" {
		t.Fatalf("unexpected billing data %+v", empty)
	}
}

func TestIframeURL(t *testing.T) {
	client := NewClient("https://accept.example.com/", "k", 1, "321")
	want := "https://accept.example.com/api/acceptance/iframes/321?payment_token=pk"
	if got := client.IframeURL("pk"); got != want {
		t.Fatalf("iframe url = %q, want %q", got, want)
	}
}
