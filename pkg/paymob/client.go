/**
 * @description
 * This package provides a client for the Paymob accept API, which settles
 * payment link checkouts and recurring subscription charges.
 *
 * Key features:
 * - Short-lived auth tokens, order creation and payment keys.
 * - Token (saved card) charges for recurring payments.
 * - Webhook HMAC verification (see hmac.go).
 */
package paymob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrDeclined is returned when the gateway answers a charge with neither success nor
// pending. ErrInvalidSignature rejects callbacks whose HMAC does not match.
var (
	ErrDeclined          = errors.New("payment declined")
	ErrInvalidSignature  = errors.New("invalid callback signature")
	ErrMalformedCallback = errors.New("malformed callback")
)

// APIError represents a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("paymob api error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("paymob api error: status %d", e.StatusCode)
}

// Client is a client for the Paymob API.
type Client struct {
	baseURL       string
	apiKey        string
	integrationID int64
	iframeID      string
	httpClient    *http.Client
}

// NewClient creates a new Paymob API client.
func NewClient(baseURL, apiKey string, integrationID int64, iframeID string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		integrationID: integrationID,
		iframeID:      iframeID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Authenticate exchanges the API key for a short-lived auth token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var resp authResponse
	if err := c.do(ctx, "/api/auth/tokens", authRequest{APIKey: c.apiKey}, &resp); err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	if resp.Token == "" {
		return "", errors.New("authenticate: gateway returned an empty token")
	}
	return resp.Token, nil
}

// CreateOrder registers an order with the gateway.
func (c *Client) CreateOrder(ctx context.Context, authToken string, req OrderRequest) (*Order, error) {
	body := orderRequest{
		AuthToken:       authToken,
		DeliveryNeeded:  false,
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		MerchantOrderID: req.MerchantOrderID,
		Items:           []any{},
	}
	var order Order
	if err := c.do(ctx, "/api/ecommerce/orders", body, &order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if order.ID == "" {
		return nil, errors.New("create order: gateway returned no order id")
	}
	return &order, nil
}

// CreatePaymentKey requests a payment key for an order.
func (c *Client) CreatePaymentKey(ctx context.Context, authToken string, req PaymentKeyRequest) (string, error) {
	expiration := req.ExpirationSeconds
	if expiration <= 0 {
		expiration = 3600
	}
	body := paymentKeyRequest{
		AuthToken:     authToken,
		AmountCents:   req.AmountCents,
		Expiration:    expiration,
		OrderID:       req.OrderID,
		BillingData:   req.Billing,
		Currency:      req.Currency,
		IntegrationID: c.integrationID,
	}
	var resp paymentKeyResponse
	if err := c.do(ctx, "/api/acceptance/payment_keys", body, &resp); err != nil {
		return "", fmt.Errorf("create payment key: %w", err)
	}
	if resp.Token == "" {
		return "", errors.New("create payment key: gateway returned an empty key")
	}
	return resp.Token, nil
}

// PayWithToken charges a saved card token using a payment key. A pending answer
// is not an error; callers must wait for the transaction callback. A declined
// charge returns the result together with ErrDeclined.
func (c *Client) PayWithToken(ctx context.Context, cardToken, paymentKey string) (*PaymentResult, error) {
	body := payRequest{
		Source:       paySource{Identifier: cardToken, Subtype: "TOKEN"},
		PaymentToken: paymentKey,
	}
	var result PaymentResult
	if err := c.do(ctx, "/api/acceptance/payments/pay", body, &result); err != nil {
		return nil, fmt.Errorf("pay with token: %w", err)
	}
	if !result.Success && !result.Pending {
		msg := result.Message()
		if msg == "" {
			msg = "no reason given"
		}
		return &result, fmt.Errorf("%w: %s", ErrDeclined, msg)
	}
	return &result, nil
}

// IframeURL returns the hosted checkout page for a payment key.
func (c *Client) IframeURL(paymentKey string) string {
	return fmt.Sprintf("%s/api/acceptance/iframes/%s?payment_token=%s", c.baseURL, c.iframeID, paymentKey)
}

func (c *Client) do(ctx context.Context, path string, body, target any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("failed to unmarshal response body: %w", err)
		}
	}
	return nil
}

// errorMessage pulls the human-readable reason out of a gateway error body.
func errorMessage(body []byte) string {
	var parsed struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(body))
}
