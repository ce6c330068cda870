/**
 * @description
 * Client the scheduler uses to trigger billing runs on the billing API.
 */
package billingclient

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

// ErrRunInProgress is returned when another billing run holds the lease.
var ErrRunInProgress = errors.New("billing run already in progress")

// RunSummary mirrors the billing run response body.
type RunSummary struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Skipped    int `json:"skipped"`
}

// ExpirySummary mirrors the confirmation expiry response body.
type ExpirySummary struct {
	Expired   int `json:"expired"`
	Cancelled int `json:"cancelled"`
	Recovered int `json:"recovered"`
	Errors    int `json:"errors"`
}

// Client provides methods to trigger billing jobs.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new billing API client. The timeout covers a whole run.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RunDueCharges triggers the recurring subscription batch.
func (c *Client) RunDueCharges(ctx context.Context) (*RunSummary, error) {
	var summary RunSummary
	if err := c.post(ctx, "/internal/billing/run", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ExpireConfirmations fails charges whose gateway confirmation never arrived.
func (c *Client) ExpireConfirmations(ctx context.Context) (*ExpirySummary, error) {
	var summary ExpirySummary
	if err := c.post(ctx, "/internal/billing/confirmations/expire", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) post(ctx context.Context, path string, target any) error {
	if c.baseURL == "" {
		return fmt.Errorf("billing service base URL is not configured")
	}

	url := fmt.Sprintf("%s%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer([]byte("{}")))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrRunInProgress
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("billing service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
