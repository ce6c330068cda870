/**
 * @description
 * This package sends transactional email through an HTTP email API
 * (JSON body, bearer-token authentication).
 */
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned by the disabled sender.
var ErrNotConfigured = errors.New("email delivery is not configured")

// Message is one outgoing email.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Client posts messages to the email API.
type Client struct {
	endpoint   string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewClient creates a new email API client.
func NewClient(endpoint, apiKey, from string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Send delivers a message.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("mailer: message has no recipients")
	}

	payload, err := json.Marshal(sendRequest{From: c.from, To: msg.To, Subject: msg.Subject, HTML: msg.HTML})
	if err != nil {
		return fmt.Errorf("mailer: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mailer: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailer: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("mailer: email api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Disabled drops every message. It is used when no API key is configured so
// local runs keep working without an email account.
type Disabled struct {
	Logger *slog.Logger
}

func (d Disabled) Send(_ context.Context, msg Message) error {
	if d.Logger != nil {
		d.Logger.Warn("email delivery disabled, dropping message", "to", strings.Join(msg.To, ","), "subject", msg.Subject)
	}
	return ErrNotConfigured
}
