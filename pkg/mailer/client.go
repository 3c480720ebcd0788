/**
 * @description
 * Client for the transactional email API used to deliver billing
 * notifications. The API is Resend-compatible: a single POST of a JSON
 * payload with from, to, subject, and html fields, authorized by a bearer
 * token.
 */
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the transactional email API.
type Client struct {
	apiURL     string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewClient creates a new email client.
func NewClient(apiURL, apiKey, from string) *Client {
	return &Client{
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		apiKey:     apiKey,
		from:       from,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send delivers one email. A non-2xx response from the provider is an error.
func (c *Client) Send(ctx context.Context, to, subject, htmlBody string) error {
	if c.apiKey == "" {
		return fmt.Errorf("email API key is not configured")
	}

	payload := sendRequest{
		From:    c.from,
		To:      []string{to},
		Subject: subject,
		HTML:    htmlBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to email API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return nil
}
