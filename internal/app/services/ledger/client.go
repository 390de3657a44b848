// Package ledger talks to the external balance ledger. The engine only
// emits credit intents; balances and statements live entirely downstream.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TriMatrix-Network/matrix_layer/pkg/logger"
)

// Client emits credit intents against the external ledger. Implementations
// must treat the idempotency key as the dedupe boundary so retries never
// double-pay.
type Client interface {
	Credit(ctx context.Context, intent CreditIntent) error
}

// CreditIntent is one payout instruction.
type CreditIntent struct {
	PayeeID        string  `json:"payee_id"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	ReasonCode     string  `json:"reason_code"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// HTTPClient posts credit intents to the ledger service.
type HTTPClient struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPClient constructs a ledger client for the given endpoint.
func NewHTTPClient(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("ledger endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ledger endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("ledger-http")
	}
	return &HTTPClient{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (c *HTTPClient) Credit(ctx context.Context, intent CreditIntent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("encode credit intent: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ledger request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("ledger status %d", resp.StatusCode)
	}

	var payload struct {
		Accepted bool   `json:"accepted"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode ledger response: %w", err)
	}
	if !payload.Accepted {
		if payload.Error == "" {
			payload.Error = "credit rejected"
		}
		return fmt.Errorf("ledger rejected credit: %s", payload.Error)
	}
	return nil
}
