// Package payment talks to the hosted-checkout payment processor. The
// processor owns the payment page and pushes signed webhook events back; the
// only link between a session and an internal order is the order id carried
// in the session metadata.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrSessionCreate = errors.New("failed to create checkout session")

// LineItem is one cart line in the processor's format: unit amounts are in
// minor currency units (cents).
type LineItem struct {
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int    `json:"quantity"`
	Currency   string `json:"currency"`
}

type SessionParams struct {
	LineItems  []LineItem        `json:"line_items"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Session is the processor-hosted payment page the buyer is redirected to.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateSession registers a hosted checkout session with the processor.
// The call is bounded by the client timeout; on expiry the error surfaces to
// the caller and no retry is attempted here.
func (c *Client) CreateSession(ctx context.Context, params SessionParams) (*Session, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("payment: failed to encode session params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payment: failed to build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("payment: checkout session request failed")
		return nil, fmt.Errorf("%w: %v", ErrSessionCreate, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Error().Int("status", resp.StatusCode).Bytes("body", raw).Msg("payment: processor rejected session create")
		return nil, fmt.Errorf("%w: processor returned %d", ErrSessionCreate, resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%w: failed to decode session response: %v", ErrSessionCreate, err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("%w: processor returned no session url", ErrSessionCreate)
	}
	return &session, nil
}
