/**
 * @description
 * This package provides a client for the external exchange gateway, the rate
 * oracle backing rate reservations. It encapsulates the logic for making
 * authenticated HTTP requests, handling request body construction, and
 * parsing responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Exchange rates and fee prices are decimals.
 */
package exchangeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnsupportedPair is returned when the gateway does not quote the
// requested currency pair.
var ErrUnsupportedPair = errors.New("unsupported currency pair")

// Client is a client for the exchange gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new exchange gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// RateRequest asks the gateway for a quote on (from -> to) for the given
// amount in smallest units of from-currency.
type RateRequest struct {
	ID     uuid.UUID `json:"id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Amount string    `json:"amount"`
}

// RateResponse is the gateway's quote.
type RateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

// ExecuteRequest reports that a reserved exchange was consumed by a committed
// transaction so the gateway can execute it against its own books.
type ExecuteRequest struct {
	ID           uuid.UUID       `json:"id"`
	From         string          `json:"from"`
	To           string          `json:"to"`
	ActualAmount string          `json:"actual_amount"`
	Rate         decimal.Decimal `json:"rate"`
}

// FeePriceResponse carries the live per-unit fee price (satoshi per byte for
// btc, wei per gas unit for eth-settled currencies).
type FeePriceResponse struct {
	FeePrice decimal.Decimal `json:"fee_price"`
}

// ErrorResponse represents an error from the exchange gateway.
type ErrorResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	StatusCode  int    `json:"-"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("exchange gateway error: %s - %s", e.Code, e.Description)
}

// GetRate fetches a live quote for the pair.
func (c *Client) GetRate(ctx context.Context, req RateRequest) (*RateResponse, error) {
	var resp RateResponse
	if err := c.do(ctx, "POST", "/rate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Execute reports a consumed exchange reservation.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) error {
	return c.do(ctx, "POST", "/exchange", req, &struct{}{})
}

// GetFeePrice fetches the live fee price for a settlement chain.
func (c *Client) GetFeePrice(ctx context.Context, currency string) (*FeePriceResponse, error) {
	var resp FeePriceResponse
	if err := c.do(ctx, "GET", "/fees/price/"+currency, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=exchange_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("exchange gateway returned status %d", resp.StatusCode)
		}
		errResp.StatusCode = resp.StatusCode
		log.Printf("level=warn component=exchange_client op=%s status=%d code=%q description=%q", path, resp.StatusCode, errResp.Code, errResp.Description)
		if errResp.Code == "unsupported_pair" {
			return ErrUnsupportedPair
		}
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
