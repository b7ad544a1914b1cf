/**
 * @description
 * This package provides a client for the keys service, which custodies
 * private keys and derives blockchain addresses. The ledger calls it once
 * per account creation to provision the account's receiving address.
 */
package keysclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the keys service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new keys service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateAddressRequest defines the payload for provisioning an address.
type CreateAddressRequest struct {
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
}

// CreateAddressResponse carries the derived address.
type CreateAddressResponse struct {
	Address string `json:"address"`
}

// CreateAddress asks the keys service to derive an address for the account.
// The account id keys the derivation, so retrying returns the same address.
func (c *Client) CreateAddress(ctx context.Context, accountID string, currency string) (*CreateAddressResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("keys service base url is empty")
	}

	payload := CreateAddressRequest{AccountID: accountID, Currency: currency}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/keys/addresses", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to keys service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("keys service returned error status %d", resp.StatusCode)
	}

	var response CreateAddressResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Address == "" {
		return nil, fmt.Errorf("keys service returned empty address")
	}
	return &response, nil
}
