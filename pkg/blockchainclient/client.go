/**
 * @description
 * This package provides a client for the blockchain gateway, the boundary the
 * settlement dispatcher hands withdrawals to. Submissions carry an
 * idempotency key (the ledger entry id) so redelivered settlement jobs never
 * double-submit; the gateway replays the original hash for a repeated key.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package blockchainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the blockchain gateway API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new blockchain gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitRequest is the payload for submitting one outbound transfer.
type SubmitRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Currency       string `json:"currency"`
	FromAddress    string `json:"from_address"`
	ToAddress      string `json:"to_address"`
	Value          string `json:"value"`
	FeePrice       string `json:"fee_price"`
}

// SubmitResponse carries the chain transaction hash.
type SubmitResponse struct {
	TxHash string `json:"tx_hash"`
}

// RejectedError is a non-retryable gateway rejection (malformed address,
// unsupported currency, and the like). Retrying the same payload cannot
// succeed.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("blockchain gateway rejected submission (status %d): %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether a submission error is worth retrying: network
// failures, timeouts and gateway 5xx responses are; rejections are not.
func IsRetryable(err error) bool {
	var rejected *RejectedError
	return err != nil && !errors.As(err, &rejected)
}

// Submit hands one withdrawal to the gateway and returns the chain hash.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("blockchain gateway base url is empty")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/transactions", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute submit request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read submit response: %w", err)
	}

	if resp.StatusCode >= 500 {
		log.Printf("level=warn component=blockchain_client op=submit key=%s status=%d msg=\"gateway unavailable\"", req.IdempotencyKey, resp.StatusCode)
		return nil, fmt.Errorf("blockchain gateway returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		log.Printf("level=warn component=blockchain_client op=submit key=%s status=%d msg=\"submission rejected\"", req.IdempotencyKey, resp.StatusCode)
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
	}

	var out SubmitResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("failed to decode submit response: %w", err)
	}
	if out.TxHash == "" {
		return nil, fmt.Errorf("blockchain gateway returned empty tx hash")
	}
	return &out, nil
}
