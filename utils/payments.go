package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// TransferRequest is the payload sent to the payments provider when
// releasing escrowed funds or paying an auditor.
type TransferRequest struct {
	Amount      int64             `json:"amount"` // cents
	Currency    string            `json:"currency"`
	Destination string            `json:"destination"`
	Reference   string            `json:"reference"` // idempotency key
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TransferResult is the provider's acknowledgement of a transfer.
type TransferResult struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
}

// PaymentsClient talks to the payments provider's HTTP API.
type PaymentsClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewPaymentsClient builds a client for the given provider endpoint.
func NewPaymentsClient(baseURL, apiKey string) *PaymentsClient {
	return &PaymentsClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// PaymentsClientFromEnv builds a client from PAYMENTS_API_URL and
// PAYMENTS_API_KEY. Returns an error when either is missing.
func PaymentsClientFromEnv() (*PaymentsClient, error) {
	baseURL := os.Getenv("PAYMENTS_API_URL") // e.g. https://api.payments.example.com/v1
	apiKey := os.Getenv("PAYMENTS_API_KEY")

	if baseURL == "" || apiKey == "" {
		log.Println("Missing PAYMENTS_API_URL or PAYMENTS_API_KEY")
		return nil, fmt.Errorf("missing required payments config")
	}

	return NewPaymentsClient(baseURL, apiKey), nil
}

// CreateTransfer asks the provider to move funds to the destination
// account. The reference doubles as an idempotency key, so retrying a
// failed call with the same reference never double-pays.
func (p *PaymentsClient) CreateTransfer(ctx context.Context, treq TransferRequest) (*TransferResult, error) {
	jsonData, err := json.Marshal(treq)
	if err != nil {
		return nil, fmt.Errorf("marshal transfer payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.BaseURL+"/transfers", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create transfer request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Idempotency-Key", treq.Reference)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send transfer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("payments API error: %s: %s", resp.Status, respBody)
	}

	var result TransferResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transfer response: %w", err)
	}

	return &result, nil
}
