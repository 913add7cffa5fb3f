package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the payment gateway's REST API. It implements the
// payment.Gateway interface.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type createOrderRequest struct {
	OrderRef string `json:"order_ref"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type refundRequest struct {
	RefundRef      string `json:"refund_ref"`
	TransactionRef string `json:"transaction_ref"`
	Amount         int64  `json:"amount"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (e *errorResponse) Err() error {
	return fmt.Errorf("gateway error: %s - %s", e.Error.Code, e.Error.Description)
}

func (c *Client) CreateOrder(ctx context.Context, orderRef string, amount int64, currency string) error {
	return c.post(ctx, "/v1/orders", createOrderRequest{
		OrderRef: orderRef,
		Amount:   amount,
		Currency: currency,
	})
}

func (c *Client) InitiateRefund(ctx context.Context, refundRef, transactionRef string, amount int64) error {
	return c.post(ctx, "/v1/refunds", refundRequest{
		RefundRef:      refundRef,
		TransactionRef: transactionRef,
		Amount:         amount,
	})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var gwErr errorResponse
	if json.Unmarshal(data, &gwErr) == nil && gwErr.Error.Code != "" {
		return gwErr.Err()
	}
	return fmt.Errorf("gateway returned status %d", resp.StatusCode)
}
