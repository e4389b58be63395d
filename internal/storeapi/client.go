// Package storeapi talks to a remote storefront backend that owns orders.
// It pre-authorizes orders there and is the out-of-process implementation of
// payapi.API, so both halves of a payment reach the same backend.
package storeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/storefront-booking/internal/payapi"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

const apiKeyHeader = "X-Storefront-Api-Key"

// Client calls the backend's order and payment endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

var _ payapi.API = (*Client)(nil)

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// VerifyPayment reads the order's payment status.
func (c *Client) VerifyPayment(ctx context.Context, transactionRef, storeID string) (*payapi.PaymentStatus, error) {
	endpoint := fmt.Sprintf("%s/stores/%s/payments/%s", c.baseURL, url.PathEscape(storeID), url.PathEscape(transactionRef))
	var status payapi.PaymentStatus
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ConfirmPaymentFromCallback forwards the gateway's callback payload.
func (c *Client) ConfirmPaymentFromCallback(ctx context.Context, data payapi.CallbackData) (*payapi.Confirmation, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: encode callback: %v", ErrInternal, err)
	}
	var conf payapi.Confirmation
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/payments/confirm", body, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// CreateOrder pre-authorizes an order on the backend.
func (c *Client) CreateOrder(ctx context.Context, storeID string, req payapi.OrderRequest) (*payapi.OrderRecord, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode order: %v", ErrInternal, err)
	}
	endpoint := fmt.Sprintf("%s/stores/%s/orders", c.baseURL, url.PathEscape(storeID))
	var rec payapi.OrderRecord
	if err := c.do(ctx, http.MethodPost, endpoint, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) GetOrder(ctx context.Context, transactionRef, storeID string) (*payapi.OrderRecord, error) {
	endpoint := fmt.Sprintf("%s/stores/%s/orders/%s", c.baseURL, url.PathEscape(storeID), url.PathEscape(transactionRef))
	var rec payapi.OrderRecord
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AttachCheckout records the gateway checkout opened for the order.
func (c *Client) AttachCheckout(ctx context.Context, transactionRef, provider, providerRef string) error {
	body, err := json.Marshal(payapi.CheckoutAttachment{Provider: provider, ProviderRef: providerRef})
	if err != nil {
		return fmt.Errorf("%w: encode checkout: %v", ErrInternal, err)
	}
	endpoint := fmt.Sprintf("%s/orders/%s/checkout", c.baseURL, url.PathEscape(transactionRef))
	return c.do(ctx, http.MethodPut, endpoint, body, nil)
}

// PollPaymentStatus polls VerifyPayment on the client side.
func (c *Client) PollPaymentStatus(ctx context.Context, transactionRef, storeID string, opts payapi.PollOptions) (*payapi.PaymentStatus, error) {
	return payapi.Poll(ctx, func(ctx context.Context) (*payapi.PaymentStatus, error) {
		status, err := c.VerifyPayment(ctx, transactionRef, storeID)
		if err != nil {
			c.logger.Debug("payment status poll failed", "transaction_ref", transactionRef, "error", err)
		}
		return status, err
	}, opts)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrInternal, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to execute request: %v", ErrInternal, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrOrderNotFound
	case http.StatusPaymentRequired:
		return ErrNotPaid
	case http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(string(msg)))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: unexpected status code %d: %s", ErrInvalidResponse, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrInvalidResponse, err)
	}
	return nil
}
