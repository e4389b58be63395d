// Package payapi defines the order/payment collaborator contract the
// reconciler observes, independent of whether orders live in-process or
// behind the storefront backend's HTTP API.
package payapi

import (
	"context"
	"time"
)

// Payment status values reported by the backend.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PaymentStatus is the read-only view of an order's payment.
type PaymentStatus struct {
	Verified      bool   `json:"verified"`
	PaymentStatus string `json:"payment_status"`
	OrderID       string `json:"order_id,omitempty"`
	OrderNumber   string `json:"order_number,omitempty"`
}

// Completed reports verified && status == completed.
func (s *PaymentStatus) Completed() bool {
	return s != nil && s.Verified && s.PaymentStatus == StatusCompleted
}

// CallbackData is the raw payload the gateway hands the browser on success.
type CallbackData struct {
	TransactionRef string            `json:"transaction_ref"`
	ProviderRef    string            `json:"provider_ref"`
	Status         string            `json:"status,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Confirmation is the result of confirming a payment from callback data.
type Confirmation struct {
	AlreadyProcessed bool   `json:"already_processed"`
	OrderID          string `json:"order_id"`
	OrderNumber      string `json:"order_number"`
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// PollOptions bounds PollPaymentStatus.
type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
	OnProgress  func(attempt, maxAttempts int)
	Wait        WaitFunc
}

// API is the backend contract.
type API interface {
	// VerifyPayment is read-only and idempotent.
	VerifyPayment(ctx context.Context, transactionRef, storeID string) (*PaymentStatus, error)
	// ConfirmPaymentFromCallback is mutating and idempotent on the transaction reference.
	ConfirmPaymentFromCallback(ctx context.Context, data CallbackData) (*Confirmation, error)
	// PollPaymentStatus returns nil, nil when every attempt came back incomplete.
	PollPaymentStatus(ctx context.Context, transactionRef, storeID string, opts PollOptions) (*PaymentStatus, error)
}
