// Package reconcile turns a gateway callback into a single trustworthy
// payment outcome by consulting the order backend in escalating tiers.
package reconcile

import (
	"time"

	"github.com/wolfman30/storefront-booking/internal/payapi"
)

// Kind classifies a reconciliation outcome.
type Kind string

const (
	KindAlreadyCompleted    Kind = "already_completed"
	KindConfirmed           Kind = "confirmed"
	KindPendingVerification Kind = "pending_verification"
	KindFailed              Kind = "failed"
)

// Tier names, used for logs, metrics and progress updates.
const (
	TierVerify  = "verify"
	TierConfirm = "confirm"
	TierPoll    = "poll"
	TierManual  = "manual"
)

// ReasonNoReference is reported when nothing identifies the payment.
const ReasonNoReference = "no transaction reference was returned by the payment gateway"

// CallbackResult is what the gateway returned on success.
type CallbackResult struct {
	TransactionRef string
	CallbackData   *payapi.CallbackData
}

// Outcome is the single result of reconciling one callback.
type Outcome struct {
	Kind           Kind          `json:"kind"`
	OrderID        string        `json:"order_id,omitempty"`
	OrderNumber    string        `json:"order_number,omitempty"`
	TransactionRef string        `json:"transaction_ref,omitempty"`
	StoreID        string        `json:"store_id,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Tier           string        `json:"tier"`
	Elapsed        time.Duration `json:"-"`
}

// Succeeded reports whether the payment is known to be completed.
func (o Outcome) Succeeded() bool {
	return o.Kind == KindAlreadyCompleted || o.Kind == KindConfirmed
}

// Progress is emitted before each backend attempt so the UI can show
// "verifying payment (2/3)".
type Progress struct {
	Tier        string `json:"tier"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
}

// Request is one reconciliation job.
type Request struct {
	StoreID string
	Result  CallbackResult
	// FallbackRef is the reference of the order pre-authorized for this
	// session, used when the gateway did not echo one back.
	FallbackRef string
	OnProgress  func(Progress)
}

func (r Request) reference() string {
	if r.Result.TransactionRef != "" {
		return r.Result.TransactionRef
	}
	if r.Result.CallbackData != nil && r.Result.CallbackData.TransactionRef != "" {
		return r.Result.CallbackData.TransactionRef
	}
	return r.FallbackRef
}

func (r Request) progress(p Progress) {
	if r.OnProgress != nil {
		r.OnProgress(p)
	}
}
