// Package dispatch maps reconciliation outcomes and gateway results onto
// wizard state and the page the browser should land on.
package dispatch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wolfman30/storefront-booking/internal/reconcile"
	"github.com/wolfman30/storefront-booking/internal/wizard"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

// User-facing messages.
const (
	MsgConfirmed = "Payment confirmed. Your booking is complete."
	MsgVerifying = "We are verifying your payment. You will receive a confirmation as soon as it clears."
	MsgCanceled  = "payment canceled"
)

// Navigation is where the browser goes next, if anywhere.
type Navigation struct {
	URL     string          `json:"url,omitempty"`
	Outcome string          `json:"outcome"`
	Message *wizard.Message `json:"message,omitempty"`
	// Repeated is set when the session had already completed and the stored
	// navigation is being returned again.
	Repeated bool `json:"repeated,omitempty"`
}

// Outcome names for gateway results that never reach the reconciler.
const (
	OutcomeGatewayError = "gateway_error"
	OutcomeCanceled     = "canceled"
)

// SuccessPath is the order confirmation page.
func SuccessPath(storeID, orderID, ref, orderNumber string) string {
	q := url.Values{}
	q.Set("orderId", orderID)
	q.Set("ref", ref)
	q.Set("orderNumber", orderNumber)
	return fmt.Sprintf("/%s/order/success?%s", url.PathEscape(storeID), q.Encode())
}

// VerificationPath is the page that keeps checking a pending payment.
func VerificationPath(storeID, ref string) string {
	q := url.Values{}
	q.Set("reference", ref)
	q.Set("storeId", storeID)
	return fmt.Sprintf("/%s/payment/callback?%s", url.PathEscape(storeID), q.Encode())
}

// SupportMessage asks the customer to contact support with what we know.
func SupportMessage(out reconcile.Outcome) string {
	var details []string
	if out.TransactionRef != "" {
		details = append(details, "reference "+out.TransactionRef)
	}
	if out.OrderNumber != "" {
		details = append(details, "order "+out.OrderNumber)
	}
	if out.StoreID != "" {
		details = append(details, "store "+out.StoreID)
	}
	msg := "We could not confirm your payment. Please contact support"
	if len(details) > 0 {
		msg += " and quote " + strings.Join(details, ", ")
	}
	return msg + "."
}

type Dispatcher struct {
	logger *logging.Logger
}

func New(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{logger: logger}
}

// Apply records a reconciliation outcome on the session.
func (d *Dispatcher) Apply(s *wizard.Session, out reconcile.Outcome) Navigation {
	if s.Step == wizard.StepSuccess {
		return Stored(s)
	}
	log := d.logger.With("session_id", s.ID, "store_id", s.StoreID, "transaction_ref", out.TransactionRef)

	switch out.Kind {
	case reconcile.KindConfirmed, reconcile.KindAlreadyCompleted:
		target := SuccessPath(s.StoreID, out.OrderID, out.TransactionRef, out.OrderNumber)
		s.Complete(wizard.Result{
			Outcome:        string(out.Kind),
			OrderID:        out.OrderID,
			OrderNumber:    out.OrderNumber,
			TransactionRef: out.TransactionRef,
			RedirectURL:    target,
		}, MsgConfirmed)
		log.Info("booking confirmed", "order_id", out.OrderID, "outcome", out.Kind)
		return Navigation{URL: target, Outcome: string(out.Kind), Message: s.Message}

	case reconcile.KindPendingVerification:
		target := VerificationPath(s.StoreID, out.TransactionRef)
		s.Defer(wizard.Result{
			Outcome:        string(out.Kind),
			TransactionRef: out.TransactionRef,
			RedirectURL:    target,
		}, MsgVerifying)
		log.Warn("payment pending verification")
		return Navigation{URL: target, Outcome: string(out.Kind), Message: s.Message}

	default:
		s.Fail(SupportMessage(out))
		log.Error("payment failed", "reason", out.Reason)
		return Navigation{Outcome: string(reconcile.KindFailed), Message: s.Message}
	}
}

// GatewayError keeps the customer at payment with the gateway's message.
func (d *Dispatcher) GatewayError(s *wizard.Session, message string) Navigation {
	if s.Step == wizard.StepSuccess {
		return Stored(s)
	}
	s.GatewayFailed(message)
	d.logger.Warn("gateway reported an error", "session_id", s.ID, "store_id", s.StoreID, "message", message)
	return Navigation{Outcome: OutcomeGatewayError, Message: s.Message}
}

// GatewayClosed is the neutral cancel path: no navigation.
func (d *Dispatcher) GatewayClosed(s *wizard.Session) Navigation {
	if s.Step == wizard.StepSuccess {
		return Stored(s)
	}
	s.GatewayCanceled()
	d.logger.Info("gateway closed by customer", "session_id", s.ID, "store_id", s.StoreID)
	return Navigation{Outcome: OutcomeCanceled, Message: s.Message}
}

// Stored rebuilds the navigation a completed session already produced.
func Stored(s *wizard.Session) Navigation {
	nav := Navigation{Repeated: true, Message: s.Message}
	if s.Result != nil {
		nav.URL = s.Result.RedirectURL
		nav.Outcome = s.Result.Outcome
	}
	return nav
}
