package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/storefront-booking/internal/observability/metrics"
	"github.com/wolfman30/storefront-booking/internal/orders"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

const signatureTolerance = 5 * time.Minute

// StripeWebhookHandler completes orders from Stripe's checkout webhooks.
type StripeWebhookHandler struct {
	webhookSecret string
	orders        webhookCompleter
	processed     processedTracker
	metrics       *metrics.ReconcileMetrics
	logger        *logging.Logger
	now           func() time.Time
}

func NewStripeWebhookHandler(webhookSecret string, completer webhookCompleter, processed processedTracker, m *metrics.ReconcileMetrics, logger *logging.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeWebhookHandler{
		webhookSecret: webhookSecret,
		orders:        completer,
		processed:     processed,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}
}

func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !verifyStripeSignature(h.webhookSecret, payload, r.Header.Get("Stripe-Signature"), h.now()) {
		h.metrics.ObserveWebhook(ProviderStripe, "bad_signature")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt stripeWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode stripe event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
	default:
		h.metrics.ObserveWebhook(ProviderStripe, "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.processed != nil {
		seen, err := h.processed.AlreadyProcessed(r.Context(), ProviderStripe, evt.ID)
		if err != nil {
			h.logger.Error("processed lookup failed", "error", err, "event_id", evt.ID)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if seen {
			h.metrics.ObserveWebhook(ProviderStripe, "duplicate")
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	session := evt.Data.Object
	if session.PaymentStatus != "paid" {
		// Delayed methods settle later through async_payment_succeeded.
		h.logger.Info("stripe checkout completed without payment", "event_id", evt.ID, "payment_status", session.PaymentStatus)
		h.metrics.ObserveWebhook(ProviderStripe, "unpaid")
		w.WriteHeader(http.StatusOK)
		return
	}

	ref := session.Metadata["transaction_ref"]
	if ref == "" {
		ref = session.ClientReferenceID
	}
	if ref == "" {
		h.logger.Warn("stripe webhook missing transaction reference", "event_id", evt.ID, "metadata", session.Metadata)
		h.metrics.ObserveWebhook(ProviderStripe, "unmatched")
		w.WriteHeader(http.StatusOK)
		return
	}

	order, flipped, err := h.orders.CompleteFromWebhook(r.Context(), orders.WebhookPayment{
		Provider:       ProviderStripe,
		ProviderRef:    session.ID,
		TransactionRef: ref,
		StoreID:        session.Metadata["store_id"],
		AmountCents:    session.AmountTotal,
	})
	switch {
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrStoreMismatch), errors.Is(err, orders.ErrNotCompletable):
		// Acknowledge to prevent retries; nothing here can progress it.
		h.logger.Warn("stripe webhook cannot complete order", "event_id", evt.ID, "transaction_ref", ref, "error", err)
		h.metrics.ObserveWebhook(ProviderStripe, "unmatched")
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		h.logger.Error("failed to complete order from webhook", "error", err, "event_id", evt.ID, "transaction_ref", ref)
		h.metrics.ObserveWebhook(ProviderStripe, "error")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if h.processed != nil {
		if _, err := h.processed.MarkProcessed(r.Context(), ProviderStripe, evt.ID); err != nil {
			h.logger.Error("failed to record processed event", "error", err, "event_id", evt.ID)
		}
	}
	status := "already_completed"
	if flipped {
		status = "completed"
	}
	h.metrics.ObserveWebhook(ProviderStripe, status)
	h.logger.Info("stripe webhook applied",
		"event_id", evt.ID, "transaction_ref", ref, "order_id", order.ID.String(), "flipped", flipped)
	w.WriteHeader(http.StatusOK)
}

type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object stripeCheckoutSession `json:"object"`
	} `json:"data"`
}

// verifyStripeSignature checks a Stripe-Signature header of the form
// t=<timestamp>,v1=<signature>[,v1=...]. An empty secret disables the check.
func verifyStripeSignature(secret string, payload []byte, header string, now time.Time) bool {
	if secret == "" {
		return true
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if skew := now.Sub(time.Unix(ts, 0)); skew > signatureTolerance || skew < -signatureTolerance {
		return false
	}

	expected := signStripePayload(secret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func signStripePayload(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, payload)))
	return hex.EncodeToString(mac.Sum(nil))
}
