package payments

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/storefront-booking/internal/orders"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

type webhookCompleter interface {
	CompleteFromWebhook(ctx context.Context, p orders.WebhookPayment) (*orders.Order, bool, error)
}

// FakePaymentsHandler serves the demo gateway's hosted page.
// Only mount this handler when ALLOW_FAKE_PAYMENTS=true.
type FakePaymentsHandler struct {
	gateway *FakeGateway
	orders  webhookCompleter
	urls    CallbackURLs
	logger  *logging.Logger
}

// NewFakePaymentsHandler wires the demo page. When completer is set, paying
// also simulates the gateway's server-to-server webhook.
func NewFakePaymentsHandler(gateway *FakeGateway, completer webhookCompleter, urls CallbackURLs, logger *logging.Logger) *FakePaymentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakePaymentsHandler{gateway: gateway, orders: completer, urls: urls, logger: logger}
}

func (h *FakePaymentsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/payments/{ref}", h.HandleCheckout)
	r.Post("/payments/{ref}/complete", h.HandleComplete)
	r.Post("/payments/{ref}/decline", h.HandleDecline)
	return r
}

var demoCheckoutPage = template.Must(template.New("checkout").Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Demo Checkout</title>
    <style>
      body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:680px;margin:40px auto;padding:0 16px;}
      .card{border:1px solid #e5e7eb;border-radius:12px;padding:18px;}
      .btn{display:inline-block;background:#111827;color:#fff;padding:12px 16px;border-radius:10px;text-decoration:none;border:0;cursor:pointer;}
      .muted{color:#6b7280;font-size:14px;}
    </style>
  </head>
  <body>
    <h1>Demo Checkout</h1>
    <div class="card">
      <p><strong>{{.Description}}</strong></p>
      <p><strong>Amount:</strong> {{.Amount}} {{.Currency}}</p>
      <p class="muted">This is a demo-only payment page (no real payment is processed).</p>
      <form method="POST" action="/demo/payments/{{.Ref}}/complete"><button class="btn" type="submit">Pay</button></form>
      <form method="POST" action="/demo/payments/{{.Ref}}/decline"><button class="btn" type="submit">Decline card</button></form>
      <p><a href="{{.CancelURL}}">Cancel and return to the store</a></p>
      <p class="muted">Order {{.OrderNumber}}</p>
    </div>
  </body>
</html>`))

func (h *FakePaymentsHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	cfg, ok := h.gateway.checkout(ref)
	if !ok {
		http.Error(w, "checkout not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := demoCheckoutPage.Execute(w, map[string]string{
		"Ref":         ref,
		"Description": cfg.Description,
		"Amount":      fmt.Sprintf("%.2f", float64(cfg.AmountCents)/100.0),
		"Currency":    strings.ToUpper(cfg.Currency),
		"CancelURL":   cfg.CancelURL,
		"OrderNumber": cfg.OrderNumber,
	})
	if err != nil {
		h.logger.Error("demo checkout render failed", "error", err, "transaction_ref", ref)
	}
}

func (h *FakePaymentsHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	cfg, ok := h.gateway.markPaid(ref)
	if !ok {
		http.Error(w, "checkout not found", http.StatusNotFound)
		return
	}
	if h.orders != nil {
		_, flipped, err := h.orders.CompleteFromWebhook(r.Context(), orders.WebhookPayment{
			Provider:       ProviderFake,
			ProviderRef:    fakeRefPrefix + ref,
			TransactionRef: ref,
			StoreID:        cfg.StoreID,
			AmountCents:    cfg.AmountCents,
		})
		if err != nil {
			h.logger.Error("fake payment completion failed", "error", err, "transaction_ref", ref)
			http.Error(w, "failed to complete payment", http.StatusInternalServerError)
			return
		}
		h.logger.Info("fake payment completed", "transaction_ref", ref, "flipped", flipped)
	}
	http.Redirect(w, r, withQuery(cfg.SuccessURL, "session_id="+fakeRefPrefix+ref), http.StatusSeeOther)
}

func (h *FakePaymentsHandler) HandleDecline(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	if _, ok := h.gateway.checkout(ref); !ok {
		http.Error(w, "checkout not found", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, withQuery(h.urls.Error(ref), "message=card+declined"), http.StatusSeeOther)
}
