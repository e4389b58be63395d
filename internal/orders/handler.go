package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/storefront-booking/internal/payapi"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

// Backend owns orders and their payments.
type Backend interface {
	payapi.API
	CreateOrder(ctx context.Context, storeID string, sel ServiceSelection, customer Customer, slot Slot) (*Order, error)
	GetOrder(ctx context.Context, ref, storeID string) (*Order, error)
	AttachCheckout(ctx context.Context, ref, provider, providerRef string) error
}

// Handler exposes orders and the payment contract to remote booking
// frontends (see storeapi.Client).
type Handler struct {
	api    Backend
	logger *logging.Logger
}

func NewHandler(api Backend, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{api: api, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stores/{storeID}/orders", h.HandleCreateOrder)
	r.Get("/stores/{storeID}/orders/{ref}", h.HandleGetOrder)
	r.Put("/orders/{ref}/checkout", h.HandleAttachCheckout)
	r.Get("/stores/{storeID}/payments/{ref}", h.HandleVerify)
	r.Post("/payments/confirm", h.HandleConfirm)
	return r
}

func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	storeID := strings.TrimSpace(chi.URLParam(r, "storeID"))
	var req payapi.OrderRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sel, customer, slot := fromRequest(req)
	order, err := h.api.CreateOrder(r.Context(), storeID, sel, customer, slot)
	if err != nil {
		h.writeErr(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, order.Record())
}

func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	storeID := strings.TrimSpace(chi.URLParam(r, "storeID"))
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	order, err := h.api.GetOrder(r.Context(), ref, storeID)
	if err != nil {
		h.writeErr(w, err, ref)
		return
	}
	writeJSON(w, http.StatusOK, order.Record())
}

func (h *Handler) HandleAttachCheckout(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	var req payapi.CheckoutAttachment
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.ProviderRef) == "" {
		http.Error(w, "provider_ref is required", http.StatusBadRequest)
		return
	}
	if err := h.api.AttachCheckout(r.Context(), ref, req.Provider, req.ProviderRef); err != nil {
		h.writeErr(w, err, ref)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	storeID := strings.TrimSpace(chi.URLParam(r, "storeID"))
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	status, err := h.api.VerifyPayment(r.Context(), ref, storeID)
	if err != nil {
		h.writeErr(w, err, ref)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var data payapi.CallbackData
	if err := decodeBody(r, &data); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	conf, err := h.api.ConfirmPaymentFromCallback(r.Context(), data)
	if err != nil {
		h.writeErr(w, err, data.TransactionRef)
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

func (h *Handler) writeErr(w http.ResponseWriter, err error, ref string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStoreMismatch):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, ErrNotPaid):
		http.Error(w, "payment not completed", http.StatusPaymentRequired)
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrNoCheckout):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotCompletable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("payment api request failed", "error", err, "transaction_ref", ref)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
