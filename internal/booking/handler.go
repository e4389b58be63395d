package booking

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/storefront-booking/internal/payapi"
	"github.com/wolfman30/storefront-booking/internal/payments"
	"github.com/wolfman30/storefront-booking/internal/progress"
	"github.com/wolfman30/storefront-booking/internal/sessions"
	"github.com/wolfman30/storefront-booking/internal/slots"
	"github.com/wolfman30/storefront-booking/internal/tenancy"
	"github.com/wolfman30/storefront-booking/internal/wizard"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

const maxBodyBytes = 64 << 10

// Handler exposes the Flow over HTTP.
type Handler struct {
	flow   *Flow
	hub    *progress.Hub
	logger *logging.Logger
}

func NewHandler(flow *Flow, hub *progress.Hub, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{flow: flow, hub: hub, logger: logger}
}

// StoreRoutes is mounted under /stores/{storeID}.
func (h *Handler) StoreRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(tenancy.StoreFromURL)
	r.Get("/calendar", h.HandleCalendar)
	r.Get("/services", h.HandleServices)
	r.Route("/booking/sessions", func(r chi.Router) {
		r.Post("/", h.HandleStart)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Delete("/", h.HandleAbandon)
			r.Put("/service", h.HandleSelectService)
			r.Put("/slot", h.HandleChooseSlot)
			r.Put("/details", h.HandleDetails)
			r.Post("/next", h.HandleNext)
			r.Post("/back", h.HandleBack)
			r.Post("/pay", h.HandlePay)
			r.Get("/progress", h.HandleProgress)
		})
	})
	return r
}

// CallbackRoutes is mounted under /gateway/callback. GET serves the browser
// redirect from a hosted checkout; POST serves an embedded checkout that
// reports back over XHR.
func (h *Handler) CallbackRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{ref}/{result}", h.HandleCallbackRedirect)
	r.Post("/{ref}/{result}", h.HandleCallback)
	return r
}

func storeID(r *http.Request) string {
	id, _ := tenancy.StoreIDFromContext(r.Context())
	return id
}

func sessionID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "sessionID"))
}

func (h *Handler) HandleCalendar(w http.ResponseWriter, r *http.Request) {
	month, err := h.flow.Calendar(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, month)
}

func (h *Handler) HandleServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.flow.Services(r.Context(), storeID(r))
	if err != nil {
		h.respondErr(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceID string `json:"service_id"`
	}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.ServiceID == "" {
		req.ServiceID = r.URL.Query().Get("service")
	}
	s, err := h.flow.StartSession(r.Context(), storeID(r), wizard.IdentityFromContext(r.Context()), strings.TrimSpace(req.ServiceID))
	if err != nil {
		h.respondErr(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Session: s})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.flow.GetSession(r.Context(), storeID(r), sessionID(r))
	h.respondSession(w, r, s, err)
}

func (h *Handler) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.Abandon(r.Context(), storeID(r), sessionID(r)); err != nil {
		h.respondErr(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSelectService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceID string `json:"service_id"`
	}
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.ServiceID) == "" {
		writeError(w, http.StatusBadRequest, "service_id is required", nil)
		return
	}
	s, err := h.flow.SelectService(r.Context(), storeID(r), sessionID(r), strings.TrimSpace(req.ServiceID))
	h.respondSession(w, r, s, err)
}

func (h *Handler) HandleChooseSlot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
		Time string `json:"time"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	s, err := h.flow.ChooseSlot(r.Context(), storeID(r), sessionID(r), req.Date, req.Time)
	h.respondSession(w, r, s, err)
}

func (h *Handler) HandleDetails(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Guest *wizard.GuestInfo `json:"guest"`
		Notes *string           `json:"notes"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	s, err := h.flow.UpdateDetails(r.Context(), storeID(r), sessionID(r), DetailsInput{Guest: req.Guest, Notes: req.Notes})
	h.respondSession(w, r, s, err)
}

func (h *Handler) HandleNext(w http.ResponseWriter, r *http.Request) {
	s, err := h.flow.Next(r.Context(), storeID(r), sessionID(r))
	h.respondSession(w, r, s, err)
}

func (h *Handler) HandleBack(w http.ResponseWriter, r *http.Request) {
	s, err := h.flow.Back(r.Context(), storeID(r), sessionID(r))
	h.respondSession(w, r, s, err)
}

func (h *Handler) HandlePay(w http.ResponseWriter, r *http.Request) {
	handoff, err := h.flow.Pay(r.Context(), storeID(r), sessionID(r))
	if err != nil {
		h.respondErr(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, handoff)
}

// HandleProgress streams reconciliation progress for the session.
func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotImplemented, "progress stream disabled", nil)
		return
	}
	s, err := h.flow.GetSession(r.Context(), storeID(r), sessionID(r))
	if err != nil {
		h.respondErr(w, r, err, nil)
		return
	}
	h.hub.Serve(w, r, progress.Key(s.StoreID, s.ID), s.ID)
}

type callbackRequest struct {
	TransactionRef string               `json:"transaction_ref"`
	CallbackData   *payapi.CallbackData `json:"callback_data"`
	Message        string               `json:"message"`
}

// gatewayResult builds the one-shot result from the path and payload.
func gatewayResult(ref, kind string, req callbackRequest) (payments.GatewayResult, error) {
	switch payments.ResultKind(kind) {
	case payments.ResultSuccess:
		data := req.CallbackData
		if data != nil && data.TransactionRef == "" {
			data.TransactionRef = ref
		}
		txRef := req.TransactionRef
		if txRef == "" {
			txRef = ref
		}
		return payments.Success(txRef, data), nil
	case payments.ResultError:
		return payments.Failure(req.Message), nil
	case payments.ResultClosed:
		return payments.Closed(), nil
	default:
		return payments.GatewayResult{}, fmt.Errorf("unknown gateway result %q", kind)
	}
}

// HandleCallback is the JSON form of the gateway callback.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	var req callbackRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	result, err := gatewayResult(ref, chi.URLParam(r, "result"), req)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	nav, err := h.flow.DeliverGatewayResult(r.Context(), ref, result)
	if err != nil {
		h.respondErr(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

// HandleCallbackRedirect is where a hosted checkout sends the browser. The
// gateway's session id arrives as ?session_id= on success and the decline
// reason as ?message= on error.
func (h *Handler) HandleCallbackRedirect(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	q := r.URL.Query()
	req := callbackRequest{Message: q.Get("message")}
	if providerRef := q.Get("session_id"); providerRef != "" {
		req.CallbackData = &payapi.CallbackData{TransactionRef: ref, ProviderRef: providerRef, Status: q.Get("status")}
	}
	result, err := gatewayResult(ref, chi.URLParam(r, "result"), req)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	nav, err := h.flow.DeliverGatewayResult(r.Context(), ref, result)
	if errors.Is(err, ErrUnknownReference) {
		http.Error(w, "unknown checkout", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("gateway callback failed", "error", err, "transaction_ref", ref)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	target := nav.URL
	if target == "" {
		target = h.wizardPath(r, ref)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// wizardPath sends the browser back to the payment step of its wizard.
func (h *Handler) wizardPath(r *http.Request, ref string) string {
	owner, err := h.flow.sessions.LookupReference(r.Context(), ref)
	if err != nil {
		return "/"
	}
	q := url.Values{}
	q.Set("session", owner.SessionID)
	return fmt.Sprintf("/%s/booking?%s", url.PathEscape(owner.StoreID), q.Encode())
}

type sessionResponse struct {
	Session *wizard.Session `json:"session,omitempty"`
	Error   string          `json:"error,omitempty"`
	Fields  []string        `json:"fields,omitempty"`
}

func (h *Handler) respondSession(w http.ResponseWriter, r *http.Request, s *wizard.Session, err error) {
	if err != nil {
		h.respondErr(w, r, err, s)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: s})
}

// respondErr maps flow errors to status codes. Guard errors carry the
// session so the page can show its message.
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error, s *wizard.Session) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("booking request failed", "error", err, "path", r.URL.Path, "store_id", storeID(r))
		writeError(w, status, "internal error", nil)
		return
	}
	resp := sessionResponse{Session: s, Error: err.Error()}
	var verr *wizard.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var verr *wizard.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sessions.ErrNotFound), errors.Is(err, ErrUnknownReference):
		return http.StatusNotFound
	case errors.Is(err, wizard.ErrReadOnlyCustomer):
		return http.StatusForbidden
	case errors.Is(err, sessions.ErrLocked),
		errors.Is(err, wizard.ErrBusy),
		errors.Is(err, wizard.ErrLocked),
		errors.Is(err, wizard.ErrFlowComplete),
		errors.Is(err, wizard.ErrNotAtPayment),
		errors.Is(err, wizard.ErrOutcomeRequired):
		return http.StatusConflict
	case errors.Is(err, wizard.ErrServiceRequired),
		errors.Is(err, wizard.ErrSlotRequired),
		errors.Is(err, wizard.ErrUnknownService),
		errors.Is(err, wizard.ErrSlotUnavailable),
		errors.Is(err, slots.ErrInvalidClock),
		errors.Is(err, slots.ErrInvalidDate),
		errors.Is(err, slots.ErrInvalidDuration),
		errors.Is(err, slots.ErrCrossesMidnight):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payments.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, payments.ErrUnsupportedProvider),
		errors.Is(err, payments.ErrNoGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := decodeBody(r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string, fields []string) {
	writeJSON(w, status, sessionResponse{Error: msg, Fields: fields})
}
