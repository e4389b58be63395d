package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/storefront-booking/internal/orders"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

var stripeTracer = otel.Tracer("storefront.internal.payments.stripe")

// StripeGateway opens Stripe Checkout Sessions over the REST API.
type StripeGateway struct {
	secretKey  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewStripeGateway(secretKey string, logger *logging.Logger) *StripeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeGateway{
		secretKey:  secretKey,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *StripeGateway) WithBaseURL(baseURL string) *StripeGateway {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

func (s *StripeGateway) Name() string { return ProviderStripe }

func (s *StripeGateway) CreateCheckout(ctx context.Context, cfg CheckoutConfig) (*CheckoutSession, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_checkout_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("store_id", cfg.StoreID),
		attribute.String("transaction_ref", cfg.TransactionRef),
		attribute.Int64("amount_cents", cfg.AmountCents),
	)

	if cfg.TransactionRef == "" {
		return nil, ErrNoTransactionReference
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", cfg.TransactionRef)
	form.Set("line_items[0][price_data][currency]", strings.ToLower(currency))
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", cfg.AmountCents))
	form.Set("line_items[0][price_data][product_data][name]", cfg.Description)
	form.Set("line_items[0][quantity]", "1")
	if cfg.CustomerEmail != "" {
		form.Set("customer_email", cfg.CustomerEmail)
	}
	// Stripe substitutes the placeholder itself; it must reach the API unescaped.
	form.Set("success_url", withQuery(cfg.SuccessURL, "session_id={CHECKOUT_SESSION_ID}"))
	form.Set("cancel_url", cfg.CancelURL)

	for _, prefix := range []string{"metadata", "payment_intent_data[metadata]"} {
		form.Set(prefix+"[transaction_ref]", cfg.TransactionRef)
		form.Set(prefix+"[store_id]", cfg.StoreID)
		form.Set(prefix+"[order_id]", cfg.OrderID)
		form.Set(prefix+"[order_number]", cfg.OrderNumber)
		if cfg.SessionID != "" {
			form.Set(prefix+"[booking_session_id]", cfg.SessionID)
		}
	}

	var parsed stripeCheckoutSession
	if err := s.do(ctx, http.MethodPost, "/v1/checkout/sessions", strings.NewReader(form.Encode()), &parsed); err != nil {
		return nil, err
	}
	if parsed.URL == "" {
		return nil, fmt.Errorf("payments: stripe response missing checkout url")
	}
	s.logger.Info("stripe checkout session created",
		"store_id", cfg.StoreID, "transaction_ref", cfg.TransactionRef, "checkout_session_id", parsed.ID)
	return &CheckoutSession{Provider: ProviderStripe, ProviderRef: parsed.ID, URL: parsed.URL}, nil
}

// LookupPayment reads the checkout session back and reports whether it was paid.
func (s *StripeGateway) LookupPayment(ctx context.Context, providerRef string) (*orders.PaymentLookup, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.retrieve_checkout_session")
	defer span.End()
	span.SetAttributes(attribute.String("checkout_session_id", providerRef))

	if providerRef == "" {
		return nil, fmt.Errorf("payments: stripe lookup requires a checkout session id")
	}
	var parsed stripeCheckoutSession
	if err := s.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(providerRef), nil, &parsed); err != nil {
		return nil, err
	}
	ref := parsed.Metadata["transaction_ref"]
	if ref == "" {
		ref = parsed.ClientReferenceID
	}
	return &orders.PaymentLookup{
		Paid:           parsed.PaymentStatus == "paid",
		TransactionRef: ref,
		AmountCents:    parsed.AmountTotal,
	}, nil
}

func (s *StripeGateway) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", s.apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payments: stripe http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr stripeErrorResponse
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("payments: stripe decode: %w", err)
	}
	return nil
}

func withQuery(rawURL, query string) string {
	if rawURL == "" {
		return ""
	}
	if strings.Contains(rawURL, "?") {
		return rawURL + "&" + query
	}
	return rawURL + "?" + query
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
	Status            string            `json:"status"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
