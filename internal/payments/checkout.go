package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/wolfman30/storefront-booking/internal/orders"
)

var (
	// ErrNoTransactionReference guards the gateway: no backend order, no checkout.
	ErrNoTransactionReference = errors.New("payments: transaction reference required before opening the gateway")
	ErrUnsupportedProvider    = errors.New("payments: unsupported payment provider")
	ErrNoGateway              = errors.New("payments: no gateway configured")
)

// Provider names.
const (
	ProviderStripe = "stripe"
	ProviderFake   = "fake"
)

// CheckoutConfig is everything a gateway needs to open a hosted checkout.
type CheckoutConfig struct {
	Provider       string
	StoreID        string
	SessionID      string
	TransactionRef string
	OrderID        string
	OrderNumber    string
	AmountCents    int64
	Currency       string
	Description    string
	CustomerEmail  string
	CustomerName   string
	SuccessURL     string
	CancelURL      string
}

// CheckoutSession is the gateway's handle for an opened checkout.
type CheckoutSession struct {
	Provider    string
	ProviderRef string
	URL         string
}

// Gateway opens hosted checkouts and answers whether they were paid.
type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, cfg CheckoutConfig) (*CheckoutSession, error)
	LookupPayment(ctx context.Context, providerRef string) (*orders.PaymentLookup, error)
}

// CallbackURLs builds the URLs a gateway sends the browser back to.
type CallbackURLs struct {
	BaseURL string
}

func (c CallbackURLs) base() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

func (c CallbackURLs) Success(ref string) string {
	return fmt.Sprintf("%s/gateway/callback/%s/success", c.base(), url.PathEscape(ref))
}

func (c CallbackURLs) Error(ref string) string {
	return fmt.Sprintf("%s/gateway/callback/%s/error", c.base(), url.PathEscape(ref))
}

func (c CallbackURLs) Close(ref string) string {
	return fmt.Sprintf("%s/gateway/callback/%s/close", c.base(), url.PathEscape(ref))
}

// BuildCheckoutConfig refuses to produce a config for an order without a
// transaction reference.
func BuildCheckoutConfig(order *orders.Order, sessionID, provider string, urls CallbackURLs) (CheckoutConfig, error) {
	if order == nil || strings.TrimSpace(order.TransactionRef) == "" {
		return CheckoutConfig{}, ErrNoTransactionReference
	}
	description := order.Service.Name
	if order.Slot.Date != "" {
		description = fmt.Sprintf("%s on %s at %s", order.Service.Name, order.Slot.Date, order.Slot.StartTime)
	}
	if strings.TrimSpace(description) == "" {
		description = "Booking " + order.OrderNumber
	}
	return CheckoutConfig{
		Provider:       strings.ToLower(strings.TrimSpace(provider)),
		StoreID:        order.StoreID,
		SessionID:      sessionID,
		TransactionRef: order.TransactionRef,
		OrderID:        order.ID.String(),
		OrderNumber:    order.OrderNumber,
		AmountCents:    order.AmountCents,
		Currency:       strings.ToLower(order.Currency),
		Description:    description,
		CustomerEmail:  order.Customer.Email,
		CustomerName:   order.Customer.Name(),
		SuccessURL:     urls.Success(order.TransactionRef),
		CancelURL:      urls.Close(order.TransactionRef),
	}, nil
}

func isValidBaseURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}
