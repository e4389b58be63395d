package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/storefront-booking/internal/orders"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

// ProviderResolver returns the payment provider a store is configured for.
type ProviderResolver interface {
	PaymentProvider(ctx context.Context, storeID string) (string, error)
}

// MultiGateway routes to the gateway configured for each store.
type MultiGateway struct {
	gateways map[string]Gateway
	fallback string
	stores   ProviderResolver
	logger   *logging.Logger
}

func NewMultiGateway(fallback string, stores ProviderResolver, logger *logging.Logger, gateways ...Gateway) *MultiGateway {
	if logger == nil {
		logger = logging.Default()
	}
	m := &MultiGateway{
		gateways: make(map[string]Gateway, len(gateways)),
		fallback: strings.ToLower(strings.TrimSpace(fallback)),
		stores:   stores,
		logger:   logger,
	}
	for _, g := range gateways {
		if g != nil {
			m.gateways[g.Name()] = g
		}
	}
	return m
}

func (m *MultiGateway) Name() string { return "multi" }

// ProviderFor picks the provider for a store, falling back to the default
// when the store has none or the lookup fails.
func (m *MultiGateway) ProviderFor(ctx context.Context, storeID string) string {
	if m.stores != nil && storeID != "" {
		provider, err := m.stores.PaymentProvider(ctx, storeID)
		if err != nil {
			m.logger.Warn("multi_gateway: store provider lookup failed, using default", "store_id", storeID, "error", err)
		} else if p := strings.ToLower(strings.TrimSpace(provider)); p != "" {
			if _, ok := m.gateways[p]; ok {
				return p
			}
			m.logger.Warn("multi_gateway: store provider not available, using default", "store_id", storeID, "provider", p)
		}
	}
	return m.fallback
}

func (m *MultiGateway) gateway(provider string) (Gateway, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = m.fallback
	}
	g, ok := m.gateways[provider]
	if !ok {
		if len(m.gateways) == 0 {
			return nil, ErrNoGateway
		}
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	return g, nil
}

func (m *MultiGateway) CreateCheckout(ctx context.Context, cfg CheckoutConfig) (*CheckoutSession, error) {
	if cfg.Provider == "" {
		cfg.Provider = m.ProviderFor(ctx, cfg.StoreID)
	}
	g, err := m.gateway(cfg.Provider)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("multi_gateway: opening checkout", "store_id", cfg.StoreID, "provider", g.Name())
	return g.CreateCheckout(ctx, cfg)
}

// LookupPayment implements orders.CheckoutLookup.
func (m *MultiGateway) LookupPayment(ctx context.Context, provider, providerRef string) (*orders.PaymentLookup, error) {
	if provider == "" && strings.HasPrefix(providerRef, fakeRefPrefix) {
		provider = ProviderFake
	}
	g, err := m.gateway(provider)
	if err != nil {
		return nil, err
	}
	return g.LookupPayment(ctx, providerRef)
}

var _ orders.CheckoutLookup = (*MultiGateway)(nil)
