package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/storefront-booking/internal/orders"
)

type namedGateway struct {
	name   string
	opened []CheckoutConfig
}

func (g *namedGateway) Name() string { return g.name }

func (g *namedGateway) CreateCheckout(ctx context.Context, cfg CheckoutConfig) (*CheckoutSession, error) {
	g.opened = append(g.opened, cfg)
	return &CheckoutSession{Provider: g.name, ProviderRef: g.name + "-" + cfg.TransactionRef}, nil
}

func (g *namedGateway) LookupPayment(ctx context.Context, providerRef string) (*orders.PaymentLookup, error) {
	return &orders.PaymentLookup{Paid: true, TransactionRef: providerRef}, nil
}

type providerMap map[string]string

func (m providerMap) PaymentProvider(ctx context.Context, storeID string) (string, error) {
	p, ok := m[storeID]
	if !ok {
		return "", errors.New("store not found")
	}
	return p, nil
}

func TestMultiGatewayProviderFor(t *testing.T) {
	stripe := &namedGateway{name: ProviderStripe}
	fake := &namedGateway{name: ProviderFake}
	m := NewMultiGateway("Stripe", providerMap{"demo": "FAKE", "legacy": "square", "plain": ""}, nil, stripe, fake)
	ctx := context.Background()

	assert.Equal(t, ProviderFake, m.ProviderFor(ctx, "demo"))
	assert.Equal(t, ProviderStripe, m.ProviderFor(ctx, "legacy"), "unregistered provider falls back")
	assert.Equal(t, ProviderStripe, m.ProviderFor(ctx, "plain"))
	assert.Equal(t, ProviderStripe, m.ProviderFor(ctx, "missing"), "lookup errors fall back")
}

func TestMultiGatewayCreateCheckoutRoutesByStore(t *testing.T) {
	stripe := &namedGateway{name: ProviderStripe}
	fake := &namedGateway{name: ProviderFake}
	m := NewMultiGateway(ProviderStripe, providerMap{"demo": ProviderFake}, nil, stripe, fake, nil)

	session, err := m.CreateCheckout(context.Background(), CheckoutConfig{StoreID: "demo", TransactionRef: "txn-1"})
	require.NoError(t, err)
	assert.Equal(t, ProviderFake, session.Provider)
	assert.Len(t, fake.opened, 1)
	assert.Empty(t, stripe.opened)

	session, err = m.CreateCheckout(context.Background(), CheckoutConfig{StoreID: "demo", Provider: ProviderStripe, TransactionRef: "txn-2"})
	require.NoError(t, err)
	assert.Equal(t, ProviderStripe, session.Provider)
}

func TestMultiGatewayErrors(t *testing.T) {
	_, err := NewMultiGateway(ProviderStripe, nil, nil).CreateCheckout(context.Background(), CheckoutConfig{TransactionRef: "txn-1"})
	assert.ErrorIs(t, err, ErrNoGateway)

	m := NewMultiGateway(ProviderStripe, nil, nil, &namedGateway{name: ProviderStripe})
	_, err = m.CreateCheckout(context.Background(), CheckoutConfig{Provider: "square", TransactionRef: "txn-1"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestMultiGatewayLookupInfersFakeProvider(t *testing.T) {
	stripe := &namedGateway{name: ProviderStripe}
	fake := &namedGateway{name: ProviderFake}
	m := NewMultiGateway(ProviderStripe, nil, nil, stripe, fake)

	lookup, err := m.LookupPayment(context.Background(), "", fakeRefPrefix+"txn-1")
	require.NoError(t, err)
	assert.Equal(t, fakeRefPrefix+"txn-1", lookup.TransactionRef)

	lookup, err = m.LookupPayment(context.Background(), ProviderStripe, "cs_123")
	require.NoError(t, err)
	assert.Equal(t, "cs_123", lookup.TransactionRef)
}
