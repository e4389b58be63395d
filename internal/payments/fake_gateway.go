package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/wolfman30/storefront-booking/internal/orders"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

const fakeRefPrefix = "fake:"

// FakeGateway is a dev/demo gateway whose hosted page is served by this
// service. It MUST be gated by ALLOW_FAKE_PAYMENTS and never enabled in
// production.
type FakeGateway struct {
	publicBaseURL string
	logger        *logging.Logger

	mu       sync.Mutex
	sessions map[string]fakeSession
}

type fakeSession struct {
	cfg  CheckoutConfig
	paid bool
}

func NewFakeGateway(publicBaseURL string, logger *logging.Logger) *FakeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeGateway{
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		logger:        logger,
		sessions:      make(map[string]fakeSession),
	}
}

func (g *FakeGateway) Name() string { return ProviderFake }

func (g *FakeGateway) CreateCheckout(ctx context.Context, cfg CheckoutConfig) (*CheckoutSession, error) {
	if cfg.TransactionRef == "" {
		return nil, ErrNoTransactionReference
	}
	if g.publicBaseURL == "" {
		return nil, fmt.Errorf("payments: fake checkout requires PUBLIC_BASE_URL")
	}
	if !isValidBaseURL(g.publicBaseURL) {
		return nil, fmt.Errorf("payments: fake checkout PUBLIC_BASE_URL must be an absolute http(s) URL")
	}

	ref := fakeRefPrefix + cfg.TransactionRef
	g.mu.Lock()
	g.sessions[ref] = fakeSession{cfg: cfg}
	g.mu.Unlock()

	g.logger.Info("fake checkout opened", "store_id", cfg.StoreID, "transaction_ref", cfg.TransactionRef)
	return &CheckoutSession{
		Provider:    ProviderFake,
		ProviderRef: ref,
		URL:         fmt.Sprintf("%s/demo/payments/%s", g.publicBaseURL, url.PathEscape(cfg.TransactionRef)),
	}, nil
}

func (g *FakeGateway) LookupPayment(ctx context.Context, providerRef string) (*orders.PaymentLookup, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[providerRef]
	if !ok {
		return nil, fmt.Errorf("payments: unknown fake checkout %q", providerRef)
	}
	return &orders.PaymentLookup{
		Paid:           s.paid,
		TransactionRef: s.cfg.TransactionRef,
		AmountCents:    s.cfg.AmountCents,
	}, nil
}

// checkout returns the config a demo page was opened with.
func (g *FakeGateway) checkout(transactionRef string) (CheckoutConfig, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[fakeRefPrefix+transactionRef]
	return s.cfg, ok
}

// markPaid flips the demo checkout to paid and reports whether it changed.
func (g *FakeGateway) markPaid(transactionRef string) (CheckoutConfig, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref := fakeRefPrefix + transactionRef
	s, ok := g.sessions[ref]
	if !ok {
		return CheckoutConfig{}, false
	}
	s.paid = true
	g.sessions[ref] = s
	return s.cfg, true
}
