package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/storefront-booking/internal/catalog"
	"github.com/wolfman30/storefront-booking/internal/dispatch"
	"github.com/wolfman30/storefront-booking/internal/orders"
	"github.com/wolfman30/storefront-booking/internal/payapi"
	"github.com/wolfman30/storefront-booking/internal/payments"
	"github.com/wolfman30/storefront-booking/internal/progress"
	"github.com/wolfman30/storefront-booking/internal/reconcile"
	"github.com/wolfman30/storefront-booking/internal/sessions"
	"github.com/wolfman30/storefront-booking/internal/wizard"
)

var haircut = wizard.Service{
	ID:              "svc-cut",
	Name:            "Haircut",
	PriceCents:      4500,
	Currency:        "usd",
	DurationMinutes: 45,
	SlotTimes:       []string{"09:00", "10:00"},
}

type fakeCatalog struct {
	services []wizard.Service
}

func (c *fakeCatalog) ListServices(ctx context.Context, storeID string) ([]wizard.Service, error) {
	return c.services, nil
}

func (c *fakeCatalog) FindService(ctx context.Context, storeID, identifier string) (*wizard.Service, error) {
	for _, svc := range c.services {
		if svc.ID == identifier {
			found := svc
			return &found, nil
		}
	}
	return nil, catalog.ErrServiceNotFound
}

type fakeOrders struct {
	mu       sync.Mutex
	orders   map[string]*orders.Order
	created  int
	attached map[string]string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: map[string]*orders.Order{}, attached: map[string]string{}}
}

func (o *fakeOrders) CreateOrder(ctx context.Context, storeID string, sel orders.ServiceSelection, customer orders.Customer, slot orders.Slot) (*orders.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created++
	order := &orders.Order{
		ID:             uuid.New(),
		OrderNumber:    fmt.Sprintf("SF-%d", o.created),
		StoreID:        storeID,
		TransactionRef: uuid.NewString(),
		Status:         payapi.StatusPending,
		AmountCents:    sel.PriceCents,
		Currency:       sel.Currency,
		Service:        sel,
		Slot:           slot,
		Customer:       customer,
	}
	o.orders[order.TransactionRef] = order
	copied := *order
	return &copied, nil
}

func (o *fakeOrders) GetOrder(ctx context.Context, ref, storeID string) (*orders.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[ref]
	if !ok {
		return nil, orders.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (o *fakeOrders) AttachCheckout(ctx context.Context, ref, provider, providerRef string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attached[ref] = providerRef
	return nil
}

func (o *fakeOrders) complete(ref string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orders[ref].Status = payapi.StatusCompleted
}

func (o *fakeOrders) createdCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.created
}

type fakeGateway struct {
	mu      sync.Mutex
	opened  []payments.CheckoutConfig
	openErr error
}

func (g *fakeGateway) ProviderFor(ctx context.Context, storeID string) string {
	return payments.ProviderFake
}

func (g *fakeGateway) CreateCheckout(ctx context.Context, cfg payments.CheckoutConfig) (*payments.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openErr != nil {
		return nil, g.openErr
	}
	g.opened = append(g.opened, cfg)
	n := len(g.opened)
	return &payments.CheckoutSession{
		Provider:    payments.ProviderFake,
		ProviderRef: fmt.Sprintf("cs_%d", n),
		URL:         fmt.Sprintf("https://pay.test/checkout/%d", n),
	}, nil
}

func (g *fakeGateway) openCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.opened)
}

// fakeReconciler answers every success with kind, taking order details from
// the orders fake.
type fakeReconciler struct {
	mu       sync.Mutex
	kind     reconcile.Kind
	orders   *fakeOrders
	requests []reconcile.Request
}

func (r *fakeReconciler) Reconcile(ctx context.Context, req reconcile.Request) reconcile.Outcome {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	ref := req.Result.TransactionRef
	if ref == "" {
		ref = req.FallbackRef
	}
	if req.OnProgress != nil {
		req.OnProgress(reconcile.Progress{Tier: reconcile.TierVerify, Attempt: 1, MaxAttempts: 1})
	}
	out := reconcile.Outcome{Kind: r.kind, TransactionRef: ref, StoreID: req.StoreID, Tier: reconcile.TierVerify}
	if order, err := r.orders.GetOrder(ctx, ref, req.StoreID); err == nil {
		out.OrderID = order.ID.String()
		out.OrderNumber = order.OrderNumber
	}
	return out
}

func (r *fakeReconciler) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type flowFixture struct {
	flow       *Flow
	sessions   *sessions.Store
	orders     *fakeOrders
	gateway    *fakeGateway
	reconciler *fakeReconciler
	registry   *payments.Registry
	hub        *progress.Hub
	redis      *miniredis.Miniredis
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	fx := &flowFixture{
		sessions: sessions.NewStore(client, time.Hour),
		orders:   newFakeOrders(),
		gateway:  &fakeGateway{},
		registry: payments.NewRegistry(time.Hour),
		hub:      progress.NewHub(nil),
		redis:    mr,
	}
	fx.reconciler = &fakeReconciler{kind: reconcile.KindConfirmed, orders: fx.orders}
	fx.flow = NewFlow(Deps{
		Sessions:   fx.sessions,
		Catalog:    &fakeCatalog{services: []wizard.Service{haircut}},
		Orders:     fx.orders,
		Gateway:    fx.gateway,
		Reconciler: fx.reconciler,
		Registry:   fx.registry,
		Limiter:    payments.NewAttemptLimiter(client, 5, time.Hour, nil),
		Progress:   fx.hub,
		URLs:       payments.CallbackURLs{BaseURL: "https://book.test"},
		LockWait:   time.Second,
	})
	return fx
}

var testGuest = wizard.GuestInfo{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Phone: "+15550100"}

// atPayment walks a guest session to the payment step.
func (fx *flowFixture) atPayment(t *testing.T) *wizard.Session {
	t.Helper()
	ctx := context.Background()
	s, err := fx.flow.StartSession(ctx, "acme", nil, haircut.ID)
	require.NoError(t, err)
	require.Equal(t, wizard.StepDateTime, s.Step)

	_, err = fx.flow.ChooseSlot(ctx, "acme", s.ID, "2026-11-02", "10:00")
	require.NoError(t, err)
	_, err = fx.flow.Next(ctx, "acme", s.ID)
	require.NoError(t, err)
	guest := testGuest
	_, err = fx.flow.UpdateDetails(ctx, "acme", s.ID, DetailsInput{Guest: &guest})
	require.NoError(t, err)
	s, err = fx.flow.Next(ctx, "acme", s.ID)
	require.NoError(t, err)
	require.Equal(t, wizard.StepPayment, s.Step)
	return s
}

func TestGuestBookingReachesSuccess(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	s := fx.atPayment(t)
	assert.Equal(t, "10:45", s.EndTime)

	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/checkout/1", handoff.CheckoutURL)
	assert.False(t, handoff.Reused)
	require.NotNil(t, handoff.Session.Order)
	assert.True(t, handoff.Session.Processing.Submitting)
	assert.False(t, handoff.Session.Processing.GatewayLoading)

	cfg := fx.gateway.opened[0]
	assert.Equal(t, handoff.TransactionRef, cfg.TransactionRef)
	assert.Equal(t, int64(4500), cfg.AmountCents)
	assert.Equal(t, "https://book.test/gateway/callback/"+handoff.TransactionRef+"/success", cfg.SuccessURL)

	nav, err := fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Success(handoff.TransactionRef, nil))
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.KindConfirmed), nav.Outcome)
	assert.Equal(t, dispatch.SuccessPath("acme", handoff.OrderID, handoff.TransactionRef, handoff.OrderNumber), nav.URL)

	done, err := fx.flow.GetSession(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepSuccess, done.Step)
	assert.False(t, done.Processing.Active())
	assert.Equal(t, handoff.TransactionRef, fx.reconciler.requests[0].FallbackRef)
}

func TestPayTwiceReusesOpenCheckout(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	s := fx.atPayment(t)

	first, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)
	second, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)

	assert.True(t, second.Reused)
	assert.Equal(t, first.TransactionRef, second.TransactionRef)
	assert.Equal(t, first.CheckoutURL, second.CheckoutURL)
	assert.Equal(t, 1, fx.orders.createdCount())
	assert.Equal(t, 1, fx.gateway.openCount())
}

func TestDuplicateResultReturnsStoredNavigation(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	s := fx.atPayment(t)
	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)

	first, err := fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Success(handoff.TransactionRef, nil))
	require.NoError(t, err)
	again, err := fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Closed())
	require.NoError(t, err)

	assert.True(t, again.Repeated)
	assert.Equal(t, first.URL, again.URL)
	assert.Equal(t, 1, fx.reconciler.calls())
}

func TestGatewayErrorKeepsOrderForRetry(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	s := fx.atPayment(t)
	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)

	nav, err := fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Failure("card declined"))
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeGatewayError, nav.Outcome)
	require.NotNil(t, nav.Message)
	assert.Equal(t, "card declined", nav.Message.Text)

	s, err = fx.flow.GetSession(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepPayment, s.Step)
	assert.False(t, s.Processing.Active())

	retry, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.False(t, retry.Reused)
	assert.Equal(t, handoff.TransactionRef, retry.TransactionRef)
	assert.Equal(t, 1, fx.orders.createdCount())
	assert.Equal(t, 2, fx.gateway.openCount())

	nav, err = fx.flow.DeliverGatewayResult(ctx, retry.TransactionRef, payments.Success(retry.TransactionRef, nil))
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.KindConfirmed), nav.Outcome)
	assert.Equal(t, 1, fx.reconciler.calls())
}

func TestGatewayClosedIsNeutral(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	s := fx.atPayment(t)
	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)

	nav, err := fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Closed())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeCanceled, nav.Outcome)
	assert.Empty(t, nav.URL)

	s, err = fx.flow.GetSession(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepPayment, s.Step)
	require.NotNil(t, s.Message)
	assert.Equal(t, wizard.LevelInfo, s.Message.Level)
	assert.Equal(t, 0, fx.reconciler.calls())
}

func TestPendingVerificationStaysAtPayment(t *testing.T) {
	fx := newFlowFixture(t)
	fx.reconciler.kind = reconcile.KindPendingVerification
	ctx := context.Background()
	s := fx.atPayment(t)
	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)

	nav, err := fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Success(handoff.TransactionRef, nil))
	require.NoError(t, err)
	assert.Equal(t, dispatch.VerificationPath("acme", handoff.TransactionRef), nav.URL)

	s, err = fx.flow.GetSession(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepPayment, s.Step)
	assert.Equal(t, wizard.LevelWarning, s.Message.Level)
}

func TestPayAfterWebhookCompletedOrder(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	s := fx.atPayment(t)
	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)

	// Customer closes the checkout, then the webhook lands before they retry.
	_, err = fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Closed())
	require.NoError(t, err)
	fx.orders.complete(handoff.TransactionRef)

	retry, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)
	require.NotNil(t, retry.Navigation)
	assert.Equal(t, string(reconcile.KindAlreadyCompleted), retry.Navigation.Outcome)
	assert.Equal(t, 1, fx.gateway.openCount())

	s, err = fx.flow.GetSession(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepSuccess, s.Step)

	_, err = fx.flow.Pay(ctx, "acme", s.ID)
	assert.ErrorIs(t, err, wizard.ErrFlowComplete)
}

func TestCheckoutOpenFailureReturnsToPayment(t *testing.T) {
	fx := newFlowFixture(t)
	fx.gateway.openErr = errors.New("gateway down")
	ctx := context.Background()
	s := fx.atPayment(t)

	_, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.Error(t, err)

	s, err = fx.flow.GetSession(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepPayment, s.Step)
	assert.False(t, s.Processing.Active())
	require.NotNil(t, s.Message)
	assert.Equal(t, msgPayStartFail, s.Message.Text)
}

func TestPayBeforePaymentStepIsRefused(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	s, err := fx.flow.StartSession(ctx, "acme", nil, haircut.ID)
	require.NoError(t, err)

	_, err = fx.flow.Pay(ctx, "acme", s.ID)
	assert.ErrorIs(t, err, wizard.ErrNotAtPayment)
	assert.Equal(t, 0, fx.orders.createdCount())
}

func TestUnknownReference(t *testing.T) {
	fx := newFlowFixture(t)
	_, err := fx.flow.DeliverGatewayResult(context.Background(), "nope", payments.Closed())
	assert.ErrorIs(t, err, ErrUnknownReference)
}

func TestStartWithUnknownServiceStaysAtServiceStep(t *testing.T) {
	fx := newFlowFixture(t)
	s, err := fx.flow.StartSession(context.Background(), "acme", nil, "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, wizard.StepService, s.Step)
	require.NotNil(t, s.Message)
	assert.Equal(t, wizard.LevelError, s.Message.Level)
}

func TestBookingLockedOncePaymentStarts(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	s := fx.atPayment(t)
	_, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)

	_, err = fx.flow.SelectService(ctx, "acme", s.ID, haircut.ID)
	assert.ErrorIs(t, err, wizard.ErrLocked)
	_, err = fx.flow.ChooseSlot(ctx, "acme", s.ID, "2026-11-03", "09:00")
	assert.ErrorIs(t, err, wizard.ErrLocked)
	_, err = fx.flow.Back(ctx, "acme", s.ID)
	assert.ErrorIs(t, err, wizard.ErrBusy)
}

func TestSignedInCustomerSkipsDetailsAndOwnsSession(t *testing.T) {
	fx := newFlowFixture(t)
	who := &wizard.Identity{CustomerID: "cust-1", FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"}
	ctx := wizard.WithIdentity(context.Background(), who)

	s, err := fx.flow.StartSession(ctx, "acme", who, haircut.ID)
	require.NoError(t, err)
	_, err = fx.flow.ChooseSlot(ctx, "acme", s.ID, "2026-11-02", "09:00")
	require.NoError(t, err)
	s, err = fx.flow.Next(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepPayment, s.Step)

	_, err = fx.flow.UpdateDetails(ctx, "acme", s.ID, DetailsInput{Guest: &testGuest})
	assert.ErrorIs(t, err, wizard.ErrReadOnlyCustomer)

	_, err = fx.flow.GetSession(context.Background(), "acme", s.ID)
	assert.ErrorIs(t, err, sessions.ErrNotFound)
	other := wizard.WithIdentity(context.Background(), &wizard.Identity{CustomerID: "cust-2"})
	_, err = fx.flow.GetSession(other, "acme", s.ID)
	assert.ErrorIs(t, err, sessions.ErrNotFound)

	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)
	order, err := fx.orders.GetOrder(ctx, handoff.TransactionRef, "acme")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", order.Customer.CustomerID)
	assert.Equal(t, "grace@example.com", order.Customer.Email)
}

func TestSuccessPublishesProgressAndOutcome(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	s := fx.atPayment(t)
	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)

	events, cancel := fx.hub.Subscribe(progress.Key("acme", s.ID))
	defer cancel()

	_, err = fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Success(handoff.TransactionRef, nil))
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, progress.TypeProgress, first.Type)
	assert.Equal(t, reconcile.TierVerify, first.Tier)
	last := <-events
	assert.Equal(t, progress.TypeOutcome, last.Type)
	assert.Equal(t, string(reconcile.KindConfirmed), last.Outcome)
}

func TestCalendarDefaultsToCurrentMonth(t *testing.T) {
	fx := newFlowFixture(t)
	fx.flow.now = func() time.Time { return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC) }

	month, err := fx.flow.Calendar("")
	require.NoError(t, err)
	assert.Equal(t, 2026, month.Year)

	_, err = fx.flow.Calendar("not-a-month")
	assert.Error(t, err)
}

func TestSuccessRedeliveredAfterWebhookCompletesPendingPayment(t *testing.T) {
	fx := newFlowFixture(t)
	fx.reconciler.kind = reconcile.KindPendingVerification
	ctx := context.Background()
	s := fx.atPayment(t)
	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)

	nav, err := fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Success(handoff.TransactionRef, nil))
	require.NoError(t, err)
	require.Equal(t, string(reconcile.KindPendingVerification), nav.Outcome)

	fx.orders.complete(handoff.TransactionRef)
	fx.reconciler.mu.Lock()
	fx.reconciler.kind = reconcile.KindAlreadyCompleted
	fx.reconciler.mu.Unlock()

	nav, err = fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Success(handoff.TransactionRef, nil))
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.KindAlreadyCompleted), nav.Outcome)
	assert.False(t, nav.Repeated)
	assert.Equal(t, dispatch.SuccessPath("acme", handoff.OrderID, handoff.TransactionRef, handoff.OrderNumber), nav.URL)
	assert.Equal(t, 2, fx.reconciler.calls())

	s, err = fx.flow.GetSession(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepSuccess, s.Step)

	// Once terminal, further deliveries replay the stored navigation.
	again, err := fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Success(handoff.TransactionRef, nil))
	require.NoError(t, err)
	assert.True(t, again.Repeated)
	assert.Equal(t, nav.URL, again.URL)
	assert.Equal(t, 2, fx.reconciler.calls())
}

func TestCloseAfterPendingVerificationKeepsVerificationPage(t *testing.T) {
	fx := newFlowFixture(t)
	fx.reconciler.kind = reconcile.KindPendingVerification
	ctx := context.Background()
	s := fx.atPayment(t)
	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)

	_, err = fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Success(handoff.TransactionRef, nil))
	require.NoError(t, err)
	nav, err := fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Closed())
	require.NoError(t, err)

	assert.True(t, nav.Repeated)
	assert.Equal(t, dispatch.VerificationPath("acme", handoff.TransactionRef), nav.URL)
	assert.Equal(t, 1, fx.reconciler.calls())
}

func TestSuccessReleasesCheckoutState(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	s := fx.atPayment(t)
	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)
	attempts := "payments:attempts:acme:" + s.ID
	require.True(t, fx.redis.Exists(attempts))
	require.Equal(t, 1, fx.registry.Len())

	_, err = fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Success(handoff.TransactionRef, nil))
	require.NoError(t, err)

	assert.Equal(t, 0, fx.registry.Len())
	assert.False(t, fx.redis.Exists(attempts))
	ttl := fx.redis.TTL("booking:session:acme:" + s.ID)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 15*time.Minute)
}

func TestAbandonDiscardsSession(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	s := fx.atPayment(t)
	handoff, err := fx.flow.Pay(ctx, "acme", s.ID)
	require.NoError(t, err)

	require.NoError(t, fx.flow.Abandon(ctx, "acme", s.ID))

	_, err = fx.flow.GetSession(ctx, "acme", s.ID)
	assert.ErrorIs(t, err, sessions.ErrNotFound)
	assert.Equal(t, 0, fx.registry.Len())
	assert.False(t, fx.redis.Exists("payments:attempts:acme:"+s.ID))

	_, err = fx.flow.DeliverGatewayResult(ctx, handoff.TransactionRef, payments.Success(handoff.TransactionRef, nil))
	assert.ErrorIs(t, err, ErrUnknownReference)
	assert.Equal(t, 0, fx.reconciler.calls())

	assert.ErrorIs(t, fx.flow.Abandon(ctx, "acme", s.ID), sessions.ErrNotFound)
}
