// Package booking composes the wizard, order pre-authorization, the gateway
// handoff and payment reconciliation into the checkout flow the storefront
// calls.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/storefront-booking/internal/catalog"
	"github.com/wolfman30/storefront-booking/internal/dispatch"
	"github.com/wolfman30/storefront-booking/internal/observability/metrics"
	"github.com/wolfman30/storefront-booking/internal/orders"
	"github.com/wolfman30/storefront-booking/internal/payments"
	"github.com/wolfman30/storefront-booking/internal/progress"
	"github.com/wolfman30/storefront-booking/internal/reconcile"
	"github.com/wolfman30/storefront-booking/internal/sessions"
	"github.com/wolfman30/storefront-booking/internal/slots"
	"github.com/wolfman30/storefront-booking/internal/wizard"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

var tracer = otel.Tracer("storefront.internal.booking")

var ErrUnknownReference = errors.New("booking: no checkout is waiting for this reference")

// OutcomeProcessing is reported for a duplicate gateway result that arrives
// while the first one is still being reconciled.
const OutcomeProcessing = "processing"

const (
	defaultLockWait = 5 * time.Second
	msgPayStartFail = "We could not start your payment. Please try again."
)

// Catalog lists the services a store offers.
type Catalog interface {
	ListServices(ctx context.Context, storeID string) ([]wizard.Service, error)
	FindService(ctx context.Context, storeID, identifier string) (*wizard.Service, error)
}

// OrderService pre-authorizes orders.
type OrderService interface {
	CreateOrder(ctx context.Context, storeID string, sel orders.ServiceSelection, customer orders.Customer, slot orders.Slot) (*orders.Order, error)
	GetOrder(ctx context.Context, ref, storeID string) (*orders.Order, error)
	AttachCheckout(ctx context.Context, ref, provider, providerRef string) error
}

// CheckoutOpener opens hosted checkouts with the store's gateway.
type CheckoutOpener interface {
	ProviderFor(ctx context.Context, storeID string) string
	CreateCheckout(ctx context.Context, cfg payments.CheckoutConfig) (*payments.CheckoutSession, error)
}

type outcomeReconciler interface {
	Reconcile(ctx context.Context, req reconcile.Request) reconcile.Outcome
}

// Deps wires a Flow. Limiter, Progress and Metrics are optional.
type Deps struct {
	Sessions   *sessions.Store
	Catalog    Catalog
	Orders     OrderService
	Gateway    CheckoutOpener
	Reconciler outcomeReconciler
	Dispatcher *dispatch.Dispatcher
	Registry   *payments.Registry
	Limiter    *payments.AttemptLimiter
	Progress   *progress.Hub
	Metrics    *metrics.ReconcileMetrics
	URLs       payments.CallbackURLs
	LockWait   time.Duration
	Logger     *logging.Logger
}

// Flow is the server side of the booking wizard.
type Flow struct {
	sessions   *sessions.Store
	catalog    Catalog
	orders     OrderService
	gateway    CheckoutOpener
	reconciler outcomeReconciler
	dispatcher *dispatch.Dispatcher
	registry   *payments.Registry
	limiter    *payments.AttemptLimiter
	hub        *progress.Hub
	metrics    *metrics.ReconcileMetrics
	urls       payments.CallbackURLs
	lockWait   time.Duration
	logger     *logging.Logger
	now        func() time.Time
}

func NewFlow(d Deps) *Flow {
	if d.Sessions == nil || d.Catalog == nil || d.Orders == nil || d.Gateway == nil || d.Reconciler == nil {
		panic("booking: sessions, catalog, orders, gateway and reconciler are required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Dispatcher == nil {
		d.Dispatcher = dispatch.New(d.Logger)
	}
	if d.Registry == nil {
		d.Registry = payments.NewRegistry(0)
	}
	if d.LockWait <= 0 {
		d.LockWait = defaultLockWait
	}
	return &Flow{
		sessions:   d.Sessions,
		catalog:    d.Catalog,
		orders:     d.Orders,
		gateway:    d.Gateway,
		reconciler: d.Reconciler,
		dispatcher: d.Dispatcher,
		registry:   d.Registry,
		limiter:    d.Limiter,
		hub:        d.Progress,
		metrics:    d.Metrics,
		urls:       d.URLs,
		lockWait:   d.LockWait,
		logger:     d.Logger,
		now:        time.Now,
	}
}

// Services lists what the store can book.
func (f *Flow) Services(ctx context.Context, storeID string) ([]wizard.Service, error) {
	return f.catalog.ListServices(ctx, storeID)
}

// Calendar returns the month grid for "YYYY-MM", or the current month.
func (f *Flow) Calendar(month string) (slots.Month, error) {
	ref, err := slots.ParseMonth(month, f.now())
	if err != nil {
		return slots.Month{}, err
	}
	return slots.MonthGrid(ref), nil
}

// StartSession opens a wizard. A service identifier from an inbound link is
// resolved up front; an unknown one leaves the session at the service step
// with a message rather than failing the request.
func (f *Flow) StartSession(ctx context.Context, storeID string, identity *wizard.Identity, serviceIdentifier string) (*wizard.Session, error) {
	s, err := f.sessions.Create(ctx, storeID, identity)
	if err != nil {
		return nil, err
	}
	if serviceIdentifier == "" {
		return s, nil
	}
	svc, err := f.catalog.FindService(ctx, storeID, serviceIdentifier)
	switch {
	case errors.Is(err, catalog.ErrServiceNotFound):
		s.RejectService()
	case err != nil:
		return nil, err
	default:
		if err := s.SelectService(*svc); err != nil {
			return nil, err
		}
	}
	if err := f.sessions.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession loads a session the caller owns.
func (f *Flow) GetSession(ctx context.Context, storeID, sessionID string) (*wizard.Session, error) {
	s, err := f.sessions.Get(ctx, storeID, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.OwnedBy(wizard.IdentityFromContext(ctx)) {
		return nil, sessions.ErrNotFound
	}
	return s, nil
}

// mutate applies fn under the session lock and persists the result. The
// session is saved even when fn refuses the change, so guard messages reach
// the browser.
func (f *Flow) mutate(ctx context.Context, storeID, sessionID string, fn func(*wizard.Session) error) (*wizard.Session, error) {
	unlock, err := f.sessions.Lock(ctx, sessionID, f.lockWait)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := f.GetSession(ctx, storeID, sessionID)
	if err != nil {
		return nil, err
	}
	fnErr := fn(s)
	if err := f.sessions.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, fnErr
}

// SelectService chooses the offering by id or inbound identifier.
func (f *Flow) SelectService(ctx context.Context, storeID, sessionID, identifier string) (*wizard.Session, error) {
	svc, lookupErr := f.catalog.FindService(ctx, storeID, identifier)
	if lookupErr != nil && !errors.Is(lookupErr, catalog.ErrServiceNotFound) {
		return nil, lookupErr
	}
	return f.mutate(ctx, storeID, sessionID, func(s *wizard.Session) error {
		if s.Locked() {
			return wizard.ErrLocked
		}
		if lookupErr != nil {
			s.RejectService()
			return wizard.ErrUnknownService
		}
		return s.SelectService(*svc)
	})
}

func (f *Flow) ChooseSlot(ctx context.Context, storeID, sessionID, date, start string) (*wizard.Session, error) {
	return f.mutate(ctx, storeID, sessionID, func(s *wizard.Session) error {
		return s.ChooseSlot(date, start)
	})
}

// DetailsInput carries the editable customer fields. Nil fields are left alone.
type DetailsInput struct {
	Guest *wizard.GuestInfo
	Notes *string
}

func (f *Flow) UpdateDetails(ctx context.Context, storeID, sessionID string, in DetailsInput) (*wizard.Session, error) {
	return f.mutate(ctx, storeID, sessionID, func(s *wizard.Session) error {
		if in.Guest != nil {
			if err := s.UpdateGuest(*in.Guest); err != nil {
				return err
			}
		}
		if in.Notes != nil {
			return s.UpdateNotes(*in.Notes)
		}
		return nil
	})
}

func (f *Flow) Next(ctx context.Context, storeID, sessionID string) (*wizard.Session, error) {
	return f.mutate(ctx, storeID, sessionID, func(s *wizard.Session) error {
		return s.Advance()
	})
}

func (f *Flow) Back(ctx context.Context, storeID, sessionID string) (*wizard.Session, error) {
	return f.mutate(ctx, storeID, sessionID, func(s *wizard.Session) error {
		return s.Retreat()
	})
}

// Abandon discards a session the customer walked away from. An open
// checkout is dropped from the registry; its order stays pending on the
// backend so a late webhook can still complete it.
func (f *Flow) Abandon(ctx context.Context, storeID, sessionID string) error {
	unlock, err := f.sessions.Lock(ctx, sessionID, f.lockWait)
	if err != nil {
		return err
	}
	defer unlock()

	s, err := f.GetSession(ctx, storeID, sessionID)
	if err != nil {
		return err
	}
	if err := f.sessions.Delete(ctx, storeID, sessionID); err != nil {
		return fmt.Errorf("booking: delete session: %w", err)
	}
	owner := sessions.SessionRef{StoreID: storeID, SessionID: sessionID}
	if s.Order != nil && s.Order.TransactionRef != "" {
		f.release(ctx, owner, s.Order.TransactionRef)
	} else if err := f.limiter.Reset(ctx, storeID, sessionID); err != nil {
		f.logger.Warn("failed to reset payment attempts", "error", err, "store_id", storeID, "session_id", sessionID)
	}
	f.logger.Info("booking session abandoned", "store_id", storeID, "session_id", sessionID, "step", s.Step)
	return nil
}

// PaymentHandoff is what the browser needs to open the hosted checkout.
type PaymentHandoff struct {
	TransactionRef string `json:"transaction_ref"`
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	Provider       string `json:"provider,omitempty"`
	CheckoutURL    string `json:"checkout_url,omitempty"`
	// Reused is set when an already open checkout was handed out again.
	Reused bool `json:"reused,omitempty"`
	// Navigation is set when the order turned out to be paid already.
	Navigation *dispatch.Navigation `json:"navigation,omitempty"`
	Session    *wizard.Session      `json:"session"`
}

// Pay pre-authorizes the order (or reuses the session's pending one) and
// opens the gateway checkout for it.
func (f *Flow) Pay(ctx context.Context, storeID, sessionID string) (*PaymentHandoff, error) {
	ctx, span := tracer.Start(ctx, "booking.pay")
	defer span.End()
	span.SetAttributes(attribute.String("store_id", storeID), attribute.String("session_id", sessionID))

	unlock, err := f.sessions.Lock(ctx, sessionID, f.lockWait)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := f.GetSession(ctx, storeID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Step == wizard.StepSuccess {
		return nil, wizard.ErrFlowComplete
	}
	if handoff, ok := f.openHandoff(s); ok {
		return handoff, nil
	}

	limit, err := f.limiter.Allow(ctx, storeID, sessionID)
	if err != nil {
		return nil, err
	}
	if limit != nil && !limit.Allowed {
		return nil, payments.ErrTooManyAttempts
	}

	if err := s.BeginSubmit(); err != nil {
		return nil, err
	}
	log := f.logger.With("store_id", storeID, "session_id", sessionID)

	handoff, err := f.startPayment(ctx, s)
	if err != nil {
		log.Error("payment handoff failed", "error", err)
		s.GatewayFailed(msgPayStartFail)
		if saveErr := f.sessions.Save(context.WithoutCancel(ctx), s); saveErr != nil {
			log.Error("failed to save session after handoff failure", "error", saveErr)
		}
		return nil, err
	}
	if err := f.sessions.Save(ctx, s); err != nil {
		return nil, err
	}
	if handoff.Navigation != nil && completed(*handoff.Navigation) {
		f.release(ctx, sessions.SessionRef{StoreID: storeID, SessionID: sessionID}, handoff.TransactionRef)
	}
	handoff.Session = s
	span.SetAttributes(attribute.String("transaction_ref", handoff.TransactionRef))
	return handoff, nil
}

// openHandoff returns the checkout that is already open for the session, so
// a repeated click does not fail with ErrBusy or create a second order.
func (f *Flow) openHandoff(s *wizard.Session) (*PaymentHandoff, bool) {
	if !s.Processing.Active() || s.Order == nil || s.Order.CheckoutURL == "" {
		return nil, false
	}
	if inv, ok := f.registry.Get(s.Order.TransactionRef); ok {
		if _, resolved := inv.Result(); resolved {
			return nil, false
		}
	}
	return &PaymentHandoff{
		TransactionRef: s.Order.TransactionRef,
		OrderID:        s.Order.OrderID,
		OrderNumber:    s.Order.OrderNumber,
		CheckoutURL:    s.Order.CheckoutURL,
		Reused:         true,
		Session:        s,
	}, true
}

func (f *Flow) startPayment(ctx context.Context, s *wizard.Session) (*PaymentHandoff, error) {
	order, err := f.pendingOrder(ctx, s)
	if err != nil {
		return nil, err
	}
	s.AttachOrder(wizard.OrderRef{
		OrderID:        order.ID.String(),
		OrderNumber:    order.OrderNumber,
		TransactionRef: order.TransactionRef,
		Currency:       order.Currency,
	})

	if order.Completed() {
		// The webhook beat the customer back to the page.
		nav := f.dispatcher.Apply(s, reconcile.Outcome{
			Kind:           reconcile.KindAlreadyCompleted,
			OrderID:        order.ID.String(),
			OrderNumber:    order.OrderNumber,
			TransactionRef: order.TransactionRef,
			StoreID:        s.StoreID,
			Tier:           reconcile.TierVerify,
		})
		return &PaymentHandoff{
			TransactionRef: order.TransactionRef,
			OrderID:        order.ID.String(),
			OrderNumber:    order.OrderNumber,
			Navigation:     &nav,
		}, nil
	}

	provider := f.gateway.ProviderFor(ctx, s.StoreID)
	cfg, err := payments.BuildCheckoutConfig(order, s.ID, provider, f.urls)
	if err != nil {
		return nil, err
	}
	checkout, err := f.gateway.CreateCheckout(ctx, cfg)
	if err != nil {
		f.metrics.ObserveGatewayResult("open_failed")
		return nil, fmt.Errorf("booking: open checkout: %w", err)
	}
	if err := f.orders.AttachCheckout(ctx, order.TransactionRef, checkout.Provider, checkout.ProviderRef); err != nil {
		// Callback data and webhook metadata still identify the checkout.
		f.logger.Warn("failed to record checkout on order", "error", err, "transaction_ref", order.TransactionRef)
	}
	if err := f.sessions.BindReference(ctx, order.TransactionRef, sessions.SessionRef{StoreID: s.StoreID, SessionID: s.ID}); err != nil {
		return nil, err
	}
	f.registry.Open(order.TransactionRef, s.ID, s.StoreID)
	f.metrics.ObserveGatewayResult("opened")
	s.GatewayOpened(checkout.URL)

	f.logger.Info("gateway checkout opened",
		"store_id", s.StoreID, "session_id", s.ID, "transaction_ref", order.TransactionRef, "provider", checkout.Provider)
	return &PaymentHandoff{
		TransactionRef: order.TransactionRef,
		OrderID:        order.ID.String(),
		OrderNumber:    order.OrderNumber,
		Provider:       checkout.Provider,
		CheckoutURL:    checkout.URL,
	}, nil
}

// pendingOrder reuses the order already attached to the session, creating
// one only when there is none.
func (f *Flow) pendingOrder(ctx context.Context, s *wizard.Session) (*orders.Order, error) {
	if s.Order != nil && s.Order.TransactionRef != "" {
		order, err := f.orders.GetOrder(ctx, s.Order.TransactionRef, s.StoreID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, orders.ErrNotFound) {
			return nil, err
		}
		f.logger.Warn("session order vanished, creating a new one", "transaction_ref", s.Order.TransactionRef)
	}
	if s.Service == nil {
		return nil, wizard.ErrServiceRequired
	}
	return f.orders.CreateOrder(ctx, s.StoreID,
		orders.ServiceSelection{
			ServiceID:       s.Service.ID,
			Name:            s.Service.Name,
			PriceCents:      s.Service.PriceCents,
			Currency:        s.Service.Currency,
			DurationMinutes: s.Service.DurationMinutes,
		},
		customerFor(s),
		orders.Slot{Date: s.Date, StartTime: s.Time, EndTime: s.EndTime},
	)
}

func customerFor(s *wizard.Session) orders.Customer {
	if s.Identity != nil {
		return orders.Customer{
			CustomerID: s.Identity.CustomerID,
			FirstName:  s.Identity.FirstName,
			LastName:   s.Identity.LastName,
			Email:      s.Identity.Email,
			Phone:      s.Identity.Phone,
			Notes:      s.CustomerNotes(),
		}
	}
	g := s.Guest
	return orders.Customer{
		FirstName:    g.FirstName,
		LastName:     g.LastName,
		Email:        g.Email,
		Phone:        g.Phone,
		Notes:        s.CustomerNotes(),
		AddressLine1: g.AddressLine1,
		AddressLine2: g.AddressLine2,
		City:         g.City,
		PostalCode:   g.PostalCode,
		Country:      g.Country,
	}
}
