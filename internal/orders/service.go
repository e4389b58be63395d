package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/storefront-booking/internal/events"
	"github.com/wolfman30/storefront-booking/internal/payapi"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

var tracer = otel.Tracer("storefront.internal.orders")

// PaymentLookup is the gateway's view of a checkout session.
type PaymentLookup struct {
	Paid           bool
	TransactionRef string
	AmountCents    int64
}

// CheckoutLookup asks a gateway whether its checkout session was paid.
type CheckoutLookup interface {
	LookupPayment(ctx context.Context, provider, providerRef string) (*PaymentLookup, error)
}

// WebhookPayment is what a gateway webhook reports about a paid checkout.
type WebhookPayment struct {
	Provider       string
	ProviderRef    string
	TransactionRef string
	StoreID        string
	AmountCents    int64
}

type store interface {
	Insert(ctx context.Context, o *Order) error
	GetByTransactionRef(ctx context.Context, ref string) (*Order, error)
	AttachCheckout(ctx context.Context, ref, provider, providerRef string) error
	Complete(ctx context.Context, ref, providerRef string, onFlip FlipFunc) (*Order, bool, error)
}

type eventWriter interface {
	InsertWith(ctx context.Context, exec events.Execer, storeID, eventType string, payload any) (uuid.UUID, error)
}

// Service implements payapi.API against the local orders table.
type Service struct {
	repo   store
	outbox eventWriter
	lookup CheckoutLookup
	logger *logging.Logger
	now    func() time.Time
}

var _ payapi.API = (*Service)(nil)

func NewService(repo *Repository, outbox *events.OutboxStore, lookup CheckoutLookup, logger *logging.Logger) *Service {
	var w eventWriter
	if outbox != nil {
		w = outbox
	}
	return newService(repo, w, lookup, logger)
}

func newService(repo store, outbox eventWriter, lookup CheckoutLookup, logger *logging.Logger) *Service {
	if repo == nil {
		panic("orders: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, outbox: outbox, lookup: lookup, logger: logger, now: time.Now}
}

// CreateOrder pre-authorizes a pending order and returns it with its
// backend-generated transaction reference.
func (s *Service) CreateOrder(ctx context.Context, storeID string, sel ServiceSelection, customer Customer, slot Slot) (*Order, error) {
	ctx, span := tracer.Start(ctx, "orders.create")
	defer span.End()

	if err := validateOrder(storeID, sel, customer, slot); err != nil {
		return nil, err
	}
	order := &Order{
		ID:             uuid.New(),
		StoreID:        storeID,
		TransactionRef: uuid.NewString(),
		Status:         payapi.StatusPending,
		AmountCents:    sel.PriceCents,
		Currency:       strings.ToUpper(sel.Currency),
		Service:        sel,
		Slot:           slot,
		Customer:       customer,
	}
	if err := s.repo.Insert(ctx, order); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("store_id", storeID),
		attribute.String("transaction_ref", order.TransactionRef),
		attribute.String("order_number", order.OrderNumber),
	)
	s.logger.Info("order pre-authorized",
		"store_id", storeID, "order_id", order.ID.String(), "order_number", order.OrderNumber,
		"transaction_ref", order.TransactionRef, "amount_cents", order.AmountCents)
	return order, nil
}

func validateOrder(storeID string, sel ServiceSelection, customer Customer, slot Slot) error {
	var missing []string
	if strings.TrimSpace(storeID) == "" {
		missing = append(missing, "store_id")
	}
	if sel.ServiceID == "" {
		missing = append(missing, "service_id")
	}
	if sel.PriceCents < 0 {
		missing = append(missing, "price")
	}
	if slot.Date == "" || slot.StartTime == "" {
		missing = append(missing, "slot")
	}
	if customer.Email == "" && customer.CustomerID == "" {
		missing = append(missing, "customer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidOrder, strings.Join(missing, ", "))
	}
	return nil
}

// GetOrder loads an order, scoped to the store when storeID is set.
func (s *Service) GetOrder(ctx context.Context, ref, storeID string) (*Order, error) {
	order, err := s.repo.GetByTransactionRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if storeID != "" && order.StoreID != storeID {
		return nil, ErrStoreMismatch
	}
	return order, nil
}

// AttachCheckout remembers the gateway session opened for an order.
func (s *Service) AttachCheckout(ctx context.Context, ref, provider, providerRef string) error {
	return s.repo.AttachCheckout(ctx, ref, provider, providerRef)
}

func (s *Service) VerifyPayment(ctx context.Context, transactionRef, storeID string) (*payapi.PaymentStatus, error) {
	order, err := s.GetOrder(ctx, transactionRef, storeID)
	if err != nil {
		return nil, err
	}
	return order.PaymentStatus(), nil
}

// ConfirmPaymentFromCallback checks with the gateway that the checkout was
// paid and completes the order if nobody has yet.
func (s *Service) ConfirmPaymentFromCallback(ctx context.Context, data payapi.CallbackData) (*payapi.Confirmation, error) {
	ctx, span := tracer.Start(ctx, "orders.confirm_callback")
	defer span.End()
	span.SetAttributes(attribute.String("transaction_ref", data.TransactionRef))

	if data.TransactionRef == "" {
		return nil, fmt.Errorf("%w: callback without transaction reference", ErrInvalidOrder)
	}
	order, err := s.repo.GetByTransactionRef(ctx, data.TransactionRef)
	if err != nil {
		return nil, err
	}
	if order.Completed() {
		return confirmation(order, true), nil
	}

	providerRef := data.ProviderRef
	if providerRef == "" {
		providerRef = order.ProviderRef
	}
	if providerRef == "" {
		return nil, ErrNoCheckout
	}
	if s.lookup == nil {
		return nil, errors.New("orders: no gateway lookup configured")
	}
	paid, err := s.lookup.LookupPayment(ctx, order.Provider, providerRef)
	if err != nil {
		return nil, fmt.Errorf("orders: gateway lookup: %w", err)
	}
	if !paid.Paid {
		return nil, ErrNotPaid
	}
	if paid.TransactionRef != "" && paid.TransactionRef != order.TransactionRef {
		return nil, fmt.Errorf("%w: gateway session belongs to %s", ErrInvalidOrder, paid.TransactionRef)
	}

	completed, flipped, err := s.repo.Complete(ctx, order.TransactionRef, providerRef, s.emitConfirmed(events.SourceCallback))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("flipped", flipped))
	return confirmation(completed, !flipped), nil
}

func (s *Service) PollPaymentStatus(ctx context.Context, transactionRef, storeID string, opts payapi.PollOptions) (*payapi.PaymentStatus, error) {
	return payapi.Poll(ctx, func(ctx context.Context) (*payapi.PaymentStatus, error) {
		return s.VerifyPayment(ctx, transactionRef, storeID)
	}, opts)
}

// CompleteFromWebhook is the webhook's path into the same transition the
// browser callback uses. It reports whether this call flipped the order.
func (s *Service) CompleteFromWebhook(ctx context.Context, p WebhookPayment) (*Order, bool, error) {
	ctx, span := tracer.Start(ctx, "orders.complete_webhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction_ref", p.TransactionRef),
		attribute.String("provider", p.Provider),
	)

	if p.TransactionRef == "" {
		return nil, false, fmt.Errorf("%w: webhook without transaction reference", ErrInvalidOrder)
	}
	if p.StoreID != "" {
		if _, err := s.GetOrder(ctx, p.TransactionRef, p.StoreID); err != nil {
			return nil, false, err
		}
	}
	order, flipped, err := s.repo.Complete(ctx, p.TransactionRef, p.ProviderRef, s.emitConfirmed(events.SourceWebhook))
	if err != nil {
		return nil, false, err
	}
	if p.AmountCents > 0 && p.AmountCents != order.AmountCents {
		s.logger.Warn("webhook amount differs from order",
			"transaction_ref", p.TransactionRef, "order_amount_cents", order.AmountCents, "paid_amount_cents", p.AmountCents)
	}
	return order, flipped, nil
}

func (s *Service) emitConfirmed(source string) FlipFunc {
	return func(ctx context.Context, tx pgx.Tx, order *Order) error {
		s.logger.Info("order completed",
			"store_id", order.StoreID, "order_id", order.ID.String(), "transaction_ref", order.TransactionRef, "source", source)
		if s.outbox == nil {
			return nil
		}
		_, err := s.outbox.InsertWith(ctx, tx, order.StoreID, events.TypeBookingConfirmed, s.confirmedEvent(order, source))
		return err
	}
}

func (s *Service) confirmedEvent(order *Order, source string) events.BookingConfirmedV1 {
	confirmedAt := s.now().UTC()
	if order.CompletedAt != nil {
		confirmedAt = order.CompletedAt.UTC()
	}
	return events.BookingConfirmedV1{
		EventID:        uuid.NewString(),
		StoreID:        order.StoreID,
		OrderID:        order.ID.String(),
		OrderNumber:    order.OrderNumber,
		TransactionRef: order.TransactionRef,
		Source:         source,
		ServiceName:    order.Service.Name,
		ScheduledDate:  order.Slot.Date,
		StartTime:      order.Slot.StartTime,
		EndTime:        order.Slot.EndTime,
		AmountCents:    order.AmountCents,
		Currency:       order.Currency,
		CustomerName:   order.Customer.Name(),
		CustomerEmail:  order.Customer.Email,
		CustomerPhone:  order.Customer.Phone,
		ConfirmedAt:    confirmedAt,
	}
}

func confirmation(order *Order, alreadyProcessed bool) *payapi.Confirmation {
	return &payapi.Confirmation{
		AlreadyProcessed: alreadyProcessed,
		OrderID:          order.ID.String(),
		OrderNumber:      order.OrderNumber,
	}
}
