package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/storefront-booking/internal/payapi"
	"github.com/wolfman30/storefront-booking/internal/storeapi"
)

// Remote is the order collaborator when a storefront backend owns orders.
// Pre-authorization and reconciliation share one client, so the reference on
// a gateway checkout always names an order the reconciled backend knows.
type Remote struct {
	client *storeapi.Client
}

var _ payapi.API = (*Remote)(nil)

func NewRemote(client *storeapi.Client) *Remote {
	if client == nil {
		panic("orders: storeapi client required")
	}
	return &Remote{client: client}
}

func (r *Remote) CreateOrder(ctx context.Context, storeID string, sel ServiceSelection, customer Customer, slot Slot) (*Order, error) {
	if err := validateOrder(storeID, sel, customer, slot); err != nil {
		return nil, err
	}
	rec, err := r.client.CreateOrder(ctx, storeID, orderRequest(sel, customer, slot))
	if err != nil {
		return nil, remoteErr(err)
	}
	return orderFromRecord(rec)
}

func (r *Remote) GetOrder(ctx context.Context, ref, storeID string) (*Order, error) {
	rec, err := r.client.GetOrder(ctx, ref, storeID)
	if err != nil {
		return nil, remoteErr(err)
	}
	order, err := orderFromRecord(rec)
	if err != nil {
		return nil, err
	}
	if storeID != "" && order.StoreID != storeID {
		return nil, ErrStoreMismatch
	}
	return order, nil
}

func (r *Remote) AttachCheckout(ctx context.Context, ref, provider, providerRef string) error {
	return remoteErr(r.client.AttachCheckout(ctx, ref, provider, providerRef))
}

func (r *Remote) VerifyPayment(ctx context.Context, transactionRef, storeID string) (*payapi.PaymentStatus, error) {
	return r.client.VerifyPayment(ctx, transactionRef, storeID)
}

func (r *Remote) ConfirmPaymentFromCallback(ctx context.Context, data payapi.CallbackData) (*payapi.Confirmation, error) {
	return r.client.ConfirmPaymentFromCallback(ctx, data)
}

func (r *Remote) PollPaymentStatus(ctx context.Context, transactionRef, storeID string, opts payapi.PollOptions) (*payapi.PaymentStatus, error) {
	return r.client.PollPaymentStatus(ctx, transactionRef, storeID, opts)
}

func remoteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storeapi.ErrOrderNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, storeapi.ErrRejected):
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	return err
}

func orderRequest(sel ServiceSelection, customer Customer, slot Slot) payapi.OrderRequest {
	return payapi.OrderRequest{
		ServiceID:       sel.ServiceID,
		ServiceName:     sel.Name,
		PriceCents:      sel.PriceCents,
		Currency:        sel.Currency,
		DurationMinutes: sel.DurationMinutes,
		Date:            slot.Date,
		StartTime:       slot.StartTime,
		EndTime:         slot.EndTime,
		Customer: payapi.OrderCustomer{
			CustomerID:   customer.CustomerID,
			FirstName:    customer.FirstName,
			LastName:     customer.LastName,
			Email:        customer.Email,
			Phone:        customer.Phone,
			Notes:        customer.Notes,
			AddressLine1: customer.AddressLine1,
			AddressLine2: customer.AddressLine2,
			City:         customer.City,
			PostalCode:   customer.PostalCode,
			Country:      customer.Country,
		},
	}
}

func fromRequest(req payapi.OrderRequest) (ServiceSelection, Customer, Slot) {
	c := req.Customer
	return ServiceSelection{
			ServiceID:       req.ServiceID,
			Name:            req.ServiceName,
			PriceCents:      req.PriceCents,
			Currency:        req.Currency,
			DurationMinutes: req.DurationMinutes,
		}, Customer{
			CustomerID:   c.CustomerID,
			FirstName:    c.FirstName,
			LastName:     c.LastName,
			Email:        c.Email,
			Phone:        c.Phone,
			Notes:        c.Notes,
			AddressLine1: c.AddressLine1,
			AddressLine2: c.AddressLine2,
			City:         c.City,
			PostalCode:   c.PostalCode,
			Country:      c.Country,
		}, Slot{
			Date:      req.Date,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		}
}

// Record is the wire form served to remote booking frontends.
func (o *Order) Record() payapi.OrderRecord {
	rec := payapi.OrderRecord{
		ID:             o.ID.String(),
		OrderNumber:    o.OrderNumber,
		StoreID:        o.StoreID,
		TransactionRef: o.TransactionRef,
		Status:         o.Status,
		Provider:       o.Provider,
		ProviderRef:    o.ProviderRef,
		AmountCents:    o.AmountCents,
		CreatedAt:      o.CreatedAt,
		CompletedAt:    o.CompletedAt,
		OrderRequest:   orderRequest(o.Service, o.Customer, o.Slot),
	}
	rec.Currency = o.Currency
	return rec
}

func orderFromRecord(rec *payapi.OrderRecord) (*Order, error) {
	if rec == nil || rec.TransactionRef == "" {
		return nil, fmt.Errorf("%w: backend returned an order without a reference", storeapi.ErrInvalidResponse)
	}
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: order id %q: %v", storeapi.ErrInvalidResponse, rec.ID, err)
	}
	sel, customer, slot := fromRequest(rec.OrderRequest)
	return &Order{
		ID:             id,
		OrderNumber:    rec.OrderNumber,
		StoreID:        rec.StoreID,
		TransactionRef: rec.TransactionRef,
		Status:         rec.Status,
		Provider:       rec.Provider,
		ProviderRef:    rec.ProviderRef,
		AmountCents:    rec.AmountCents,
		Currency:       rec.Currency,
		Service:        sel,
		Slot:           slot,
		Customer:       customer,
		CreatedAt:      rec.CreatedAt,
		CompletedAt:    rec.CompletedAt,
	}, nil
}
