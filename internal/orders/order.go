// Package orders owns the pre-authorized booking orders and the single
// pending → completed transition that both payment paths converge on.
package orders

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/storefront-booking/internal/payapi"
)

var (
	ErrNotFound       = errors.New("orders: order not found")
	ErrInvalidOrder   = errors.New("orders: invalid order")
	ErrStoreMismatch  = errors.New("orders: order belongs to another store")
	ErrNotPaid        = errors.New("orders: gateway reports the checkout as unpaid")
	ErrNoCheckout     = errors.New("orders: no gateway checkout recorded for order")
	ErrNotCompletable = errors.New("orders: order can no longer be completed")
)

// ServiceSelection is the priced offering being booked.
type ServiceSelection struct {
	ServiceID       string
	Name            string
	PriceCents      int64
	Currency        string
	DurationMinutes int
}

// Slot is the booked appointment window on a calendar date.
type Slot struct {
	Date      string
	StartTime string
	EndTime   string
}

// Customer is either a guest's form input or a signed-in customer's profile.
type Customer struct {
	CustomerID   string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	Notes        string
	AddressLine1 string
	AddressLine2 string
	City         string
	PostalCode   string
	Country      string
}

func (c Customer) Name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

type Order struct {
	ID             uuid.UUID
	OrderNumber    string
	StoreID        string
	TransactionRef string
	Status         string
	Provider       string
	ProviderRef    string
	AmountCents    int64
	Currency       string
	Service        ServiceSelection
	Slot           Slot
	Customer       Customer
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

func (o *Order) Completed() bool {
	return o != nil && o.Status == payapi.StatusCompleted
}

// PaymentStatus is the read-only view the reconciler consumes.
func (o *Order) PaymentStatus() *payapi.PaymentStatus {
	return &payapi.PaymentStatus{
		Verified:      true,
		PaymentStatus: o.Status,
		OrderID:       o.ID.String(),
		OrderNumber:   o.OrderNumber,
	}
}
