package payapi

import "time"

// OrderRequest asks the backend to pre-authorize an order.
type OrderRequest struct {
	ServiceID       string        `json:"service_id"`
	ServiceName     string        `json:"service_name"`
	PriceCents      int64         `json:"price_cents"`
	Currency        string        `json:"currency"`
	DurationMinutes int           `json:"duration_minutes"`
	Date            string        `json:"date"`
	StartTime       string        `json:"start_time"`
	EndTime         string        `json:"end_time,omitempty"`
	Customer        OrderCustomer `json:"customer"`
}

type OrderCustomer struct {
	CustomerID   string `json:"customer_id,omitempty"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Notes        string `json:"notes,omitempty"`
	AddressLine1 string `json:"address_line1,omitempty"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`
}

// OrderRecord is the backend's copy of a pre-authorized order.
type OrderRecord struct {
	ID             string     `json:"id"`
	OrderNumber    string     `json:"order_number"`
	StoreID        string     `json:"store_id"`
	TransactionRef string     `json:"transaction_ref"`
	Status         string     `json:"status"`
	Provider       string     `json:"provider,omitempty"`
	ProviderRef    string     `json:"provider_ref,omitempty"`
	AmountCents    int64      `json:"amount_cents"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	OrderRequest
}

// CheckoutAttachment names the gateway checkout opened for an order.
type CheckoutAttachment struct {
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
}
