package events

import "time"

// TypeBookingConfirmed is emitted once per order, by whichever writer
// flipped it from pending to completed.
const TypeBookingConfirmed = "booking_confirmed.v1"

// Confirmation sources.
const (
	SourceWebhook  = "webhook"
	SourceCallback = "callback"
)

type BookingConfirmedV1 struct {
	EventID        string    `json:"event_id"`
	StoreID        string    `json:"store_id"`
	OrderID        string    `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	TransactionRef string    `json:"transaction_ref"`
	Source         string    `json:"source"`
	ServiceName    string    `json:"service_name"`
	ScheduledDate  string    `json:"scheduled_date"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time,omitempty"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	CustomerName   string    `json:"customer_name,omitempty"`
	CustomerEmail  string    `json:"customer_email,omitempty"`
	CustomerPhone  string    `json:"customer_phone,omitempty"`
	ConfirmedAt    time.Time `json:"confirmed_at"`
}
