package wizard

import (
	"strings"
	"time"
)

// Step is a wizard screen.
type Step string

const (
	StepService  Step = "service"
	StepDateTime Step = "datetime"
	StepDetails  Step = "details"
	StepPayment  Step = "payment"
	StepSuccess  Step = "success"
)

// Message levels shown to the customer.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Service is the offering being booked.
type Service struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	PriceCents      int64    `json:"price_cents"`
	Currency        string   `json:"currency"`
	DurationMinutes int      `json:"duration_minutes"`
	SlotTimes       []string `json:"slot_times,omitempty"`
}

// Offers reports whether the service can start at the wall-clock time t.
// Services without a slot list accept any time.
func (s Service) Offers(t string) bool {
	if len(s.SlotTimes) == 0 {
		return true
	}
	for _, slot := range s.SlotTimes {
		if slot == t {
			return true
		}
	}
	return false
}

// GuestInfo is editable contact data for customers who are not signed in.
type GuestInfo struct {
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

// Missing returns the required fields that are blank.
func (g GuestInfo) Missing() []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"first_name", g.FirstName},
		{"last_name", g.LastName},
		{"email", g.Email},
		{"phone", g.Phone},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Identity is a signed-in customer. Its fields come from the token and are never edited here.
type Identity struct {
	CustomerID string `json:"customer_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
}

// Processing blocks duplicate submission while payment work is in flight.
type Processing struct {
	Submitting     bool `json:"is_processing"`
	GatewayLoading bool `json:"is_gateway_loading"`
}

// Active reports whether any payment work is in flight.
func (p Processing) Active() bool {
	return p.Submitting || p.GatewayLoading
}

// OrderRef binds the session to the pre-authorized backend order.
type OrderRef struct {
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	TransactionRef string `json:"transaction_ref"`
	Currency       string `json:"currency"`
	CheckoutURL    string `json:"checkout_url,omitempty"`
}

// Message is the last user-facing notice.
type Message struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Result is the terminal navigation recorded for a payment attempt.
type Result struct {
	Outcome        string `json:"outcome"`
	OrderID        string `json:"order_id,omitempty"`
	OrderNumber    string `json:"order_number,omitempty"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	RedirectURL    string `json:"redirect_url,omitempty"`
}

// Session is one checkout attempt.
type Session struct {
	ID         string     `json:"id"`
	StoreID    string     `json:"store_id"`
	Step       Step       `json:"step"`
	Service    *Service   `json:"service,omitempty"`
	Date       string     `json:"date,omitempty"`
	Time       string     `json:"time,omitempty"`
	EndTime    string     `json:"end_time,omitempty"`
	Guest      GuestInfo  `json:"guest"`
	Identity   *Identity  `json:"identity,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Processing Processing `json:"processing"`
	Order      *OrderRef  `json:"order,omitempty"`
	Message    *Message   `json:"message,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewSession starts a wizard at the service step.
func NewSession(id, storeID string, identity *Identity, now time.Time) *Session {
	return &Session{
		ID:        id,
		StoreID:   storeID,
		Step:      StepService,
		Identity:  identity,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Authenticated reports whether a signed-in customer owns the session.
func (s *Session) Authenticated() bool {
	return s.Identity != nil
}

// CustomerNotes returns the notes that travel with the order.
func (s *Session) CustomerNotes() string {
	if s.Authenticated() {
		return s.Notes
	}
	if s.Guest.Notes != "" {
		return s.Guest.Notes
	}
	return s.Notes
}

func (s *Session) form() Form {
	return Form{
		HasService: s.Service != nil,
		Date:       s.Date,
		Time:       s.Time,
		Guest:      s.Guest,
	}
}

// Locked reports whether the booking can no longer change: an order exists,
// payment work is in flight, or the booking is complete.
func (s *Session) Locked() bool {
	return s.paymentStarted()
}

func (s *Session) paymentStarted() bool {
	return s.Order != nil || s.Processing.Active() || s.Step == StepSuccess
}

func (s *Session) notify(level, text string) {
	s.Message = &Message{Level: level, Text: text}
}
