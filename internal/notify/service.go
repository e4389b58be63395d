// Package notify tells customers their booking is confirmed.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"text/template"

	"github.com/wolfman30/storefront-booking/internal/catalog"
	"github.com/wolfman30/storefront-booking/internal/events"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

// StoreDirectory resolves store display settings for the e-mail.
type StoreDirectory interface {
	GetStore(ctx context.Context, storeID string) (*catalog.Store, error)
}

// ConfirmationMailer sends the booking confirmation e-mail. It is an outbox
// delivery handler and ignores event types it does not own.
type ConfirmationMailer struct {
	email  EmailSender
	stores StoreDirectory
	logger *logging.Logger
}

func NewConfirmationMailer(email EmailSender, stores StoreDirectory, logger *logging.Logger) *ConfirmationMailer {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	return &ConfirmationMailer{email: email, stores: stores, logger: logger}
}

// Handle implements events.DeliveryHandler.
func (m *ConfirmationMailer) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != events.TypeBookingConfirmed {
		return nil
	}
	evt, err := DecodeBookingConfirmed(entry.Payload)
	if err != nil {
		return err
	}
	return m.NotifyBookingConfirmed(ctx, evt)
}

// DecodeBookingConfirmed parses a booking_confirmed.v1 payload.
func DecodeBookingConfirmed(payload []byte) (events.BookingConfirmedV1, error) {
	var evt events.BookingConfirmedV1
	if err := json.Unmarshal(payload, &evt); err != nil {
		return evt, fmt.Errorf("notify: decode booking confirmed: %w", err)
	}
	return evt, nil
}

// NotifyBookingConfirmed e-mails the customer. Orders without an e-mail
// address are skipped.
func (m *ConfirmationMailer) NotifyBookingConfirmed(ctx context.Context, evt events.BookingConfirmedV1) error {
	if evt.CustomerEmail == "" {
		m.logger.Debug("notify: no customer email, skipping confirmation", "order_number", evt.OrderNumber, "store_id", evt.StoreID)
		return nil
	}

	view := confirmationView{Event: evt, StoreName: evt.StoreID, Amount: formatAmount(evt.AmountCents, evt.Currency)}
	var replyTo string
	if m.stores != nil {
		store, err := m.stores.GetStore(ctx, evt.StoreID)
		if err != nil {
			m.logger.Warn("notify: store lookup failed, using defaults", "error", err, "store_id", evt.StoreID)
		} else {
			view.StoreName = store.Name
			replyTo = store.SupportEmail
		}
	}

	msg, err := renderConfirmation(view)
	if err != nil {
		return err
	}
	msg.To = evt.CustomerEmail
	msg.ToName = evt.CustomerName
	msg.ReplyTo = replyTo

	if err := m.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send confirmation: %w", err)
	}
	m.logger.Info("notify: booking confirmation sent", "order_number", evt.OrderNumber, "store_id", evt.StoreID)
	return nil
}

type confirmationView struct {
	Event     events.BookingConfirmedV1
	StoreName string
	Amount    string
}

var (
	subjectTmpl = template.Must(template.New("subject").Parse(
		`Booking confirmed: {{.Event.ServiceName}} on {{.Event.ScheduledDate}}`))

	textTmpl = template.Must(template.New("text").Parse(`Hi {{if .Event.CustomerName}}{{.Event.CustomerName}}{{else}}there{{end}},

Your booking at {{.StoreName}} is confirmed.

Service: {{.Event.ServiceName}}
Date: {{.Event.ScheduledDate}}
Time: {{.Event.StartTime}}{{if .Event.EndTime}} - {{.Event.EndTime}}{{end}}
Paid: {{.Amount}}
Order: {{.Event.OrderNumber}}

Keep this e-mail as your receipt.
`))

	htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>Your booking is confirmed</h2>
<p>{{.StoreName}} is expecting you.</p>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px;"><strong>Service</strong></td><td style="padding: 8px;">{{.Event.ServiceName}}</td></tr>
  <tr><td style="padding: 8px;"><strong>Date</strong></td><td style="padding: 8px;">{{.Event.ScheduledDate}}</td></tr>
  <tr><td style="padding: 8px;"><strong>Time</strong></td><td style="padding: 8px;">{{.Event.StartTime}}{{if .Event.EndTime}} - {{.Event.EndTime}}{{end}}</td></tr>
  <tr><td style="padding: 8px;"><strong>Paid</strong></td><td style="padding: 8px;">{{.Amount}}</td></tr>
  <tr><td style="padding: 8px;"><strong>Order</strong></td><td style="padding: 8px;">{{.Event.OrderNumber}}</td></tr>
</table>
</div>`))
)

func renderConfirmation(view confirmationView) (EmailMessage, error) {
	var subject, text, html bytes.Buffer
	if err := subjectTmpl.Execute(&subject, view); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render subject: %w", err)
	}
	if err := textTmpl.Execute(&text, view); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render text: %w", err)
	}
	if err := htmlTmpl.Execute(&html, view); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render html: %w", err)
	}
	return EmailMessage{Subject: subject.String(), Body: text.String(), HTML: html.String()}, nil
}

// formatAmount is a plain receipt rendering, not locale-aware.
func formatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}

var _ events.DeliveryHandler = (*ConfirmationMailer)(nil)
