package wizard

import (
	"errors"

	"github.com/wolfman30/storefront-booking/internal/slots"
)

// Form is the part of the session the forward guards look at.
type Form struct {
	HasService bool
	Date       string
	Time       string
	Guest      GuestInfo
}

// Next returns the step after current, or the guard error that blocks it.
// Signed-in customers skip the details step.
func Next(current Step, authenticated bool, form Form) (Step, error) {
	switch current {
	case StepService:
		if !form.HasService {
			return current, ErrServiceRequired
		}
		return StepDateTime, nil
	case StepDateTime:
		if !form.HasService {
			return StepService, ErrServiceRequired
		}
		if form.Date == "" || form.Time == "" {
			return current, ErrSlotRequired
		}
		if authenticated {
			return StepPayment, nil
		}
		return StepDetails, nil
	case StepDetails:
		if !authenticated {
			if missing := form.Guest.Missing(); len(missing) > 0 {
				return current, &ValidationError{Fields: missing}
			}
		}
		return StepPayment, nil
	case StepPayment:
		return current, ErrOutcomeRequired
	default:
		return current, ErrFlowComplete
	}
}

// Back mirrors the forward skip rule.
func Back(current Step, authenticated bool) Step {
	switch current {
	case StepPayment:
		if authenticated {
			return StepDateTime
		}
		return StepDetails
	case StepDetails:
		return StepDateTime
	case StepDateTime, StepService:
		return StepService
	default:
		return current
	}
}

// SelectService picks the offering and moves to the date/time step.
func (s *Session) SelectService(svc Service) error {
	if s.paymentStarted() {
		return ErrLocked
	}
	s.Service = &svc
	if s.Time != "" && !svc.Offers(s.Time) {
		s.Time = ""
		s.EndTime = ""
	}
	s.Step = StepDateTime
	s.Message = nil
	return nil
}

// RejectService handles an inbound identifier that did not resolve.
func (s *Session) RejectService() {
	s.Service = nil
	s.Step = StepService
	s.notify(LevelError, "The selected service is not available. Please choose another one.")
}

// ChooseSlot sets the appointment date and start time.
func (s *Session) ChooseSlot(date, start string) error {
	if s.paymentStarted() {
		return ErrLocked
	}
	if s.Service == nil {
		return ErrServiceRequired
	}
	day, err := slots.ParseDate(date)
	if err != nil {
		return err
	}
	clock, err := slots.ParseClock(start)
	if err != nil {
		return err
	}
	if !s.Service.Offers(clock.String()) {
		return ErrSlotUnavailable
	}
	end, err := slots.EndTime(clock.String(), s.Service.DurationMinutes)
	if err != nil {
		return err
	}
	s.Date = day.Format("2006-01-02")
	s.Time = clock.String()
	s.EndTime = end
	s.Message = nil
	return nil
}

// UpdateGuest replaces guest contact details.
func (s *Session) UpdateGuest(g GuestInfo) error {
	if s.Authenticated() {
		return ErrReadOnlyCustomer
	}
	if s.paymentStarted() {
		return ErrLocked
	}
	s.Guest = g
	return nil
}

// UpdateNotes is the one field signed-in customers may edit.
func (s *Session) UpdateNotes(notes string) error {
	if s.paymentStarted() {
		return ErrLocked
	}
	if s.Authenticated() {
		s.Notes = notes
		return nil
	}
	s.Guest.Notes = notes
	return nil
}

// Advance applies Next and records a message when a guard blocks it.
func (s *Session) Advance() error {
	next, err := Next(s.Step, s.Authenticated(), s.form())
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			s.notify(LevelError, "Please fill in your first name, last name, email and phone.")
		case errors.Is(err, ErrSlotRequired):
			s.notify(LevelError, "Please choose a date and time.")
		case errors.Is(err, ErrServiceRequired):
			s.Step = next
			s.notify(LevelError, "Please choose a service.")
		}
		return err
	}
	s.Step = next
	s.Message = nil
	return nil
}

// Retreat moves one step back. Leaving the payment step abandons the pending order.
func (s *Session) Retreat() error {
	if s.Step == StepSuccess {
		return ErrFlowComplete
	}
	if s.Processing.Active() {
		return ErrBusy
	}
	if s.Step == StepPayment {
		s.Order = nil
		s.Result = nil
	}
	s.Step = Back(s.Step, s.Authenticated())
	s.Message = nil
	return nil
}

// BeginSubmit marks the session busy before the order is pre-authorized.
func (s *Session) BeginSubmit() error {
	if s.Step == StepSuccess {
		return ErrFlowComplete
	}
	if s.Step != StepPayment {
		return ErrNotAtPayment
	}
	if s.Processing.Active() {
		return ErrBusy
	}
	s.Processing = Processing{Submitting: true, GatewayLoading: true}
	s.Message = nil
	s.Result = nil
	return nil
}

// AttachOrder records the pre-authorized order.
func (s *Session) AttachOrder(ref OrderRef) {
	s.Order = &ref
}

// GatewayOpened clears the loading flag once the hosted checkout exists.
// Submitting stays set until the gateway reports back.
func (s *Session) GatewayOpened(checkoutURL string) {
	s.Processing.GatewayLoading = false
	if s.Order != nil {
		s.Order.CheckoutURL = checkoutURL
	}
}

// GatewayFailed returns to the payment step with the gateway's error.
func (s *Session) GatewayFailed(text string) {
	s.Processing = Processing{}
	if s.Step != StepSuccess {
		s.Step = StepPayment
	}
	if text == "" {
		text = "Payment could not be completed. Please try again."
	}
	s.notify(LevelError, text)
}

// GatewayCanceled is the neutral path when the customer closed the checkout.
func (s *Session) GatewayCanceled() {
	s.Processing = Processing{}
	s.notify(LevelInfo, "payment canceled")
}

// Complete moves payment to success. It returns false when the session was
// already completed, so callers never report a confirmation twice.
func (s *Session) Complete(res Result, text string) bool {
	if s.Step == StepSuccess {
		return false
	}
	s.Step = StepSuccess
	s.Processing = Processing{}
	s.Result = &res
	s.notify(LevelSuccess, text)
	return true
}

// Defer records an unresolved payment: the customer is sent to verification
// and the wizard stays at payment.
func (s *Session) Defer(res Result, text string) {
	s.Processing = Processing{}
	s.Result = &res
	s.notify(LevelWarning, text)
}

// Fail keeps the wizard at payment with an error notice.
func (s *Session) Fail(text string) {
	s.Processing = Processing{}
	s.notify(LevelError, text)
}
