package wizard

import (
	"errors"
	"strings"
)

var (
	ErrServiceRequired  = errors.New("wizard: choose a service first")
	ErrUnknownService   = errors.New("wizard: service not found")
	ErrSlotRequired     = errors.New("wizard: choose a date and time first")
	ErrSlotUnavailable  = errors.New("wizard: time is not offered for this service")
	ErrLocked           = errors.New("wizard: booking cannot change while payment is in progress")
	ErrReadOnlyCustomer = errors.New("wizard: signed-in customer details are read-only")
	ErrBusy             = errors.New("wizard: a payment is already being processed")
	ErrNotAtPayment     = errors.New("wizard: payment can only start from the payment step")
	ErrOutcomeRequired  = errors.New("wizard: payment step completes only through payment confirmation")
	ErrFlowComplete     = errors.New("wizard: booking already completed")
)

// ValidationError lists the guest fields that block the details step.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "wizard: missing required fields: " + strings.Join(e.Fields, ", ")
}
