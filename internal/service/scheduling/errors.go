package scheduling

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError is a business-rule rejection. The message names the rule.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// NotFoundError reports a referenced id that does not exist.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func notFound(resource string, id uuid.UUID) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// TransientError is returned once the retry budget for a storage conflict is
// spent. It unwraps to the last cause.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

const (
	msgSlotUnavailable      = "slot unavailable"
	msgOverlap              = "overlapping availability"
	msgTooShort             = "availability window shorter than block duration"
	msgAvailabilityBooked   = "availability has booked blocks"
	msgBookedOutsideWindow  = "availability has booked blocks outside the new window"
	msgNoBlocksLeft         = "update leaves the availability without blocks"
	msgBlockBooked          = "block is booked"
	msgConfirmCanceled      = "cannot confirm a canceled appointment"
	msgConfirmCompleted     = "cannot confirm a completed appointment"
	msgCancelCompleted      = "cannot cancel a completed appointment"
	msgCompleteNotConfirmed = "only confirmed appointments can be completed"
	msgIdempotencyMismatch  = "idempotency key reused with different request"
)
