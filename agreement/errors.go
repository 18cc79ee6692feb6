/*
errors.go - Failure taxonomy for the lifecycle manager

PURPOSE:
  All lifecycle error types in one place. Callers branch with errors.Is on
  the sentinels and errors.As on the structured types; the HTTP layer maps
  them to status codes without string matching.

ERROR CATEGORIES:
  1. Lookup errors    - unknown agreement/installment ids
  2. State errors     - transition attempted from the wrong status
  3. Payment errors   - double pay, short pay
  4. Concurrency      - lost compare-and-swap on the agreement status

SEE ALSO:
  - manager.go: produces these errors
  - api/handlers.go: maps them to HTTP statuses
*/
package agreement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/taqsit/installment-engine/finance"
	"github.com/taqsit/installment-engine/jalali"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced agreement or installment
	// does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyPaid is returned when paying an installment that is PAID.
	ErrAlreadyPaid = errors.New("installment already paid")

	// ErrInsufficientPayment is returned when the offered amount is below
	// the installment amount. Partial payment is rejected, not applied.
	ErrInsufficientPayment = errors.New("insufficient payment")

	// ErrInvalidState is returned when a transition is attempted from a
	// status that does not allow it.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrInvalidArgument is returned for rejected creation inputs.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConcurrencyConflict is returned when the agreement status CAS is
	// lost to a concurrent writer. Retrying the whole operation is safe.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientPaymentError details a rejected short payment.
type InsufficientPaymentError struct {
	InstallmentID string
	Required      decimal.Decimal
	Offered       decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment for installment %s: required %s, offered %s (short %s)",
		e.InstallmentID, e.Required, e.Offered, e.Required.Sub(e.Offered))
}

func (e *InsufficientPaymentError) Unwrap() error { return ErrInsufficientPayment }

// InvalidStateError details a rejected status transition.
type InvalidStateError struct {
	AgreementID string
	Current     AgreementStatus
	Attempted   string // operation name, e.g. "approve"
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s agreement %s in status %s", e.Attempted, e.AgreementID, e.Current)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid caller input.
// Covers the calculator's and calendar's rejections too, so the boundary
// has one predicate for the whole engine.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInsufficientPayment) ||
		errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, finance.ErrInvalidArgument) ||
		errors.Is(err, jalali.ErrInvalidDate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
