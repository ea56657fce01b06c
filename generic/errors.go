/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Period errors - Writes against locked or malformed booking periods
  2. Validation errors - Business rule violations, bad input amounts
  3. Store errors - Missing records, duplicate idempotency keys

RECOVERABLE VS FATAL:
  Degraded-but-valid results (empty distribution, provisional shares) are
  NOT errors. Anything that would produce an invalid financial state
  (writing to a locked period, an inconsistent SEPA batch) is.

USAGE:
    if errors.Is(err, generic.ErrPeriodLocked) {
        // surface verbatim, no retry
    }

SEE ALSO:
  - periodlock/guard.go: Raises PeriodLockError
  - sepa/validate.go: Collects validation messages
*/
package generic

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPeriodLocked is returned when a write targets a locked booking period.
	ErrPeriodLocked = errors.New("booking period locked")

	// ErrAlreadyLocked is returned when locking a period that is already locked.
	ErrAlreadyLocked = errors.New("booking period already locked")

	// ErrNotLocked is returned when unlocking a period that is not locked.
	ErrNotLocked = errors.New("booking period not locked")

	// ErrInvalidPeriod is returned when a period is malformed (month outside 1..12, end before start).
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrUnlockNotAuthorized is returned when an unlock lacks actor or reason.
	ErrUnlockNotAuthorized = errors.New("unlock requires an actor and a reason")

	// ErrDuplicatePayment is returned when a bank reference was already ingested.
	// This is expected behavior for retries.
	ErrDuplicatePayment = errors.New("duplicate payment bank reference")

	// ErrNegativeAmount is returned when an amount must not be negative.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrInvoiceNotFound is returned when a referenced invoice doesn't exist.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrValidation is the umbrella for input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PeriodLockError is raised by the period lock guard. The message is shown
// verbatim to the user.
type PeriodLockError struct {
	OrganizationID OrganizationID
	Year           int
	Month          time.Month
}

func (e *PeriodLockError) Error() string {
	return fmt.Sprintf("Buchungsperiode %d/%d ist gesperrt.", int(e.Month), e.Year)
}

func (e *PeriodLockError) Unwrap() error {
	return ErrPeriodLocked
}

// StatusCode is the HTTP status the API layer answers with.
func (e *PeriodLockError) StatusCode() int {
	return http.StatusConflict
}

// DuplicatePaymentError provides details about an already ingested payment.
type DuplicatePaymentError struct {
	BankReference string
	ExistingID    PaymentID
}

func (e *DuplicatePaymentError) Error() string {
	return fmt.Sprintf("payment %q already ingested (payment: %s)", e.BankReference, e.ExistingID)
}

func (e *DuplicatePaymentError) Unwrap() error {
	return ErrDuplicatePayment
}

// ValidationErrors collects every problem found instead of stopping at the first.
type ValidationErrors struct {
	Messages []string
}

func (e *ValidationErrors) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

func (e *ValidationErrors) Unwrap() error {
	return ErrValidation
}

// Add appends a formatted message.
func (e *ValidationErrors) Add(format string, args ...any) {
	e.Messages = append(e.Messages, fmt.Sprintf(format, args...))
}

// OrNil returns nil when nothing was collected.
func (e *ValidationErrors) OrNil() error {
	if e == nil || len(e.Messages) == 0 {
		return nil
	}
	return e
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsConflict returns true if the error is a state conflict (HTTP 409).
func IsConflict(err error) bool {
	return errors.Is(err, ErrPeriodLocked) ||
		errors.Is(err, ErrAlreadyLocked) ||
		errors.Is(err, ErrNotLocked) ||
		errors.Is(err, ErrDuplicatePayment) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnlockNotAuthorized)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound)
}
