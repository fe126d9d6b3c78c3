/*
errors.go - Centralized error types for the billing engine

ERROR CATEGORIES:
  1. Input errors - unusable amounts, unknown installments, bad drafts
  2. Lookup errors - missing clients, payments, ledger entries
  3. Conflict errors - stale revisions, replayed idempotency keys

Unparsable currency text is NOT an error: it parses to zero at the
boundary, and the reconciler then rejects it as ErrInvalidAmount.

USAGE:
  if errors.Is(err, billing.ErrConcurrentModification) {
      // reload and retry
  }
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a payment amount parses to zero or less.
	ErrInvalidAmount = errors.New("payment amount must be greater than zero")

	// ErrClientNotFound is returned when a referenced client doesn't exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrNoFeeContract is returned when a billing operation targets a client
	// without a fee contract.
	ErrNoFeeContract = errors.New("client has no fee contract")

	// ErrInvalidContract is returned when a fee contract is malformed.
	ErrInvalidContract = errors.New("invalid fee contract")

	// ErrInstallmentNotFound is returned for an installment number outside
	// the contract's schedule.
	ErrInstallmentNotFound = errors.New("installment not found")

	// ErrPaymentNotFound is returned when undoing an installment with no payment.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrOverpayment is returned when a payment would push the cumulative
	// value past the installment total under the reject policy.
	ErrOverpayment = errors.New("payment exceeds installment remaining value")

	// ErrInstallmentSettled is returned under the cap policy when nothing
	// remains to be paid.
	ErrInstallmentSettled = errors.New("installment already settled")

	// ErrConcurrentModification is returned when a write was based on a
	// stale revision of the payment record.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// idempotency key already exists. Expected on client retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrTransactionNotFound is returned when deleting an unknown ledger entry.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidTransaction is returned for malformed manual ledger drafts.
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// OverpaymentError carries the numbers behind a rejected overpayment.
type OverpaymentError struct {
	ClientID       ClientID
	Installment    int
	Total          decimal.Decimal
	PreviouslyPaid decimal.Decimal
	Attempted      decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("overpayment on installment %d: total %s, already paid %s, attempted %s",
		e.Installment, e.Total.StringFixed(2), e.PreviouslyPaid.StringFixed(2), e.Attempted.StringFixed(2))
}

func (e *OverpaymentError) Unwrap() error {
	return ErrOverpayment
}

// Remaining is what could still be paid without overpaying.
func (e *OverpaymentError) Remaining() decimal.Decimal {
	return e.Total.Sub(e.PreviouslyPaid)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrInstallmentSettled) ||
		errors.Is(err, ErrNoFeeContract) ||
		errors.Is(err, ErrInvalidContract) ||
		errors.Is(err, ErrInvalidTransaction)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrInstallmentNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsConflict returns true if the write lost a race or was a replay.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}
