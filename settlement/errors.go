/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (HTTP handlers, provider adapters) map these onto their own
  error surfaces.

ERROR CATEGORIES:
  1. Validation errors - malformed input, business-rule violations
  2. Not-found errors  - missing split/share/transaction
  3. Provider errors   - payment-provider call failed
  4. Persistence errors - storage-level failures (wrapped with %w)

USAGE:
  Engine operations let validation/not-found errors propagate unchanged;
  provider and persistence failures are wrapped with operation context:

    if errors.Is(err, settlement.ErrSplitNotFound) { ... 404 ... }
    var verr *settlement.ValidationError
    if errors.As(err, &verr) { ... 400 with verr.Field ... }

SEE ALSO:
  - engine.go: Propagation policy (webhook path downgrades to logged no-op)
  - transaction.go: InvalidTransitionError
*/
package settlement

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSplitNotFound is returned when a referenced split doesn't exist.
	ErrSplitNotFound = errors.New("split not found")

	// ErrShareNotFound is returned when a split has no share for the user.
	ErrShareNotFound = errors.New("share not found")

	// ErrTransactionNotFound is returned when a referenced transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrProviderNotFound is returned when no provider is registered under an ID.
	ErrProviderNotFound = errors.New("payment provider not found")

	// ErrShareAlreadyPaid is returned when paying a share that is COMPLETED.
	// Treating this as terminal prevents double charges.
	ErrShareAlreadyPaid = errors.New("share already paid")

	// ErrSplitCompleted is returned when cancelling a fully settled split.
	ErrSplitCompleted = errors.New("split already completed")

	// ErrNotRefundable is returned when a transaction fails the refund
	// eligibility check (wrong type, not completed, or already refunded).
	ErrNotRefundable = errors.New("transaction not refundable")

	// ErrConcurrentModification is returned when a conditional update
	// detects that another writer changed the record first.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed or out-of-range input, identifying
// the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ProviderError wraps a failure from the payment-provider collaborator.
// Surfaced distinctly from validation errors so callers can decide
// whether to retry.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to invalid client input
// or a business-rule violation.
func IsValidation(err error) bool {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return true
	}
	var terr *InvalidTransitionError
	if errors.As(err, &terr) {
		return true
	}
	return errors.Is(err, ErrShareAlreadyPaid) ||
		errors.Is(err, ErrSplitCompleted) ||
		errors.Is(err, ErrNotRefundable)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSplitNotFound) ||
		errors.Is(err, ErrShareNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrProviderNotFound)
}

// IsProvider returns true if the error originated in a provider call.
func IsProvider(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
