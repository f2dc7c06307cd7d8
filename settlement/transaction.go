/*
transaction.go - Per-payment-attempt lifecycle and state machine

PURPOSE:
  A Transaction records one payment attempt against a provider. Its
  status follows a strict state machine; any transition outside the
  table below is rejected before any persisted mutation, so a rejected
  transition never leaves partial state.

TRANSITION TABLE:
  INITIATED  -> PROCESSING, FAILED, CANCELLED
  PROCESSING -> COMPLETED, FAILED, CANCELLED
  COMPLETED  -> REFUNDED
  FAILED, CANCELLED, REFUNDED -> (terminal)

REFUND ELIGIBILITY:
  A transaction is refundable iff it is not itself a refund, it is
  COMPLETED, and it has not already been the source of a refund.

SEE ALSO:
  - engine.go: Drives transitions from provider results and webhooks
*/
package settlement

import (
	"fmt"
	"time"
)

// =============================================================================
// TYPE AND STATUS ENUMS
// =============================================================================

type TransactionType string

const (
	TxEventPayment TransactionType = "EVENT_PAYMENT"
	TxSplitPayment TransactionType = "SPLIT_PAYMENT"
	TxRefund       TransactionType = "REFUND"
)

type TransactionStatus string

const (
	TxInitiated  TransactionStatus = "INITIATED"
	TxProcessing TransactionStatus = "PROCESSING"
	TxCompleted  TransactionStatus = "COMPLETED"
	TxFailed     TransactionStatus = "FAILED"
	TxRefunded   TransactionStatus = "REFUNDED"
	TxCancelled  TransactionStatus = "CANCELLED"
)

// allowedTransitions is the complete transition table. Absence means rejection.
var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	TxInitiated:  {TxProcessing, TxFailed, TxCancelled},
	TxProcessing: {TxCompleted, TxFailed, TxCancelled},
	TxCompleted:  {TxRefunded},
	TxFailed:     {},
	TxCancelled:  {},
	TxRefunded:   {},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError names the rejected from/to pair.
type InvalidTransitionError struct {
	TransactionID string
	From          TransactionStatus
	To            TransactionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transaction state transition %s -> %s (tx: %s)", e.From, e.To, e.TransactionID)
}

// =============================================================================
// TRANSACTION
// =============================================================================

type Transaction struct {
	ID                    string
	Type                  TransactionType
	Status                TransactionStatus
	Amount                Money
	UserID                string
	PaymentMethodID       string
	Provider              string
	ProviderTransactionID string
	EventID               string
	SplitID               string
	RefundedTransactionID string
	Metadata              map[string]string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Validate enforces the per-type structural invariants.
func (t *Transaction) Validate() error {
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	switch t.Type {
	case TxEventPayment:
		if t.EventID == "" {
			return &ValidationError{Field: "eventId", Reason: "required for EVENT_PAYMENT"}
		}
	case TxSplitPayment:
		if t.SplitID == "" {
			return &ValidationError{Field: "splitId", Reason: "required for SPLIT_PAYMENT"}
		}
	case TxRefund:
		if t.RefundedTransactionID == "" {
			return &ValidationError{Field: "refundedTransactionId", Reason: "required for REFUND"}
		}
	default:
		return &ValidationError{Field: "type", Reason: "unknown transaction type " + string(t.Type)}
	}
	return nil
}

// Transition moves the transaction to a new status, enforcing the
// transition table. The check happens before any mutation.
func (t *Transaction) Transition(to TransactionStatus, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return &InvalidTransitionError{TransactionID: t.ID, From: t.Status, To: to}
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

// IsTerminal returns true if no outgoing transitions exist.
func (t *Transaction) IsTerminal() bool {
	return len(allowedTransitions[t.Status]) == 0
}

// IsRefundable returns true iff this transaction can be the source of a
// new refund: not itself a refund, COMPLETED, and not previously refunded.
func (t *Transaction) IsRefundable() bool {
	return t.Type != TxRefund &&
		t.Status == TxCompleted &&
		t.RefundedTransactionID == ""
}
