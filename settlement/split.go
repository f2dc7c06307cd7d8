/*
split.go - Split aggregate and per-participant shares

PURPOSE:
  The Split is the unit of consistency: a total amount, the allocation
  strategy, the ordered shares, and a status derived from share states.
  Only the settlement engine mutates splits, always through the methods
  here - never by direct field assignment from outside.

CRITICAL INVARIANTS:
  1. sum(shares.Amount) == TotalAmount (within 0.01) after allocation
  2. Status is a pure function of share statuses, except CANCELLED,
     which is sticky: once cancelled, share updates never derive it away
  3. One share per user per split
  4. Splits are never physically deleted - lifecycle ends via status

STATUS DERIVATION:
  all shares COMPLETED            -> COMPLETED
  some but not all COMPLETED      -> PARTIAL
  no shares COMPLETED             -> PENDING
  FAILED shares count as not-completed but are retryable; they never
  force a terminal split state on their own.

SEE ALSO:
  - allocate.go: Computes the initial shares
  - engine.go: The only writer of splits and shares
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS ENUMS
// =============================================================================

type SplitStatus string

const (
	SplitPending   SplitStatus = "PENDING"
	SplitPartial   SplitStatus = "PARTIAL"
	SplitCompleted SplitStatus = "COMPLETED"
	SplitCancelled SplitStatus = "CANCELLED"
)

type ShareStatus string

const (
	SharePending   ShareStatus = "PENDING"
	ShareCompleted ShareStatus = "COMPLETED"
	ShareFailed    ShareStatus = "FAILED"
)

// =============================================================================
// SHARE - One participant's portion of a split
// =============================================================================

type Share struct {
	ID         string
	SplitID    string
	UserID     string
	Amount     Money
	Percentage decimal.Decimal
	Status     ShareStatus
}

// =============================================================================
// REMINDER LOG - Append-only record of payment reminders
// =============================================================================

// ReminderRecord logs one reminder pass over a split's unpaid shares.
// Kept as a typed append-only log rather than an untyped metadata bag
// so the history stays checkable.
type ReminderRecord struct {
	At         time.Time `json:"at"`
	Recipients []string  `json:"recipients"`
}

// =============================================================================
// SPLIT - Aggregate root
// =============================================================================

type Split struct {
	ID          string
	EventID     string
	CreatedBy   string
	TotalAmount Money
	Strategy    Strategy
	Status      SplitStatus
	DueDate     time.Time
	Shares      []Share
	Reminders   []ReminderRecord
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewSplit validates inputs, allocates shares, and returns a PENDING split.
// IDs and timestamps are assigned by the engine/store, not here.
func NewSplit(total Money, strategy Strategy, dueDate time.Time, participants []Participant, now time.Time) (*Split, error) {
	if !total.IsPositive() {
		return nil, &ValidationError{Field: "totalAmount", Reason: "must be greater than zero"}
	}
	if !ValidCurrency(total.Currency) {
		return nil, &ValidationError{Field: "currency", Reason: "must be an ISO 4217 code"}
	}
	if !strategy.Valid() {
		return nil, &ValidationError{Field: "strategy", Reason: "unknown strategy " + string(strategy)}
	}
	if !dueDate.After(now) {
		return nil, &ValidationError{Field: "dueDate", Reason: "must be in the future"}
	}

	allocations, err := Allocate(total, strategy, participants)
	if err != nil {
		return nil, err
	}

	shares := make([]Share, len(allocations))
	for i, a := range allocations {
		shares[i] = Share{
			UserID:     a.UserID,
			Amount:     a.Amount,
			Percentage: a.Percentage,
			Status:     SharePending,
		}
	}

	return &Split{
		TotalAmount: total,
		Strategy:    strategy,
		Status:      SplitPending,
		DueDate:     dueDate,
		Shares:      shares,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// =============================================================================
// STATUS DERIVATION
// =============================================================================

// RecomputeStatus derives the split status from its share statuses.
// CANCELLED is sticky and is never derived away from.
func (s *Split) RecomputeStatus() SplitStatus {
	if s.Status == SplitCancelled {
		return SplitCancelled
	}
	completed := 0
	for _, sh := range s.Shares {
		if sh.Status == ShareCompleted {
			completed++
		}
	}
	switch {
	case len(s.Shares) > 0 && completed == len(s.Shares):
		s.Status = SplitCompleted
	case completed > 0:
		s.Status = SplitPartial
	default:
		s.Status = SplitPending
	}
	return s.Status
}

// ShareFor returns the share belonging to userID, or nil.
func (s *Split) ShareFor(userID string) *Share {
	for i := range s.Shares {
		if s.Shares[i].UserID == userID {
			return &s.Shares[i]
		}
	}
	return nil
}

// UpdateShare sets the status of userID's share and recomputes the
// split status. Returns false if the user has no share in this split.
func (s *Split) UpdateShare(userID string, status ShareStatus) bool {
	sh := s.ShareFor(userID)
	if sh == nil {
		return false
	}
	sh.Status = status
	s.RecomputeStatus()
	return true
}

// Cancel marks the split CANCELLED and fails every PENDING share.
// Shares already COMPLETED or FAILED are untouched. Cancelling an
// already-cancelled split is an idempotent no-op; cancelling a
// COMPLETED split is rejected.
func (s *Split) Cancel() error {
	if s.Status == SplitCompleted {
		return ErrSplitCompleted
	}
	if s.Status == SplitCancelled {
		return nil
	}
	for i := range s.Shares {
		if s.Shares[i].Status == SharePending {
			s.Shares[i].Status = ShareFailed
		}
	}
	s.Status = SplitCancelled
	return nil
}

// =============================================================================
// DERIVED VIEWS
// =============================================================================

// TotalPaid sums the amounts of COMPLETED shares.
func (s *Split) TotalPaid() Money {
	paid := s.TotalAmount.Zero()
	for _, sh := range s.Shares {
		if sh.Status == ShareCompleted {
			paid = paid.Add(sh.Amount)
		}
	}
	return paid
}

// RemainingAmount is the unpaid portion of the total.
func (s *Split) RemainingAmount() Money {
	return s.TotalAmount.Sub(s.TotalPaid())
}

// CompletionPercentage is totalPaid/totalAmount as a percentage.
// A zero-amount COMPLETED split reports 100 by convention.
func (s *Split) CompletionPercentage() decimal.Decimal {
	if s.TotalAmount.IsZero() {
		if s.Status == SplitCompleted {
			return hundred
		}
		return decimal.Zero
	}
	return s.TotalPaid().Value.Div(s.TotalAmount.Value).Mul(hundred).Round(CurrencyScale)
}

// AddReminder appends a reminder record for the given recipients.
func (s *Split) AddReminder(at time.Time, recipients []string) {
	s.Reminders = append(s.Reminders, ReminderRecord{At: at, Recipients: recipients})
}

// PendingUserIDs returns the users whose shares are still PENDING.
func (s *Split) PendingUserIDs() []string {
	var users []string
	for _, sh := range s.Shares {
		if sh.Status == SharePending {
			users = append(users, sh.UserID)
		}
	}
	return users
}
