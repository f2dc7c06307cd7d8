/*
stats.go - Read-only aggregation over splits, shares, and transactions

PURPOSE:
  Computes statistics and summaries for display. Pure reads: nothing
  here mutates state, and the only failure modes are not-found and an
  invalid scope.

SCOPES:
  event - aggregate every split attached to an event
  user  - aggregate every split the user participates in
  split - single-split statistics

SEE ALSO:
  - engine.go: Mutating operations
*/
package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATISTICS
// =============================================================================

// StatScope selects the aggregation target for Statistics.
type StatScope string

const (
	ScopeEvent StatScope = "event"
	ScopeUser  StatScope = "user"
	ScopeSplit StatScope = "split"
)

// Statistics aggregates settlement progress across one or more splits.
type Statistics struct {
	Scope          StatScope
	ID             string
	SplitCount     int
	TotalAmount    decimal.Decimal
	PaidAmount     decimal.Decimal
	PendingAmount  decimal.Decimal
	SharesByStatus map[ShareStatus]int
	SplitsByStatus map[SplitStatus]int
}

// GetStatistics aggregates over the splits selected by scope and id.
func (e *Engine) GetStatistics(ctx context.Context, id string, scope StatScope) (*Statistics, error) {
	var (
		splits []*Split
		err    error
	)
	switch scope {
	case ScopeEvent:
		splits, err = e.store.ListSplitsByEvent(ctx, id)
	case ScopeUser:
		splits, err = e.store.ListSplitsByUser(ctx, id)
	case ScopeSplit:
		var split *Split
		split, err = e.store.GetSplit(ctx, id)
		if split != nil {
			splits = []*Split{split}
		}
	default:
		return nil, &ValidationError{Field: "scope", Reason: "unknown scope " + string(scope)}
	}
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		Scope:          scope,
		ID:             id,
		SplitCount:     len(splits),
		TotalAmount:    decimal.Zero,
		PaidAmount:     decimal.Zero,
		PendingAmount:  decimal.Zero,
		SharesByStatus: make(map[ShareStatus]int),
		SplitsByStatus: make(map[SplitStatus]int),
	}
	for _, s := range splits {
		stats.TotalAmount = stats.TotalAmount.Add(s.TotalAmount.Value)
		stats.PaidAmount = stats.PaidAmount.Add(s.TotalPaid().Value)
		stats.PendingAmount = stats.PendingAmount.Add(s.RemainingAmount().Value)
		stats.SplitsByStatus[s.Status]++
		for _, sh := range s.Shares {
			stats.SharesByStatus[sh.Status]++
		}
	}
	return stats, nil
}

// =============================================================================
// SPLIT SUMMARY
// =============================================================================

// ShareSummary is one share's view within a split summary.
type ShareSummary struct {
	UserID     string
	Amount     Money
	Percentage decimal.Decimal
	Status     ShareStatus
}

// Summary is a single split's settlement progress.
type Summary struct {
	SplitID              string
	Status               SplitStatus
	TotalAmount          Money
	TotalPaid            Money
	RemainingAmount      Money
	CompletionPercentage decimal.Decimal
	Shares               []ShareSummary
	ReminderCount        int
}

// GetSummary builds the settlement summary for one split.
func (e *Engine) GetSummary(ctx context.Context, splitID string) (*Summary, error) {
	split, err := e.store.GetSplit(ctx, splitID)
	if err != nil {
		return nil, err
	}

	shares := make([]ShareSummary, len(split.Shares))
	for i, sh := range split.Shares {
		shares[i] = ShareSummary{
			UserID:     sh.UserID,
			Amount:     sh.Amount,
			Percentage: sh.Percentage,
			Status:     sh.Status,
		}
	}

	return &Summary{
		SplitID:              split.ID,
		Status:               split.Status,
		TotalAmount:          split.TotalAmount,
		TotalPaid:            split.TotalPaid(),
		RemainingAmount:      split.RemainingAmount(),
		CompletionPercentage: split.CompletionPercentage(),
		Shares:               shares,
		ReminderCount:        len(split.Reminders),
	}, nil
}
