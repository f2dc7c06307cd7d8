/*
allocate.go - Share allocation under EQUAL / PERCENTAGE / CUSTOM strategies

PURPOSE:
  Pure arithmetic: divides a split total across N participants and
  returns the ordered per-participant amounts. Deterministic rounding:
  every participant except the last gets a rounded amount, and the last
  participant absorbs the remainder so the sum is exact.

STRATEGIES:
  EQUAL:      total/N floored to 2 decimals; last gets total - sum(rest)
  PERCENTAGE: caller supplies percentages summing to 100 (+-0.01)
  CUSTOM:     caller supplies amounts summing to total (+-0.01)

INVARIANTS:
  1. sum(allocation.Amount) == total, exactly. The 0.01 tolerance
     applies only to validating caller-supplied percentages/amounts;
     the computed allocations always sum exactly because of the
     remainder rule.
  2. Every allocated amount is positive. Totals too small to give each
     participant at least one cent are rejected.

SEE ALSO:
  - split.go: NewSplit calls Allocate and owns the resulting shares
*/
package settlement

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// STRATEGY
// =============================================================================

type Strategy string

const (
	StrategyEqual      Strategy = "EQUAL"
	StrategyPercentage Strategy = "PERCENTAGE"
	StrategyCustom     Strategy = "CUSTOM"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyEqual, StrategyPercentage, StrategyCustom:
		return true
	}
	return false
}

// =============================================================================
// ALLOCATION INPUT/OUTPUT
// =============================================================================

// Participant is one allocation input. Percentage is required for
// PERCENTAGE splits, Amount for CUSTOM splits; both are ignored for EQUAL.
type Participant struct {
	UserID     string
	Percentage decimal.Decimal
	Amount     decimal.Decimal
}

// ShareAllocation is one participant's computed share.
type ShareAllocation struct {
	UserID     string
	Amount     Money
	Percentage decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// =============================================================================
// ALLOCATE
// =============================================================================

// Allocate divides total across participants according to strategy.
// Results preserve participant order; the last participant absorbs the
// rounding remainder so amounts always sum to total exactly.
func Allocate(total Money, strategy Strategy, participants []Participant) ([]ShareAllocation, error) {
	if len(participants) == 0 {
		return nil, &ValidationError{Field: "participants", Reason: "at least one participant is required"}
	}
	if !total.IsPositive() {
		return nil, &ValidationError{Field: "totalAmount", Reason: "must be greater than zero"}
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p.UserID == "" {
			return nil, &ValidationError{Field: "participants.userId", Reason: "must not be empty"}
		}
		if seen[p.UserID] {
			return nil, &ValidationError{Field: "participants.userId", Reason: "duplicate participant " + p.UserID}
		}
		seen[p.UserID] = true
	}

	switch strategy {
	case StrategyEqual:
		return allocateEqual(total, participants)
	case StrategyPercentage:
		return allocatePercentage(total, participants)
	case StrategyCustom:
		return allocateCustom(total, participants)
	default:
		return nil, &ValidationError{Field: "strategy", Reason: "unknown strategy " + string(strategy)}
	}
}

func allocateEqual(total Money, participants []Participant) ([]ShareAllocation, error) {
	n := decimal.NewFromInt(int64(len(participants)))
	each := total.Div(n).Floor()
	if !each.IsPositive() {
		// Every share must carry a payable amount; a sub-cent per-head
		// split would leave zero-amount shares.
		return nil, &ValidationError{Field: "totalAmount", Reason: "too small to give every participant a positive share"}
	}
	pct := hundred.Div(n).Round(CurrencyScale)

	out := make([]ShareAllocation, len(participants))
	assigned := total.Zero()
	for i, p := range participants {
		amount := each
		if i == len(participants)-1 {
			amount = total.Sub(assigned)
		}
		assigned = assigned.Add(amount)
		out[i] = ShareAllocation{UserID: p.UserID, Amount: amount, Percentage: pct}
	}
	return out, nil
}

func allocatePercentage(total Money, participants []Participant) ([]ShareAllocation, error) {
	sum := decimal.Zero
	for _, p := range participants {
		if !p.Percentage.IsPositive() {
			return nil, &ValidationError{Field: "participants.percentage", Reason: "must be greater than zero for " + p.UserID}
		}
		sum = sum.Add(p.Percentage)
	}
	if !WithinTolerance(sum, hundred) {
		return nil, &ValidationError{Field: "participants.percentage", Reason: "percentages must sum to 100, got " + sum.String()}
	}

	out := make([]ShareAllocation, len(participants))
	assigned := total.Zero()
	for i, p := range participants {
		amount := total.Mul(p.Percentage.Div(hundred)).Round()
		if i == len(participants)-1 {
			amount = total.Sub(assigned)
		}
		if !amount.IsPositive() {
			return nil, &ValidationError{Field: "participants.percentage", Reason: "allocates a zero share for " + p.UserID}
		}
		assigned = assigned.Add(amount)
		out[i] = ShareAllocation{UserID: p.UserID, Amount: amount, Percentage: p.Percentage.Round(CurrencyScale)}
	}
	return out, nil
}

func allocateCustom(total Money, participants []Participant) ([]ShareAllocation, error) {
	sum := decimal.Zero
	for _, p := range participants {
		if !p.Amount.IsPositive() {
			return nil, &ValidationError{Field: "participants.amount", Reason: "must be greater than zero for " + p.UserID}
		}
		sum = sum.Add(p.Amount)
	}
	if !WithinTolerance(sum, total.Value) {
		return nil, &ValidationError{Field: "participants.amount", Reason: "amounts must sum to " + total.String() + ", got " + sum.String()}
	}

	out := make([]ShareAllocation, len(participants))
	for i, p := range participants {
		amount := NewMoney(p.Amount, total.Currency)
		if !amount.IsPositive() {
			return nil, &ValidationError{Field: "participants.amount", Reason: "rounds to a zero share for " + p.UserID}
		}
		// Back-computed for display only; does not participate in the sum invariant.
		pct := p.Amount.Div(total.Value).Mul(hundred).Round(CurrencyScale)
		out[i] = ShareAllocation{UserID: p.UserID, Amount: amount, Percentage: pct}
	}
	return out, nil
}
