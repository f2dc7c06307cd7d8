package settlement_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func usd(s string) settlement.Money {
	m, err := settlement.NewMoneyFromString(s, "USD")
	if err != nil {
		panic(err)
	}
	return m
}

func equalParticipants(userIDs ...string) []settlement.Participant {
	out := make([]settlement.Participant, len(userIDs))
	for i, id := range userIDs {
		out[i] = settlement.Participant{UserID: id}
	}
	return out
}

func sumAllocations(allocs []settlement.ShareAllocation) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range allocs {
		sum = sum.Add(a.Amount.Value)
	}
	return sum
}

// =============================================================================
// EQUAL STRATEGY
// =============================================================================

func TestAllocate_Equal_RemainderOnLast(t *testing.T) {
	// GIVEN: 100.00 split equally among 3 participants
	// WHEN: Allocating
	// THEN: Shares are [33.33, 33.33, 33.34] and sum exactly to 100.00

	allocs, err := settlement.Allocate(usd("100.00"), settlement.StrategyEqual,
		equalParticipants("u1", "u2", "u3"))
	require.NoError(t, err)
	require.Len(t, allocs, 3)

	assert.Equal(t, "33.33", allocs[0].Amount.String())
	assert.Equal(t, "33.33", allocs[1].Amount.String())
	assert.Equal(t, "33.34", allocs[2].Amount.String())
	assert.True(t, sumAllocations(allocs).Equal(decimal.RequireFromString("100.00")))
}

func TestAllocate_Equal_SingleParticipant(t *testing.T) {
	allocs, err := settlement.Allocate(usd("42.50"), settlement.StrategyEqual,
		equalParticipants("solo"))
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, "42.50", allocs[0].Amount.String())
	assert.Equal(t, "100", allocs[0].Percentage.String())
}

func TestAllocate_Equal_SumIsExact(t *testing.T) {
	// Awkward totals must still sum exactly.
	totals := []string{"100.00", "0.11", "99.99", "10.00", "33.33", "1234.56"}
	counts := []int{1, 2, 3, 4, 5, 6, 7, 11}

	for _, total := range totals {
		for _, n := range counts {
			users := make([]string, n)
			for i := range users {
				users[i] = string(rune('a' + i))
			}
			allocs, err := settlement.Allocate(usd(total), settlement.StrategyEqual,
				equalParticipants(users...))
			require.NoError(t, err, "total=%s n=%d", total, n)
			assert.True(t, sumAllocations(allocs).Equal(decimal.RequireFromString(total)),
				"total=%s n=%d sum=%s", total, n, sumAllocations(allocs))
		}
	}
}

func TestAllocate_Equal_SubCentPerHeadRejected(t *testing.T) {
	// GIVEN: 0.01 split equally among 3 participants
	// THEN: rejected - flooring per head would leave zero-amount shares

	_, err := settlement.Allocate(usd("0.01"), settlement.StrategyEqual,
		equalParticipants("u1", "u2", "u3"))
	var verr *settlement.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "totalAmount", verr.Field)

	// One cent per head is the minimum that still allocates.
	allocs, err := settlement.Allocate(usd("0.03"), settlement.StrategyEqual,
		equalParticipants("u1", "u2", "u3"))
	require.NoError(t, err)
	for _, a := range allocs {
		assert.Equal(t, "0.01", a.Amount.String())
	}
}

// =============================================================================
// PERCENTAGE STRATEGY
// =============================================================================

func TestAllocate_Percentage_ExactShares(t *testing.T) {
	// GIVEN: 100 at 50/30/20
	// THEN: Shares are [50.00, 30.00, 20.00]

	allocs, err := settlement.Allocate(usd("100.00"), settlement.StrategyPercentage,
		[]settlement.Participant{
			{UserID: "u1", Percentage: decimal.NewFromInt(50)},
			{UserID: "u2", Percentage: decimal.NewFromInt(30)},
			{UserID: "u3", Percentage: decimal.NewFromInt(20)},
		})
	require.NoError(t, err)
	assert.Equal(t, "50.00", allocs[0].Amount.String())
	assert.Equal(t, "30.00", allocs[1].Amount.String())
	assert.Equal(t, "20.00", allocs[2].Amount.String())
}

func TestAllocate_Percentage_RemainderOnLast(t *testing.T) {
	// Thirds of 100: rounded shares 33.33 each, last takes 33.34.
	third := decimal.RequireFromString("33.3333")
	allocs, err := settlement.Allocate(usd("100.00"), settlement.StrategyPercentage,
		[]settlement.Participant{
			{UserID: "u1", Percentage: third},
			{UserID: "u2", Percentage: third},
			{UserID: "u3", Percentage: decimal.RequireFromString("33.3334")},
		})
	require.NoError(t, err)
	assert.Equal(t, "33.33", allocs[0].Amount.String())
	assert.Equal(t, "33.33", allocs[1].Amount.String())
	assert.Equal(t, "33.34", allocs[2].Amount.String())
	assert.True(t, sumAllocations(allocs).Equal(decimal.RequireFromString("100.00")))
}

func TestAllocate_Percentage_MustSumTo100(t *testing.T) {
	_, err := settlement.Allocate(usd("100.00"), settlement.StrategyPercentage,
		[]settlement.Participant{
			{UserID: "u1", Percentage: decimal.NewFromInt(50)},
			{UserID: "u2", Percentage: decimal.NewFromInt(30)},
		})
	var verr *settlement.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "participants.percentage", verr.Field)
}

func TestAllocate_Percentage_ZeroShareRejected(t *testing.T) {
	// Splitting one cent 50/50 would round the first share up to the
	// whole cent and leave the last share empty.
	_, err := settlement.Allocate(usd("0.01"), settlement.StrategyPercentage,
		[]settlement.Participant{
			{UserID: "u1", Percentage: decimal.NewFromInt(50)},
			{UserID: "u2", Percentage: decimal.NewFromInt(50)},
		})
	var verr *settlement.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "participants.percentage", verr.Field)
}

func TestAllocate_Percentage_SingleRequires100(t *testing.T) {
	_, err := settlement.Allocate(usd("10.00"), settlement.StrategyPercentage,
		[]settlement.Participant{{UserID: "u1", Percentage: decimal.NewFromInt(99)}})
	assert.Error(t, err)

	allocs, err := settlement.Allocate(usd("10.00"), settlement.StrategyPercentage,
		[]settlement.Participant{{UserID: "u1", Percentage: decimal.NewFromInt(100)}})
	require.NoError(t, err)
	assert.Equal(t, "10.00", allocs[0].Amount.String())
}

// =============================================================================
// CUSTOM STRATEGY
// =============================================================================

func TestAllocate_Custom_AmountsPreserved(t *testing.T) {
	// GIVEN: 100 with explicit amounts [40, 35, 25]
	// THEN: Amounts pass through unchanged, percentages back-computed

	allocs, err := settlement.Allocate(usd("100.00"), settlement.StrategyCustom,
		[]settlement.Participant{
			{UserID: "u1", Amount: decimal.NewFromInt(40)},
			{UserID: "u2", Amount: decimal.NewFromInt(35)},
			{UserID: "u3", Amount: decimal.NewFromInt(25)},
		})
	require.NoError(t, err)
	assert.Equal(t, "40.00", allocs[0].Amount.String())
	assert.Equal(t, "35.00", allocs[1].Amount.String())
	assert.Equal(t, "25.00", allocs[2].Amount.String())
	assert.Equal(t, "40", allocs[0].Percentage.String())
	assert.Equal(t, "35", allocs[1].Percentage.String())
	assert.Equal(t, "25", allocs[2].Percentage.String())
}

func TestAllocate_Custom_SumMismatchRejected(t *testing.T) {
	// [40, 35, 24] sums to 99, not 100.
	_, err := settlement.Allocate(usd("100.00"), settlement.StrategyCustom,
		[]settlement.Participant{
			{UserID: "u1", Amount: decimal.NewFromInt(40)},
			{UserID: "u2", Amount: decimal.NewFromInt(35)},
			{UserID: "u3", Amount: decimal.NewFromInt(24)},
		})
	var verr *settlement.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "participants.amount", verr.Field)
}

func TestAllocate_Custom_SingleRequiresFullAmount(t *testing.T) {
	_, err := settlement.Allocate(usd("10.00"), settlement.StrategyCustom,
		[]settlement.Participant{{UserID: "u1", Amount: decimal.NewFromInt(9)}})
	assert.Error(t, err)
}

// =============================================================================
// INVALID INPUT
// =============================================================================

func TestAllocate_InvalidInput(t *testing.T) {
	tests := []struct {
		name         string
		total        settlement.Money
		strategy     settlement.Strategy
		participants []settlement.Participant
		field        string
	}{
		{
			name:     "empty participants",
			total:    usd("10.00"),
			strategy: settlement.StrategyEqual,
			field:    "participants",
		},
		{
			name:         "zero total",
			total:        usd("0.00"),
			strategy:     settlement.StrategyEqual,
			participants: equalParticipants("u1"),
			field:        "totalAmount",
		},
		{
			name:         "unknown strategy",
			total:        usd("10.00"),
			strategy:     settlement.Strategy("HALVSIES"),
			participants: equalParticipants("u1"),
			field:        "strategy",
		},
		{
			name:     "zero percentage",
			total:    usd("10.00"),
			strategy: settlement.StrategyPercentage,
			participants: []settlement.Participant{
				{UserID: "u1", Percentage: decimal.NewFromInt(100)},
				{UserID: "u2"},
			},
			field: "participants.percentage",
		},
		{
			name:     "negative custom amount",
			total:    usd("10.00"),
			strategy: settlement.StrategyCustom,
			participants: []settlement.Participant{
				{UserID: "u1", Amount: decimal.NewFromInt(15)},
				{UserID: "u2", Amount: decimal.NewFromInt(-5)},
			},
			field: "participants.amount",
		},
		{
			name:         "duplicate participant",
			total:        usd("10.00"),
			strategy:     settlement.StrategyEqual,
			participants: equalParticipants("u1", "u1"),
			field:        "participants.userId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := settlement.Allocate(tt.total, tt.strategy, tt.participants)
			var verr *settlement.ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
