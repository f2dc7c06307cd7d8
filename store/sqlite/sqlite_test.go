package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/settlement"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func money(s string) settlement.Money {
	return settlement.Money{Value: decimal.RequireFromString(s), Currency: "USD"}
}

func seedSplit(id string, userIDs ...string) *settlement.Split {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	per := decimal.RequireFromString("100").Div(decimal.NewFromInt(int64(len(userIDs)))).Round(2)
	shares := make([]settlement.Share, len(userIDs))
	for i, u := range userIDs {
		shares[i] = settlement.Share{
			ID:         id + "-sh-" + u,
			SplitID:    id,
			UserID:     u,
			Amount:     money("25.00"),
			Percentage: per,
			Status:     settlement.SharePending,
		}
	}
	return &settlement.Split{
		ID:          id,
		EventID:     "ev-1",
		CreatedBy:   userIDs[0],
		TotalAmount: money("100.00"),
		Strategy:    settlement.StrategyEqual,
		Status:      settlement.SplitPending,
		DueDate:     now.Add(7 * 24 * time.Hour),
		Shares:      shares,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func seedTransaction(id, providerTxID string) *settlement.Transaction {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &settlement.Transaction{
		ID:                    id,
		Type:                  settlement.TxSplitPayment,
		Status:                settlement.TxInitiated,
		Amount:                money("25.00"),
		UserID:                "u1",
		PaymentMethodID:       "pm-1",
		Provider:              "cardnet",
		ProviderTransactionID: providerTxID,
		SplitID:               "sp-1",
		Metadata:              map[string]string{"shareId": "sh-1"},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// =============================================================================
// SPLITS
// =============================================================================

func TestSQLite_SplitRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := seedSplit("sp-1", "u1", "u2", "u3", "u4")
	require.NoError(t, store.CreateSplit(ctx, seed))

	got, err := store.GetSplit(ctx, "sp-1")
	require.NoError(t, err)
	assert.Equal(t, seed.ID, got.ID)
	assert.Equal(t, seed.EventID, got.EventID)
	assert.Equal(t, seed.CreatedBy, got.CreatedBy)
	assert.True(t, got.TotalAmount.Value.Equal(seed.TotalAmount.Value))
	assert.Equal(t, "USD", got.TotalAmount.Currency)
	assert.Equal(t, settlement.StrategyEqual, got.Strategy)
	assert.Equal(t, settlement.SplitPending, got.Status)
	assert.Equal(t, seed.DueDate, got.DueDate)

	// Shares come back in insertion order.
	require.Len(t, got.Shares, 4)
	for i, u := range []string{"u1", "u2", "u3", "u4"} {
		assert.Equal(t, u, got.Shares[i].UserID)
		assert.Equal(t, "sp-1", got.Shares[i].SplitID)
		assert.Equal(t, settlement.SharePending, got.Shares[i].Status)
		assert.True(t, got.Shares[i].Amount.Value.Equal(decimal.RequireFromString("25.00")))
	}
}

func TestSQLite_GetSplit_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetSplit(context.Background(), "missing")
	assert.ErrorIs(t, err, settlement.ErrSplitNotFound)
}

func TestSQLite_CreateSplit_DuplicateUserRejected(t *testing.T) {
	// The unique (split_id, user_id) index backs the one-share-per-user
	// invariant at the storage layer.
	store := newTestStore(t)
	seed := seedSplit("sp-1", "u1", "u1")
	seed.Shares[1].ID = "sp-1-sh-u1-dup"

	err := store.CreateSplit(context.Background(), seed)
	require.Error(t, err)

	// The whole insert rolled back: no partial split.
	_, err = store.GetSplit(context.Background(), "sp-1")
	assert.ErrorIs(t, err, settlement.ErrSplitNotFound)
}

func TestSQLite_ListSplits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := seedSplit("sp-a", "u1", "u2")
	b := seedSplit("sp-b", "u2", "u3")
	b.EventID = "ev-2"
	b.CreatedAt = a.CreatedAt.Add(time.Minute)
	require.NoError(t, store.CreateSplit(ctx, a))
	require.NoError(t, store.CreateSplit(ctx, b))

	byEvent, err := store.ListSplitsByEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, byEvent, 1)
	assert.Equal(t, "sp-a", byEvent[0].ID)

	byUser, err := store.ListSplitsByUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, "sp-a", byUser[0].ID)
	assert.Equal(t, "sp-b", byUser[1].ID)

	byUser, err = store.ListSplitsByUser(ctx, "u3")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "sp-b", byUser[0].ID)
}

func TestSQLite_UpdateSplitStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSplit(ctx, seedSplit("sp-1", "u1")))

	require.NoError(t, store.UpdateSplitStatus(ctx, "sp-1", settlement.SplitPartial))
	got, err := store.GetSplit(ctx, "sp-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.SplitPartial, got.Status)

	err = store.UpdateSplitStatus(ctx, "missing", settlement.SplitPartial)
	assert.ErrorIs(t, err, settlement.ErrSplitNotFound)
}

// =============================================================================
// CONDITIONAL SHARE UPDATE
// =============================================================================

func TestSQLite_UpdateShareStatus_Conditional(t *testing.T) {
	// GIVEN: a PENDING share
	// WHEN: two writers attempt PENDING -> COMPLETED
	// THEN: the first wins, the second sees ErrConcurrentModification

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSplit(ctx, seedSplit("sp-1", "u1", "u2")))

	err := store.UpdateShareStatus(ctx, "sp-1", "u1", settlement.SharePending, settlement.ShareCompleted)
	require.NoError(t, err)

	err = store.UpdateShareStatus(ctx, "sp-1", "u1", settlement.SharePending, settlement.ShareCompleted)
	assert.ErrorIs(t, err, settlement.ErrConcurrentModification)

	got, err := store.GetSplit(ctx, "sp-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.ShareCompleted, got.Shares[0].Status)
	assert.Equal(t, settlement.SharePending, got.Shares[1].Status)
}

func TestSQLite_UpdateShareStatus_MissingShare(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSplit(ctx, seedSplit("sp-1", "u1")))

	err := store.UpdateShareStatus(ctx, "sp-1", "stranger", settlement.SharePending, settlement.ShareCompleted)
	assert.ErrorIs(t, err, settlement.ErrShareNotFound)
}

// =============================================================================
// REMINDERS
// =============================================================================

func TestSQLite_Reminders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSplit(ctx, seedSplit("sp-1", "u1", "u2")))

	first := settlement.ReminderRecord{
		At:         time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		Recipients: []string{"u1", "u2"},
	}
	second := settlement.ReminderRecord{
		At:         time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC),
		Recipients: []string{"u2"},
	}
	require.NoError(t, store.AppendReminder(ctx, "sp-1", first))
	require.NoError(t, store.AppendReminder(ctx, "sp-1", second))

	got, err := store.GetSplit(ctx, "sp-1")
	require.NoError(t, err)
	require.Len(t, got.Reminders, 2)
	assert.Equal(t, first, got.Reminders[0])
	assert.Equal(t, second, got.Reminders[1])
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_TransactionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := seedTransaction("tx-1", "pi_123")
	require.NoError(t, store.CreateTransaction(ctx, seed))

	got, err := store.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.TxSplitPayment, got.Type)
	assert.Equal(t, settlement.TxInitiated, got.Status)
	assert.True(t, got.Amount.Value.Equal(seed.Amount.Value))
	assert.Equal(t, "cardnet", got.Provider)
	assert.Equal(t, "pi_123", got.ProviderTransactionID)
	assert.Equal(t, "sp-1", got.SplitID)
	assert.Equal(t, map[string]string{"shareId": "sh-1"}, got.Metadata)
}

func TestSQLite_FindTransactionByProviderID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateTransaction(ctx, seedTransaction("tx-1", "pi_123")))

	got, err := store.FindTransactionByProviderID(ctx, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", got.ID)

	_, err = store.FindTransactionByProviderID(ctx, "pi_unknown")
	assert.ErrorIs(t, err, settlement.ErrTransactionNotFound)

	// An empty provider ID never matches, even against rows whose
	// provider_tx_id is empty.
	require.NoError(t, store.CreateTransaction(ctx, seedTransaction("tx-2", "")))
	_, err = store.FindTransactionByProviderID(ctx, "")
	assert.ErrorIs(t, err, settlement.ErrTransactionNotFound)
}

func TestSQLite_UpdateTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := seedTransaction("tx-1", "")
	require.NoError(t, store.CreateTransaction(ctx, seed))

	seed.Status = settlement.TxProcessing
	seed.ProviderTransactionID = "pi_999"
	seed.UpdatedAt = seed.UpdatedAt.Add(time.Minute)
	require.NoError(t, store.UpdateTransaction(ctx, seed))

	got, err := store.FindTransactionByProviderID(ctx, "pi_999")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", got.ID)
	assert.Equal(t, settlement.TxProcessing, got.Status)

	missing := seedTransaction("tx-missing", "")
	assert.ErrorIs(t, store.UpdateTransaction(ctx, missing), settlement.ErrTransactionNotFound)
}

func TestSQLite_ListTransactions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := seedTransaction("tx-a", "pi_a")
	b := seedTransaction("tx-b", "pi_b")
	b.UserID = "u2"
	b.CreatedAt = a.CreatedAt.Add(time.Minute)
	require.NoError(t, store.CreateTransaction(ctx, a))
	require.NoError(t, store.CreateTransaction(ctx, b))

	bySplit, err := store.ListTransactionsBySplit(ctx, "sp-1")
	require.NoError(t, err)
	require.Len(t, bySplit, 2)
	assert.Equal(t, "tx-a", bySplit[0].ID)
	assert.Equal(t, "tx-b", bySplit[1].ID)

	byUser, err := store.ListTransactionsByUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "tx-b", byUser[0].ID)

	byEvent, err := store.ListTransactionsByEvent(ctx, "no-such-event")
	require.NoError(t, err)
	assert.Empty(t, byEvent)
}

// =============================================================================
// WITHTX
// =============================================================================

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: a transaction body that writes then fails
	// THEN: nothing it wrote is visible afterwards

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSplit(ctx, seedSplit("sp-1", "u1", "u2")))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s settlement.Store) error {
		if err := s.UpdateShareStatus(ctx, "sp-1", "u1", settlement.SharePending, settlement.ShareCompleted); err != nil {
			return err
		}
		if err := s.UpdateSplitStatus(ctx, "sp-1", settlement.SplitPartial); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetSplit(ctx, "sp-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.SplitPending, got.Status)
	assert.Equal(t, settlement.SharePending, got.Shares[0].Status)
}

func TestSQLite_WithTx_ReadsSeeOwnWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSplit(ctx, seedSplit("sp-1", "u1")))

	err := store.WithTx(ctx, func(s settlement.Store) error {
		if err := s.UpdateShareStatus(ctx, "sp-1", "u1", settlement.SharePending, settlement.ShareCompleted); err != nil {
			return err
		}
		split, err := s.GetSplit(ctx, "sp-1")
		if err != nil {
			return err
		}
		// The uncommitted write is visible inside the transaction.
		assert.Equal(t, settlement.ShareCompleted, split.Shares[0].Status)
		return s.UpdateSplitStatus(ctx, "sp-1", split.RecomputeStatus())
	})
	require.NoError(t, err)

	got, err := store.GetSplit(ctx, "sp-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.SplitCompleted, got.Status)
	assert.Equal(t, settlement.ShareCompleted, got.Shares[0].Status)
}
