/*
engine.go - Settlement engine orchestration

PURPOSE:
  The engine is the only writer of splits, shares, and transactions.
  It wires the allocation arithmetic, the split aggregate, the
  transaction state machine, the persistence interface, and the
  provider registry into the settlement operations exposed to
  controllers.

OPERATIONS:
  CreateSplit          validate + allocate + persist (atomic)
  ProcessSharePayment  charge one share, at most one success per share
  CancelSplit          cancel split, fail pending shares (atomic)
  UpdateSplitStatus    set split status under the aggregate's rules
  ReconcileWebhook     apply async provider events, idempotently
  ProcessRefund        refund a completed transaction
  RemindPendingPayments append reminder log entry (no state impact)

PROPAGATION POLICY:
  Validation and not-found errors propagate unchanged. Provider and
  persistence failures are wrapped with operation context. The sole
  local-recovery point is ReconcileWebhook: every internal error there
  is downgraded to a logged `false` return so the provider-facing
  surface can always acknowledge delivery and avoid retry storms.

CONCURRENCY:
  Per-share completion is serialized by the store's conditional
  UpdateShareStatus (expected prior status PENDING). Split status is
  recomputed from a fresh read of all shares inside the same storage
  transaction, never from a cached share list.

SEE ALSO:
  - store.go: Atomicity contract
  - provider.go: Provider interface and registry
  - stats.go: Read-only aggregation
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store     TxStore
	providers *Registry
	now       func() time.Time
}

// NewEngine creates a settlement engine with injected collaborators.
func NewEngine(store TxStore, providers *Registry) *Engine {
	return &Engine{store: store, providers: providers, now: time.Now}
}

// WithClock overrides the engine's clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// =============================================================================
// CREATE SPLIT
// =============================================================================

// CreateSplitRequest carries everything needed to create a split.
type CreateSplitRequest struct {
	EventID      string
	CreatedBy    string
	TotalAmount  Money
	Strategy     Strategy
	DueDate      time.Time
	Participants []Participant
}

// CreateSplit validates and allocates a new split, persisting the split
// and all shares as one atomic write.
func (e *Engine) CreateSplit(ctx context.Context, req CreateSplitRequest) (*Split, error) {
	now := e.now()
	split, err := NewSplit(req.TotalAmount, req.Strategy, req.DueDate, req.Participants, now)
	if err != nil {
		return nil, err
	}

	split.ID = uuid.NewString()
	split.EventID = req.EventID
	split.CreatedBy = req.CreatedBy
	for i := range split.Shares {
		split.Shares[i].ID = uuid.NewString()
		split.Shares[i].SplitID = split.ID
	}

	if err := e.store.CreateSplit(ctx, split); err != nil {
		return nil, fmt.Errorf("create split %s: %w", split.ID, err)
	}

	slog.Info("split created",
		"split_id", split.ID,
		"event_id", split.EventID,
		"strategy", split.Strategy,
		"total", split.TotalAmount.String(),
		"shares", len(split.Shares),
	)
	return split, nil
}

// GetSplit loads a split by ID.
func (e *Engine) GetSplit(ctx context.Context, id string) (*Split, error) {
	return e.store.GetSplit(ctx, id)
}

// SplitsByEvent lists splits for an event, oldest first.
func (e *Engine) SplitsByEvent(ctx context.Context, eventID string) ([]*Split, error) {
	return e.store.ListSplitsByEvent(ctx, eventID)
}

// SplitsByUser lists splits the user participates in, oldest first.
func (e *Engine) SplitsByUser(ctx context.Context, userID string) ([]*Split, error) {
	return e.store.ListSplitsByUser(ctx, userID)
}

// =============================================================================
// PROCESS SHARE PAYMENT
// =============================================================================

// ProcessSharePayment charges one participant's share. At most one
// successful completion per share: an already-COMPLETED share is
// rejected before any provider call. Returns true only when the
// provider reported COMPLETED and the share/split were updated.
func (e *Engine) ProcessSharePayment(ctx context.Context, splitID, userID, paymentMethodID, providerID string) (bool, error) {
	split, err := e.store.GetSplit(ctx, splitID)
	if err != nil {
		return false, err
	}

	share := split.ShareFor(userID)
	if share == nil {
		return false, ErrShareNotFound
	}
	if share.Status == ShareCompleted {
		return false, ErrShareAlreadyPaid
	}
	if split.Status == SplitCancelled {
		return false, &ValidationError{Field: "splitId", Reason: "split is cancelled"}
	}

	provider, err := e.providers.Get(providerID)
	if err != nil {
		return false, err
	}

	now := e.now()
	tx := &Transaction{
		ID:              uuid.NewString(),
		Type:            TxSplitPayment,
		Status:          TxInitiated,
		Amount:          share.Amount,
		UserID:          userID,
		PaymentMethodID: paymentMethodID,
		Provider:        providerID,
		SplitID:         splitID,
		Metadata:        map[string]string{"shareId": share.ID},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.Validate(); err != nil {
		return false, err
	}
	if err := e.store.CreateTransaction(ctx, tx); err != nil {
		return false, fmt.Errorf("create transaction for split %s: %w", splitID, err)
	}

	paymentsAttempted.WithLabelValues(providerID).Inc()

	charged, err := provider.Charge(ctx, tx, paymentMethodID)
	if err != nil {
		// Provider failure leaves the share unchanged; the attempt is
		// recorded as FAILED and the error propagates wrapped.
		e.failTransaction(ctx, tx)
		return false, &ProviderError{Provider: providerID, Op: "charge", Err: err}
	}

	tx.ProviderTransactionID = charged.ProviderTransactionID
	if err := e.applyChargeResult(ctx, tx, charged.Status); err != nil {
		return false, err
	}

	if tx.Status != TxCompleted {
		slog.Warn("share payment did not complete",
			"split_id", splitID, "user_id", userID, "status", tx.Status)
		return false, nil
	}

	if err := e.completeShare(ctx, splitID, userID); err != nil {
		return false, err
	}

	paymentsCompleted.WithLabelValues(providerID).Inc()
	slog.Info("share payment completed",
		"split_id", splitID, "user_id", userID, "tx_id", tx.ID, "amount", share.Amount.String())
	return true, nil
}

// applyChargeResult walks the transaction through the state machine to
// the status the provider reported. A synchronous charge always passes
// through PROCESSING first.
func (e *Engine) applyChargeResult(ctx context.Context, tx *Transaction, result TransactionStatus) error {
	now := e.now()
	if err := tx.Transition(TxProcessing, now); err != nil {
		return err
	}
	if result != TxProcessing {
		if err := tx.Transition(result, now); err != nil {
			return err
		}
	}
	if err := e.store.UpdateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	return nil
}

// failTransaction best-effort marks an INITIATED transaction FAILED
// after a provider error. Failure to record is logged, not surfaced.
func (e *Engine) failTransaction(ctx context.Context, tx *Transaction) {
	if err := tx.Transition(TxFailed, e.now()); err != nil {
		slog.Error("cannot fail transaction", "tx_id", tx.ID, "error", err)
		return
	}
	if err := e.store.UpdateTransaction(ctx, tx); err != nil {
		slog.Error("failed to record transaction failure", "tx_id", tx.ID, "error", err)
	}
}

// completeShare transitions the share PENDING -> COMPLETED and
// recomputes the split status, atomically. The conditional update is
// what guarantees at-most-one completion when callers race.
func (e *Engine) completeShare(ctx context.Context, splitID, userID string) error {
	err := e.store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateShareStatus(ctx, splitID, userID, SharePending, ShareCompleted); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				// Another attempt won the race; the money moved once.
				return err
			}
			return fmt.Errorf("update share %s/%s: %w", splitID, userID, err)
		}
		return e.recomputeSplitLocked(ctx, s, splitID)
	})
	return err
}

// recomputeSplitLocked re-reads the split (fresh share list) and
// persists the derived status. Must run inside a storage transaction.
func (e *Engine) recomputeSplitLocked(ctx context.Context, s Store, splitID string) error {
	split, err := s.GetSplit(ctx, splitID)
	if err != nil {
		return err
	}
	status := split.RecomputeStatus()
	if err := s.UpdateSplitStatus(ctx, splitID, status); err != nil {
		return fmt.Errorf("update split %s status: %w", splitID, err)
	}
	return nil
}

// =============================================================================
// CANCEL SPLIT
// =============================================================================

// CancelSplit cancels a split and fails its pending shares atomically.
// Cancelling a COMPLETED split is rejected; cancelling an already
// cancelled split succeeds without further change.
func (e *Engine) CancelSplit(ctx context.Context, splitID string) error {
	return e.store.WithTx(ctx, func(s Store) error {
		split, err := s.GetSplit(ctx, splitID)
		if err != nil {
			return err
		}

		wasCancelled := split.Status == SplitCancelled
		pending := split.PendingUserIDs()
		if err := split.Cancel(); err != nil {
			return err
		}
		if wasCancelled {
			return nil
		}

		for _, userID := range pending {
			err := s.UpdateShareStatus(ctx, splitID, userID, SharePending, ShareFailed)
			if err != nil && !errors.Is(err, ErrConcurrentModification) {
				return fmt.Errorf("fail share %s/%s: %w", splitID, userID, err)
			}
		}
		if err := s.UpdateSplitStatus(ctx, splitID, SplitCancelled); err != nil {
			return fmt.Errorf("update split %s status: %w", splitID, err)
		}
		slog.Info("split cancelled", "split_id", splitID)
		return nil
	})
}

// =============================================================================
// UPDATE SPLIT STATUS
// =============================================================================

// UpdateSplitStatus sets a split's status on behalf of a controller.
// The aggregate rules still hold: CANCELLED is sticky, a CANCELLED
// target goes through the same share-failing path as CancelSplit, and
// the remaining statuses must agree with what the share states derive,
// so the stored status is never forced out of sync with the shares.
func (e *Engine) UpdateSplitStatus(ctx context.Context, splitID string, status SplitStatus) (*Split, error) {
	switch status {
	case SplitPending, SplitPartial, SplitCompleted, SplitCancelled:
	default:
		return nil, &ValidationError{Field: "status", Reason: "unknown status " + string(status)}
	}

	if status == SplitCancelled {
		if err := e.CancelSplit(ctx, splitID); err != nil {
			return nil, err
		}
		return e.store.GetSplit(ctx, splitID)
	}

	err := e.store.WithTx(ctx, func(s Store) error {
		split, err := s.GetSplit(ctx, splitID)
		if err != nil {
			return err
		}
		if split.Status == SplitCancelled {
			return &ValidationError{Field: "status", Reason: "split is cancelled"}
		}
		if derived := split.RecomputeStatus(); status != derived {
			return &ValidationError{
				Field:  "status",
				Reason: fmt.Sprintf("status %s does not match share states (derived %s)", status, derived),
			}
		}
		if err := s.UpdateSplitStatus(ctx, splitID, status); err != nil {
			return fmt.Errorf("update split %s status: %w", splitID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("split status updated", "split_id", splitID, "status", status)
	return e.store.GetSplit(ctx, splitID)
}

// =============================================================================
// WEBHOOK RECONCILIATION
// =============================================================================

// ReconcileWebhook applies an asynchronous provider event to the
// matching transaction (and, for completed split payments, the owning
// share and split). Returns true when a transaction was updated.
//
// This path is deliberately forgiving: bad signatures, unparseable
// payloads, orphan events, and internal failures are logged and
// reported as false, never as errors. Webhook delivery is at-least-once
// and out of order; reapplying an already-applied status is a no-op.
func (e *Engine) ReconcileWebhook(ctx context.Context, providerID string, payload []byte, signature string) bool {
	webhooksReceived.WithLabelValues(providerID).Inc()

	provider, err := e.providers.Get(providerID)
	if err != nil {
		slog.Warn("webhook for unregistered provider", "provider", providerID)
		webhooksRejected.WithLabelValues(providerID).Inc()
		return false
	}

	event, err := provider.VerifyAndParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, ErrBadSignature) {
			slog.Warn("webhook signature rejected", "provider", providerID)
		} else {
			slog.Warn("webhook payload unparseable", "provider", providerID, "error", err)
		}
		webhooksRejected.WithLabelValues(providerID).Inc()
		return false
	}

	status, tracked := event.Type.TransactionStatus()
	if !tracked {
		// Providers emit many event kinds the engine doesn't track.
		slog.Debug("webhook event ignored", "provider", providerID, "event_id", event.ID)
		return false
	}

	if event.ProviderTransactionID == "" {
		slog.Warn("webhook event without provider transaction id",
			"provider", providerID, "event_id", event.ID)
		webhooksRejected.WithLabelValues(providerID).Inc()
		return false
	}

	tx, err := e.store.FindTransactionByProviderID(ctx, event.ProviderTransactionID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			// Orphan event: unmatched, not an error.
			slog.Info("webhook event unmatched",
				"provider", providerID, "provider_tx_id", event.ProviderTransactionID)
		} else {
			slog.Error("webhook transaction lookup failed", "provider", providerID, "error", err)
		}
		webhooksRejected.WithLabelValues(providerID).Inc()
		return false
	}

	if tx.Status == status {
		// Duplicate delivery. Safe no-op.
		slog.Debug("webhook event already applied", "tx_id", tx.ID, "status", status)
		return false
	}

	if err := e.applyReconciledStatus(ctx, tx, status); err != nil {
		slog.Error("webhook reconciliation failed",
			"provider", providerID, "tx_id", tx.ID, "to", status, "error", err)
		webhooksRejected.WithLabelValues(providerID).Inc()
		return false
	}

	webhooksReconciled.WithLabelValues(providerID).Inc()
	slog.Info("webhook reconciled", "provider", providerID, "tx_id", tx.ID, "status", status)
	return true
}

// applyReconciledStatus transitions the transaction and, when a split
// payment completes, the owning share and split, in one storage
// transaction.
func (e *Engine) applyReconciledStatus(ctx context.Context, tx *Transaction, status TransactionStatus) error {
	now := e.now()

	// An async completion may arrive while the transaction is still
	// INITIATED (callback beat the synchronous result). Walk through
	// PROCESSING so the transition table holds.
	if tx.Status == TxInitiated && status != TxProcessing && status != TxFailed && status != TxCancelled {
		if err := tx.Transition(TxProcessing, now); err != nil {
			return err
		}
	}
	if err := tx.Transition(status, now); err != nil {
		return err
	}

	return e.store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("update transaction %s: %w", tx.ID, err)
		}
		if tx.Type != TxSplitPayment || tx.SplitID == "" || status != TxCompleted {
			return nil
		}
		err := s.UpdateShareStatus(ctx, tx.SplitID, tx.UserID, SharePending, ShareCompleted)
		if err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				// Share already settled by the synchronous path.
				return nil
			}
			return fmt.Errorf("update share %s/%s: %w", tx.SplitID, tx.UserID, err)
		}
		return e.recomputeSplitLocked(ctx, s, tx.SplitID)
	})
}

// =============================================================================
// REFUNDS
// =============================================================================

// ProcessRefund refunds a completed transaction. A new REFUND
// transaction references the original; once the refund completes, the
// original transitions COMPLETED -> REFUNDED.
func (e *Engine) ProcessRefund(ctx context.Context, transactionID, reason string) (*Transaction, error) {
	original, err := e.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !original.IsRefundable() {
		return nil, ErrNotRefundable
	}

	provider, err := e.providers.Get(original.Provider)
	if err != nil {
		return nil, err
	}

	now := e.now()
	refund := &Transaction{
		ID:                    uuid.NewString(),
		Type:                  TxRefund,
		Status:                TxInitiated,
		Amount:                original.Amount,
		UserID:                original.UserID,
		PaymentMethodID:       original.PaymentMethodID,
		Provider:              original.Provider,
		EventID:               original.EventID,
		SplitID:               original.SplitID,
		RefundedTransactionID: original.ID,
		Metadata:              map[string]string{"reason": reason},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := refund.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.CreateTransaction(ctx, refund); err != nil {
		return nil, fmt.Errorf("create refund for %s: %w", original.ID, err)
	}

	refunded, err := provider.Refund(ctx, refund, original)
	if err != nil {
		e.failTransaction(ctx, refund)
		refundsProcessed.WithLabelValues(original.Provider, "failed").Inc()
		return nil, &ProviderError{Provider: original.Provider, Op: "refund", Err: err}
	}

	refund.ProviderTransactionID = refunded.ProviderTransactionID
	if err := e.applyChargeResult(ctx, refund, refunded.Status); err != nil {
		return nil, err
	}

	if refund.Status == TxCompleted {
		if err := original.Transition(TxRefunded, e.now()); err != nil {
			return nil, err
		}
		if err := e.store.UpdateTransaction(ctx, original); err != nil {
			return nil, fmt.Errorf("update original %s: %w", original.ID, err)
		}
		refundsProcessed.WithLabelValues(original.Provider, "completed").Inc()
		slog.Info("refund completed", "tx_id", original.ID, "refund_id", refund.ID)
	}

	return refund, nil
}

// =============================================================================
// REMINDERS
// =============================================================================

// RemindPendingPayments appends a reminder record for every user whose
// share is still PENDING. Metadata-only: no state machine impact.
// Returns the reminded user IDs.
func (e *Engine) RemindPendingPayments(ctx context.Context, splitID string) ([]string, error) {
	split, err := e.store.GetSplit(ctx, splitID)
	if err != nil {
		return nil, err
	}

	pending := split.PendingUserIDs()
	if len(pending) == 0 {
		return nil, nil
	}

	rec := ReminderRecord{At: e.now(), Recipients: pending}
	if err := e.store.AppendReminder(ctx, splitID, rec); err != nil {
		return nil, fmt.Errorf("append reminder for split %s: %w", splitID, err)
	}

	slog.Info("payment reminder recorded", "split_id", splitID, "recipients", len(pending))
	return pending, nil
}
