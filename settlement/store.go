/*
store.go - Persistence interface for splits, shares, and transactions

PURPOSE:
  Defines the interface between the settlement engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage. The engine never touches a database handle directly; it is
  constructed with a Store (injected dependency), which keeps hidden
  shared connection state out of the core and makes test doubles easy.

ATOMICITY:
  CreateSplit writes the split and all of its shares as one atomic
  write. Multi-record updates (share completion + split status) run
  inside WithTx on implementations that support it. Partial writes -
  split persisted but shares missing, or a share marked COMPLETED with
  a stale split status - are correctness violations.

CONDITIONAL SHARE UPDATE:
  UpdateShareStatus is keyed by (splitID, userID) and takes the expected
  prior status. Implementations must apply the update only if the share
  is currently in that status, returning ErrConcurrentModification
  otherwise. This is what serializes concurrent payment attempts for
  the same share: only one caller wins the PENDING -> COMPLETED race.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - settlement/store: In-memory for testing/dev

SEE ALSO:
  - engine.go: The only consumer of this interface
  - store/sqlite/sqlite.go: Concrete implementation
*/
package settlement

import "context"

// =============================================================================
// STORE - Persistence interface
// =============================================================================

type Store interface {
	// CreateSplit persists a split and all of its shares atomically.
	CreateSplit(ctx context.Context, split *Split) error

	// GetSplit returns a split with its shares and reminder log,
	// or ErrSplitNotFound.
	GetSplit(ctx context.Context, id string) (*Split, error)

	// ListSplitsByEvent returns splits for an event, oldest first.
	ListSplitsByEvent(ctx context.Context, eventID string) ([]*Split, error)

	// ListSplitsByUser returns splits containing a share for the user,
	// oldest first.
	ListSplitsByUser(ctx context.Context, userID string) ([]*Split, error)

	// UpdateSplitStatus sets the split's derived status.
	UpdateSplitStatus(ctx context.Context, id string, status SplitStatus) error

	// UpdateShareStatus conditionally updates one share keyed by
	// (splitID, userID). The write applies only if the share is
	// currently in expected status; otherwise ErrConcurrentModification.
	UpdateShareStatus(ctx context.Context, splitID, userID string, expected, next ShareStatus) error

	// AppendReminder appends a reminder record to the split's log.
	AppendReminder(ctx context.Context, splitID string, rec ReminderRecord) error

	// CreateTransaction persists a new transaction record.
	CreateTransaction(ctx context.Context, tx *Transaction) error

	// GetTransaction returns a transaction or ErrTransactionNotFound.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// FindTransactionByProviderID looks up a transaction by the
	// provider-assigned identifier. ErrTransactionNotFound if unmatched.
	FindTransactionByProviderID(ctx context.Context, providerTxID string) (*Transaction, error)

	// UpdateTransaction persists status, provider reference, and
	// metadata changes for an existing transaction.
	UpdateTransaction(ctx context.Context, tx *Transaction) error

	// ListTransactionsBySplit returns a split's transactions, oldest first.
	ListTransactionsBySplit(ctx context.Context, splitID string) ([]*Transaction, error)

	// ListTransactionsByEvent returns an event's transactions, oldest first.
	ListTransactionsByEvent(ctx context.Context, eventID string) ([]*Transaction, error)

	// ListTransactionsByUser returns a user's transactions, oldest first.
	ListTransactionsByUser(ctx context.Context, userID string) ([]*Transaction, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic multi-record operations
// =============================================================================

// TxStore wraps Store with transaction support. The engine uses this
// for every operation that touches both a split and its shares.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
