/*
Package sqlite provides a SQLite-backed implementation of settlement.Store.

PURPOSE:
  Implements the settlement persistence interface using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  settlement.Store:   Splits, shares, reminders, transactions
  settlement.TxStore: WithTx for atomic multi-record operations

KEY TABLES:
  splits:          Split aggregates (status, total, strategy, due date)
  shares:          Per-participant shares, unique per (split_id, user_id)
  split_reminders: Append-only reminder log
  transactions:    Payment attempts keyed by provider transaction ID

CONDITIONAL SHARE UPDATE:
  UpdateShareStatus compiles to a single conditional UPDATE:
    UPDATE shares SET status=? WHERE split_id=? AND user_id=? AND status=?
  A zero row count with an existing share means another writer got
  there first; the caller sees ErrConcurrentModification. This is the
  row-level serialization point for concurrent payment attempts.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - settlement/store.go: Interface definitions
  - settlement/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// Store implements settlement.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes WithTx writers
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS splits (
		id TEXT PRIMARY KEY,
		event_id TEXT,
		created_by TEXT,
		total_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		strategy TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_splits_event ON splits(event_id);

	CREATE TABLE IF NOT EXISTS shares (
		id TEXT PRIMARY KEY,
		split_id TEXT NOT NULL REFERENCES splits(id),
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		percentage TEXT NOT NULL,
		status TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	-- One share per user per split
	CREATE UNIQUE INDEX IF NOT EXISTS idx_shares_split_user
		ON shares(split_id, user_id);
	CREATE INDEX IF NOT EXISTS idx_shares_user ON shares(user_id);

	CREATE TABLE IF NOT EXISTS split_reminders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		split_id TEXT NOT NULL REFERENCES splits(id),
		at TEXT NOT NULL,
		recipients_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reminders_split ON split_reminders(split_id);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		tx_type TEXT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		user_id TEXT NOT NULL,
		payment_method_id TEXT,
		provider TEXT,
		provider_tx_id TEXT,
		event_id TEXT,
		split_id TEXT,
		refunded_tx_id TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Webhook reconciliation lookup (hot path)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_provider_tx
		ON transactions(provider_tx_id) WHERE provider_tx_id IS NOT NULL AND provider_tx_id != '';
	CREATE INDEX IF NOT EXISTS idx_transactions_split ON transactions(split_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_event ON transactions(event_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// SPLITS
// =============================================================================

func (s *Store) CreateSplit(ctx context.Context, split *settlement.Split) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := createSplit(ctx, tx, split); err != nil {
		return err
	}
	return tx.Commit()
}

func createSplit(ctx context.Context, db dbtx, split *settlement.Split) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO splits (id, event_id, created_by, total_amount, currency, strategy, status, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		split.ID, split.EventID, split.CreatedBy,
		split.TotalAmount.Value.String(), split.TotalAmount.Currency,
		string(split.Strategy), string(split.Status),
		split.DueDate.Format(time.RFC3339),
		split.CreatedAt.Format(time.RFC3339),
		split.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert split: %w", err)
	}

	for i, sh := range split.Shares {
		_, err := db.ExecContext(ctx, `
			INSERT INTO shares (id, split_id, user_id, amount, percentage, status, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sh.ID, split.ID, sh.UserID,
			sh.Amount.Value.String(), sh.Percentage.String(),
			string(sh.Status), i,
		)
		if err != nil {
			return fmt.Errorf("insert share %s: %w", sh.UserID, err)
		}
	}
	return nil
}

func (s *Store) GetSplit(ctx context.Context, id string) (*settlement.Split, error) {
	return getSplit(ctx, s.db, id)
}

func getSplit(ctx context.Context, db dbtx, id string) (*settlement.Split, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, event_id, created_by, total_amount, currency, strategy, status, due_date, created_at, updated_at
		FROM splits WHERE id = ?`, id)

	split, err := scanSplit(row)
	if err == sql.ErrNoRows {
		return nil, settlement.ErrSplitNotFound
	}
	if err != nil {
		return nil, err
	}

	split.Shares, err = loadShares(ctx, db, id, split.TotalAmount.Currency)
	if err != nil {
		return nil, err
	}
	split.Reminders, err = loadReminders(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return split, nil
}

func loadShares(ctx context.Context, db dbtx, splitID, currency string) ([]settlement.Share, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, split_id, user_id, amount, percentage, status
		FROM shares WHERE split_id = ? ORDER BY position`, splitID)
	if err != nil {
		return nil, fmt.Errorf("load shares: %w", err)
	}
	defer rows.Close()

	var shares []settlement.Share
	for rows.Next() {
		var sh settlement.Share
		var amount, percentage, status string
		err := rows.Scan(&sh.ID, &sh.SplitID, &sh.UserID, &amount, &percentage, &status)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		sh.Amount = settlement.Money{Value: mustDecimal(amount), Currency: currency}
		sh.Percentage = mustDecimal(percentage)
		sh.Status = settlement.ShareStatus(status)
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

func loadReminders(ctx context.Context, db dbtx, splitID string) ([]settlement.ReminderRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT at, recipients_json FROM split_reminders WHERE split_id = ? ORDER BY id`, splitID)
	if err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	defer rows.Close()

	var recs []settlement.ReminderRecord
	for rows.Next() {
		var at, recipientsJSON string
		if err := rows.Scan(&at, &recipientsJSON); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		var rec settlement.ReminderRecord
		rec.At, _ = time.Parse(time.RFC3339, at)
		if err := json.Unmarshal([]byte(recipientsJSON), &rec.Recipients); err != nil {
			return nil, fmt.Errorf("decode reminder recipients: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) ListSplitsByEvent(ctx context.Context, eventID string) ([]*settlement.Split, error) {
	return s.listSplits(ctx, `SELECT id FROM splits WHERE event_id = ? ORDER BY created_at, id`, eventID)
}

func (s *Store) ListSplitsByUser(ctx context.Context, userID string) ([]*settlement.Split, error) {
	return s.listSplits(ctx, `
		SELECT s.id FROM splits s
		JOIN shares sh ON sh.split_id = s.id
		WHERE sh.user_id = ? ORDER BY s.created_at, s.id`, userID)
}

func (s *Store) listSplits(ctx context.Context, query string, args ...any) ([]*settlement.Split, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	splits := make([]*settlement.Split, 0, len(ids))
	for _, id := range ids {
		split, err := getSplit(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		splits = append(splits, split)
	}
	return splits, nil
}

func (s *Store) UpdateSplitStatus(ctx context.Context, id string, status settlement.SplitStatus) error {
	return updateSplitStatus(ctx, s.db, id, status)
}

func updateSplitStatus(ctx context.Context, db dbtx, id string, status settlement.SplitStatus) error {
	res, err := db.ExecContext(ctx, `
		UPDATE splits SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update split status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return settlement.ErrSplitNotFound
	}
	return nil
}

func (s *Store) UpdateShareStatus(ctx context.Context, splitID, userID string, expected, next settlement.ShareStatus) error {
	return updateShareStatus(ctx, s.db, splitID, userID, expected, next)
}

func updateShareStatus(ctx context.Context, db dbtx, splitID, userID string, expected, next settlement.ShareStatus) error {
	res, err := db.ExecContext(ctx, `
		UPDATE shares SET status = ? WHERE split_id = ? AND user_id = ? AND status = ?`,
		string(next), splitID, userID, string(expected))
	if err != nil {
		return fmt.Errorf("update share status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Nothing matched: distinguish a missing share from a lost race.
	var exists int
	row := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM shares WHERE split_id = ? AND user_id = ?`, splitID, userID)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return settlement.ErrShareNotFound
	}
	return settlement.ErrConcurrentModification
}

func (s *Store) AppendReminder(ctx context.Context, splitID string, rec settlement.ReminderRecord) error {
	return appendReminder(ctx, s.db, splitID, rec)
}

func appendReminder(ctx context.Context, db dbtx, splitID string, rec settlement.ReminderRecord) error {
	recipients, err := json.Marshal(rec.Recipients)
	if err != nil {
		return fmt.Errorf("encode reminder recipients: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO split_reminders (split_id, at, recipients_json) VALUES (?, ?, ?)`,
		splitID, rec.At.Format(time.RFC3339), string(recipients))
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) CreateTransaction(ctx context.Context, tx *settlement.Transaction) error {
	return createTransaction(ctx, s.db, tx)
}

func createTransaction(ctx context.Context, db dbtx, tx *settlement.Transaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO transactions (id, tx_type, status, amount, currency, user_id, payment_method_id,
			provider, provider_tx_id, event_id, split_id, refunded_tx_id, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, string(tx.Type), string(tx.Status),
		tx.Amount.Value.String(), tx.Amount.Currency,
		tx.UserID, tx.PaymentMethodID, tx.Provider, tx.ProviderTransactionID,
		tx.EventID, tx.SplitID, tx.RefundedTransactionID,
		string(metadata),
		tx.CreatedAt.Format(time.RFC3339), tx.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*settlement.Transaction, error) {
	return queryTransaction(ctx, s.db, `WHERE id = ?`, id)
}

func (s *Store) FindTransactionByProviderID(ctx context.Context, providerTxID string) (*settlement.Transaction, error) {
	if providerTxID == "" {
		return nil, settlement.ErrTransactionNotFound
	}
	return queryTransaction(ctx, s.db, `WHERE provider_tx_id = ?`, providerTxID)
}

const transactionColumns = `id, tx_type, status, amount, currency, user_id, payment_method_id,
	provider, provider_tx_id, event_id, split_id, refunded_tx_id, metadata_json, created_at, updated_at`

func queryTransaction(ctx context.Context, db dbtx, where string, args ...any) (*settlement.Transaction, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, settlement.ErrTransactionNotFound
	}
	return scanTransaction(rows)
}

func (s *Store) UpdateTransaction(ctx context.Context, tx *settlement.Transaction) error {
	return updateTransaction(ctx, s.db, tx)
}

func updateTransaction(ctx context.Context, db dbtx, tx *settlement.Transaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE transactions SET status = ?, provider_tx_id = ?, metadata_json = ?, updated_at = ?
		WHERE id = ?`,
		string(tx.Status), tx.ProviderTransactionID, string(metadata),
		tx.UpdatedAt.Format(time.RFC3339), tx.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return settlement.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListTransactionsBySplit(ctx context.Context, splitID string) ([]*settlement.Transaction, error) {
	return s.listTransactions(ctx, `WHERE split_id = ? ORDER BY created_at, id`, splitID)
}

func (s *Store) ListTransactionsByEvent(ctx context.Context, eventID string) ([]*settlement.Transaction, error) {
	return s.listTransactions(ctx, `WHERE event_id = ? ORDER BY created_at, id`, eventID)
}

func (s *Store) ListTransactionsByUser(ctx context.Context, userID string) ([]*settlement.Transaction, error) {
	return s.listTransactions(ctx, `WHERE user_id = ? ORDER BY created_at, id`, userID)
}

func (s *Store) listTransactions(ctx context.Context, where string, args ...any) ([]*settlement.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*settlement.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (*settlement.Transaction, error) {
	var tx settlement.Transaction
	var txType, status, amount, currency, metadataJSON, createdAt, updatedAt string
	err := rows.Scan(&tx.ID, &txType, &status, &amount, &currency,
		&tx.UserID, &tx.PaymentMethodID, &tx.Provider, &tx.ProviderTransactionID,
		&tx.EventID, &tx.SplitID, &tx.RefundedTransactionID,
		&metadataJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	tx.Type = settlement.TransactionType(txType)
	tx.Status = settlement.TransactionStatus(status)
	tx.Amount = settlement.Money{Value: mustDecimal(amount), Currency: currency}
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	tx.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &tx, nil
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSplit(row rowScanner) (*settlement.Split, error) {
	var split settlement.Split
	var total, currency, strategy, status, dueDate, createdAt, updatedAt string
	err := row.Scan(&split.ID, &split.EventID, &split.CreatedBy,
		&total, &currency, &strategy, &status, &dueDate, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	split.TotalAmount = settlement.Money{Value: mustDecimal(total), Currency: currency}
	split.Strategy = settlement.Strategy(strategy)
	split.Status = settlement.SplitStatus(status)
	split.DueDate, _ = time.Parse(time.RFC3339, dueDate)
	split.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	split.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &split, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
// If fn returns an error, the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(store settlement.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store call through the open sql.Tx so reads
// inside WithTx observe the transaction's own writes.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreateSplit(ctx context.Context, split *settlement.Split) error {
	return createSplit(ctx, ts.tx, split)
}

func (ts *txStore) GetSplit(ctx context.Context, id string) (*settlement.Split, error) {
	return getSplit(ctx, ts.tx, id)
}

func (ts *txStore) ListSplitsByEvent(ctx context.Context, eventID string) ([]*settlement.Split, error) {
	return ts.parent.ListSplitsByEvent(ctx, eventID)
}

func (ts *txStore) ListSplitsByUser(ctx context.Context, userID string) ([]*settlement.Split, error) {
	return ts.parent.ListSplitsByUser(ctx, userID)
}

func (ts *txStore) UpdateSplitStatus(ctx context.Context, id string, status settlement.SplitStatus) error {
	return updateSplitStatus(ctx, ts.tx, id, status)
}

func (ts *txStore) UpdateShareStatus(ctx context.Context, splitID, userID string, expected, next settlement.ShareStatus) error {
	return updateShareStatus(ctx, ts.tx, splitID, userID, expected, next)
}

func (ts *txStore) AppendReminder(ctx context.Context, splitID string, rec settlement.ReminderRecord) error {
	return appendReminder(ctx, ts.tx, splitID, rec)
}

func (ts *txStore) CreateTransaction(ctx context.Context, tx *settlement.Transaction) error {
	return createTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) GetTransaction(ctx context.Context, id string) (*settlement.Transaction, error) {
	return queryTransaction(ctx, ts.tx, `WHERE id = ?`, id)
}

func (ts *txStore) FindTransactionByProviderID(ctx context.Context, providerTxID string) (*settlement.Transaction, error) {
	if providerTxID == "" {
		return nil, settlement.ErrTransactionNotFound
	}
	return queryTransaction(ctx, ts.tx, `WHERE provider_tx_id = ?`, providerTxID)
}

func (ts *txStore) UpdateTransaction(ctx context.Context, tx *settlement.Transaction) error {
	return updateTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) ListTransactionsBySplit(ctx context.Context, splitID string) ([]*settlement.Transaction, error) {
	return ts.parent.ListTransactionsBySplit(ctx, splitID)
}

func (ts *txStore) ListTransactionsByEvent(ctx context.Context, eventID string) ([]*settlement.Transaction, error) {
	return ts.parent.ListTransactionsByEvent(ctx, eventID)
}

func (ts *txStore) ListTransactionsByUser(ctx context.Context, userID string) ([]*settlement.Transaction, error) {
	return ts.parent.ListTransactionsByUser(ctx, userID)
}
