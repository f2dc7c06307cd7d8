// Package store provides settlement.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	splits       map[string]*settlement.Split
	transactions map[string]*settlement.Transaction
	byProviderID map[string]string // provider tx ID -> transaction ID
	seq          int64             // insertion order for stable listings
	order        map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		splits:       make(map[string]*settlement.Split),
		transactions: make(map[string]*settlement.Transaction),
		byProviderID: make(map[string]string),
		order:        make(map[string]int64),
	}
}

// =============================================================================
// SPLITS
// =============================================================================

func (m *Memory) CreateSplit(_ context.Context, split *settlement.Split) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.order[split.ID] = m.seq
	m.splits[split.ID] = cloneSplit(split)
	return nil
}

func (m *Memory) GetSplit(_ context.Context, id string) (*settlement.Split, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	split, ok := m.splits[id]
	if !ok {
		return nil, settlement.ErrSplitNotFound
	}
	return cloneSplit(split), nil
}

func (m *Memory) ListSplitsByEvent(_ context.Context, eventID string) ([]*settlement.Split, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*settlement.Split
	for _, s := range m.splits {
		if s.EventID == eventID {
			out = append(out, cloneSplit(s))
		}
	}
	m.sortByCreation(out)
	return out, nil
}

func (m *Memory) ListSplitsByUser(_ context.Context, userID string) ([]*settlement.Split, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*settlement.Split
	for _, s := range m.splits {
		for _, sh := range s.Shares {
			if sh.UserID == userID {
				out = append(out, cloneSplit(s))
				break
			}
		}
	}
	m.sortByCreation(out)
	return out, nil
}

func (m *Memory) UpdateSplitStatus(_ context.Context, id string, status settlement.SplitStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	split, ok := m.splits[id]
	if !ok {
		return settlement.ErrSplitNotFound
	}
	split.Status = status
	return nil
}

func (m *Memory) UpdateShareStatus(_ context.Context, splitID, userID string, expected, next settlement.ShareStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	split, ok := m.splits[splitID]
	if !ok {
		return settlement.ErrSplitNotFound
	}
	for i := range split.Shares {
		if split.Shares[i].UserID != userID {
			continue
		}
		if split.Shares[i].Status != expected {
			return settlement.ErrConcurrentModification
		}
		split.Shares[i].Status = next
		return nil
	}
	return settlement.ErrShareNotFound
}

func (m *Memory) AppendReminder(_ context.Context, splitID string, rec settlement.ReminderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	split, ok := m.splits[splitID]
	if !ok {
		return settlement.ErrSplitNotFound
	}
	split.Reminders = append(split.Reminders, rec)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) CreateTransaction(_ context.Context, tx *settlement.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.order[tx.ID] = m.seq
	m.storeTransactionLocked(tx)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*settlement.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, settlement.ErrTransactionNotFound
	}
	return cloneTransaction(tx), nil
}

func (m *Memory) FindTransactionByProviderID(_ context.Context, providerTxID string) (*settlement.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byProviderID[providerTxID]
	if !ok {
		return nil, settlement.ErrTransactionNotFound
	}
	return cloneTransaction(m.transactions[id]), nil
}

func (m *Memory) UpdateTransaction(_ context.Context, tx *settlement.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.ID]; !ok {
		return settlement.ErrTransactionNotFound
	}
	m.storeTransactionLocked(tx)
	return nil
}

func (m *Memory) storeTransactionLocked(tx *settlement.Transaction) {
	m.transactions[tx.ID] = cloneTransaction(tx)
	if tx.ProviderTransactionID != "" {
		m.byProviderID[tx.ProviderTransactionID] = tx.ID
	}
}

func (m *Memory) ListTransactionsBySplit(_ context.Context, splitID string) ([]*settlement.Transaction, error) {
	return m.listTransactions(func(tx *settlement.Transaction) bool { return tx.SplitID == splitID })
}

func (m *Memory) ListTransactionsByEvent(_ context.Context, eventID string) ([]*settlement.Transaction, error) {
	return m.listTransactions(func(tx *settlement.Transaction) bool { return tx.EventID == eventID })
}

func (m *Memory) ListTransactionsByUser(_ context.Context, userID string) ([]*settlement.Transaction, error) {
	return m.listTransactions(func(tx *settlement.Transaction) bool { return tx.UserID == userID })
}

func (m *Memory) listTransactions(match func(*settlement.Transaction) bool) ([]*settlement.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*settlement.Transaction
	for _, tx := range m.transactions {
		if match(tx) {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *Memory) sortByCreation(splits []*settlement.Split) {
	sort.Slice(splits, func(i, j int) bool { return m.order[splits[i].ID] < m.order[splits[j].ID] })
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx runs fn against the store directly. The memory store applies
// each write under its own lock; full rollback is not simulated, which
// is acceptable for the tests that use it.
func (m *Memory) WithTx(ctx context.Context, fn func(settlement.Store) error) error {
	return fn(m)
}

// =============================================================================
// CLONING - Callers never share memory with the store
// =============================================================================

func cloneSplit(s *settlement.Split) *settlement.Split {
	out := *s
	out.Shares = append([]settlement.Share(nil), s.Shares...)
	out.Reminders = append([]settlement.ReminderRecord(nil), s.Reminders...)
	return &out
}

func cloneTransaction(t *settlement.Transaction) *settlement.Transaction {
	out := *t
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
