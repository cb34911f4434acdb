package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paygrid/settlecore/internal/models"
)

type accountState struct {
	sequence int64
	balance  int64
	entries  []models.LedgerEntry
}

// MemoryStore keeps the full entry history in process with materialized
// balances for O(1) reads. A single mutex serializes appends, which is what
// makes "append if balanced and funded" atomic across concurrent callers.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*accountState
	byTxn    map[string][]models.LedgerEntry
	source   AccountSource
	now      func() time.Time
}

func NewMemoryStore(source AccountSource) *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*accountState),
		byTxn:    make(map[string][]models.LedgerEntry),
		source:   source,
		now:      time.Now,
	}
}

func (s *MemoryStore) AppendEntries(ctx context.Context, transactionID string, entries []models.LedgerEntry) ([]models.LedgerEntry, error) {
	if len(entries) == 0 {
		return nil, &models.ConsistencyError{Op: "AppendEntries", Detail: "empty entry set"}
	}
	if sumEntries(entries) != 0 {
		return nil, models.ErrUnbalancedEntries
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole set before touching anything so a rejected append
	// leaves no partial writes.
	projected := make(map[string]int64)
	for _, e := range entries {
		if e.Amount == 0 {
			return nil, &models.ConsistencyError{Op: "AppendEntries", Detail: "zero-amount entry"}
		}
		acct, err := s.source.Get(ctx, e.AccountID)
		if err != nil {
			return nil, err
		}
		if acct.Status == models.AccountClosed {
			return nil, models.ErrAccountClosed
		}
		if _, ok := projected[e.AccountID]; !ok {
			projected[e.AccountID] = s.balanceLocked(e.AccountID)
		}
		projected[e.AccountID] += e.Amount
		if projected[e.AccountID] < -acct.OverdraftLimit {
			return nil, models.ErrInsufficientFunds
		}
	}

	now := s.now()
	committed := make([]models.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		st := s.accounts[e.AccountID]
		if st == nil {
			st = &accountState{}
			s.accounts[e.AccountID] = st
		}
		st.sequence++
		st.balance += e.Amount

		e.EntryID = uuid.New().String()
		e.TransactionID = transactionID
		e.EntryType = models.TypeForAmount(e.Amount)
		e.SequenceNumber = st.sequence
		e.Balance = st.balance
		e.CreatedAt = now

		st.entries = append(st.entries, e)
		committed = append(committed, e)
	}
	s.byTxn[transactionID] = append(s.byTxn[transactionID], committed...)
	return committed, nil
}

func (s *MemoryStore) balanceLocked(accountID string) int64 {
	if st, ok := s.accounts[accountID]; ok {
		return st.balance
	}
	return 0
}

func (s *MemoryStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if _, err := s.source.Get(ctx, accountID); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balanceLocked(accountID), nil
}

func (s *MemoryStore) EntriesForTransaction(ctx context.Context, transactionID string) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.byTxn[transactionID]
	out := make([]models.LedgerEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) EntriesForAccount(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.accounts[accountID]
	if !ok {
		return nil, nil
	}
	entries := st.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]models.LedgerEntry, len(entries))
	copy(out, entries)
	return out, nil
}
