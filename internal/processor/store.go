package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/paygrid/settlecore/internal/models"
)

// TxStore persists the transactions the processor owns. Reads are shared
// with the scheduler and the reconciliation engine; writes happen only
// inside processor transitions.
type TxStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	Update(ctx context.Context, tx *models.Transaction) error
	Get(ctx context.Context, transactionID string) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
}

type MemoryTxStore struct {
	mu    sync.RWMutex
	byID  map[string]*models.Transaction
	byKey map[string]string
}

func NewMemoryTxStore() *MemoryTxStore {
	return &MemoryTxStore{
		byID:  make(map[string]*models.Transaction),
		byKey: make(map[string]string),
	}
}

func (s *MemoryTxStore) Create(ctx context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[tx.TransactionID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.TransactionID)
	}
	cp := *tx
	s.byID[tx.TransactionID] = &cp
	s.byKey[tx.IdempotencyKey] = tx.TransactionID
	return nil
}

func (s *MemoryTxStore) Update(ctx context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[tx.TransactionID]; !ok {
		return models.ErrTransactionNotFound
	}
	cp := *tx
	s.byID[tx.TransactionID] = &cp
	return nil
}

func (s *MemoryTxStore) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byID[transactionID]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryTxStore) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}
