package audit

import (
	"context"
	"sync"

	"github.com/paygrid/settlecore/internal/models"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records []models.AuditRecord
	byTxn   map[string][]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTxn: make(map[string][]int)}
}

func (s *MemoryStore) Append(ctx context.Context, rec models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	s.byTxn[rec.TransactionID] = append(s.byTxn[rec.TransactionID], len(s.records)-1)
	return nil
}

func (s *MemoryStore) ForTransaction(ctx context.Context, transactionID string) ([]models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byTxn[transactionID]
	out := make([]models.AuditRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.records[i])
	}
	return out, nil
}
