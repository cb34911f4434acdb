package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paygrid/settlecore/internal/models"
)

// MemoryRegistry is the in-process registry used by tests and by deployments
// running without postgres.
type MemoryRegistry struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{accounts: make(map[string]*models.Account)}
}

func (r *MemoryRegistry) Get(ctx context.Context, accountID string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[accountID]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (r *MemoryRegistry) Create(ctx context.Context, acct *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[acct.AccountID]; ok {
		return fmt.Errorf("account %s already exists", acct.AccountID)
	}
	if acct.OverdraftLimit < 0 {
		return fmt.Errorf("overdraft limit must be >= 0")
	}
	cp := *acct
	if cp.Status == "" {
		cp.Status = models.AccountActive
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	cp.Version = 1
	r.accounts[cp.AccountID] = &cp
	return nil
}

func (r *MemoryRegistry) SetStatus(ctx context.Context, accountID string, status models.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.accounts[accountID]
	if !ok {
		return models.ErrAccountNotFound
	}
	if acct.Status == models.AccountClosed {
		return models.ErrAccountClosed
	}
	acct.Status = status
	acct.Version++
	acct.UpdatedAt = time.Now()
	return nil
}
