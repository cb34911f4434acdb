package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/paygrid/settlecore/internal/models"
)

type record struct {
	result    *models.Result
	expiresAt time.Time
}

// MemoryGuard keeps reservations in process. Expired keys are recycled
// lazily on the next Reserve that touches them.
type MemoryGuard struct {
	mu        sync.Mutex
	records   map[string]*record
	retention time.Duration
	now       func() time.Time
}

func NewMemoryGuard(retention time.Duration) *MemoryGuard {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryGuard{
		records:   make(map[string]*record),
		retention: retention,
		now:       time.Now,
	}
}

func (g *MemoryGuard) Reserve(ctx context.Context, key string) (bool, *models.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if rec, ok := g.records[key]; ok {
		if now.Before(rec.expiresAt) {
			return false, rec.result, nil
		}
		delete(g.records, key)
	}
	g.records[key] = &record{expiresAt: now.Add(g.retention)}
	return true, nil, nil
}

func (g *MemoryGuard) Complete(ctx context.Context, key string, result models.Result) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[key]
	if !ok {
		rec = &record{expiresAt: g.now().Add(g.retention)}
		g.records[key] = rec
	}
	r := result
	rec.result = &r
	return nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, key)
	return nil
}
