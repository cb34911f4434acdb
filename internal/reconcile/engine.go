// Package reconcile compares internally posted outcomes against channel
// settlement confirmations. The engine never touches the ledger; a
// mismatch is a first-class recorded outcome that an operator resolves
// with an explicit compensating transaction through the normal path.
package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paygrid/settlecore/internal/models"
)

// TransactionSource is the read-only view of processor-owned transactions
// the engine uses to derive expected amounts.
type TransactionSource interface {
	Get(ctx context.Context, transactionID string) (*models.Transaction, error)
}

// BatchSource resolves a batch reference to its frozen membership.
// Implemented by the batch scheduler.
type BatchSource interface {
	Get(batchID string) (*models.Batch, error)
}

type Engine struct {
	mu        sync.Mutex
	records   map[string]*models.ReconciliationRecord // by reference
	lastInput map[string]models.Confirmation
	txs       TransactionSource
	batches   BatchSource
	sla       time.Duration
	now       func() time.Time
}

func NewEngine(txs TransactionSource, sla time.Duration) *Engine {
	if sla <= 0 {
		sla = 2 * time.Hour
	}
	return &Engine{
		records:   make(map[string]*models.ReconciliationRecord),
		lastInput: make(map[string]models.Confirmation),
		txs:       txs,
		sla:       sla,
		now:       time.Now,
	}
}

// BindBatches attaches the batch source. The scheduler is constructed
// before the engine in some wirings and after it in others, so the
// back-reference arrives late.
func (e *Engine) BindBatches(b BatchSource) { e.batches = b }

// Track opens a PENDING record for a reference that is awaiting channel
// confirmation. Ambiguous channel outcomes and submitted batches land
// here; tracking an already-known reference is a no-op.
func (e *Engine) Track(ctx context.Context, reference string, expected int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.records[reference]; ok {
		return
	}
	now := e.now()
	e.records[reference] = &models.ReconciliationRecord{
		RecordID:       uuid.New().String(),
		Reference:      reference,
		ExpectedAmount: expected,
		Status:         models.ReconPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	log.Printf("[RECON] tracking %s, expecting %d", reference, expected)
}

// Ingest consumes one confirmation record. Resubmitting an identical record
// is a no-op returning the stored verdict; a changed confirmation for the
// same reference re-evaluates the record in place, never deletes it.
func (e *Engine) Ingest(ctx context.Context, c models.Confirmation) (*models.ReconciliationRecord, error) {
	expected, err := e.expectedAmount(ctx, c.Reference)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.lastInput[c.Reference]; ok && sameConfirmation(prev, c) {
		cp := *e.records[c.Reference]
		return &cp, nil
	}

	now := e.now()
	rec, ok := e.records[c.Reference]
	if !ok {
		rec = &models.ReconciliationRecord{
			RecordID:  uuid.New().String(),
			Reference: c.Reference,
			CreatedAt: now,
		}
		e.records[c.Reference] = rec
	}

	rec.ExpectedAmount = expected
	rec.ConfirmedAmount = c.ConfirmedAmount
	rec.Discrepancy = c.ConfirmedAmount - expected
	confirmedAt := c.ConfirmedAt
	rec.ConfirmedAt = &confirmedAt
	rec.UpdatedAt = now
	if rec.Discrepancy == 0 {
		rec.Status = models.ReconMatched
	} else {
		rec.Status = models.ReconMismatched
		log.Printf("[RECON] mismatch for %s: expected %d, confirmed %d", c.Reference, expected, c.ConfirmedAmount)
	}

	e.lastInput[c.Reference] = c
	cp := *rec
	return &cp, nil
}

// sameConfirmation compares field-wise; == on the struct would compare
// time.Time readings including the monotonic clock.
func sameConfirmation(a, b models.Confirmation) bool {
	return a.Reference == b.Reference &&
		a.ConfirmedAmount == b.ConfirmedAmount &&
		a.ConfirmedAt.Equal(b.ConfirmedAt)
}

// expectedAmount derives what the ledger says should have moved: the full
// amount for a settled transaction, the sum of settled member amounts for
// a batch, zero for anything failed or reversed. A reference neither the
// processor nor the scheduler knows keeps whatever expectation was
// tracked, defaulting to zero.
func (e *Engine) expectedAmount(ctx context.Context, reference string) (int64, error) {
	if tx, err := e.txs.Get(ctx, reference); err == nil {
		if tx.State == models.StateSettled {
			return tx.Amount, nil
		}
		return 0, nil
	}

	if e.batches != nil {
		if b, err := e.batches.Get(reference); err == nil {
			var sum int64
			for _, id := range b.TransactionIDs {
				tx, err := e.txs.Get(ctx, id)
				if err != nil {
					continue
				}
				if tx.State == models.StateSettled {
					sum += tx.Amount
				}
			}
			return sum, nil
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.records[reference]; ok {
		return rec.ExpectedAmount, nil
	}
	return 0, nil
}

// Sweep promotes PENDING records older than the SLA to UNRESOLVED and
// returns the ones it changed.
func (e *Engine) Sweep(ctx context.Context) []models.ReconciliationRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var changed []models.ReconciliationRecord
	for _, rec := range e.records {
		if rec.Status == models.ReconPending && now.Sub(rec.CreatedAt) > e.sla {
			rec.Status = models.ReconUnresolved
			rec.UpdatedAt = now
			changed = append(changed, *rec)
			log.Printf("[RECON] %s unresolved after SLA window", rec.Reference)
		}
	}
	return changed
}

// Run sweeps on the given interval until the context ends.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Records returns all records, optionally filtered by status.
func (e *Engine) Records(status models.ReconStatus) []models.ReconciliationRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.ReconciliationRecord, 0, len(e.records))
	for _, rec := range e.records {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, *rec)
	}
	return out
}
