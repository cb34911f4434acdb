// Package batch groups eligible transactions into settlement cycles for
// batch-style channels and owns the partner interchange file format.
package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paygrid/settlecore/internal/models"
)

// Submitter hands a closed batch to the channel and reports one outcome per
// contained transaction. Implemented by the NEFT adapter.
type Submitter interface {
	SubmitBatch(ctx context.Context, b models.Batch, txs []models.Transaction) ([]models.BatchItemOutcome, error)
}

// Finalizer drives the per-transaction state transitions once a batch
// resolves. Implemented by the transaction processor.
type Finalizer interface {
	FinalizeBatchItem(ctx context.Context, outcome models.BatchItemOutcome)
}

// TransactionSource resolves member IDs back to transactions at submission
// time. The scheduler itself stores only IDs; transactions stay owned by
// the processor.
type TransactionSource interface {
	Get(ctx context.Context, transactionID string) (*models.Transaction, error)
}

// Scheduler keeps exactly one OPEN batch per channel cycle. Membership
// freezes at cutoff and a new batch opens immediately, so no transaction
// submitted mid-cycle is ever lost. Batches are never merged or split.
type Scheduler struct {
	mu        sync.Mutex
	channel   models.Channel
	cycle     time.Duration
	current   *models.Batch
	batches   map[string]*models.Batch
	submitter Submitter
	finalizer Finalizer
	txs       TransactionSource
	now       func() time.Time
}

func NewScheduler(channel models.Channel, cycle time.Duration, submitter Submitter, txs TransactionSource) *Scheduler {
	if cycle <= 0 {
		cycle = 30 * time.Minute
	}
	return &Scheduler{
		channel:   channel,
		cycle:     cycle,
		batches:   make(map[string]*models.Batch),
		submitter: submitter,
		txs:       txs,
		now:       time.Now,
	}
}

// Bind attaches the finalizer. The processor is constructed after the
// scheduler, so the back-reference arrives late.
func (s *Scheduler) Bind(f Finalizer) { s.finalizer = f }

// Enqueue adds a transaction to the current open batch and returns the
// batch ID. If the cutoff has already passed the stale batch is rotated
// out first, so the transaction lands in the new cycle.
func (s *Scheduler) Enqueue(ctx context.Context, tx *models.Transaction) (string, error) {
	s.mu.Lock()
	if s.current == nil {
		s.openLocked()
	}
	var expired *models.Batch
	if !s.now().Before(s.current.CutoffTime) {
		expired = s.closeLocked()
		s.openLocked()
	}
	b := s.current
	b.TransactionIDs = append(b.TransactionIDs, tx.TransactionID)
	batchID := b.BatchID
	s.mu.Unlock()

	if expired != nil {
		go s.submit(context.WithoutCancel(ctx), expired)
	}
	return batchID, nil
}

// Run rotates batches on the cycle interval until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cycle)
	defer ticker.Stop()

	s.mu.Lock()
	if s.current == nil {
		s.openLocked()
	}
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CloseCycle(ctx)
		}
	}
}

// CloseCycle closes the current batch at cutoff, opens the next one, and
// submits the closed batch synchronously. Returns the closed batch.
func (s *Scheduler) CloseCycle(ctx context.Context) *models.Batch {
	s.mu.Lock()
	if s.current == nil {
		s.openLocked()
		s.mu.Unlock()
		return nil
	}
	closed := s.closeLocked()
	s.openLocked()
	s.mu.Unlock()

	s.submit(ctx, closed)
	return closed
}

func (s *Scheduler) openLocked() {
	now := s.now()
	b := &models.Batch{
		BatchID:    fmt.Sprintf("%s-%s", s.channel, uuid.New().String()),
		Channel:    s.channel,
		CutoffTime: now.Add(s.cycle),
		Status:     models.BatchOpen,
		CreatedAt:  now,
	}
	s.current = b
	s.batches[b.BatchID] = b
}

func (s *Scheduler) closeLocked() *models.Batch {
	b := s.current
	b.Status = models.BatchClosed
	s.current = nil
	return b
}

func (s *Scheduler) submit(ctx context.Context, b *models.Batch) {
	s.mu.Lock()
	memberIDs := make([]string, len(b.TransactionIDs))
	copy(memberIDs, b.TransactionIDs)
	s.mu.Unlock()

	if len(memberIDs) == 0 {
		s.setStatus(b, models.BatchSettled, nil)
		return
	}

	txs := make([]models.Transaction, 0, len(memberIDs))
	for _, id := range memberIDs {
		tx, err := s.txs.Get(ctx, id)
		if err != nil {
			log.Printf("[BATCH] batch %s: member %s not found: %v", b.BatchID, id, err)
			continue
		}
		txs = append(txs, *tx)
	}

	now := s.now()
	s.mu.Lock()
	b.Status = models.BatchSubmitted
	b.SubmittedAt = &now
	s.mu.Unlock()
	log.Printf("[BATCH] submitting batch %s with %d transactions", b.BatchID, len(txs))

	outcomes, err := s.submitter.SubmitBatch(ctx, *b, txs)
	if err != nil {
		log.Printf("[BATCH] batch %s submission failed: %v", b.BatchID, err)
		outcomes = outcomes[:0]
		for _, tx := range txs {
			outcomes = append(outcomes, models.BatchItemOutcome{
				TransactionID: tx.TransactionID,
				State:         models.StateFailed,
				Reason:        models.KindChannelUnavail,
				RequiresRecon: true,
			})
		}
	}

	allSettled := true
	for _, outcome := range outcomes {
		if outcome.State != models.StateSettled {
			allSettled = false
		}
		if s.finalizer != nil {
			s.finalizer.FinalizeBatchItem(ctx, outcome)
		}
	}

	status := models.BatchSettled
	if !allSettled {
		status = models.BatchPartiallyFailed
	}
	s.setStatus(b, status, outcomes)
}

func (s *Scheduler) setStatus(b *models.Batch, status models.BatchStatus, outcomes []models.BatchItemOutcome) {
	s.mu.Lock()
	b.Status = status
	s.mu.Unlock()
	log.Printf("[BATCH] batch %s resolved %s (%d items)", b.BatchID, status, len(outcomes))
}

// Get returns a batch by ID.
func (s *Scheduler) Get(batchID string) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, models.ErrBatchNotFound
	}
	cp := *b
	cp.TransactionIDs = append([]string(nil), b.TransactionIDs...)
	return &cp, nil
}

// Current returns the open batch, opening one if needed.
func (s *Scheduler) Current() *models.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		s.openLocked()
	}
	cp := *s.current
	cp.TransactionIDs = append([]string(nil), s.current.TransactionIDs...)
	return &cp
}
