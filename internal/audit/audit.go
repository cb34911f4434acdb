// Package audit records every transaction state transition: one immutable
// record per event, queryable by compliance collaborators, plus a JSON log
// line for operational trails.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/paygrid/settlecore/internal/models"
)

// Store is append-only; records are write-once and never removed.
type Store interface {
	Append(ctx context.Context, rec models.AuditRecord) error
	ForTransaction(ctx context.Context, transactionID string) ([]models.AuditRecord, error)
}

// Log wraps a store and stamps each event. Actor identifies the component
// driving the transition (the processor, the batch scheduler).
type Log struct {
	store Store
	now   func() time.Time
}

func NewLog(store Store) *Log {
	return &Log{store: store, now: time.Now}
}

// Transition records one state change and emits the structured log line.
func (l *Log) Transition(ctx context.Context, transactionID string, prev, next models.TransactionState, actor, detail string) {
	rec := models.AuditRecord{
		EventID:       uuid.New().String(),
		TransactionID: transactionID,
		PreviousState: prev,
		NewState:      next,
		Actor:         actor,
		Timestamp:     l.now(),
		Detail:        detail,
	}
	if err := l.store.Append(ctx, rec); err != nil {
		// The audit trail must not silently drop events; surface loudly.
		log.Printf("[AUDIT] append failed for transaction %s: %v", transactionID, err)
	}
	data, _ := json.Marshal(rec)
	log.Printf("AUDIT: %s", string(data))
}

func (l *Log) ForTransaction(ctx context.Context, transactionID string) ([]models.AuditRecord, error) {
	return l.store.ForTransaction(ctx, transactionID)
}
