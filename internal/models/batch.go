package models

import (
	"time"
)

// BatchStatus is the lifecycle of a settlement batch. Batches are never
// merged or split after creation.
type BatchStatus string

const (
	BatchOpen            BatchStatus = "OPEN"
	BatchClosed          BatchStatus = "CLOSED"
	BatchSubmitted       BatchStatus = "SUBMITTED"
	BatchSettled         BatchStatus = "SETTLED"
	BatchPartiallyFailed BatchStatus = "PARTIALLY_FAILED"
)

// Batch groups eligible transactions for a batch-style channel cycle.
// Membership freezes when the batch closes at cutoff.
type Batch struct {
	BatchID        string      `json:"batch_id" db:"batch_id"`
	Channel        Channel     `json:"channel" db:"channel"`
	CutoffTime     time.Time   `json:"cutoff_time" db:"cutoff_time"`
	Status         BatchStatus `json:"status" db:"status"`
	TransactionIDs []string    `json:"transaction_ids"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	SubmittedAt    *time.Time  `json:"submitted_at,omitempty" db:"submitted_at"`
}

// BatchItemOutcome is the per-transaction settlement annotation reported
// back by the channel once a submitted batch resolves.
type BatchItemOutcome struct {
	TransactionID string           `json:"transaction_id"`
	State         TransactionState `json:"state"` // SETTLED or FAILED
	Reason        ErrorKind        `json:"reason,omitempty"`
	RequiresRecon bool             `json:"requires_reconciliation,omitempty"`
}
