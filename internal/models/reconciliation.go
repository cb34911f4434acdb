package models

import (
	"time"
)

type ReconStatus string

const (
	ReconMatched    ReconStatus = "MATCHED"
	ReconMismatched ReconStatus = "MISMATCHED"
	ReconPending    ReconStatus = "PENDING"
	ReconUnresolved ReconStatus = "UNRESOLVED"
)

// Confirmation is one record from a channel settlement report or the
// external reconciliation feed. Resubmitting an identical record is a no-op.
type Confirmation struct {
	Reference       string    `json:"reference" validate:"required"` // transaction or batch ID
	ConfirmedAmount int64     `json:"confirmed_amount" validate:"gte=0"`
	ConfirmedAt     time.Time `json:"confirmed_at" validate:"required"`
}

// ReconciliationRecord is the engine's verdict for one reference. Records
// are never silently deleted; UNRESOLVED ones await operator action.
type ReconciliationRecord struct {
	RecordID        string      `json:"record_id" db:"record_id"`
	Reference       string      `json:"reference" db:"reference"`
	ExpectedAmount  int64       `json:"expected_amount" db:"expected_amount"`
	ConfirmedAmount int64       `json:"confirmed_amount" db:"confirmed_amount"`
	Discrepancy     int64       `json:"discrepancy" db:"discrepancy"`
	Status          ReconStatus `json:"status" db:"status"`
	ConfirmedAt     *time.Time  `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}
