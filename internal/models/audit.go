package models

import (
	"time"
)

// AuditRecord captures one state transition. Write-once per event; read by
// compliance and dispute-resolution collaborators.
type AuditRecord struct {
	EventID       string           `json:"event_id" db:"event_id"`
	TransactionID string           `json:"transaction_id" db:"transaction_id"`
	PreviousState TransactionState `json:"previous_state" db:"previous_state"`
	NewState      TransactionState `json:"new_state" db:"new_state"`
	Actor         string           `json:"actor" db:"actor"`
	Timestamp     time.Time        `json:"timestamp" db:"timestamp"`
	Detail        string           `json:"detail,omitempty" db:"detail"`
}
