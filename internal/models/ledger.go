package models

import (
	"time"
)

// EntryType records which side of a posting an entry sits on. The sign of
// Amount is authoritative; the type is kept for reporting queries.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// LedgerEntry is one leg of a double-entry posting. Entries are immutable
// once written; corrections append compensating entries.
type LedgerEntry struct {
	EntryID        string    `json:"entry_id" db:"entry_id"`
	TransactionID  string    `json:"transaction_id" db:"transaction_id"`
	AccountID      string    `json:"account_id" db:"account_id"`
	Amount         int64     `json:"amount" db:"amount"` // signed, minor units; negative for debits
	EntryType      EntryType `json:"entry_type" db:"entry_type"`
	SequenceNumber int64     `json:"sequence_number" db:"sequence_number"` // monotonic per account
	Balance        int64     `json:"balance" db:"balance"`                 // account balance after this entry
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// TypeForAmount returns the entry type implied by a signed amount.
func TypeForAmount(amount int64) EntryType {
	if amount < 0 {
		return EntryDebit
	}
	return EntryCredit
}
