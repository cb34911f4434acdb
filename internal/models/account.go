package models

import (
	"time"
)

// AccountStatus is the administrative state of an account.
type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
	AccountClosed AccountStatus = "CLOSED" // terminal, retained for audit
)

type Account struct {
	AccountID      string        `json:"account_id" db:"account_id"`
	Currency       string        `json:"currency" db:"currency"`
	Status         AccountStatus `json:"status" db:"status"`
	OverdraftLimit int64         `json:"overdraft_limit" db:"overdraft_limit"` // minor units, >= 0
	Balance        int64         `json:"balance" db:"balance"`                 // materialized from the ledger
	Version        int           `json:"version" db:"version"`                 // for optimistic locking
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}
