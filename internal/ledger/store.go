// Package ledger is the append-only record of balanced double-entry
// postings and the single source of truth for balances.
package ledger

import (
	"context"

	"github.com/paygrid/settlecore/internal/models"
)

// Store persists balanced entry sets atomically: all entries commit as one
// unit or none do, and committed entries are never mutated or removed.
//
// Append rejects sets that do not sum to zero (models.ErrUnbalancedEntries),
// entries for a CLOSED account (models.ErrAccountClosed), and sets that
// would push an account below its overdraft limit
// (models.ErrInsufficientFunds).
type Store interface {
	AppendEntries(ctx context.Context, transactionID string, entries []models.LedgerEntry) ([]models.LedgerEntry, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)
	EntriesForTransaction(ctx context.Context, transactionID string) ([]models.LedgerEntry, error)
	EntriesForAccount(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error)
}

// AccountSource is the slice of the account registry the store consults on
// every append.
type AccountSource interface {
	Get(ctx context.Context, accountID string) (*models.Account, error)
}

// Entry builds one leg of a posting with the type implied by the sign.
func Entry(accountID string, amount int64) models.LedgerEntry {
	return models.LedgerEntry{
		AccountID: accountID,
		Amount:    amount,
		EntryType: models.TypeForAmount(amount),
	}
}

func sumEntries(entries []models.LedgerEntry) int64 {
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	return sum
}
