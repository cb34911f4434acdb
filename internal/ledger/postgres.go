package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/paygrid/settlecore/internal/models"
)

type lockedAccount struct {
	balance        int64
	version        int
	sequence       int64
	status         models.AccountStatus
	overdraftLimit int64
}

// PostgresStore persists entries in the ledger_entries table and maintains
// the materialized balance and version columns on accounts. Accounts are
// locked in lexicographic order to prevent deadlocks between concurrent
// cross-account postings.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) AppendEntries(ctx context.Context, transactionID string, entries []models.LedgerEntry) ([]models.LedgerEntry, error) {
	if len(entries) == 0 {
		return nil, &models.ConsistencyError{Op: "AppendEntries", Detail: "empty entry set"}
	}
	if sumEntries(entries) != 0 {
		return nil, models.ErrUnbalancedEntries
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	accountIDs := make([]string, 0, len(entries))
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.Amount == 0 {
			return nil, &models.ConsistencyError{Op: "AppendEntries", Detail: "zero-amount entry"}
		}
		if !seen[e.AccountID] {
			seen[e.AccountID] = true
			accountIDs = append(accountIDs, e.AccountID)
		}
	}
	sort.Strings(accountIDs)

	locked := make(map[string]*lockedAccount, len(accountIDs))
	for _, id := range accountIDs {
		acct, err := s.lockAccount(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if acct.status == models.AccountClosed {
			return nil, models.ErrAccountClosed
		}
		locked[id] = acct
	}

	// Project balances for the whole set before writing anything.
	projected := make(map[string]int64, len(accountIDs))
	for _, id := range accountIDs {
		projected[id] = locked[id].balance
	}
	for _, e := range entries {
		projected[e.AccountID] += e.Amount
		if projected[e.AccountID] < -locked[e.AccountID].overdraftLimit {
			return nil, models.ErrInsufficientFunds
		}
	}

	now := time.Now()
	committed := make([]models.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		acct := locked[e.AccountID]
		acct.sequence++
		acct.balance += e.Amount

		e.EntryID = uuid.New().String()
		e.TransactionID = transactionID
		e.EntryType = models.TypeForAmount(e.Amount)
		e.SequenceNumber = acct.sequence
		e.Balance = acct.balance
		e.CreatedAt = now

		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (entry_id, transaction_id, account_id, amount, entry_type, sequence_number, balance, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.EntryID, e.TransactionID, e.AccountID, e.Amount, e.EntryType, e.SequenceNumber, e.Balance, e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert ledger entry: %w", err)
		}
		committed = append(committed, e)
	}

	for _, id := range accountIDs {
		acct := locked[id]
		if err := s.updateAccount(ctx, tx, id, acct); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *PostgresStore) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*lockedAccount, error) {
	var acct lockedAccount
	err := tx.QueryRowContext(ctx, `
		SELECT balance, version, sequence_number, status, overdraft_limit
		FROM accounts
		WHERE account_id = $1
		FOR UPDATE`, accountID).Scan(
		&acct.balance, &acct.version, &acct.sequence, &acct.status, &acct.overdraftLimit)
	if err == sql.ErrNoRows {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", accountID, err)
	}
	return &acct, nil
}

func (s *PostgresStore) updateAccount(ctx context.Context, tx *sql.Tx, accountID string, acct *lockedAccount) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, sequence_number = $2, version = version + 1, updated_at = $3
		WHERE account_id = $4 AND version = $5`,
		acct.balance, acct.sequence, time.Now(), accountID, acct.version)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account %s: %w", accountID, models.ErrOptimisticLock)
	}
	return nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM accounts WHERE account_id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, models.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("balance for account %s: %w", accountID, err)
	}
	return balance, nil
}

func (s *PostgresStore) EntriesForTransaction(ctx context.Context, transactionID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, transaction_id, account_id, amount, entry_type, sequence_number, balance, created_at
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY created_at, entry_id`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) EntriesForAccount(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, transaction_id, account_id, amount, entry_type, sequence_number, balance, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY sequence_number DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		err := rows.Scan(&e.EntryID, &e.TransactionID, &e.AccountID, &e.Amount,
			&e.EntryType, &e.SequenceNumber, &e.Balance, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
