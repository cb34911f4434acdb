package account

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paygrid/settlecore/internal/models"
)

// PostgresRegistry reads and mutates the accounts table. Balance and version
// columns on the same table are owned by the postgres ledger store.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (r *PostgresRegistry) Get(ctx context.Context, accountID string) (*models.Account, error) {
	var acct models.Account
	err := r.db.QueryRowContext(ctx, `
		SELECT account_id, currency, status, overdraft_limit, balance, version, created_at, updated_at
		FROM accounts
		WHERE account_id = $1`, accountID).Scan(
		&acct.AccountID, &acct.Currency, &acct.Status, &acct.OverdraftLimit,
		&acct.Balance, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", accountID, err)
	}
	return &acct, nil
}

func (r *PostgresRegistry) Create(ctx context.Context, acct *models.Account) error {
	status := acct.Status
	if status == "" {
		status = models.AccountActive
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, currency, status, overdraft_limit, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 1, $5, $5)`,
		acct.AccountID, acct.Currency, status, acct.OverdraftLimit, time.Now())
	if err != nil {
		return fmt.Errorf("create account %s: %w", acct.AccountID, err)
	}
	return nil
}

func (r *PostgresRegistry) SetStatus(ctx context.Context, accountID string, status models.AccountStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET status = $1, version = version + 1, updated_at = $2
		WHERE account_id = $3 AND status <> $4`,
		status, time.Now(), accountID, models.AccountClosed)
	if err != nil {
		return fmt.Errorf("set status for account %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// either missing or already closed; closed is terminal
		if _, getErr := r.Get(ctx, accountID); getErr != nil {
			return getErr
		}
		return models.ErrAccountClosed
	}
	return nil
}

// EnsureClearingAccounts provisions the holding and nostro accounts the
// processor posts against. Idempotent across restarts.
func (r *PostgresRegistry) EnsureClearingAccounts(ctx context.Context, currency string, accountIDs ...string) error {
	for _, id := range accountIDs {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO accounts (account_id, currency, status, overdraft_limit, balance, version, created_at, updated_at)
			VALUES ($1, $2, $3, 0, 0, 1, $4, $4)
			ON CONFLICT (account_id) DO NOTHING`,
			id, currency, models.AccountActive, time.Now())
		if err != nil {
			return fmt.Errorf("ensure clearing account %s: %w", id, err)
		}
	}
	return nil
}
