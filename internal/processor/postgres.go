package processor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paygrid/settlecore/internal/models"
)

// PostgresTxStore persists transactions in the transactions table.
type PostgresTxStore struct {
	db *sql.DB
}

func NewPostgresTxStore(db *sql.DB) *PostgresTxStore {
	return &PostgresTxStore{db: db}
}

const txColumns = `transaction_id, idempotency_key, channel, state, source_account_id,
	destination_account_id, beneficiary_ref, amount, currency, purpose_code,
	reason, requires_reconciliation, external_ref, batch_id, created_at, finalized_at`

func (s *PostgresTxStore) Create(ctx context.Context, tx *models.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		tx.TransactionID, tx.IdempotencyKey, tx.Channel, tx.State, tx.SourceAccountID,
		tx.DestinationAccountID, tx.BeneficiaryRef, tx.Amount, tx.Currency, tx.PurposeCode,
		tx.Reason, tx.RequiresRecon, tx.ExternalRef, tx.BatchID, tx.CreatedAt, tx.FinalizedAt)
	if err != nil {
		return fmt.Errorf("create transaction %s: %w", tx.TransactionID, err)
	}
	return nil
}

func (s *PostgresTxStore) Update(ctx context.Context, tx *models.Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET state = $1, reason = $2, requires_reconciliation = $3, external_ref = $4,
		    batch_id = $5, finalized_at = $6
		WHERE transaction_id = $7`,
		tx.State, tx.Reason, tx.RequiresRecon, tx.ExternalRef,
		tx.BatchID, tx.FinalizedAt, tx.TransactionID)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.TransactionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrTransactionNotFound
	}
	return nil
}

func (s *PostgresTxStore) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE transaction_id = $1`, transactionID))
}

func (s *PostgresTxStore) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE idempotency_key = $1`, key))
}

func (s *PostgresTxStore) scanOne(row *sql.Row) (*models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(&tx.TransactionID, &tx.IdempotencyKey, &tx.Channel, &tx.State,
		&tx.SourceAccountID, &tx.DestinationAccountID, &tx.BeneficiaryRef, &tx.Amount,
		&tx.Currency, &tx.PurposeCode, &tx.Reason, &tx.RequiresRecon, &tx.ExternalRef,
		&tx.BatchID, &tx.CreatedAt, &tx.FinalizedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
