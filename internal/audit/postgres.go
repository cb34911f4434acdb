package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paygrid/settlecore/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, rec models.AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records (event_id, transaction_id, previous_state, new_state, actor, event_time, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.EventID, rec.TransactionID, rec.PreviousState, rec.NewState, rec.Actor, rec.Timestamp, rec.Detail)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ForTransaction(ctx context.Context, transactionID string) ([]models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, transaction_id, previous_state, new_state, actor, event_time, detail
		FROM audit_records
		WHERE transaction_id = $1
		ORDER BY event_time, event_id`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.AuditRecord{}
	for rows.Next() {
		var rec models.AuditRecord
		err := rows.Scan(&rec.EventID, &rec.TransactionID, &rec.PreviousState,
			&rec.NewState, &rec.Actor, &rec.Timestamp, &rec.Detail)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
