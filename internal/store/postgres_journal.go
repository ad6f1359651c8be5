/**
 * @description
 * This file provides the PostgreSQL implementation of the `Journal`
 * interface. It persists one row per terminal transfer execution, with the
 * step report stored as JSONB so operators can audit exactly which legs
 * completed, failed, or were compensated.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: The transfer record model.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paybridge/settlement-service/internal/domain"
)

// PostgresJournal is a concrete implementation of the Journal interface for
// PostgreSQL.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal creates a new instance of PostgresJournal.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// EnsureSchema creates the transfers table if it does not exist. The journal
// owns its schema because it is the only writer.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	_, err := j.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transfers (
			id UUID PRIMARY KEY,
			source_account_id TEXT NOT NULL,
			destination_account_id TEXT NOT NULL,
			amount NUMERIC(14,2) NOT NULL,
			fee NUMERIC(14,2) NOT NULL,
			transfer_type TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL,
			steps JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure transfers schema: %w", err)
	}
	return nil
}

// RecordTransfer inserts one terminal transfer execution.
func (j *PostgresJournal) RecordTransfer(ctx context.Context, record domain.TransferRecord) error {
	steps, err := json.Marshal(record.Steps)
	if err != nil {
		return fmt.Errorf("marshal transfer steps: %w", err)
	}

	_, err = j.db.Exec(ctx, `
		INSERT INTO transfers (id, source_account_id, destination_account_id, amount, fee, transfer_type, status, message, steps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID,
		record.SourceAccountID,
		record.DestinationAccountID,
		record.Amount.StringFixed(2),
		record.Fee.StringFixed(2),
		string(record.TransferType),
		string(record.Status),
		record.Message,
		steps,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer record: %w", err)
	}
	return nil
}
