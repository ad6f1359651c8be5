/**
 * @description
 * This file defines the `Journal` interface: the contract for recording
 * terminal transfer results. The journal is an observer of the ledger, not a
 * source of truth (the in-memory registry stays authoritative), so writes
 * are best-effort and a missing journal simply disables retention.
 */

package store

import (
	"context"

	"github.com/paybridge/settlement-service/internal/domain"
)

// Journal records transfer executions once they reach a terminal state.
type Journal interface {
	RecordTransfer(ctx context.Context, record domain.TransferRecord) error
}
