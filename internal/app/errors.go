/**
 * @description
 * This file defines the sentinel errors of the transfer orchestrator. Handlers
 * map them to HTTP statuses with errors.Is; ledger-level errors
 * (ledger.ErrAccountNotFound, ledger.ErrInsufficientFunds) pass through
 * untouched so callers see one flat taxonomy.
 */

package app

import "errors"

var (
	// ErrInvalidAmount rejects non-positive transfer amounts before any mutation.
	ErrInvalidAmount = errors.New("transfer amount must be positive")
	// ErrAdapterFailure wraps a network adapter call that failed or timed out
	// mid-transfer; prior steps are compensated.
	ErrAdapterFailure = errors.New("network adapter call failed")
	// ErrCompensationFailure means reversal of an applied step failed and the
	// ledger needs operator intervention.
	ErrCompensationFailure = errors.New("compensation failed; ledger requires manual intervention")
	// ErrRateLimited is returned when a source paybill exceeds its transfer rate.
	ErrRateLimited = errors.New("transfer rate limit exceeded")
)
