/**
 * @description
 * This file defines the account model for the settlement-service. Accounts are
 * the nodes of the in-memory settlement ledger: agent paybills on each mobile
 * money network, the intermediary float account bridging them, and the
 * settlement-fee revenue account.
 *
 * @notes
 * - Balances are `decimal.Decimal` values with two fractional digits. Monetary
 *   amounts are never held as binary floating point inside the ledger; floats
 *   only appear at the serialization boundary with explicit rounding.
 */

package domain

import "github.com/shopspring/decimal"

// Network identifies which mobile money network owns an account.
type Network string

const (
	NetworkMPESA    Network = "MPESA"
	NetworkAirtel   Network = "AIRTEL"
	NetworkInternal Network = "INTERNAL"
)

// Role describes the purpose an account serves inside the settlement ledger.
type Role string

const (
	RoleAgent        Role = "AGENT"
	RoleIntermediary Role = "INTERMEDIARY"
	RoleCustomer     Role = "CUSTOMER"
	RoleRevenue      Role = "REVENUE"
)

// Account is a single ledger account. Balance mutations only happen through
// the registry's ApplyDelta while the orchestrator holds the account's lock.
type Account struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Network Network         `json:"network"`
	Role    Role            `json:"role"`
	Balance decimal.Decimal `json:"balance"`
}

// AccountView is the read-only projection of an account exposed in ledger
// snapshots. It mirrors the shape the operator dashboard renders.
type AccountView struct {
	Name    string          `json:"name"`
	Network Network         `json:"network"`
	Balance decimal.Decimal `json:"balance"`
}

// View returns the snapshot projection of the account with the balance
// normalized to two decimal places.
func (a Account) View() AccountView {
	return AccountView{
		Name:    a.Name,
		Network: a.Network,
		Balance: a.Balance.Round(2),
	}
}

// LedgerSnapshot maps account ids to their point-in-time view. A snapshot is
// taken under the full set of account locks, so it never reflects part of a
// multi-account transfer.
type LedgerSnapshot map[string]AccountView
