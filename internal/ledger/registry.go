/**
 * @description
 * This file implements the account registry, the single owner of ledger
 * account state. The registry deliberately performs no internal locking:
 * callers (the transfer orchestrator and the snapshot service) coordinate
 * through the concurrency guard so that multi-account mutations stay atomic
 * with respect to readers and other writers.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Exact decimal arithmetic for balances.
 * - internal/domain: Account models.
 */

package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/paybridge/settlement-service/internal/domain"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Registry holds every ledger account for the lifetime of the process.
// Accounts are created once at startup; balances mutate only via ApplyDelta.
type Registry struct {
	accounts map[string]*domain.Account
}

// NewRegistry builds a registry from seed accounts. Duplicate ids are
// rejected so a misconfigured seed fails at startup rather than corrupting
// the ledger later.
func NewRegistry(seed []domain.Account) (*Registry, error) {
	accounts := make(map[string]*domain.Account, len(seed))
	for _, acct := range seed {
		if _, exists := accounts[acct.ID]; exists {
			return nil, fmt.Errorf("duplicate seed account id %q", acct.ID)
		}
		if acct.Balance.IsNegative() {
			return nil, fmt.Errorf("seed account %q has negative balance %s", acct.ID, acct.Balance)
		}
		copied := acct
		copied.Balance = acct.Balance.Round(2)
		accounts[acct.ID] = &copied
	}
	return &Registry{accounts: accounts}, nil
}

// Get returns a copy of the account, or ErrAccountNotFound. Callers must hold
// the account's lock if they need the balance to stay valid after the call.
func (r *Registry) Get(id string) (domain.Account, error) {
	acct, ok := r.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return *acct, nil
}

// ApplyDelta adjusts an account balance by a signed amount. It fails with
// ErrInsufficientFunds when the resulting balance would be negative, leaving
// the account unchanged. This is the only balance mutation primitive; callers
// must hold the account's lock.
func (r *Registry) ApplyDelta(id string, delta decimal.Decimal) (domain.Account, error) {
	acct, ok := r.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	next := acct.Balance.Add(delta)
	if next.IsNegative() {
		return domain.Account{}, fmt.Errorf("%w: %s", ErrInsufficientFunds, id)
	}
	acct.Balance = next
	return *acct, nil
}

// IDs returns every account id in lexicographic order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SeedAccounts returns the standing ledger seed: agent paybills on each
// network, the intermediary float, and the settlement-fee revenue account.
func SeedAccounts() []domain.Account {
	return []domain.Account{
		{ID: "MPESA_1001", Name: "M-Pesa Agent 1", Network: domain.NetworkMPESA, Role: domain.RoleAgent, Balance: decimal.NewFromFloat(500000.00)},
		{ID: "MPESA_1002", Name: "M-Pesa Agent 2", Network: domain.NetworkMPESA, Role: domain.RoleAgent, Balance: decimal.NewFromFloat(120000.00)},
		{ID: "AIRTEL_2001", Name: "Airtel Agent 1", Network: domain.NetworkAirtel, Role: domain.RoleAgent, Balance: decimal.NewFromFloat(50000.00)},
		{ID: "AIRTEL_2002", Name: "Airtel Agent 2", Network: domain.NetworkAirtel, Role: domain.RoleAgent, Balance: decimal.NewFromFloat(80000.00)},
		{ID: "INTERMEDIARY_ACCOUNT", Name: "Float balance of Intermediary", Network: domain.NetworkInternal, Role: domain.RoleIntermediary, Balance: decimal.NewFromFloat(1000000.00)},
		{ID: "SETTLEMENT_REVENUE", Name: "Settlement Fee Revenue", Network: domain.NetworkInternal, Role: domain.RoleRevenue, Balance: decimal.Zero},
	}
}
