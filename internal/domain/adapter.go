/**
 * @description
 * This file defines the outbound network adapter contract consumed by the
 * transfer orchestrator. Adapters own the network-specific debit/credit
 * initiation calls (M-Pesa STK push, Airtel paybill-to-customer); the
 * orchestrator only cares whether a leg was accepted and forwards the raw
 * response payload into the transfer report.
 */

package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// AdapterResult is the outcome of one adapter call. ResponsePayload is
// forwarded verbatim into the transfer report's api_responses.
type AdapterResult struct {
	Success         bool
	ResponsePayload map[string]interface{}
}

// NetworkAdapter initiates the network-side leg of a debit or credit against
// an agent paybill. Implementations must honor the context deadline; the
// orchestrator treats a timeout the same as a failed call.
type NetworkAdapter interface {
	InitiateDebit(ctx context.Context, account Account, amount decimal.Decimal) (AdapterResult, error)
	InitiateCredit(ctx context.Context, account Account, amount decimal.Decimal) (AdapterResult, error)
}
