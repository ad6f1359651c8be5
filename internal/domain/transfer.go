/**
 * @description
 * This file defines the transfer models for the settlement-service: the
 * validated transfer request, the per-step execution report, and the final
 * transfer result returned to callers. These structs are the data contract
 * between the orchestrator, the API layer, the event producer, and the
 * optional transfer journal.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferType distinguishes a transfer that stays on one network from one
// that crosses networks through the intermediary.
type TransferType string

const (
	TransferIntraNetwork TransferType = "INTRA_NETWORK"
	TransferCrossNetwork TransferType = "CROSS_NETWORK"
)

// TransferStatus is the terminal state of a transfer execution.
type TransferStatus string

const (
	// TransferSettled means every step completed and the ledger reflects the
	// full transfer.
	TransferSettled TransferStatus = "SETTLED"
	// TransferFailedCompensated means a step failed mid-flight and every
	// previously applied balance mutation was reversed.
	TransferFailedCompensated TransferStatus = "FAILED_COMPENSATED"
	// TransferFailedUnrecoverable means compensation itself failed and the
	// ledger needs operator intervention.
	TransferFailedUnrecoverable TransferStatus = "FAILED_UNRECOVERABLE"
	// TransferRejected means validation failed before any mutation.
	TransferRejected TransferStatus = "REJECTED"
)

// StepStatus tracks the lifecycle of a single transfer step.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
)

// TransferRequest is the validated DTO for an incoming transfer. Paybill ids
// are upper-cased at the API boundary before lookup.
type TransferRequest struct {
	SourcePaybill      string          `json:"source_paybill"`
	DestinationPaybill string          `json:"destination_paybill"`
	Amount             decimal.Decimal `json:"amount"`
}

// TransferStep is one entry in the ordered, append-only execution report.
type TransferStep struct {
	Sequence    int        `json:"sequence_no"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Details     string     `json:"details"`
}

// APIResponse carries a network adapter's raw response payload, forwarded
// verbatim into the transfer report.
type APIResponse struct {
	Step     int                    `json:"step"`
	Network  Network                `json:"network"`
	Response map[string]interface{} `json:"response"`
}

// TransferResult is the full report for one transfer execution.
type TransferResult struct {
	TransferID          uuid.UUID       `json:"transfer_id"`
	Success             bool            `json:"success"`
	Status              TransferStatus  `json:"status"`
	Message             string          `json:"message"`
	Steps               []TransferStep  `json:"transaction_steps"`
	SettlementFee       decimal.Decimal `json:"settlement_fee"`
	FinalAmountCredited decimal.Decimal `json:"final_amount_credited"`
	TransferType        TransferType    `json:"transfer_type"`
	APIResponses        []APIResponse   `json:"api_responses"`
}

// TransferRecord is the row shape persisted by the optional transfer journal.
type TransferRecord struct {
	ID                   uuid.UUID
	SourceAccountID      string
	DestinationAccountID string
	Amount               decimal.Decimal
	Fee                  decimal.Decimal
	TransferType         TransferType
	Status               TransferStatus
	Message              string
	Steps                []TransferStep
	CreatedAt            time.Time
}
