/**
 * @description
 * This file contains the core business logic for the settlement-service. The
 * `Service` struct is the transfer orchestrator: it acquires per-account
 * locks through the concurrency guard, validates the request before any
 * mutation, computes the settlement fee, executes the transfer as a saga of
 * reversible steps that call the network adapters, and produces the
 * step-by-step transfer report.
 *
 * Key features:
 * - Pre-flight validation (amount, account existence, funds) under lock and
 *   before any balance change, so rejections never partially execute.
 * - Cross-network transfers route through the intermediary float with a
 *   configurable fee destination; intra-network transfers credit the
 *   destination directly with the full amount.
 * - Bounded adapter timeouts and retries; failures after the first mutation
 *   trigger LIFO compensation.
 * - Publishes transfer lifecycle events to RabbitMQ and records completed
 *   executions in the optional transfer journal, both best-effort.
 *
 * @dependencies
 * - github.com/google/uuid: Transfer ids.
 * - github.com/shopspring/decimal: Exact money arithmetic.
 * - internal/domain, internal/ledger, internal/store, pkg/rabbitmq.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paybridge/settlement-service/internal/domain"
	"github.com/paybridge/settlement-service/internal/ledger"
	"github.com/paybridge/settlement-service/internal/store"
	"github.com/paybridge/settlement-service/pkg/rabbitmq"
)

// Fee routing modes: where the settlement fee lands after a cross-network
// transfer.
const (
	FeeRoutingIntermediary = "intermediary"
	FeeRoutingRevenue      = "revenue"
)

const (
	defaultAdapterTimeout = 10 * time.Second
)

// Registry is the account store contract the orchestrator mutates. Satisfied
// by ledger.Registry; tests substitute fault-injecting stubs.
type Registry interface {
	Get(id string) (domain.Account, error)
	ApplyDelta(id string, delta decimal.Decimal) (domain.Account, error)
}

// TransferRateLimiter bounds how often a source paybill may initiate
// transfers. Implemented by RedisTransferRateLimiter.
type TransferRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

type legKind string

const (
	legDebit  legKind = "debit"
	legCredit legKind = "credit"
)

// Service provides the core transfer orchestration logic.
type Service struct {
	registry              Registry
	guard                 *ledger.Guard
	adapters              map[domain.Network]domain.NetworkAdapter
	fees                  FeePolicy
	intermediaryAccountID string
	eventProducer         rabbitmq.Publisher

	feeRouting       string
	revenueAccountID string

	adapterTimeout    time.Duration
	adapterMaxRetries int

	journal           store.Journal
	rateLimiter       TransferRateLimiter
	transferRateLimit int
}

// NewService creates a new transfer orchestrator.
func NewService(registry Registry, guard *ledger.Guard, adapters map[domain.Network]domain.NetworkAdapter, fees FeePolicy, intermediaryAccountID string, producer rabbitmq.Publisher) *Service {
	return &Service{
		registry:              registry,
		guard:                 guard,
		adapters:              adapters,
		fees:                  fees,
		intermediaryAccountID: intermediaryAccountID,
		eventProducer:         producer,
		feeRouting:            FeeRoutingIntermediary,
		adapterTimeout:        defaultAdapterTimeout,
	}
}

// ConfigureFeeRouting selects where cross-network settlement fees accumulate:
// retained in the intermediary float, or swept to a dedicated revenue account.
func (s *Service) ConfigureFeeRouting(routing, revenueAccountID string) {
	if routing == FeeRoutingRevenue && revenueAccountID != "" {
		s.feeRouting = FeeRoutingRevenue
		s.revenueAccountID = revenueAccountID
		return
	}
	s.feeRouting = FeeRoutingIntermediary
	s.revenueAccountID = ""
}

// ConfigureAdapterPolicy sets the per-call timeout and the bounded retry
// count for network adapter legs.
func (s *Service) ConfigureAdapterPolicy(timeout time.Duration, maxRetries int) {
	if timeout > 0 {
		s.adapterTimeout = timeout
	}
	if maxRetries >= 0 {
		s.adapterMaxRetries = maxRetries
	}
}

// SetJournal attaches the optional transfer journal.
func (s *Service) SetJournal(journal store.Journal) {
	s.journal = journal
}

// SetTransferRateLimiter attaches the optional per-source rate limiter.
func (s *Service) SetTransferRateLimiter(limiter TransferRateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.transferRateLimit = perMinute
}

// ExecuteTransfer runs one transfer to a terminal state.
//
// Pre-flight failures (invalid amount, unknown account, insufficient funds,
// rate limit, cancellation) return a nil result and an error before any
// mutation. Mid-flight failures return a success=false result with the full
// step report and a nil error after compensation restored the ledger; if
// compensation itself failed the result is returned together with
// ErrCompensationFailure.
func (s *Service) ExecuteTransfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if s.rateLimiter != nil && s.transferRateLimit > 0 {
		count, _, err := s.rateLimiter.ConsumeRateLimit(ctx, "transfer", req.SourcePaybill, s.transferRateLimit, time.Minute)
		if err != nil {
			log.Printf("level=warn component=orchestrator msg=\"rate limiter unavailable; allowing transfer\" source=%s err=%v", req.SourcePaybill, err)
		} else if count > s.transferRateLimit {
			return nil, ErrRateLimited
		}
	}

	// A transfer may be cancelled freely before lock acquisition.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lockIDs := []string{req.SourcePaybill, req.DestinationPaybill, s.intermediaryAccountID}
	if s.revenueAccountID != "" {
		lockIDs = append(lockIDs, s.revenueAccountID)
	}
	release := s.guard.AcquireAccounts(lockIDs...)
	defer release()

	source, err := s.registry.Get(req.SourcePaybill)
	if err != nil {
		return nil, err
	}
	dest, err := s.registry.Get(req.DestinationPaybill)
	if err != nil {
		return nil, err
	}
	if source.Balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: %s cannot cover %s", ledger.ErrInsufficientFunds, source.ID, amount.StringFixed(2))
	}

	// Last cancellation point; once the first mutating step begins the
	// transfer runs to a terminal state.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	transferType := domain.TransferCrossNetwork
	if source.Network == dest.Network {
		transferType = domain.TransferIntraNetwork
	}
	fee := s.fees.ComputeFee(source.Network, dest.Network, amount)
	finalAmount := amount.Sub(fee)

	result := &domain.TransferResult{
		TransferID:          uuid.New(),
		TransferType:        transferType,
		SettlementFee:       fee,
		FinalAmountCredited: finalAmount,
	}

	var steps []sagaStep
	if transferType == domain.TransferIntraNetwork {
		steps = s.intraNetworkSteps(source, dest, amount)
	} else {
		steps = s.crossNetworkSteps(source, dest, amount, fee, finalAmount)
	}

	log.Printf("level=info component=orchestrator transfer_id=%s msg=\"executing transfer\" source=%s destination=%s amount=%s type=%s fee=%s",
		result.TransferID, source.ID, dest.ID, amount.StringFixed(2), transferType, fee.StringFixed(2))

	if sagaErr := s.runSaga(ctx, steps, result); sagaErr != nil {
		result.Success = false
		if errors.Is(sagaErr, ErrCompensationFailure) {
			result.Status = domain.TransferFailedUnrecoverable
			result.Message = fmt.Sprintf("Transfer failed and could not be fully compensated: %v", sagaErr)
			s.finish(ctx, req, result)
			return result, sagaErr
		}
		result.Status = domain.TransferFailedCompensated
		result.Message = fmt.Sprintf("Transfer failed; ledger restored: %v", sagaErr)
		s.finish(ctx, req, result)
		return result, nil
	}

	result.Success = true
	result.Status = domain.TransferSettled
	if transferType == domain.TransferIntraNetwork {
		result.Message = "Intra-Network Paybill Transfer Completed Successfully."
	} else {
		result.Message = "Cross-Network Paybill Transfer Completed Successfully."
	}
	s.finish(ctx, req, result)
	return result, nil
}

// intraNetworkSteps moves the full amount directly between two accounts on
// the same network. No intermediary routing and no fee.
func (s *Service) intraNetworkSteps(source, dest domain.Account, amount decimal.Decimal) []sagaStep {
	return []sagaStep{
		{
			description: fmt.Sprintf("STEP 1: %s Debited.", source.ID),
			network:     source.Network,
			run: func(ctx context.Context) (string, map[string]interface{}, error) {
				payload, err := s.callAdapter(ctx, source.Network, legDebit, source, amount)
				if err != nil {
					return "", payload, err
				}
				acct, err := s.registry.ApplyDelta(source.ID, amount.Neg())
				if err != nil {
					return "", payload, err
				}
				return fmt.Sprintf("Source Balance: %s", acct.Balance.StringFixed(2)), payload, nil
			},
			compensate: func() (string, error) {
				acct, err := s.registry.ApplyDelta(source.ID, amount)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Source Balance restored: %s", acct.Balance.StringFixed(2)), nil
			},
		},
		{
			description: fmt.Sprintf("STEP 2: %s Credited with full amount.", dest.ID),
			network:     dest.Network,
			run: func(ctx context.Context) (string, map[string]interface{}, error) {
				payload, err := s.callAdapter(ctx, dest.Network, legCredit, dest, amount)
				if err != nil {
					return "", payload, err
				}
				acct, err := s.registry.ApplyDelta(dest.ID, amount)
				if err != nil {
					return "", payload, err
				}
				return fmt.Sprintf("Destination Balance: %s", acct.Balance.StringFixed(2)), payload, nil
			},
			compensate: func() (string, error) {
				acct, err := s.registry.ApplyDelta(dest.ID, amount.Neg())
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Destination Balance restored: %s", acct.Balance.StringFixed(2)), nil
			},
		},
	}
}

// crossNetworkSteps routes the transfer through the intermediary float:
// debit source, credit intermediary, forward amount-fee to the destination,
// then allocate the fee per the configured routing.
func (s *Service) crossNetworkSteps(source, dest domain.Account, amount, fee, finalAmount decimal.Decimal) []sagaStep {
	interID := s.intermediaryAccountID

	steps := []sagaStep{
		{
			description: fmt.Sprintf("STEP 1: %s Debited.", source.ID),
			network:     source.Network,
			run: func(ctx context.Context) (string, map[string]interface{}, error) {
				payload, err := s.callAdapter(ctx, source.Network, legDebit, source, amount)
				if err != nil {
					return "", payload, err
				}
				acct, err := s.registry.ApplyDelta(source.ID, amount.Neg())
				if err != nil {
					return "", payload, err
				}
				return fmt.Sprintf("Source Balance: %s", acct.Balance.StringFixed(2)), payload, nil
			},
			compensate: func() (string, error) {
				acct, err := s.registry.ApplyDelta(source.ID, amount)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Source Balance restored: %s", acct.Balance.StringFixed(2)), nil
			},
		},
		{
			description: "STEP 2: Funds moved digitally to Intermediary Float.",
			run: func(ctx context.Context) (string, map[string]interface{}, error) {
				acct, err := s.registry.ApplyDelta(interID, amount)
				if err != nil {
					return "", nil, err
				}
				return fmt.Sprintf("Intermediary Float: %s", acct.Balance.StringFixed(2)), nil, nil
			},
			compensate: func() (string, error) {
				acct, err := s.registry.ApplyDelta(interID, amount.Neg())
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Intermediary Float restored: %s", acct.Balance.StringFixed(2)), nil
			},
		},
		{
			description: fmt.Sprintf("STEP 3: Bank Settlement. %s Credited.", dest.ID),
			network:     dest.Network,
			run: func(ctx context.Context) (string, map[string]interface{}, error) {
				payload, err := s.callAdapter(ctx, dest.Network, legCredit, dest, finalAmount)
				if err != nil {
					return "", payload, err
				}
				if _, err := s.registry.ApplyDelta(interID, finalAmount.Neg()); err != nil {
					return "", payload, err
				}
				acct, err := s.registry.ApplyDelta(dest.ID, finalAmount)
				if err != nil {
					// Undo the intermediary half so this step leaves no partial write.
					if _, undoErr := s.registry.ApplyDelta(interID, finalAmount); undoErr != nil {
						return "", payload, fmt.Errorf("%w: undoing intermediary debit: %v (after: %v)", ErrCompensationFailure, undoErr, err)
					}
					return "", payload, err
				}
				return fmt.Sprintf("Destination Balance: %s, Settlement Fee: %s", acct.Balance.StringFixed(2), fee.StringFixed(2)), payload, nil
			},
			compensate: func() (string, error) {
				if _, err := s.registry.ApplyDelta(dest.ID, finalAmount.Neg()); err != nil {
					return "", err
				}
				acct, err := s.registry.ApplyDelta(interID, finalAmount)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Intermediary Float restored: %s", acct.Balance.StringFixed(2)), nil
			},
		},
	}

	if s.feeRouting == FeeRoutingRevenue && s.revenueAccountID != "" {
		revenueID := s.revenueAccountID
		steps = append(steps, sagaStep{
			description: "STEP 4: Settlement Fee swept to revenue account.",
			run: func(ctx context.Context) (string, map[string]interface{}, error) {
				if _, err := s.registry.ApplyDelta(interID, fee.Neg()); err != nil {
					return "", nil, err
				}
				acct, err := s.registry.ApplyDelta(revenueID, fee)
				if err != nil {
					if _, undoErr := s.registry.ApplyDelta(interID, fee); undoErr != nil {
						return "", nil, fmt.Errorf("%w: undoing intermediary fee debit: %v (after: %v)", ErrCompensationFailure, undoErr, err)
					}
					return "", nil, err
				}
				return fmt.Sprintf("Revenue Balance: %s", acct.Balance.StringFixed(2)), nil, nil
			},
			compensate: func() (string, error) {
				if _, err := s.registry.ApplyDelta(revenueID, fee.Neg()); err != nil {
					return "", err
				}
				acct, err := s.registry.ApplyDelta(interID, fee)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Intermediary Float restored: %s", acct.Balance.StringFixed(2)), nil
			},
		})
	} else {
		steps = append(steps, sagaStep{
			description: "STEP 4: Settlement Fee retained in Intermediary Float.",
			run: func(ctx context.Context) (string, map[string]interface{}, error) {
				return fmt.Sprintf("Settlement Fee: %s retained.", fee.StringFixed(2)), nil, nil
			},
		})
	}

	return steps
}

// callAdapter invokes the network-side leg with a bounded timeout and retry
// budget. A nil payload with nil error means no adapter is involved (internal
// accounts).
func (s *Service) callAdapter(ctx context.Context, network domain.Network, kind legKind, account domain.Account, amount decimal.Decimal) (map[string]interface{}, error) {
	adapter, ok := s.adapters[network]
	if !ok || adapter == nil {
		if network == domain.NetworkInternal {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: no adapter registered for network %s", ErrAdapterFailure, network)
	}

	attempts := s.adapterMaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
		var res domain.AdapterResult
		var err error
		if kind == legDebit {
			res, err = adapter.InitiateDebit(callCtx, account, amount)
		} else {
			res, err = adapter.InitiateCredit(callCtx, account, amount)
		}
		cancel()

		if err == nil && res.Success {
			return res.ResponsePayload, nil
		}
		if err == nil {
			err = errors.New("adapter rejected the request")
		}
		lastErr = err
		if attempt < attempts {
			log.Printf("level=warn component=orchestrator msg=\"adapter leg failed; retrying\" network=%s leg=%s account=%s attempt=%d err=%v",
				network, kind, account.ID, attempt, err)
		}
	}

	return nil, fmt.Errorf("%w: %s %s leg for %s: %v", ErrAdapterFailure, network, kind, account.ID, lastErr)
}

// finish records the terminal result in the journal and publishes the
// lifecycle event. Both are best-effort observers of the ledger, never a
// reason to fail a transfer that already reached a terminal state.
func (s *Service) finish(ctx context.Context, req domain.TransferRequest, result *domain.TransferResult) {
	if s.journal != nil {
		record := domain.TransferRecord{
			ID:                   result.TransferID,
			SourceAccountID:      req.SourcePaybill,
			DestinationAccountID: req.DestinationPaybill,
			Amount:               req.Amount.Round(2),
			Fee:                  result.SettlementFee,
			TransferType:         result.TransferType,
			Status:               result.Status,
			Message:              result.Message,
			Steps:                result.Steps,
			CreatedAt:            time.Now().UTC(),
		}
		if err := s.journal.RecordTransfer(ctx, record); err != nil {
			log.Printf("level=warn component=orchestrator transfer_id=%s msg=\"journal write failed\" err=%v", result.TransferID, err)
		}
	}

	if s.eventProducer != nil {
		event := rabbitmq.TransferEvent{
			TransferID:         result.TransferID,
			SourcePaybill:      req.SourcePaybill,
			DestinationPaybill: req.DestinationPaybill,
			Amount:             req.Amount.Round(2),
			SettlementFee:      result.SettlementFee,
			TransferType:       string(result.TransferType),
			Status:             string(result.Status),
			Message:            result.Message,
			Timestamp:          time.Now().UTC(),
		}
		if err := s.eventProducer.PublishTransferEvent(ctx, event); err != nil {
			log.Printf("level=warn component=orchestrator transfer_id=%s msg=\"event publish failed\" err=%v", result.TransferID, err)
		}
	}
}
