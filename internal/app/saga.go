/**
 * @description
 * This file implements the saga executor used by the transfer orchestrator.
 * A transfer is an ordered list of reversible steps; each step applies its
 * ledger mutations (and any adapter leg) atomically, and pairs them with a
 * compensating action. When a step fails mid-flight, the executor unwinds the
 * already-applied steps in LIFO order so the ledger is restored instead of
 * left partially mutated. A failed compensation is surfaced loudly as
 * ErrCompensationFailure and never silently swallowed.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/paybridge/settlement-service/internal/domain"
)

// sagaStep is one reversible action in a transfer execution.
//
// run must be internally atomic: if it returns an error it must have undone
// any partial mutation it made, so the executor only ever compensates steps
// that fully applied. compensate is nil for steps that mutate nothing.
type sagaStep struct {
	description string
	network     domain.Network
	run         func(ctx context.Context) (details string, payload map[string]interface{}, err error)
	compensate  func() (details string, err error)
}

// runSaga executes the steps in order, appending to the result's step report
// and api_responses as it goes. On a step failure it compensates applied
// steps in reverse order and returns the original failure, or
// ErrCompensationFailure if the unwind itself failed.
func (s *Service) runSaga(ctx context.Context, steps []sagaStep, result *domain.TransferResult) error {
	applied := make([]int, 0, len(steps))

	for i := range steps {
		step := steps[i]
		seq := len(result.Steps) + 1
		result.Steps = append(result.Steps, domain.TransferStep{
			Sequence:    seq,
			Description: step.description,
			Status:      domain.StepPending,
		})

		details, payload, err := step.run(ctx)
		idx := len(result.Steps) - 1
		if payload != nil {
			result.APIResponses = append(result.APIResponses, domain.APIResponse{
				Step:     seq,
				Network:  step.network,
				Response: payload,
			})
		}
		if err != nil {
			result.Steps[idx].Status = domain.StepFailed
			result.Steps[idx].Details = err.Error()
			log.Printf("level=warn component=orchestrator transfer_id=%s msg=\"step failed; compensating\" step=%d description=%q err=%v",
				result.TransferID, seq, step.description, err)
			return s.compensateApplied(steps, applied, result, err)
		}

		result.Steps[idx].Status = domain.StepCompleted
		result.Steps[idx].Details = details
		if step.compensate != nil {
			applied = append(applied, i)
		}
	}

	return nil
}

// compensateApplied reverses applied steps newest-first. It returns the
// original step failure once the ledger is restored, or wraps it in
// ErrCompensationFailure as soon as one reversal fails.
func (s *Service) compensateApplied(steps []sagaStep, applied []int, result *domain.TransferResult, cause error) error {
	for i := len(applied) - 1; i >= 0; i-- {
		step := steps[applied[i]]
		seq := len(result.Steps) + 1
		description := "COMPENSATION: Reverse " + step.description

		details, err := step.compensate()
		if err != nil {
			result.Steps = append(result.Steps, domain.TransferStep{
				Sequence:    seq,
				Description: description,
				Status:      domain.StepFailed,
				Details:     err.Error(),
			})
			log.Printf("level=error component=orchestrator transfer_id=%s msg=\"COMPENSATION FAILED; manual intervention required\" step=%q err=%v original_err=%v",
				result.TransferID, step.description, err, cause)
			return fmt.Errorf("%w: reversing %q: %v (original failure: %v)", ErrCompensationFailure, step.description, err, cause)
		}

		result.Steps = append(result.Steps, domain.TransferStep{
			Sequence:    seq,
			Description: description,
			Status:      domain.StepCompleted,
			Details:     details,
		})
	}
	return cause
}
