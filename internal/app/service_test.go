package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paybridge/settlement-service/internal/domain"
	"github.com/paybridge/settlement-service/internal/ledger"
)

// stubAdapter is a controllable in-memory network adapter.
type stubAdapter struct {
	mu         sync.Mutex
	network    domain.Network
	failDebit  bool
	failCredit bool
	debits     int
	credits    int
}

func (a *stubAdapter) InitiateDebit(ctx context.Context, account domain.Account, amount decimal.Decimal) (domain.AdapterResult, error) {
	a.mu.Lock()
	a.debits++
	a.mu.Unlock()
	if a.failDebit {
		return domain.AdapterResult{}, errors.New("gateway unavailable")
	}
	return domain.AdapterResult{
		Success:         true,
		ResponsePayload: map[string]interface{}{"leg": "debit", "network": string(a.network), "account": account.ID},
	}, nil
}

func (a *stubAdapter) InitiateCredit(ctx context.Context, account domain.Account, amount decimal.Decimal) (domain.AdapterResult, error) {
	a.mu.Lock()
	a.credits++
	a.mu.Unlock()
	if a.failCredit {
		return domain.AdapterResult{}, errors.New("gateway unavailable")
	}
	return domain.AdapterResult{
		Success:         true,
		ResponsePayload: map[string]interface{}{"leg": "credit", "network": string(a.network), "account": account.ID},
	}, nil
}

// faultRegistry wraps the real registry and rejects selected writes so tests
// can force mid-flight and compensation failures.
type faultRegistry struct {
	*ledger.Registry
	failWhen func(id string, delta decimal.Decimal) bool
}

func (r *faultRegistry) ApplyDelta(id string, delta decimal.Decimal) (domain.Account, error) {
	if r.failWhen != nil && r.failWhen(id, delta) {
		return domain.Account{}, errors.New("ledger write rejected")
	}
	return r.Registry.ApplyDelta(id, delta)
}

type stubRateLimiter struct {
	count int
	err   error
}

func (l *stubRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, 30, l.err
}

func newTestLedger(t *testing.T) (*ledger.Registry, *ledger.Guard) {
	t.Helper()
	registry, err := ledger.NewRegistry(ledger.SeedAccounts())
	if err != nil {
		t.Fatalf("failed to seed registry: %v", err)
	}
	return registry, ledger.NewGuard()
}

func newTestService(registry Registry, guard *ledger.Guard) (*Service, *stubAdapter, *stubAdapter) {
	mpesaAdapter := &stubAdapter{network: domain.NetworkMPESA}
	airtelAdapter := &stubAdapter{network: domain.NetworkAirtel}
	adapters := map[domain.Network]domain.NetworkAdapter{
		domain.NetworkMPESA:  mpesaAdapter,
		domain.NetworkAirtel: airtelAdapter,
	}
	svc := NewService(registry, guard, adapters, NewFeePolicy(1.0), "INTERMEDIARY_ACCOUNT", nil)
	return svc, mpesaAdapter, airtelAdapter
}

func balanceOf(t *testing.T, registry *ledger.Registry, id string) string {
	t.Helper()
	acct, err := registry.Get(id)
	if err != nil {
		t.Fatalf("failed to read account %s: %v", id, err)
	}
	return acct.Balance.StringFixed(2)
}

func totalBalance(t *testing.T, registry *ledger.Registry) decimal.Decimal {
	t.Helper()
	total := decimal.Zero
	for _, id := range registry.IDs() {
		acct, err := registry.Get(id)
		if err != nil {
			t.Fatalf("failed to read account %s: %v", id, err)
		}
		total = total.Add(acct.Balance)
	}
	return total
}

func TestExecuteTransferIntraNetwork(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, mpesaAdapter, airtelAdapter := newTestService(registry, guard)

	result, err := svc.ExecuteTransfer(context.Background(), domain.TransferRequest{
		SourcePaybill:      "MPESA_1001",
		DestinationPaybill: "MPESA_1002",
		Amount:             decimal.NewFromFloat(1000.00),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Success || result.Status != domain.TransferSettled {
		t.Fatalf("expected settled transfer, got success=%t status=%s", result.Success, result.Status)
	}
	if result.TransferType != domain.TransferIntraNetwork {
		t.Fatalf("expected intra-network type, got %s", result.TransferType)
	}
	if result.SettlementFee.StringFixed(2) != "0.00" {
		t.Fatalf("expected zero fee, got %s", result.SettlementFee.StringFixed(2))
	}
	if result.FinalAmountCredited.StringFixed(2) != "1000.00" {
		t.Fatalf("expected full amount credited, got %s", result.FinalAmountCredited.StringFixed(2))
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(result.Steps))
	}
	for _, step := range result.Steps {
		if step.Status != domain.StepCompleted {
			t.Fatalf("expected step %d completed, got %s", step.Sequence, step.Status)
		}
	}

	if got := balanceOf(t, registry, "MPESA_1001"); got != "499000.00" {
		t.Fatalf("expected source balance 499000.00, got %s", got)
	}
	if got := balanceOf(t, registry, "MPESA_1002"); got != "121000.00" {
		t.Fatalf("expected destination balance 121000.00, got %s", got)
	}
	if got := balanceOf(t, registry, "INTERMEDIARY_ACCOUNT"); got != "1000000.00" {
		t.Fatalf("expected intermediary untouched, got %s", got)
	}

	if mpesaAdapter.debits != 1 || mpesaAdapter.credits != 1 {
		t.Fatalf("expected one debit and one credit on mpesa adapter, got %d/%d", mpesaAdapter.debits, mpesaAdapter.credits)
	}
	if airtelAdapter.debits != 0 || airtelAdapter.credits != 0 {
		t.Fatalf("expected airtel adapter untouched, got %d/%d", airtelAdapter.debits, airtelAdapter.credits)
	}
}

func TestExecuteTransferCrossNetwork(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, mpesaAdapter, airtelAdapter := newTestService(registry, guard)
	before := totalBalance(t, registry)

	result, err := svc.ExecuteTransfer(context.Background(), domain.TransferRequest{
		SourcePaybill:      "MPESA_1001",
		DestinationPaybill: "AIRTEL_2001",
		Amount:             decimal.NewFromFloat(10000.00),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Success || result.Status != domain.TransferSettled {
		t.Fatalf("expected settled transfer, got success=%t status=%s", result.Success, result.Status)
	}
	if result.TransferType != domain.TransferCrossNetwork {
		t.Fatalf("expected cross-network type, got %s", result.TransferType)
	}
	if result.SettlementFee.StringFixed(2) != "100.00" {
		t.Fatalf("expected fee 100.00, got %s", result.SettlementFee.StringFixed(2))
	}
	if result.FinalAmountCredited.StringFixed(2) != "9900.00" {
		t.Fatalf("expected 9900.00 credited, got %s", result.FinalAmountCredited.StringFixed(2))
	}
	if len(result.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(result.Steps))
	}

	if got := balanceOf(t, registry, "MPESA_1001"); got != "490000.00" {
		t.Fatalf("expected source balance 490000.00, got %s", got)
	}
	if got := balanceOf(t, registry, "AIRTEL_2001"); got != "59900.00" {
		t.Fatalf("expected destination balance 59900.00, got %s", got)
	}
	// The fee stays behind in the float under the default routing.
	if got := balanceOf(t, registry, "INTERMEDIARY_ACCOUNT"); got != "1000100.00" {
		t.Fatalf("expected intermediary balance 1000100.00, got %s", got)
	}
	if after := totalBalance(t, registry); !after.Equal(before) {
		t.Fatalf("ledger total changed from %s to %s", before, after)
	}

	if mpesaAdapter.debits != 1 {
		t.Fatalf("expected one mpesa debit, got %d", mpesaAdapter.debits)
	}
	if airtelAdapter.credits != 1 {
		t.Fatalf("expected one airtel credit, got %d", airtelAdapter.credits)
	}
	if len(result.APIResponses) != 2 {
		t.Fatalf("expected api responses for the two network legs, got %d", len(result.APIResponses))
	}
}

func TestExecuteTransferRevenueRouting(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, _, _ := newTestService(registry, guard)
	svc.ConfigureFeeRouting(FeeRoutingRevenue, "SETTLEMENT_REVENUE")

	result, err := svc.ExecuteTransfer(context.Background(), domain.TransferRequest{
		SourcePaybill:      "MPESA_1001",
		DestinationPaybill: "AIRTEL_2001",
		Amount:             decimal.NewFromFloat(10000.00),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Status != domain.TransferSettled {
		t.Fatalf("expected settled transfer, got %s", result.Status)
	}

	// With the fee swept out the float returns to its starting balance.
	if got := balanceOf(t, registry, "INTERMEDIARY_ACCOUNT"); got != "1000000.00" {
		t.Fatalf("expected intermediary balance 1000000.00, got %s", got)
	}
	if got := balanceOf(t, registry, "SETTLEMENT_REVENUE"); got != "100.00" {
		t.Fatalf("expected revenue balance 100.00, got %s", got)
	}
}

func TestExecuteTransferPreflightRejections(t *testing.T) {
	tests := []struct {
		name        string
		request     domain.TransferRequest
		expectedErr error
	}{
		{
			name: "zero amount",
			request: domain.TransferRequest{
				SourcePaybill:      "MPESA_1001",
				DestinationPaybill: "AIRTEL_2001",
				Amount:             decimal.Zero,
			},
			expectedErr: ErrInvalidAmount,
		},
		{
			name: "negative amount",
			request: domain.TransferRequest{
				SourcePaybill:      "MPESA_1001",
				DestinationPaybill: "AIRTEL_2001",
				Amount:             decimal.NewFromFloat(-50.00),
			},
			expectedErr: ErrInvalidAmount,
		},
		{
			name: "unknown source",
			request: domain.TransferRequest{
				SourcePaybill:      "MPESA_9999",
				DestinationPaybill: "AIRTEL_2001",
				Amount:             decimal.NewFromFloat(100.00),
			},
			expectedErr: ledger.ErrAccountNotFound,
		},
		{
			name: "unknown destination",
			request: domain.TransferRequest{
				SourcePaybill:      "MPESA_1001",
				DestinationPaybill: "AIRTEL_9999",
				Amount:             decimal.NewFromFloat(100.00),
			},
			expectedErr: ledger.ErrAccountNotFound,
		},
		{
			name: "insufficient funds",
			request: domain.TransferRequest{
				SourcePaybill:      "AIRTEL_2001",
				DestinationPaybill: "MPESA_1001",
				Amount:             decimal.NewFromFloat(50000.01),
			},
			expectedErr: ledger.ErrInsufficientFunds,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			registry, guard := newTestLedger(t)
			svc, _, _ := newTestService(registry, guard)
			before := totalBalance(t, registry)
			sourceBefore := balanceOf(t, registry, "MPESA_1001")

			result, err := svc.ExecuteTransfer(context.Background(), tc.request)
			if !errors.Is(err, tc.expectedErr) {
				t.Fatalf("expected error %v, got %v", tc.expectedErr, err)
			}
			if result != nil {
				t.Fatalf("expected nil result on pre-flight rejection, got %+v", result)
			}
			if after := totalBalance(t, registry); !after.Equal(before) {
				t.Fatalf("ledger total changed from %s to %s", before, after)
			}
			if got := balanceOf(t, registry, "MPESA_1001"); got != sourceBefore {
				t.Fatalf("expected balances untouched, MPESA_1001 moved from %s to %s", sourceBefore, got)
			}
		})
	}
}

func TestExecuteTransferBoundaryAmountSpendsFullBalance(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, _, _ := newTestService(registry, guard)

	// Exactly the source balance must settle, not reject.
	result, err := svc.ExecuteTransfer(context.Background(), domain.TransferRequest{
		SourcePaybill:      "AIRTEL_2001",
		DestinationPaybill: "AIRTEL_2002",
		Amount:             decimal.NewFromFloat(50000.00),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Status != domain.TransferSettled {
		t.Fatalf("expected settled transfer, got %s", result.Status)
	}
	if got := balanceOf(t, registry, "AIRTEL_2001"); got != "0.00" {
		t.Fatalf("expected source drained to 0.00, got %s", got)
	}
}

func TestExecuteTransferCompensatesOnCreditFailure(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, _, airtelAdapter := newTestService(registry, guard)
	airtelAdapter.failCredit = true
	before := totalBalance(t, registry)

	result, err := svc.ExecuteTransfer(context.Background(), domain.TransferRequest{
		SourcePaybill:      "MPESA_1001",
		DestinationPaybill: "AIRTEL_2001",
		Amount:             decimal.NewFromFloat(10000.00),
	})
	if err != nil {
		t.Fatalf("expected compensated failure to return nil error, got %v", err)
	}
	if result.Success || result.Status != domain.TransferFailedCompensated {
		t.Fatalf("expected compensated failure, got success=%t status=%s", result.Success, result.Status)
	}

	// Every balance must be exactly as it was before the attempt.
	if got := balanceOf(t, registry, "MPESA_1001"); got != "500000.00" {
		t.Fatalf("expected source restored to 500000.00, got %s", got)
	}
	if got := balanceOf(t, registry, "AIRTEL_2001"); got != "50000.00" {
		t.Fatalf("expected destination untouched at 50000.00, got %s", got)
	}
	if got := balanceOf(t, registry, "INTERMEDIARY_ACCOUNT"); got != "1000000.00" {
		t.Fatalf("expected intermediary restored to 1000000.00, got %s", got)
	}
	if after := totalBalance(t, registry); !after.Equal(before) {
		t.Fatalf("ledger total changed from %s to %s", before, after)
	}

	var failed, compensations int
	for _, step := range result.Steps {
		if step.Status == domain.StepFailed {
			failed++
		}
		if strings.HasPrefix(step.Description, "COMPENSATION: ") {
			compensations++
			if step.Status != domain.StepCompleted {
				t.Fatalf("expected compensation step completed, got %s for %q", step.Status, step.Description)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("expected exactly one failed step, got %d", failed)
	}
	// Steps 1 and 2 applied before the credit failed, so both must reverse.
	if compensations != 2 {
		t.Fatalf("expected 2 compensation steps, got %d", compensations)
	}
}

func TestExecuteTransferFailsFastOnDebitFailure(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, mpesaAdapter, _ := newTestService(registry, guard)
	mpesaAdapter.failDebit = true

	result, err := svc.ExecuteTransfer(context.Background(), domain.TransferRequest{
		SourcePaybill:      "MPESA_1001",
		DestinationPaybill: "AIRTEL_2001",
		Amount:             decimal.NewFromFloat(100.00),
	})
	if err != nil {
		t.Fatalf("expected compensated failure to return nil error, got %v", err)
	}
	if result.Status != domain.TransferFailedCompensated {
		t.Fatalf("expected compensated failure, got %s", result.Status)
	}
	if got := balanceOf(t, registry, "MPESA_1001"); got != "500000.00" {
		t.Fatalf("expected source untouched, got %s", got)
	}
	// The first step never applied, so there is nothing to reverse.
	for _, step := range result.Steps {
		if strings.HasPrefix(step.Description, "COMPENSATION: ") {
			t.Fatalf("unexpected compensation step %q", step.Description)
		}
	}
}

func TestExecuteTransferUnrecoverableCompensation(t *testing.T) {
	base, guard := newTestLedger(t)
	registry := &faultRegistry{
		Registry: base,
		// Reject the credit-back to the source: reversing the initial debit
		// becomes impossible once the destination credit has failed.
		failWhen: func(id string, delta decimal.Decimal) bool {
			return id == "MPESA_1001" && delta.IsPositive()
		},
	}
	svc, _, airtelAdapter := newTestService(registry, guard)
	airtelAdapter.failCredit = true

	result, err := svc.ExecuteTransfer(context.Background(), domain.TransferRequest{
		SourcePaybill:      "MPESA_1001",
		DestinationPaybill: "AIRTEL_2001",
		Amount:             decimal.NewFromFloat(10000.00),
	})
	if !errors.Is(err, ErrCompensationFailure) {
		t.Fatalf("expected ErrCompensationFailure, got %v", err)
	}
	if result == nil {
		t.Fatalf("expected a result carrying the step report")
	}
	if result.Success || result.Status != domain.TransferFailedUnrecoverable {
		t.Fatalf("expected unrecoverable failure, got success=%t status=%s", result.Success, result.Status)
	}

	// The report must show which reversal failed so an operator can act on it.
	var failedCompensation bool
	for _, step := range result.Steps {
		if strings.HasPrefix(step.Description, "COMPENSATION: ") && step.Status == domain.StepFailed {
			failedCompensation = true
		}
	}
	if !failedCompensation {
		t.Fatalf("expected a failed compensation step in the report: %+v", result.Steps)
	}
}

func TestExecuteTransferAdapterRetries(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, mpesaAdapter, _ := newTestService(registry, guard)
	svc.ConfigureAdapterPolicy(time.Second, 2)
	mpesaAdapter.failDebit = true

	result, err := svc.ExecuteTransfer(context.Background(), domain.TransferRequest{
		SourcePaybill:      "MPESA_1001",
		DestinationPaybill: "AIRTEL_2001",
		Amount:             decimal.NewFromFloat(100.00),
	})
	if err != nil {
		t.Fatalf("expected compensated failure to return nil error, got %v", err)
	}
	if result.Status != domain.TransferFailedCompensated {
		t.Fatalf("expected compensated failure, got %s", result.Status)
	}
	if mpesaAdapter.debits != 3 {
		t.Fatalf("expected 3 debit attempts with 2 retries, got %d", mpesaAdapter.debits)
	}
}

func TestExecuteTransferRateLimited(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, _, _ := newTestService(registry, guard)
	svc.SetTransferRateLimiter(&stubRateLimiter{count: 11}, 10)

	result, err := svc.ExecuteTransfer(context.Background(), domain.TransferRequest{
		SourcePaybill:      "MPESA_1001",
		DestinationPaybill: "AIRTEL_2001",
		Amount:             decimal.NewFromFloat(100.00),
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result, got %+v", result)
	}
	if got := balanceOf(t, registry, "MPESA_1001"); got != "500000.00" {
		t.Fatalf("expected no mutation when rate limited, got %s", got)
	}
}

func TestExecuteTransferRateLimiterOutageAdmits(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, _, _ := newTestService(registry, guard)
	svc.SetTransferRateLimiter(&stubRateLimiter{err: errors.New("redis down")}, 10)

	result, err := svc.ExecuteTransfer(context.Background(), domain.TransferRequest{
		SourcePaybill:      "MPESA_1001",
		DestinationPaybill: "MPESA_1002",
		Amount:             decimal.NewFromFloat(100.00),
	})
	if err != nil {
		t.Fatalf("expected limiter outage to fail open, got %v", err)
	}
	if result.Status != domain.TransferSettled {
		t.Fatalf("expected settled transfer, got %s", result.Status)
	}
}

func TestExecuteTransferCancelledContext(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, _, _ := newTestService(registry, guard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.ExecuteTransfer(ctx, domain.TransferRequest{
		SourcePaybill:      "MPESA_1001",
		DestinationPaybill: "AIRTEL_2001",
		Amount:             decimal.NewFromFloat(100.00),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result, got %+v", result)
	}
	if got := balanceOf(t, registry, "MPESA_1001"); got != "500000.00" {
		t.Fatalf("expected no mutation on cancellation, got %s", got)
	}
}

func TestConcurrentTransfersConserveLedgerTotal(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, _, _ := newTestService(registry, guard)
	before := totalBalance(t, registry)

	// Overlapping account pairs in both directions force lock contention on
	// the sources, destinations and the shared intermediary float.
	requests := []domain.TransferRequest{
		{SourcePaybill: "MPESA_1001", DestinationPaybill: "AIRTEL_2001", Amount: decimal.NewFromFloat(250.00)},
		{SourcePaybill: "AIRTEL_2001", DestinationPaybill: "MPESA_1001", Amount: decimal.NewFromFloat(125.00)},
		{SourcePaybill: "MPESA_1002", DestinationPaybill: "AIRTEL_2002", Amount: decimal.NewFromFloat(75.00)},
		{SourcePaybill: "AIRTEL_2002", DestinationPaybill: "MPESA_1002", Amount: decimal.NewFromFloat(40.00)},
		{SourcePaybill: "MPESA_1001", DestinationPaybill: "MPESA_1002", Amount: decimal.NewFromFloat(10.00)},
	}

	const rounds = 20
	var wg sync.WaitGroup
	errCh := make(chan error, rounds*len(requests))
	for i := 0; i < rounds; i++ {
		for _, req := range requests {
			wg.Add(1)
			go func(req domain.TransferRequest) {
				defer wg.Done()
				if _, err := svc.ExecuteTransfer(context.Background(), req); err != nil {
					errCh <- err
				}
			}(req)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("unexpected transfer error under load: %v", err)
	}

	if after := totalBalance(t, registry); !after.Equal(before) {
		t.Fatalf("ledger total changed from %s to %s", before, after)
	}
}

func TestSnapshotsStayConsistentDuringTransfers(t *testing.T) {
	registry, guard := newTestLedger(t)
	svc, _, _ := newTestService(registry, guard)
	snapshots := ledger.NewSnapshotService(registry, guard)
	expected := totalBalance(t, registry)

	done := make(chan struct{})
	transferErr := make(chan error, 1)
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			req := domain.TransferRequest{
				SourcePaybill:      "MPESA_1001",
				DestinationPaybill: "AIRTEL_2001",
				Amount:             decimal.NewFromFloat(100.00),
			}
			if i%2 == 1 {
				req.SourcePaybill, req.DestinationPaybill = req.DestinationPaybill, req.SourcePaybill
			}
			if _, err := svc.ExecuteTransfer(context.Background(), req); err != nil {
				transferErr <- err
				return
			}
		}
	}()

	// Every snapshot taken while transfers are in flight must sum to the seed
	// total: balances are never observed mid-transfer.
	for {
		select {
		case <-done:
			select {
			case err := <-transferErr:
				t.Fatalf("transfer failed during snapshot test: %v", err)
			default:
			}
			return
		default:
			snapshot := snapshots.Snapshot()
			total := decimal.Zero
			for _, view := range snapshot {
				total = total.Add(view.Balance)
			}
			if !total.Equal(expected) {
				t.Fatalf("snapshot total %s diverged from %s", total, expected)
			}
		}
	}
}
