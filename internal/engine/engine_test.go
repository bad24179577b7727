package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"LoopVault/internal/config"
	"LoopVault/internal/event"
	"LoopVault/internal/ledger"
	"LoopVault/internal/market"
	"LoopVault/internal/market/sim"
	fpmath "LoopVault/internal/math"
	"LoopVault/internal/observability"
)

const (
	engineWallet     = "engine"
	ownerWallet      = "wallet:owner"
	recipientWallet  = "wallet:recipient"
	lendingWallet    = "venue:lending"
	derivativeWallet = "venue:derivative"
	swapWallet       = "venue:swap"

	assetBase = market.Asset("USDE")
	assetPT   = market.Asset("PT-USDE")
	assetYT   = market.Asset("YT-USDE")
)

// Prometheus collectors register globally, so all tests share one instance
var testMetrics = observability.NewMetrics()

type testEnv struct {
	engine  *Engine
	bank    *sim.Bank
	oracle  *sim.Oracle
	lending *sim.Lending

	owner     uuid.UUID
	guardian  uuid.UUID
	recipient uuid.UUID

	persist chan EngineOutput
	publish chan EngineOutput
}

func newTestEnv(
	t *testing.T,
	feeBps int64,
	wrapLending func(market.LendingMarket) market.LendingMarket,
	wrapDerivative func(market.DerivativeMarket) market.DerivativeMarket,
) *testEnv {
	t.Helper()

	bank := sim.NewBank()
	if feeBps > 0 {
		bank.SetTransferFeeBps(assetBase, feeBps)
	}

	oracle := sim.NewOracle()
	oracle.SetPrice(assetBase, 100_000000)
	oracle.SetPrice(assetPT, 100_000000)
	oracle.SetPrice(assetYT, 50_000000)

	lending := sim.NewLending(bank, engineWallet, lendingWallet)
	derivative := sim.NewDerivative(bank, engineWallet, derivativeWallet, assetBase, assetPT, assetYT)
	swap := sim.NewSwap(bank, engineWallet, swapWallet, oracle, 30)
	tokens := sim.NewTokens(bank, engineWallet)

	bank.Mint(assetBase, ownerWallet, 100_000_000000)
	bank.Mint(assetBase, lendingWallet, 1_000_000_000000)

	owner := uuid.New()
	guardian := uuid.New()
	recipient := uuid.New()

	cfg := config.Defaults()
	cfg.Roles.Owner = owner.String()
	cfg.Roles.Guardian = guardian.String()
	cfg.Roles.WithdrawalRecipient = recipient.String()
	cfg.Roles.Wallets = map[string]string{owner.String(): ownerWallet}
	cfg.Roles.EngineWallet = engineWallet
	cfg.Roles.RecipientWallet = recipientWallet
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}

	var lm market.LendingMarket = lending
	if wrapLending != nil {
		lm = wrapLending(lending)
	}
	var dm market.DerivativeMarket = derivative
	if wrapDerivative != nil {
		dm = wrapDerivative(derivative)
	}

	persist := make(chan EngineOutput, 1024)
	publish := make(chan EngineOutput, 1024)

	eng, err := NewEngine(&cfg, market.Adapters{
		Lending:    lm,
		Derivative: dm,
		Swap:       swap,
		Oracle:     oracle,
		Tokens:     tokens,
	}, testMetrics, zerolog.Nop(), persist, publish)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	return &testEnv{
		engine:    eng,
		bank:      bank,
		oracle:    oracle,
		lending:   lending,
		owner:     owner,
		guardian:  guardian,
		recipient: recipient,
		persist:   persist,
		publish:   publish,
	}
}

func (env *testEnv) open(t *testing.T, amount int64) *OpenResult {
	t.Helper()
	res, err := env.engine.Open(context.Background(), OpenRequest{
		OperationID: uuid.New(),
		CallerID:    env.owner,
		OwnerID:     env.owner,
		Amount:      amount,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return res
}

func (env *testEnv) drainPersist() []EngineOutput {
	var outputs []EngineOutput
	for {
		select {
		case out := <-env.persist:
			outputs = append(outputs, out)
		default:
			return outputs
		}
	}
}

func TestOpenMeasuresFeeOnTransferDeposit(t *testing.T) {
	env := newTestEnv(t, 100, nil, nil) // 1% transfer fee on the base asset

	res := env.open(t, 1000_000000)

	if res.CollateralReceived != 990_000000 {
		t.Errorf("collateral received = %d, want 990e6", res.CollateralReceived)
	}
	pos, ok := env.engine.Position(env.owner)
	if !ok {
		t.Fatal("position not found after open")
	}
	if pos.CollateralAmount != 990_000000 {
		t.Errorf("position collateral = %d, want measured 990e6", pos.CollateralAmount)
	}
	if env.engine.Risk().TotalValueLocked != 990_000000 {
		t.Errorf("TVL = %d, want 990e6", env.engine.Risk().TotalValueLocked)
	}
}

func TestOpenExecutesConfiguredLoops(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)

	res := env.open(t, 1000_000000)

	// Defaults: 10 loops, 0.90 decay, dust 1
	if res.LoopCount != 10 {
		t.Fatalf("loop count = %d, want 10", res.LoopCount)
	}
	if res.BorrowedAmount <= 0 {
		t.Fatal("expected a positive borrowed amount")
	}
	if res.HealthFactor < 15_000 {
		t.Errorf("health factor = %d, want >= 15000", res.HealthFactor)
	}

	// Every unit of base (deposit plus each borrow) ends up minted 1:1
	wantClaims := 1000_000000 + res.BorrowedAmount
	if res.PrincipalClaims != wantClaims {
		t.Errorf("principal claims = %d, want %d", res.PrincipalClaims, wantClaims)
	}
	if res.YieldClaims != wantClaims {
		t.Errorf("yield claims = %d, want %d", res.YieldClaims, wantClaims)
	}
	if got := env.lending.Outstanding(assetBase); got != res.BorrowedAmount {
		t.Errorf("venue outstanding = %d, engine recorded %d", got, res.BorrowedAmount)
	}

	// No working capital left idle in the engine wallet
	if bal := env.bank.Balance(assetBase, engineWallet); bal != 0 {
		t.Errorf("engine wallet balance = %d, want 0", bal)
	}
}

func TestOpenRejectsSecondPosition(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)
	env.open(t, 1000_000000)

	_, err := env.engine.Open(context.Background(), OpenRequest{
		OperationID: uuid.New(),
		CallerID:    env.owner,
		OwnerID:     env.owner,
		Amount:      500_000000,
	})
	if !errors.Is(err, ErrPositionConflict) {
		t.Errorf("second open error = %v, want ErrPositionConflict", err)
	}
}

func TestOpenStopsBeforeHealthViolation(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)
	// Cheap yield claims make any borrow drop projected health below 1.50
	env.oracle.SetPrice(assetYT, 10_000000)

	res := env.open(t, 1000_000000)

	if res.LoopCount != 0 {
		t.Errorf("loop count = %d, want 0 (borrow would breach minimum)", res.LoopCount)
	}
	if res.BorrowedAmount != 0 {
		t.Errorf("borrowed = %d, want 0", res.BorrowedAmount)
	}
	if res.HealthFactor != fpmath.HealthInfinity {
		t.Errorf("health factor = %d, want infinity sentinel with zero debt", res.HealthFactor)
	}
	// The deposit is still deployed, just unleveraged
	if res.PrincipalClaims != 1000_000000 {
		t.Errorf("principal claims = %d, want 1000e6", res.PrincipalClaims)
	}
}

func TestCloseRoundTrip(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)
	env.open(t, 1000_000000)
	walletBefore := env.bank.Balance(assetBase, ownerWallet)

	res, err := env.engine.Close(context.Background(), CloseRequest{
		OperationID: uuid.New(),
		CallerID:    env.owner,
		OwnerID:     env.owner,
	})
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Par redemption, no fees, no interest: the deposit comes back exactly
	if res.NetReturned != 1000_000000 {
		t.Errorf("net returned = %d, want 1000e6", res.NetReturned)
	}
	if res.ProfitOrLoss != 0 {
		t.Errorf("pnl = %d, want 0", res.ProfitOrLoss)
	}
	if got := env.bank.Balance(assetBase, ownerWallet) - walletBefore; got != 1000_000000 {
		t.Errorf("owner wallet delta = %d, want 1000e6", got)
	}

	if _, ok := env.engine.Position(env.owner); ok {
		t.Error("position should be removed after close")
	}
	if tvl := env.engine.Risk().TotalValueLocked; tvl != 0 {
		t.Errorf("TVL after close = %d, want 0", tvl)
	}
	if got := env.lending.Outstanding(assetBase); got != 0 {
		t.Errorf("venue outstanding after close = %d, want 0", got)
	}

	balances := env.engine.Balances(env.owner)
	for name, bal := range balances {
		if bal != 0 {
			t.Errorf("ledger balance %s = %d, want 0 after full cycle", name, bal)
		}
	}

	outputs := env.drainPersist()
	var sawClosed bool
	for _, out := range outputs {
		if out.Envelope.EventType == event.EventTypePositionClosed {
			sawClosed = true
		}
	}
	if !sawClosed {
		t.Error("expected a PositionClosed event in the persist stream")
	}
}

func TestCloseTwiceConflicts(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)
	env.open(t, 1000_000000)

	if _, err := env.engine.Close(context.Background(), CloseRequest{
		OperationID: uuid.New(), CallerID: env.owner, OwnerID: env.owner,
	}); err != nil {
		t.Fatalf("first close failed: %v", err)
	}

	_, err := env.engine.Close(context.Background(), CloseRequest{
		OperationID: uuid.New(), CallerID: env.owner, OwnerID: env.owner,
	})
	if !errors.Is(err, ErrPositionConflict) {
		t.Errorf("second close error = %v, want ErrPositionConflict", err)
	}
}

// reentrantLending re-enters the engine from inside Withdraw, the way a
// malicious token callback would.
type reentrantLending struct {
	market.LendingMarket
	env      *testEnv
	innerErr error
	fired    bool
}

func (r *reentrantLending) Withdraw(ctx context.Context, asset market.Asset, amount int64) (int64, error) {
	if !r.fired {
		r.fired = true
		_, r.innerErr = r.env.engine.Close(ctx, CloseRequest{
			OperationID: uuid.New(),
			CallerID:    r.env.owner,
			OwnerID:     r.env.owner,
		})
	}
	return r.LendingMarket.Withdraw(ctx, asset, amount)
}

func TestReentrantCloseSeesRemovedPosition(t *testing.T) {
	hook := &reentrantLending{}
	env := newTestEnv(t, 0, func(lm market.LendingMarket) market.LendingMarket {
		hook.LendingMarket = lm
		return hook
	}, nil)
	hook.env = env
	env.open(t, 1000_000000)

	res, err := env.engine.Close(context.Background(), CloseRequest{
		OperationID: uuid.New(), CallerID: env.owner, OwnerID: env.owner,
	})
	if err != nil {
		t.Fatalf("outer close failed: %v", err)
	}
	if res.NetReturned != 1000_000000 {
		t.Errorf("outer close returned %d, want 1000e6", res.NetReturned)
	}

	if !hook.fired {
		t.Fatal("reentrant hook never fired")
	}
	// The position was removed before the external call, so the inner close
	// observes a missing position rather than a lock error.
	if !errors.Is(hook.innerErr, ErrPositionConflict) {
		t.Errorf("inner close error = %v, want ErrPositionConflict", hook.innerErr)
	}
}

// failingLending fails the first Withdraw to exercise the rollback path
type failingLending struct {
	market.LendingMarket
	failures int
}

func (f *failingLending) Withdraw(ctx context.Context, asset market.Asset, amount int64) (int64, error) {
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("venue unavailable")
	}
	return f.LendingMarket.Withdraw(ctx, asset, amount)
}

func TestCloseRollsBackOnExternalFailure(t *testing.T) {
	env := newTestEnv(t, 0, func(lm market.LendingMarket) market.LendingMarket {
		return &failingLending{LendingMarket: lm, failures: 1}
	}, nil)
	env.open(t, 1000_000000)

	_, err := env.engine.Close(context.Background(), CloseRequest{
		OperationID: uuid.New(), CallerID: env.owner, OwnerID: env.owner,
	})
	if !errors.Is(err, ErrExternalCallFailed) {
		t.Fatalf("close error = %v, want ErrExternalCallFailed", err)
	}

	// Rollback restored the position; a retry completes the unwind
	pos, ok := env.engine.Position(env.owner)
	if !ok {
		t.Fatal("position should be restored after failed unwind")
	}
	if !pos.IsOpen() {
		t.Errorf("restored position status = %s, want open", pos.Status)
	}

	res, err := env.engine.Close(context.Background(), CloseRequest{
		OperationID: uuid.New(), CallerID: env.owner, OwnerID: env.owner,
	})
	if err != nil {
		t.Fatalf("retry close failed: %v", err)
	}
	if res.NetReturned != 1000_000000 {
		t.Errorf("retry returned %d, want 1000e6", res.NetReturned)
	}
}

func TestOpenEmitsDistinctIdempotencyKeys(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)
	env.open(t, 1000_000000)

	outputs := env.drainPersist()
	if len(outputs) < 2 {
		t.Fatalf("expected the open and its loop legs, got %d envelopes", len(outputs))
	}

	// The event log enforces a unique index on the idempotency key, so the
	// opened event and every loop leg of one operation must carry their own.
	seen := make(map[string]event.EventType, len(outputs))
	for _, out := range outputs {
		key := out.Envelope.IdempotencyKey
		if prior, dup := seen[key]; dup {
			t.Errorf("idempotency key %q shared by %s and %s", key, prior, out.Envelope.EventType)
		}
		seen[key] = out.Envelope.EventType
	}
}

// failingDerivative fails the n-th mint to abort an open mid-loop
type failingDerivative struct {
	market.DerivativeMarket
	failOnMint int
	calls      int
}

func (f *failingDerivative) Mint(ctx context.Context, baseAmount int64) (market.MintResult, error) {
	f.calls++
	if f.calls == f.failOnMint {
		return market.MintResult{}, errors.New("venue unavailable")
	}
	return f.DerivativeMarket.Mint(ctx, baseAmount)
}

func TestOpenRevertsExecutedLegsOnMidLoopFailure(t *testing.T) {
	env := newTestEnv(t, 0, nil, func(dm market.DerivativeMarket) market.DerivativeMarket {
		return &failingDerivative{DerivativeMarket: dm, failOnMint: 2}
	})
	walletBefore := env.bank.Balance(assetBase, ownerWallet)

	_, err := env.engine.Open(context.Background(), OpenRequest{
		OperationID: uuid.New(), CallerID: env.owner, OwnerID: env.owner, Amount: 1000_000000,
	})
	if !errors.Is(err, ErrExternalCallFailed) {
		t.Fatalf("open error = %v, want ErrExternalCallFailed", err)
	}

	// The first leg supplied claims and borrowed before the abort; all of it
	// is unwound and the full deposit comes back.
	if got := env.bank.Balance(assetBase, ownerWallet); got != walletBefore {
		t.Errorf("owner wallet = %d, want %d (full refund)", got, walletBefore)
	}
	if got := env.lending.Outstanding(assetBase); got != 0 {
		t.Errorf("venue outstanding = %d, want 0 after revert", got)
	}
	if bal := env.bank.Balance(assetBase, engineWallet); bal != 0 {
		t.Errorf("engine wallet base = %d, want 0", bal)
	}
	if bal := env.bank.Balance(assetPT, engineWallet); bal != 0 {
		t.Errorf("engine wallet principal claims = %d, want 0", bal)
	}
	if bal := env.bank.Balance(assetYT, engineWallet); bal != 0 {
		t.Errorf("engine wallet yield claims = %d, want 0", bal)
	}
	if _, ok := env.engine.Position(env.owner); ok {
		t.Error("no position should exist after an aborted open")
	}
	if env.engine.SecurityStatus().Compromised {
		t.Error("a clean revert should not flip the compromised flag")
	}
}

// failingRepayLending lets the unwind progress through withdraw and redeem,
// then fails the repay.
type failingRepayLending struct {
	market.LendingMarket
}

func (f *failingRepayLending) Repay(ctx context.Context, asset market.Asset, amount int64) (int64, error) {
	return 0, errors.New("venue unavailable")
}

func TestCloseCompromisesWhenRepayFailsMidUnwind(t *testing.T) {
	env := newTestEnv(t, 0, func(lm market.LendingMarket) market.LendingMarket {
		return &failingRepayLending{LendingMarket: lm}
	}, nil)
	env.open(t, 1000_000000)

	_, err := env.engine.Close(context.Background(), CloseRequest{
		OperationID: uuid.New(), CallerID: env.owner, OwnerID: env.owner,
	})
	if !errors.Is(err, ErrExternalCallFailed) {
		t.Fatalf("close error = %v, want ErrExternalCallFailed", err)
	}

	// Withdraw and redeem already executed, so the cached position no longer
	// matches what the venues hold. Restoring it would make every retried
	// close fail on the missing collateral; the engine declares compromise.
	if _, ok := env.engine.Position(env.owner); ok {
		t.Error("position must not be restored after a partially executed unwind")
	}
	if !env.engine.SecurityStatus().Compromised {
		t.Error("partial unwind failure should declare the strategy compromised")
	}
}

func TestCloseJournalsPayoutTransferFee(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)
	// Cheap yield claims keep the open unleveraged so the unwind has no repay
	env.oracle.SetPrice(assetYT, 10_000000)
	env.open(t, 1000_000000)
	env.drainPersist()

	// Fee switched on after the open: redeem and payout both pay it
	env.bank.SetTransferFeeBps(assetBase, 100)

	res, err := env.engine.Close(context.Background(), CloseRequest{
		OperationID: uuid.New(), CallerID: env.owner, OwnerID: env.owner,
	})
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Redeem delivers 990e6 measured, the payout transfer loses another 1%
	if res.NetReturned != 980_100000 {
		t.Errorf("net returned = %d, want measured 980.1e6", res.NetReturned)
	}

	var payoutAmount, feeAmount int64
	for _, out := range env.drainPersist() {
		if out.Batch == nil {
			continue
		}
		for _, j := range out.Batch.Journals {
			switch j.JournalType {
			case ledger.JournalTypePayout:
				payoutAmount += j.Amount
			case ledger.JournalTypeTransferFee:
				feeAmount += j.Amount
			}
		}
	}
	if payoutAmount != 980_100000 {
		t.Errorf("payout journal = %d, want the measured 980.1e6", payoutAmount)
	}
	if feeAmount != 9_900000 {
		t.Errorf("transfer fee journal = %d, want 9.9e6", feeAmount)
	}

	// The fee leg drains the collateral account the nominal payout would leave
	for name, bal := range env.engine.Balances(env.owner) {
		if bal != 0 {
			t.Errorf("ledger balance %s = %d, want 0 after close", name, bal)
		}
	}
}

func TestExternalCallsAreInstrumented(t *testing.T) {
	borrowsBefore := promtest.ToFloat64(testMetrics.ExternalCalls.WithLabelValues("lending", "borrow"))
	mintsBefore := promtest.ToFloat64(testMetrics.ExternalCalls.WithLabelValues("derivative", "mint"))

	env := newTestEnv(t, 0, nil, nil)
	env.open(t, 1000_000000)

	if got := promtest.ToFloat64(testMetrics.ExternalCalls.WithLabelValues("lending", "borrow")) - borrowsBefore; got != 10 {
		t.Errorf("borrow calls recorded = %v, want 10", got)
	}
	// 10 borrow legs plus the residual deployment
	if got := promtest.ToFloat64(testMetrics.ExternalCalls.WithLabelValues("derivative", "mint")) - mintsBefore; got != 11 {
		t.Errorf("mint calls recorded = %v, want 11", got)
	}

	errsBefore := promtest.ToFloat64(testMetrics.ExternalCallErrors.WithLabelValues("lending", "withdraw"))
	failing := newTestEnv(t, 0, func(lm market.LendingMarket) market.LendingMarket {
		return &failingLending{LendingMarket: lm, failures: 1}
	}, nil)
	failing.open(t, 1000_000000)
	if _, err := failing.engine.Close(context.Background(), CloseRequest{
		OperationID: uuid.New(), CallerID: failing.owner, OwnerID: failing.owner,
	}); !errors.Is(err, ErrExternalCallFailed) {
		t.Fatalf("close error = %v, want ErrExternalCallFailed", err)
	}
	if got := promtest.ToFloat64(testMetrics.ExternalCallErrors.WithLabelValues("lending", "withdraw")) - errsBefore; got != 1 {
		t.Errorf("withdraw errors recorded = %v, want 1", got)
	}
}

func TestEmergencyWithdrawPaysOnlyRecipient(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)
	env.bank.Mint(assetBase, engineWallet, 500_000000)

	// Requires emergency mode
	_, err := env.engine.EmergencyWithdraw(context.Background(), EmergencyWithdrawRequest{
		OperationID: uuid.New(), CallerID: env.guardian, Asset: "USDE",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unpaused emergency withdraw error = %v, want ErrInvalidInput", err)
	}

	if err := env.engine.Pause(uuid.New(), env.guardian, "drill"); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	// Unauthorized caller
	_, err = env.engine.EmergencyWithdraw(context.Background(), EmergencyWithdrawRequest{
		OperationID: uuid.New(), CallerID: uuid.New(), Asset: "USDE",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger emergency withdraw error = %v, want ErrUnauthorized", err)
	}

	delivered, err := env.engine.EmergencyWithdraw(context.Background(), EmergencyWithdrawRequest{
		OperationID: uuid.New(), CallerID: env.guardian, Asset: "USDE",
	})
	if err != nil {
		t.Fatalf("emergency withdraw failed: %v", err)
	}
	if delivered != 500_000000 {
		t.Errorf("delivered = %d, want 500e6", delivered)
	}
	if got := env.bank.Balance(assetBase, recipientWallet); got != 500_000000 {
		t.Errorf("recipient wallet = %d, want 500e6", got)
	}
	if got := env.bank.Balance(assetBase, engineWallet); got != 0 {
		t.Errorf("engine wallet = %d, want drained", got)
	}
}

func TestPauseBlocksOpen(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)

	if err := env.engine.Pause(uuid.New(), env.guardian, "maintenance"); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	_, err := env.engine.Open(context.Background(), OpenRequest{
		OperationID: uuid.New(), CallerID: env.owner, OwnerID: env.owner, Amount: 1000_000000,
	})
	if !errors.Is(err, ErrEmergencyMode) {
		t.Errorf("open while paused error = %v, want ErrEmergencyMode", err)
	}

	if err := env.engine.Unpause(uuid.New(), env.owner); err != nil {
		t.Fatalf("unpause failed: %v", err)
	}
	env.open(t, 1000_000000)
}

func TestCompromisedIsSticky(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)

	if err := env.engine.DeclareCompromised(uuid.New(), env.guardian, "key leak"); err != nil {
		t.Fatalf("declare compromised failed: %v", err)
	}

	_, err := env.engine.Open(context.Background(), OpenRequest{
		OperationID: uuid.New(), CallerID: env.owner, OwnerID: env.owner, Amount: 1000_000000,
	})
	if !errors.Is(err, ErrCompromised) {
		t.Errorf("open while compromised error = %v, want ErrCompromised", err)
	}

	// Not even the owner can clear the flag
	if err := env.engine.Unpause(uuid.New(), env.owner); !errors.Is(err, ErrCompromised) {
		t.Errorf("unpause while compromised error = %v, want ErrCompromised", err)
	}
	if !env.engine.SecurityStatus().Compromised {
		t.Error("compromised flag should remain set")
	}
}

func TestOperationalGapBlocksUntilReauthorized(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)

	// Default gap is 24h; pretend 25h of silence
	env.engine.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	_, err := env.engine.Open(context.Background(), OpenRequest{
		OperationID: uuid.New(), CallerID: env.owner, OwnerID: env.owner, Amount: 1000_000000,
	})
	if !errors.Is(err, ErrOperationGap) {
		t.Fatalf("open after gap error = %v, want ErrOperationGap", err)
	}

	if err := env.engine.Reauthorize(uuid.New(), env.owner); err != nil {
		t.Fatalf("reauthorize failed: %v", err)
	}
	env.open(t, 1000_000000)
}

func TestUpdateStrategy(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)

	bad := env.engine.Strategy()
	bad.BorrowDecayFactor = 0
	if err := env.engine.UpdateStrategy(uuid.New(), env.owner, bad); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("invalid strategy error = %v, want ErrInvalidInput", err)
	}

	next := env.engine.Strategy()
	next.MaxLoops = 3
	if err := env.engine.UpdateStrategy(uuid.New(), env.owner, next); err != nil {
		t.Fatalf("update strategy failed: %v", err)
	}

	res := env.open(t, 1000_000000)
	if res.LoopCount != 3 {
		t.Errorf("loop count = %d, want 3 after strategy update", res.LoopCount)
	}
}

func TestOwnershipTransferTwoStep(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)
	newOwner := uuid.New()

	// Only the pending owner may accept, and only after a start
	if err := env.engine.AcceptOwnership(uuid.New(), newOwner); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("accept without start error = %v, want ErrUnauthorized", err)
	}

	if err := env.engine.StartOwnershipTransfer(uuid.New(), env.owner, newOwner); err != nil {
		t.Fatalf("start transfer failed: %v", err)
	}
	if got := env.engine.Owner(); got != env.owner {
		t.Errorf("owner changed before accept: %s", got)
	}

	if err := env.engine.AcceptOwnership(uuid.New(), newOwner); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if got := env.engine.Owner(); got != newOwner {
		t.Errorf("owner = %s, want %s", got, newOwner)
	}

	// The previous owner lost owner-gated operations
	next := env.engine.Strategy()
	if err := env.engine.UpdateStrategy(uuid.New(), env.owner, next); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("old owner update error = %v, want ErrUnauthorized", err)
	}
}

func TestSweepLiquidatesUnhealthyPosition(t *testing.T) {
	env := newTestEnv(t, 0, nil, nil)
	env.open(t, 1000_000000)

	// Nothing unhealthy at par prices
	n, err := env.engine.SweepUnhealthy(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("liquidated %d healthy positions", n)
	}

	// Collateral claims crash; the position drops below 1.50
	env.oracle.SetPrice(assetPT, 80_000000)
	env.oracle.SetPrice(assetYT, 10_000000)

	n, err = env.engine.SweepUnhealthy(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("liquidated = %d, want 1", n)
	}
	if _, ok := env.engine.Position(env.owner); ok {
		t.Error("position should be removed after liquidation")
	}

	outputs := env.drainPersist()
	var sawLiquidated bool
	for _, out := range outputs {
		if out.Envelope.EventType == event.EventTypePositionLiquidated {
			sawLiquidated = true
		}
	}
	if !sawLiquidated {
		t.Error("expected a PositionLiquidated event in the persist stream")
	}
}
