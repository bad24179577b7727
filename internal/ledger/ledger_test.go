package ledger_test

import (
	"LoopVault/internal/ledger"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assetID, _ := ledger.GetAssetID("USDE")
	key := ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, assetID)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:collateral:USDE"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	assetID, _ := ledger.GetAssetID("PT-USDE")
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalLendingMarket, assetID)

	path := key.AccountPath()
	if path != "external:lending_market:PT-USDE" {
		t.Errorf("got %q, want %q", path, "external:lending_market:PT-USDE")
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("USDE")
	if !ok {
		t.Fatal("USDE should be a known asset")
	}
	if id == 0 {
		t.Error("USDE asset ID should be non-zero")
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDE")

	if balance := bt.GetUserCollateral(userID, assetID); balance != 0 {
		t.Errorf("initial balance should be 0, got %d", balance)
	}
	if debt := bt.GetUserDebt(userID, assetID); debt != 0 {
		t.Errorf("initial debt should be 0, got %d", debt)
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDE")

	// Simulate deposit: debit user:collateral, credit external:deposits
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	}

	bt.ApplyJournal(j)

	collateral := bt.GetUserCollateral(userID, assetID)
	if collateral != 1_000_000 {
		t.Errorf("collateral: got %d, want 1_000_000", collateral)
	}
}

func TestBalanceTracker_DebtSignConvention(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDE")

	// Borrow: debit user:collateral, credit user:debt
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, assetID),
		CreditAccount: ledger.NewUserAccountKey(userID, ledger.SubTypeDebt, assetID),
		AssetID:       assetID,
		Amount:        900_000,
	})

	if debt := bt.GetUserDebt(userID, assetID); debt != 900_000 {
		t.Errorf("debt: got %d, want 900_000", debt)
	}
	if err := bt.ValidateDebtNonPositive(userID, assetID); err != nil {
		t.Errorf("outstanding debt should be a valid state: %v", err)
	}

	// Repay more than borrowed: the raw account flips positive
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeDebt, assetID),
		CreditAccount: ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	})

	if err := bt.ValidateDebtNonPositive(userID, assetID); err == nil {
		t.Error("over-repaid debt account should fail validation")
	}
}

func TestBalanceTracker_RevertBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDE")
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        500_000,
			},
		},
	}

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if bt.GetUserCollateral(userID, assetID) != 500_000 {
		t.Fatalf("expected 500_000 after batch apply")
	}

	bt.RevertBatch(batch)
	if bt.GetUserCollateral(userID, assetID) != 0 {
		t.Error("revert should restore the pre-batch balance")
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDE")

	// Deposit
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	})

	// Borrow against it
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, assetID),
		CreditAccount: ledger.NewUserAccountKey(userID, ledger.SubTypeDebt, assetID),
		AssetID:       assetID,
		Amount:        300_000,
	})

	// Global balance should still be zero
	totals := bt.ComputeGlobalBalance()
	for aid, total := range totals {
		if total != 0 {
			t.Errorf("asset %d has non-zero global balance: %d", aid, total)
		}
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDE")

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}

	if bt.GetUserCollateral(userID, assetID) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDE")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeCollateral, assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        0,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_NegativeAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDE")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeCollateral, assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        -100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("negative amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDE")
	sameAccount := ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeCollateral, assetID)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDE")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(), // Different batch ID
				DebitAccount:  ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeCollateral, assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func newTestGenerator(bt *ledger.BalanceTracker) *ledger.JournalGenerator {
	base, _ := ledger.GetAssetID("USDE")
	principal, _ := ledger.GetAssetID("PT-USDE")
	yield, _ := ledger.GetAssetID("YT-USDE")
	return ledger.NewJournalGenerator(1, bt, base, principal, yield)
}

func TestJournalGenerator_Deposit(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := newTestGenerator(bt)
	ownerID := uuid.New()
	baseID, _ := ledger.GetAssetID("USDE")

	batch, err := jg.GenerateDeposit(ownerID, "op-1", 990_000000, 1000)
	if err != nil {
		t.Fatalf("GenerateDeposit failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if got := bt.GetUserCollateral(ownerID, baseID); got != 990_000000 {
		t.Errorf("collateral after deposit: got %d, want 990e6", got)
	}
}

func TestJournalGenerator_LoopIterationZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := newTestGenerator(bt)
	v := ledger.NewInvariantValidator(bt)
	ownerID := uuid.New()
	baseID, _ := ledger.GetAssetID("USDE")
	principalID, _ := ledger.GetAssetID("PT-USDE")
	yieldID, _ := ledger.GetAssetID("YT-USDE")

	deposit, err := jg.GenerateDeposit(ownerID, "op-1", 1000_000000, 1000)
	if err != nil {
		t.Fatalf("GenerateDeposit failed: %v", err)
	}
	if err := bt.ApplyBatch(deposit); err != nil {
		t.Fatalf("apply deposit: %v", err)
	}

	leg := ledger.LoopLeg{
		Spent:        1000_000000,
		PrincipalOut: 1000_000000,
		YieldOut:     1000_000000,
		Supplied:     1000_000000,
		Borrowed:     900_000000,
	}
	batch, err := jg.GenerateLoopIteration(ownerID, "op-1", leg, 1001)
	if err != nil {
		t.Fatalf("GenerateLoopIteration failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply loop: %v", err)
	}

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("loop iteration broke zero-sum: %v", err)
	}
	if err := v.ValidateUserDebtSign(ownerID, baseID); err != nil {
		t.Errorf("debt sign: %v", err)
	}
	if err := v.ValidateClaimsNonNegative(ownerID, principalID, yieldID); err != nil {
		t.Errorf("claims: %v", err)
	}

	// Collateral: 1000 deposited - 1000 spent + 900 borrowed
	if got := bt.GetUserCollateral(ownerID, baseID); got != 900_000000 {
		t.Errorf("collateral: got %d, want 900e6", got)
	}
	if got := bt.GetUserDebt(ownerID, baseID); got != 900_000000 {
		t.Errorf("debt: got %d, want 900e6", got)
	}
	// All principal claims are supplied away
	if got := bt.GetUserPrincipalClaims(ownerID, principalID); got != 0 {
		t.Errorf("principal claims: got %d, want 0", got)
	}
	if got := bt.GetUserYieldClaims(ownerID, yieldID); got != 1000_000000 {
		t.Errorf("yield claims: got %d, want 1000e6", got)
	}
}

func TestJournalGenerator_UnwindOverRepay_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := newTestGenerator(bt)
	ownerID := uuid.New()

	// No debt recorded: repaying anything must be rejected
	_, err := jg.GenerateUnwind(ownerID, "op-2", ledger.UnwindLeg{
		Repaid: 100_000000,
		Payout: 900_000000,
	}, 2000)
	if err == nil {
		t.Error("repay above recorded debt should fail the pre-check")
	}
}

func TestJournalGenerator_FullCycleLeavesNoResidue(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := newTestGenerator(bt)
	v := ledger.NewInvariantValidator(bt)
	ownerID := uuid.New()
	baseID, _ := ledger.GetAssetID("USDE")

	deposit, _ := jg.GenerateDeposit(ownerID, "op-1", 1000_000000, 1000)
	if err := bt.ApplyBatch(deposit); err != nil {
		t.Fatal(err)
	}
	loop, err := jg.GenerateLoopIteration(ownerID, "op-1", ledger.LoopLeg{
		Spent:        1000_000000,
		PrincipalOut: 1000_000000,
		YieldOut:     1000_000000,
		Supplied:     1000_000000,
		Borrowed:     900_000000,
	}, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if err := bt.ApplyBatch(loop); err != nil {
		t.Fatal(err)
	}

	unwind, err := jg.GenerateUnwind(ownerID, "op-2", ledger.UnwindLeg{
		Withdrawn:         1000_000000,
		RedeemedPrincipal: 1000_000000,
		RedeemedYield:     1000_000000,
		Proceeds:          1000_000000,
		Repaid:            900_000000,
		Payout:            1000_000000,
	}, 2000)
	if err != nil {
		t.Fatalf("GenerateUnwind failed: %v", err)
	}
	if err := bt.ApplyBatch(unwind); err != nil {
		t.Fatal(err)
	}

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("full cycle broke zero-sum: %v", err)
	}
	if got := bt.GetUserDebt(ownerID, baseID); got != 0 {
		t.Errorf("debt after unwind: got %d, want 0", got)
	}
	if got := bt.GetUserCollateral(ownerID, baseID); got != 0 {
		t.Errorf("collateral after unwind: got %d, want 0", got)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Empty ledger, should pass
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	// Add balanced journal
	userID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDE")
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	})

	// Still zero-sum
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}
