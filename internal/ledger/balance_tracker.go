package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// RevertBatch undoes a previously applied batch (close rollback path)
func (bt *BalanceTracker) RevertBatch(batch *Batch) {
	for _, j := range batch.Journals {
		bt.balances[j.DebitAccount] -= j.Amount
		bt.balances[j.CreditAccount] += j.Amount
	}
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === User Balance Queries ===

// GetUserCollateral returns working base-asset balance backing a position
func (bt *BalanceTracker) GetUserCollateral(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeCollateral, assetID))
}

// GetUserDebt returns the outstanding borrow as a positive amount.
// The debt account itself accumulates credits, so its raw balance is <= 0.
func (bt *BalanceTracker) GetUserDebt(userID uuid.UUID, assetID AssetID) int64 {
	return -bt.GetBalance(NewUserAccountKey(userID, SubTypeDebt, assetID))
}

// GetUserPrincipalClaims returns principal claims minted for a user
func (bt *BalanceTracker) GetUserPrincipalClaims(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypePrincipalClaim, assetID))
}

// GetUserYieldClaims returns yield claims minted for a user
func (bt *BalanceTracker) GetUserYieldClaims(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeYieldClaim, assetID))
}

// === Invariant Checks ===

// ValidateDebtNonPositive checks that the raw debt account never flips sign.
// A positive raw balance would mean the user repaid more than was borrowed.
func (bt *BalanceTracker) ValidateDebtNonPositive(userID uuid.UUID, assetID AssetID) error {
	raw := bt.GetBalance(NewUserAccountKey(userID, SubTypeDebt, assetID))
	if raw > 0 {
		return fmt.Errorf("user %s has over-repaid debt account for asset %d: %d",
			userID.String(), assetID, raw)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
