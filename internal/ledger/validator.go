package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateUserDebtSign verifies the liability account never flips positive
func (v *InvariantValidator) ValidateUserDebtSign(userID uuid.UUID, assetID AssetID) error {
	return v.tracker.ValidateDebtNonPositive(userID, assetID)
}

// ValidateClaimsNonNegative verifies claim accounts stay >= 0 for a user
func (v *InvariantValidator) ValidateClaimsNonNegative(userID uuid.UUID, principalAsset, yieldAsset AssetID) error {
	if err := v.tracker.ValidateNonNegative(NewUserAccountKey(userID, SubTypePrincipalClaim, principalAsset)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(NewUserAccountKey(userID, SubTypeYieldClaim, yieldAsset))
}
