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

// ValidateVaultsNonNegative checks both vault balances of a deal are >= 0
func (v *InvariantValidator) ValidateVaultsNonNegative(dealID uuid.UUID, assetID AssetID) error {
	if err := v.tracker.ValidateNonNegative(NewDealAccountKey(dealID, SubTypeFarmerVault, assetID)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(NewDealAccountKey(dealID, SubTypeBuyerVault, assetID))
}

// ValidateVaultsDrained verifies both vaults are empty after a terminal settlement
func (v *InvariantValidator) ValidateVaultsDrained(dealID uuid.UUID, assetID AssetID) error {
	farmer := v.tracker.GetFarmerVault(dealID, assetID)
	buyer := v.tracker.GetBuyerVault(dealID, assetID)
	if farmer != 0 || buyer != 0 {
		return fmt.Errorf("deal %s vaults not drained: farmer=%d buyer=%d", dealID, farmer, buyer)
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for asset %d is non-zero: %d", assetID, total)
		}
	}

	return nil
}
