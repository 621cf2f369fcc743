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

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === Domain Balance Queries ===

// GetPartyWallet returns a party's free wallet balance
func (bt *BalanceTracker) GetPartyWallet(partyID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewPartyAccountKey(partyID, SubTypeWallet, assetID))
}

// GetPartyReceive returns a party's settlement-receive balance
func (bt *BalanceTracker) GetPartyReceive(partyID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewPartyAccountKey(partyID, SubTypeReceive, assetID))
}

// GetFarmerVault returns a deal's farmer vault balance
func (bt *BalanceTracker) GetFarmerVault(dealID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewDealAccountKey(dealID, SubTypeFarmerVault, assetID))
}

// GetBuyerVault returns a deal's buyer vault balance
func (bt *BalanceTracker) GetBuyerVault(dealID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewDealAccountKey(dealID, SubTypeBuyerVault, assetID))
}

// GetFeeTreasury returns a market's accumulated protocol fees
func (bt *BalanceTracker) GetFeeTreasury(marketID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewSystemAccountKey(marketID, SubTypeFeeTreasury, assetID))
}

// GetInsuranceTreasury returns a market's insurance reserve
func (bt *BalanceTracker) GetInsuranceTreasury(marketID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewSystemAccountKey(marketID, SubTypeInsuranceTreasury, assetID))
}

// === Invariant Checks ===

// ValidateSufficient checks an account can fund a transfer of the given size.
// External boundary accounts are exempt: they go arbitrarily negative, that
// is what makes the in-system books zero-sum.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required int64) error {
	if key.Scope == AccountScopeExternal {
		return nil
	}
	balance := bt.GetBalance(key)
	if balance < required {
		return fmt.Errorf("insufficient balance on %s: have=%d, need=%d", key.AccountPath(), balance, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
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

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
