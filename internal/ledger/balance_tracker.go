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

// === Escrow Account Queries ===

// GetLendingPoolBalance returns the custody balance of an asset's
// lending pool account. It mirrors the tokens the pool actually holds,
// as opposed to the escrow record's lent/borrowed totals.
func (bt *BalanceTracker) GetLendingPoolBalance(asset string, assetID AssetID) int64 {
	return bt.GetBalance(LendingPoolKey(asset, assetID))
}

// GetCollateralVaultBalance returns the locked collateral held for a
// non-native asset.
func (bt *BalanceTracker) GetCollateralVaultBalance(asset string, assetID AssetID) int64 {
	return bt.GetBalance(CollateralVaultKey(asset, assetID))
}

// GetNativeVaultBalance returns the native-asset collateral vault
// balance.
func (bt *BalanceTracker) GetNativeVaultBalance(nativeAsset string, assetID AssetID) int64 {
	return bt.GetBalance(NativeVaultKey(nativeAsset, assetID))
}

// GetUserWalletBalance returns a user's boundary wallet balance. It is
// usually negative: it tracks how much of the user's externally held
// funds have moved into custody.
func (bt *BalanceTracker) GetUserWalletBalance(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewUserWalletKey(userID, assetID))
}

// === Invariant Checks ===

// ValidateSufficientPool checks that a lending pool holds enough tokens
// to pay out the requested amount.
func (bt *BalanceTracker) ValidateSufficientPool(asset string, assetID AssetID, required int64) error {
	held := bt.GetLendingPoolBalance(asset, assetID)
	if held < required {
		return fmt.Errorf("insufficient pool balance for %s: have=%d, need=%d", asset, held, required)
	}
	return nil
}

// ValidateEscrowNonNegative checks that every escrow-scope account is
// >= 0. Boundary wallets may go negative; custody vaults never can.
func (bt *BalanceTracker) ValidateEscrowNonNegative() error {
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeEscrow && balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
		}
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

// SetBalance writes an account balance directly (snapshot restore)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
