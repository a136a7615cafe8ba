package ledger

import "fmt"

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
	escrows *EscrowManager
}

func NewInvariantValidator(tracker *BalanceTracker, escrows *EscrowManager) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
		escrows: escrows,
	}
}

// ValidateBatchBalance verifies the batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the system is zero-sum per asset
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

// ValidateEscrowConsistency verifies every escrow record against the
// custody ledger: the asset's escrow accounts (lending pool plus
// collateral vault) must hold exactly total_lent - total_borrowed
// tokens, and no escrow account may be negative. Locked collateral
// counts toward total_lent as the supplied side of a borrow.
func (v *InvariantValidator) ValidateEscrowConsistency() error {
	if err := v.tracker.ValidateEscrowNonNegative(); err != nil {
		return err
	}

	for _, record := range v.escrows.AllRecords() {
		if record.TotalBorrowed > record.TotalLent {
			return fmt.Errorf("escrow %s borrowed %d exceeds lent %d",
				record.Asset, record.TotalBorrowed, record.TotalLent)
		}
		expected := int64(record.TotalLent - record.TotalBorrowed)
		held := v.tracker.GetLendingPoolBalance(record.Asset, record.AssetID) +
			v.tracker.GetCollateralVaultBalance(record.Asset, record.AssetID)
		if held != expected {
			return fmt.Errorf("escrow %s accounts hold %d, records say %d",
				record.Asset, held, expected)
		}
	}

	vault := v.escrows.Vault()
	held := v.tracker.GetNativeVaultBalance(vault.Asset, vault.AssetID)
	if vault.Balance > maxJournalAmount || held != int64(vault.Balance) {
		return fmt.Errorf("native vault holds %d, record says %d", held, vault.Balance)
	}

	return nil
}
