package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrAmountOutOfRange means a uint64 token amount cannot be represented
// as a positive journal amount.
var ErrAmountOutOfRange = errors.New("amount exceeds journal range")

const maxJournalAmount = uint64(1<<63 - 1)

func toJournalAmount(amount uint64) (int64, error) {
	if amount > maxJournalAmount {
		return 0, ErrAmountOutOfRange
	}
	return int64(amount), nil
}

// JournalGenerator creates balanced journal batches from operations
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence realigns the generator after a snapshot restore.
func (jg *JournalGenerator) SetSequence(sequence int64) {
	jg.sequence = sequence
}

// GenerateLendDeposit moves a lender's funds into the asset's lending
// pool: user:wallet -> escrow:lending_pool.
func (jg *JournalGenerator) GenerateLendDeposit(
	lender uuid.UUID,
	orderRef string,
	asset string,
	assetID AssetID,
	amount uint64,
	timestamp int64,
) (*Batch, error) {
	return jg.singleTransfer(
		orderRef,
		LendingPoolKey(asset, assetID),
		NewUserWalletKey(lender, assetID),
		assetID, amount, JournalTypeLendDeposit, timestamp,
	)
}

// GenerateLendTopUp adds to an existing lend order. Same movement as a
// deposit, tagged separately for the audit trail.
func (jg *JournalGenerator) GenerateLendTopUp(
	lender uuid.UUID,
	orderRef string,
	asset string,
	assetID AssetID,
	amount uint64,
	timestamp int64,
) (*Batch, error) {
	return jg.singleTransfer(
		orderRef,
		LendingPoolKey(asset, assetID),
		NewUserWalletKey(lender, assetID),
		assetID, amount, JournalTypeLendTopUp, timestamp,
	)
}

// GenerateLendRefund returns a cancelled lend order's full amount:
// escrow:lending_pool -> user:wallet. Pool-outbound transfers require
// the pool's derived authority and a sufficient pool balance.
func (jg *JournalGenerator) GenerateLendRefund(
	lender uuid.UUID,
	orderRef string,
	asset string,
	assetID AssetID,
	amount uint64,
	authority [32]byte,
	timestamp int64,
) (*Batch, error) {
	if authority != DeriveEscrowAuthority(asset) {
		return nil, fmt.Errorf("refund for %s: %w", asset, ErrWrongVaultAuthority)
	}

	journalAmount, err := toJournalAmount(amount)
	if err != nil {
		return nil, err
	}
	if err := jg.balanceTracker.ValidateSufficientPool(asset, assetID, journalAmount); err != nil {
		return nil, fmt.Errorf("refund pre-check failed: %w", err)
	}

	return jg.singleTransfer(
		orderRef,
		NewUserWalletKey(lender, assetID),
		LendingPoolKey(asset, assetID),
		assetID, amount, JournalTypeLendRefund, timestamp,
	)
}

// GenerateBorrowDisbursement creates the two legs of a new borrow: the
// collateral lock (user:wallet -> vault) and the payout from the borrow
// asset's lending pool (escrow:lending_pool -> user:wallet).
func (jg *JournalGenerator) GenerateBorrowDisbursement(
	borrower uuid.UUID,
	orderRef string,
	borrowAsset string,
	borrowAssetID AssetID,
	borrowAmount uint64,
	collateralAsset string,
	collateralAssetID AssetID,
	collateralAmount uint64,
	collateralIsNative bool,
	poolAuthority [32]byte,
	timestamp int64,
) (*Batch, error) {
	if poolAuthority != DeriveEscrowAuthority(borrowAsset) {
		return nil, fmt.Errorf("payout for %s: %w", borrowAsset, ErrWrongVaultAuthority)
	}

	borrowInt, err := toJournalAmount(borrowAmount)
	if err != nil {
		return nil, err
	}
	collateralInt, err := toJournalAmount(collateralAmount)
	if err != nil {
		return nil, err
	}
	if err := jg.balanceTracker.ValidateSufficientPool(borrowAsset, borrowAssetID, borrowInt); err != nil {
		return nil, fmt.Errorf("borrow pre-check failed: %w", err)
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		OpRef:     orderRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}

	// Leg 1: lock collateral
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		OpRef:         orderRef,
		Sequence:      jg.sequence,
		DebitAccount:  collateralVaultFor(collateralAsset, collateralAssetID, collateralIsNative),
		CreditAccount: NewUserWalletKey(borrower, collateralAssetID),
		AssetID:       collateralAssetID,
		Amount:        collateralInt,
		JournalType:   JournalTypeCollateralLock,
		Timestamp:     timestamp,
	})

	// Leg 2: pay out the borrowed funds
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		OpRef:         orderRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewUserWalletKey(borrower, borrowAssetID),
		CreditAccount: LendingPoolKey(borrowAsset, borrowAssetID),
		AssetID:       borrowAssetID,
		Amount:        borrowInt,
		JournalType:   JournalTypeBorrowPayout,
		Timestamp:     timestamp,
	})

	jg.sequence++
	return batch, nil
}

// GenerateBorrowClose creates the two legs of a borrow cancellation:
// the repayment (user:wallet -> escrow:lending_pool) and the collateral
// unlock (vault -> user:wallet). Vault-outbound transfers require the
// vault's derived authority.
func (jg *JournalGenerator) GenerateBorrowClose(
	borrower uuid.UUID,
	orderRef string,
	borrowAsset string,
	borrowAssetID AssetID,
	borrowAmount uint64,
	collateralAsset string,
	collateralAssetID AssetID,
	collateralAmount uint64,
	collateralIsNative bool,
	vaultAuthority [32]byte,
	timestamp int64,
) (*Batch, error) {
	if vaultAuthority != DeriveVaultAuthority(collateralAsset) {
		return nil, fmt.Errorf("unlock for %s: %w", collateralAsset, ErrWrongVaultAuthority)
	}

	borrowInt, err := toJournalAmount(borrowAmount)
	if err != nil {
		return nil, err
	}
	collateralInt, err := toJournalAmount(collateralAmount)
	if err != nil {
		return nil, err
	}

	vaultKey := collateralVaultFor(collateralAsset, collateralAssetID, collateralIsNative)
	if held := jg.balanceTracker.GetBalance(vaultKey); held < collateralInt {
		return nil, fmt.Errorf("unlock pre-check failed: vault %s holds %d, need %d",
			vaultKey.AccountPath(), held, collateralInt)
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		OpRef:     orderRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}

	// Leg 1: repay the outstanding borrow
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		OpRef:         orderRef,
		Sequence:      jg.sequence,
		DebitAccount:  LendingPoolKey(borrowAsset, borrowAssetID),
		CreditAccount: NewUserWalletKey(borrower, borrowAssetID),
		AssetID:       borrowAssetID,
		Amount:        borrowInt,
		JournalType:   JournalTypeBorrowRepay,
		Timestamp:     timestamp,
	})

	// Leg 2: release the locked collateral
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		OpRef:         orderRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewUserWalletKey(borrower, collateralAssetID),
		CreditAccount: vaultKey,
		AssetID:       collateralAssetID,
		Amount:        collateralInt,
		JournalType:   JournalTypeCollateralUnlock,
		Timestamp:     timestamp,
	})

	jg.sequence++
	return batch, nil
}

func collateralVaultFor(asset string, assetID AssetID, isNative bool) AccountKey {
	if isNative {
		return NativeVaultKey(asset, assetID)
	}
	return CollateralVaultKey(asset, assetID)
}

func (jg *JournalGenerator) singleTransfer(
	orderRef string,
	debit AccountKey,
	credit AccountKey,
	assetID AssetID,
	amount uint64,
	journalType JournalType,
	timestamp int64,
) (*Batch, error) {
	journalAmount, err := toJournalAmount(amount)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		OpRef:     orderRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			OpRef:         orderRef,
			Sequence:      jg.sequence,
			DebitAccount:  debit,
			CreditAccount: credit,
			AssetID:       assetID,
			Amount:        journalAmount,
			JournalType:   journalType,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}
