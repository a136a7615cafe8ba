package ledger

import (
	"errors"
	"fmt"
	"sort"

	lmath "LendLedger/internal/math"
)

var (
	ErrEscrowNotFound      = errors.New("escrow record not found")
	ErrEscrowExists        = errors.New("escrow record already exists")
	ErrEscrowInactive      = errors.New("escrow record is inactive")
	ErrInsufficientLent    = errors.New("escrow total_lent below requested debit")
	ErrInsufficientBorrows = errors.New("escrow total_borrowed below requested debit")
	ErrVaultUnderflow      = errors.New("native vault balance below requested debit")
	ErrWrongVaultAuthority = errors.New("escrow authority mismatch")
)

// EscrowRecord tracks the aggregate lending activity of one asset.
// Totals are unsigned and move only through checked arithmetic; the
// paired custody transfer lives in the journal, never here.
type EscrowRecord struct {
	Asset         string   `json:"asset"`
	AssetID       AssetID  `json:"asset_id"`
	TotalLent     uint64   `json:"total_lent"`
	TotalBorrowed uint64   `json:"total_borrowed"`
	Active        bool     `json:"active"`
	Authority     [32]byte `json:"authority"`
}

// NativeVault tracks native-asset collateral locked by borrowers.
type NativeVault struct {
	Asset     string   `json:"asset"`
	AssetID   AssetID  `json:"asset_id"`
	Balance   uint64   `json:"balance"`
	Active    bool     `json:"active"`
	Authority [32]byte `json:"authority"`
}

// EscrowManager holds every escrow record plus the single native
// collateral vault. It only ever runs on the core goroutine.
type EscrowManager struct {
	records map[AssetID]*EscrowRecord
	vault   *NativeVault
}

func NewEscrowManager(nativeAsset string) *EscrowManager {
	assetID := RegisterAsset(nativeAsset)
	return &EscrowManager{
		records: make(map[AssetID]*EscrowRecord),
		vault: &NativeVault{
			Asset:     nativeAsset,
			AssetID:   assetID,
			Active:    true,
			Authority: DeriveVaultAuthority(nativeAsset),
		},
	}
}

// InitRecord creates the escrow record for a newly whitelisted asset.
func (em *EscrowManager) InitRecord(asset string) (*EscrowRecord, error) {
	assetID := RegisterAsset(asset)
	if _, exists := em.records[assetID]; exists {
		return nil, fmt.Errorf("asset %s: %w", asset, ErrEscrowExists)
	}

	record := &EscrowRecord{
		Asset:     asset,
		AssetID:   assetID,
		Active:    true,
		Authority: DeriveEscrowAuthority(asset),
	}
	em.records[assetID] = record
	return record, nil
}

// GetRecord returns the active escrow record for an asset.
func (em *EscrowManager) GetRecord(assetID AssetID) (*EscrowRecord, error) {
	record, ok := em.records[assetID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if !record.Active {
		return nil, ErrEscrowInactive
	}
	return record, nil
}

// Vault returns the native collateral vault.
func (em *EscrowManager) Vault() *NativeVault {
	return em.vault
}

// IsNative reports whether assetID is the native collateral asset.
func (em *EscrowManager) IsNative(assetID AssetID) bool {
	return assetID == em.vault.AssetID
}

// AllRecords returns records sorted by asset ID, for snapshots and
// digests.
func (em *EscrowManager) AllRecords() []*EscrowRecord {
	records := make([]*EscrowRecord, 0, len(em.records))
	for _, r := range em.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].AssetID < records[j].AssetID })
	return records
}

// Restore replaces all escrow state from a snapshot.
func (em *EscrowManager) Restore(records []*EscrowRecord, vault *NativeVault) {
	em.records = make(map[AssetID]*EscrowRecord, len(records))
	for _, r := range records {
		em.records[r.AssetID] = r
	}
	if vault != nil {
		em.vault = vault
	}
}

// EscrowField selects which escrow total a delta moves.
type EscrowField uint8

const (
	FieldTotalLent EscrowField = iota
	FieldTotalBorrowed
	FieldVaultBalance
)

// EscrowDelta is a staged, pre-validated mutation of one escrow total.
// Handlers stage deltas while validating an operation and apply them
// only after the journal batch has been accepted, so a failure anywhere
// leaves every total untouched.
type EscrowDelta struct {
	AssetID  AssetID
	Field    EscrowField
	NewValue uint64
}

// StageCredit validates adding amount to a field and returns the delta
// carrying the resulting value.
func (em *EscrowManager) StageCredit(assetID AssetID, field EscrowField, amount uint64) (EscrowDelta, error) {
	current, err := em.fieldValue(assetID, field)
	if err != nil {
		return EscrowDelta{}, err
	}
	next, err := lmath.AddU64(current, amount)
	if err != nil {
		return EscrowDelta{}, err
	}
	return EscrowDelta{AssetID: assetID, Field: field, NewValue: next}, nil
}

// StageDebit validates subtracting amount from a field.
func (em *EscrowManager) StageDebit(assetID AssetID, field EscrowField, amount uint64) (EscrowDelta, error) {
	current, err := em.fieldValue(assetID, field)
	if err != nil {
		return EscrowDelta{}, err
	}
	next, err := lmath.SubU64(current, amount)
	if err != nil {
		switch field {
		case FieldTotalLent:
			return EscrowDelta{}, ErrInsufficientLent
		case FieldTotalBorrowed:
			return EscrowDelta{}, ErrInsufficientBorrows
		default:
			return EscrowDelta{}, ErrVaultUnderflow
		}
	}
	return EscrowDelta{AssetID: assetID, Field: field, NewValue: next}, nil
}

// Apply commits staged deltas. Deltas staged against the same field
// must not coexist in one operation; each handler stages at most one
// delta per field per asset.
func (em *EscrowManager) Apply(deltas []EscrowDelta) error {
	for _, d := range deltas {
		switch d.Field {
		case FieldVaultBalance:
			if d.AssetID != em.vault.AssetID {
				return ErrEscrowNotFound
			}
			em.vault.Balance = d.NewValue
		default:
			record, err := em.GetRecord(d.AssetID)
			if err != nil {
				return err
			}
			if d.Field == FieldTotalLent {
				record.TotalLent = d.NewValue
			} else {
				record.TotalBorrowed = d.NewValue
			}
		}
	}
	return nil
}

func (em *EscrowManager) fieldValue(assetID AssetID, field EscrowField) (uint64, error) {
	if field == FieldVaultBalance {
		if assetID != em.vault.AssetID || !em.vault.Active {
			return 0, ErrEscrowNotFound
		}
		return em.vault.Balance, nil
	}
	record, err := em.GetRecord(assetID)
	if err != nil {
		return 0, err
	}
	if field == FieldTotalLent {
		return record.TotalLent, nil
	}
	return record.TotalBorrowed, nil
}
