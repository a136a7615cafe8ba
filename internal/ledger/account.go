package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeEscrow
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// Escrow sub-types
	SubTypeLendingPool
	SubTypeCollateralVault
	SubTypeNativeVault

	// External sub-types
	SubTypeExternalCustody
)

// AssetID maps asset symbols to numeric IDs for compact keys. IDs are
// assigned when an asset is whitelisted and survive restarts via
// snapshots, so an asset keeps its ID for the lifetime of the ledger.
type AssetID uint16

var (
	assetMu   sync.RWMutex
	assetToID = map[string]AssetID{}
	idToAsset = map[AssetID]string{}
	nextAsset AssetID = 1
)

// RegisterAsset assigns an ID to a new asset symbol. Registering an
// already-known symbol returns its existing ID.
func RegisterAsset(asset string) AssetID {
	assetMu.Lock()
	defer assetMu.Unlock()

	if id, ok := assetToID[asset]; ok {
		return id
	}
	id := nextAsset
	nextAsset++
	assetToID[asset] = id
	idToAsset[id] = asset
	return id
}

func GetAssetID(asset string) (AssetID, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	name, ok := idToAsset[id]
	return name, ok
}

// ExportAssets returns the symbol table sorted by ID, for snapshots.
func ExportAssets() []RegisteredAsset {
	assetMu.RLock()
	defer assetMu.RUnlock()

	assets := make([]RegisteredAsset, 0, len(assetToID))
	for symbol, id := range assetToID {
		assets = append(assets, RegisteredAsset{Symbol: symbol, ID: id})
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
	return assets
}

// RestoreAssets reloads the symbol table from a snapshot, replacing the
// current assignments.
func RestoreAssets(assets []RegisteredAsset) {
	assetMu.Lock()
	defer assetMu.Unlock()

	assetToID = make(map[string]AssetID, len(assets))
	idToAsset = make(map[AssetID]string, len(assets))
	nextAsset = 1
	for _, a := range assets {
		assetToID[a.Symbol] = a.ID
		idToAsset[a.ID] = a.Symbol
		if a.ID >= nextAsset {
			nextAsset = a.ID + 1
		}
	}
}

type RegisteredAsset struct {
	Symbol string  `json:"symbol"`
	ID     AssetID `json:"id"`
}

// AccountKey is the in-memory key for balance tracking (20 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, vault tag for escrow accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserWalletKey creates a key for a user's boundary wallet. Wallet
// balances go negative as tokens move into custody; they mirror funds
// held outside the ledger.
func NewUserWalletKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// NewEscrowAccountKey creates a key for a per-asset escrow account. The
// vault tag is the asset symbol copied into 16 bytes.
func NewEscrowAccountKey(asset string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(asset))
	return AccountKey{
		Scope:    AccountScopeEscrow,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalCustody,
		AssetID: assetID,
	}
}

// LendingPoolKey returns the escrow pool account holding lent funds of
// an asset.
func LendingPoolKey(asset string, assetID AssetID) AccountKey {
	return NewEscrowAccountKey(asset, SubTypeLendingPool, assetID)
}

// CollateralVaultKey returns the escrow account holding locked
// collateral of a non-native asset.
func CollateralVaultKey(asset string, assetID AssetID) AccountKey {
	return NewEscrowAccountKey(asset, SubTypeCollateralVault, assetID)
}

// NativeVaultKey returns the single vault account for native-asset
// collateral.
func NativeVaultKey(nativeAsset string, assetID AssetID) AccountKey {
	return NewEscrowAccountKey(nativeAsset, SubTypeNativeVault, assetID)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeEscrow:
		return fmt.Sprintf("escrow:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeLendingPool:
		return "lending_pool"
	case SubTypeCollateralVault:
		return "collateral_vault"
	case SubTypeNativeVault:
		return "native_vault"
	case SubTypeExternalCustody:
		return "custody"
	default:
		return "unknown"
	}
}
