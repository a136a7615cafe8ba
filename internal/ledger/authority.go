package ledger

import "crypto/sha256"

const (
	escrowAuthorityTag = "lend:escrow:authority:"
	vaultAuthorityTag  = "lend:vault:authority:"
)

// DeriveEscrowAuthority derives the authority tag for an asset's escrow
// pool. Every journal that moves tokens out of the pool must present
// this tag, so a handler cannot accidentally pay out of the wrong pool.
func DeriveEscrowAuthority(asset string) [32]byte {
	return sha256.Sum256([]byte(escrowAuthorityTag + asset))
}

// DeriveVaultAuthority derives the authority tag for the native
// collateral vault.
func DeriveVaultAuthority(asset string) [32]byte {
	return sha256.Sum256([]byte(vaultAuthorityTag + asset))
}
