package core

import (
	"LendLedger/internal/state"
)

// InterestAccruer computes interest earned by an open lend order since
// it was last touched. The result is settled into the position's
// accumulated interest when the order is modified.
type InterestAccruer interface {
	Accrue(pos *state.LenderPosition, asOf int64) uint64
}

// FlatAccruer accrues nothing. Unmatched orders earn no interest, and
// interest on matched orders is settled by the downstream servicing
// system, not this ledger.
type FlatAccruer struct{}

func (FlatAccruer) Accrue(*state.LenderPosition, int64) uint64 {
	return 0
}
