package state

import "github.com/google/uuid"

// LenderPosition is one user's open lend order for one asset.
type LenderPosition struct {
	PositionID          uint64    `json:"position_id"`
	Lender              uuid.UUID `json:"lender"`
	Asset               string    `json:"asset"`
	Amount              uint64    `json:"amount"`
	Terms               LoanTerms `json:"terms"`
	Matched             bool      `json:"matched"`
	InterestAccumulated uint64    `json:"interest_accumulated"`
	CreatedAt           int64     `json:"created_at"`
	Version             int64     `json:"version"`
}

// BorrowerPosition is one user's open borrow order for one asset.
type BorrowerPosition struct {
	PositionID       uint64    `json:"position_id"`
	Borrower         uuid.UUID `json:"borrower"`
	BorrowAsset      string    `json:"borrow_asset"`
	CollateralAsset  string    `json:"collateral_asset"`
	BorrowAmount     uint64    `json:"borrow_amount"`
	CollateralAmount uint64    `json:"collateral_amount"`
	Terms            LoanTerms `json:"terms"`
	Matched          bool      `json:"matched"`
	StartedAt        int64     `json:"started_at"`
	Version          int64     `json:"version"`
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *LenderPosition) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)

	buf = appendUint64LE(buf, p.PositionID)
	buf = append(buf, p.Lender[:]...)
	buf = append(buf, byte(len(p.Asset)))
	buf = append(buf, []byte(p.Asset)...)
	buf = appendUint64LE(buf, p.Amount)
	buf = appendUint64LE(buf, p.Terms.InterestRateBps)
	buf = appendUint64LE(buf, p.Terms.DurationSeconds)
	if p.Matched {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUint64LE(buf, p.InterestAccumulated)
	buf = appendInt64LE(buf, p.CreatedAt)

	return buf
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *BorrowerPosition) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	buf = appendUint64LE(buf, p.PositionID)
	buf = append(buf, p.Borrower[:]...)
	buf = append(buf, byte(len(p.BorrowAsset)))
	buf = append(buf, []byte(p.BorrowAsset)...)
	buf = append(buf, byte(len(p.CollateralAsset)))
	buf = append(buf, []byte(p.CollateralAsset)...)
	buf = appendUint64LE(buf, p.BorrowAmount)
	buf = appendUint64LE(buf, p.CollateralAmount)
	buf = appendUint64LE(buf, p.Terms.InterestRateBps)
	buf = appendUint64LE(buf, p.Terms.DurationSeconds)
	if p.Matched {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendInt64LE(buf, p.StartedAt)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
