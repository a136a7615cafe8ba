package command

import (
	"time"

	"github.com/google/uuid"
)

type BorrowOrderCreate struct {
	RequestID       uuid.UUID
	Borrower        uuid.UUID
	BorrowAsset     string
	CollateralAsset string
	BorrowAmount    uint64
	InterestRateBps uint64
	DurationSeconds uint64
	Sequence        int64
	Timestamp       time.Time
}

func (c *BorrowOrderCreate) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *BorrowOrderCreate) CommandType() CommandType {
	return CommandTypeBorrowOrderCreate
}

func (c *BorrowOrderCreate) Asset() *string {
	return &c.BorrowAsset
}

func (c *BorrowOrderCreate) SourceSequence() int64 {
	return c.Sequence
}

// BorrowOrderModify grows an open borrow order. The additional amount
// is priced on its own (delta pricing) and the extra collateral locked
// on top of what the order already holds; the terms are replaced with
// the submitted ones.
type BorrowOrderModify struct {
	RequestID        uuid.UUID
	Borrower         uuid.UUID
	BorrowAsset      string
	AdditionalAmount uint64
	InterestRateBps  uint64
	DurationSeconds  uint64
	Sequence         int64
	Timestamp        time.Time
}

func (c *BorrowOrderModify) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *BorrowOrderModify) CommandType() CommandType {
	return CommandTypeBorrowOrderModify
}

func (c *BorrowOrderModify) Asset() *string {
	return &c.BorrowAsset
}

func (c *BorrowOrderModify) SourceSequence() int64 {
	return c.Sequence
}

type BorrowOrderCancel struct {
	RequestID   uuid.UUID
	Borrower    uuid.UUID
	BorrowAsset string
	Sequence    int64
	Timestamp   time.Time
}

func (c *BorrowOrderCancel) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *BorrowOrderCancel) CommandType() CommandType {
	return CommandTypeBorrowOrderCancel
}

func (c *BorrowOrderCancel) Asset() *string {
	return &c.BorrowAsset
}

func (c *BorrowOrderCancel) SourceSequence() int64 {
	return c.Sequence
}
