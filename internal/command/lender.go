package command

import (
	"time"

	"github.com/google/uuid"
)

type LendOrderCreate struct {
	RequestID       uuid.UUID
	Lender          uuid.UUID
	LendAsset       string
	Amount          uint64
	InterestRateBps uint64
	DurationSeconds uint64
	Sequence        int64
	Timestamp       time.Time
}

func (c *LendOrderCreate) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *LendOrderCreate) CommandType() CommandType {
	return CommandTypeLendOrderCreate
}

func (c *LendOrderCreate) Asset() *string {
	return &c.LendAsset
}

func (c *LendOrderCreate) SourceSequence() int64 {
	return c.Sequence
}

// LendOrderModify tops up and/or re-terms an open lend order. A zero
// TopUpAmount leaves the escrowed amount untouched; the terms are
// re-validated only when they differ from the current ones.
type LendOrderModify struct {
	RequestID       uuid.UUID
	Lender          uuid.UUID
	LendAsset       string
	TopUpAmount     uint64
	InterestRateBps uint64
	DurationSeconds uint64
	Sequence        int64
	Timestamp       time.Time
}

func (c *LendOrderModify) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *LendOrderModify) CommandType() CommandType {
	return CommandTypeLendOrderModify
}

func (c *LendOrderModify) Asset() *string {
	return &c.LendAsset
}

func (c *LendOrderModify) SourceSequence() int64 {
	return c.Sequence
}

type LendOrderCancel struct {
	RequestID uuid.UUID
	Lender    uuid.UUID
	LendAsset string
	Sequence  int64
	Timestamp time.Time
}

func (c *LendOrderCancel) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *LendOrderCancel) CommandType() CommandType {
	return CommandTypeLendOrderCancel
}

func (c *LendOrderCancel) Asset() *string {
	return &c.LendAsset
}

func (c *LendOrderCancel) SourceSequence() int64 {
	return c.Sequence
}
