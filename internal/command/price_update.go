package command

import (
	"fmt"
	"time"
)

// PriceUpdate carries a fresh oracle quote for one feed. Price streams
// are gap-tolerant: sequence regressions are dropped, gaps accepted.
type PriceUpdate struct {
	FeedID      [32]byte
	FeedAsset   string
	Mantissa    uint64
	Exponent    int32
	PublishTime int64 // unix seconds
	Sequence    int64
	Timestamp   time.Time
}

func (c *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", c.FeedAsset, c.Sequence)
}

func (c *PriceUpdate) CommandType() CommandType {
	return CommandTypePriceUpdate
}

func (c *PriceUpdate) Asset() *string {
	return &c.FeedAsset
}

func (c *PriceUpdate) SourceSequence() int64 {
	return c.Sequence
}
