package command

import (
	"time"

	"github.com/google/uuid"
)

// OrderMatched is produced by an external matching engine and submitted
// by a trusted entity. The core validates both positions and flips
// their matched flags; it never matches orders itself.
type OrderMatched struct {
	MatchID     uuid.UUID
	SubmittedBy uuid.UUID
	Lender      uuid.UUID
	Borrower    uuid.UUID
	MatchAsset  string
	Sequence    int64
	Timestamp   time.Time
}

func (c *OrderMatched) IdempotencyKey() string {
	return c.MatchID.String()
}

func (c *OrderMatched) CommandType() CommandType {
	return CommandTypeOrderMatched
}

func (c *OrderMatched) Asset() *string {
	return &c.MatchAsset
}

func (c *OrderMatched) SourceSequence() int64 {
	return c.Sequence
}
