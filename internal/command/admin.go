package command

import (
	"time"

	"github.com/google/uuid"
)

// AssetWhitelist admits a token to the venue and initializes its escrow
// record. Whitelister only.
type AssetWhitelist struct {
	RequestID uuid.UUID
	Caller    uuid.UUID
	Token     string
	Sequence  int64
	Timestamp time.Time
}

func (c *AssetWhitelist) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *AssetWhitelist) CommandType() CommandType {
	return CommandTypeAssetWhitelist
}

func (c *AssetWhitelist) Asset() *string {
	return &c.Token
}

func (c *AssetWhitelist) SourceSequence() int64 {
	return c.Sequence
}

// PriceFeedRegister binds an oracle feed to an asset in the singleton
// registry. Registry authority only.
type PriceFeedRegister struct {
	RequestID uuid.UUID
	Caller    uuid.UUID
	FeedAsset string
	FeedID    [32]byte
	Sequence  int64
	Timestamp time.Time
}

func (c *PriceFeedRegister) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *PriceFeedRegister) CommandType() CommandType {
	return CommandTypePriceFeedRegister
}

func (c *PriceFeedRegister) Asset() *string {
	return &c.FeedAsset
}

func (c *PriceFeedRegister) SourceSequence() int64 {
	return c.Sequence
}

// TrustedEntityAdd authorizes an entity to submit matched orders.
// Admin only.
type TrustedEntityAdd struct {
	RequestID uuid.UUID
	Caller    uuid.UUID
	Entity    uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (c *TrustedEntityAdd) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *TrustedEntityAdd) CommandType() CommandType {
	return CommandTypeTrustedEntityAdd
}

func (c *TrustedEntityAdd) Asset() *string {
	return nil // Global command
}

func (c *TrustedEntityAdd) SourceSequence() int64 {
	return c.Sequence
}

// SetWhitelister appoints the whitelister. Admin only.
type SetWhitelister struct {
	RequestID   uuid.UUID
	Caller      uuid.UUID
	Whitelister uuid.UUID
	Sequence    int64
	Timestamp   time.Time
}

func (c *SetWhitelister) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *SetWhitelister) CommandType() CommandType {
	return CommandTypeSetWhitelister
}

func (c *SetWhitelister) Asset() *string {
	return nil // Global command
}

func (c *SetWhitelister) SourceSequence() int64 {
	return c.Sequence
}
