package command

import (
	"time"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeLendOrderCreate
	CommandTypeLendOrderModify
	CommandTypeLendOrderCancel
	CommandTypeBorrowOrderCreate
	CommandTypeBorrowOrderModify
	CommandTypeBorrowOrderCancel
	CommandTypeOrderMatched
	CommandTypePriceUpdate
	CommandTypeAssetWhitelist
	CommandTypePriceFeedRegister
	CommandTypeTrustedEntityAdd
	CommandTypeSetWhitelister
)

// OperationEnvelope wraps every processed command in the log
type OperationEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	CommandType CommandType

	// Asset context (nullable for global commands)
	Asset *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all command payloads must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Asset returns the asset context (nil for global commands)
	Asset() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeLendOrderCreate:
		return "LendOrderCreate"
	case CommandTypeLendOrderModify:
		return "LendOrderModify"
	case CommandTypeLendOrderCancel:
		return "LendOrderCancel"
	case CommandTypeBorrowOrderCreate:
		return "BorrowOrderCreate"
	case CommandTypeBorrowOrderModify:
		return "BorrowOrderModify"
	case CommandTypeBorrowOrderCancel:
		return "BorrowOrderCancel"
	case CommandTypeOrderMatched:
		return "OrderMatched"
	case CommandTypePriceUpdate:
		return "PriceUpdate"
	case CommandTypeAssetWhitelist:
		return "AssetWhitelist"
	case CommandTypePriceFeedRegister:
		return "PriceFeedRegister"
	case CommandTypeTrustedEntityAdd:
		return "TrustedEntityAdd"
	case CommandTypeSetWhitelister:
		return "SetWhitelister"
	default:
		return "Unknown"
	}
}

// CommandTypeFromString inverts String. The operation log stores the
// string form, so replay needs the mapping back.
func CommandTypeFromString(s string) CommandType {
	switch s {
	case "LendOrderCreate":
		return CommandTypeLendOrderCreate
	case "LendOrderModify":
		return CommandTypeLendOrderModify
	case "LendOrderCancel":
		return CommandTypeLendOrderCancel
	case "BorrowOrderCreate":
		return CommandTypeBorrowOrderCreate
	case "BorrowOrderModify":
		return CommandTypeBorrowOrderModify
	case "BorrowOrderCancel":
		return CommandTypeBorrowOrderCancel
	case "OrderMatched":
		return CommandTypeOrderMatched
	case "PriceUpdate":
		return CommandTypePriceUpdate
	case "AssetWhitelist":
		return CommandTypeAssetWhitelist
	case "PriceFeedRegister":
		return CommandTypePriceFeedRegister
	case "TrustedEntityAdd":
		return CommandTypeTrustedEntityAdd
	case "SetWhitelister":
		return CommandTypeSetWhitelister
	default:
		return CommandTypeUnknown
	}
}
