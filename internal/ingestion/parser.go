package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"LendLedger/internal/command"

	"github.com/google/uuid"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type
// string) into a typed command.Command. The ingestion shell validates,
// parses, and converts raw messages before sending to the core. The
// same wire structs serve the HTTP order surface.
func ParseRawCommand(raw RawCommand, commandType string) (command.Command, error) {
	return ParseCommand(commandType, raw.Data)
}

// ParseCommand parses a JSON payload by command type name.
func ParseCommand(commandType string, data []byte) (command.Command, error) {
	switch commandType {
	case "LendOrderCreate":
		return ParseLendOrderCreate(data)
	case "LendOrderModify":
		return ParseLendOrderModify(data)
	case "LendOrderCancel":
		return ParseLendOrderCancel(data)
	case "BorrowOrderCreate":
		return ParseBorrowOrderCreate(data)
	case "BorrowOrderModify":
		return ParseBorrowOrderModify(data)
	case "BorrowOrderCancel":
		return ParseBorrowOrderCancel(data)
	case "OrderMatched":
		return ParseOrderMatched(data)
	case "PriceUpdate":
		return ParsePriceUpdate(data)
	case "AssetWhitelist":
		return ParseAssetWhitelist(data)
	case "PriceFeedRegister":
		return ParsePriceFeedRegister(data)
	case "TrustedEntityAdd":
		return ParseTrustedEntityAdd(data)
	case "SetWhitelister":
		return ParseSetWhitelister(data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS and the
// HTTP order surface. Field names use snake_case to match upstream
// producers.

func parseFeedID(s string) ([32]byte, error) {
	var feedID [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return feedID, fmt.Errorf("feed_id is not hex: %w", err)
	}
	if len(raw) != 32 {
		return feedID, fmt.Errorf("feed_id must be 32 bytes, got %d", len(raw))
	}
	copy(feedID[:], raw)
	return feedID, nil
}

type lendOrderCreateJSON struct {
	RequestID       string `json:"request_id"`
	Lender          string `json:"lender"`
	LendAsset       string `json:"lend_asset"`
	Amount          uint64 `json:"amount"`
	InterestRateBps uint64 `json:"interest_rate_bps"`
	DurationSeconds uint64 `json:"duration_seconds"`
	Sequence        int64  `json:"sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func ParseLendOrderCreate(data []byte) (*command.LendOrderCreate, error) {
	var j lendOrderCreateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LendOrderCreate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	lender, err := uuid.Parse(j.Lender)
	if err != nil {
		return nil, fmt.Errorf("parse lender: %w", err)
	}
	return &command.LendOrderCreate{
		RequestID:       requestID,
		Lender:          lender,
		LendAsset:       j.LendAsset,
		Amount:          j.Amount,
		InterestRateBps: j.InterestRateBps,
		DurationSeconds: j.DurationSeconds,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type lendOrderModifyJSON struct {
	RequestID       string `json:"request_id"`
	Lender          string `json:"lender"`
	LendAsset       string `json:"lend_asset"`
	TopUpAmount     uint64 `json:"top_up_amount"`
	InterestRateBps uint64 `json:"interest_rate_bps"`
	DurationSeconds uint64 `json:"duration_seconds"`
	Sequence        int64  `json:"sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func ParseLendOrderModify(data []byte) (*command.LendOrderModify, error) {
	var j lendOrderModifyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LendOrderModify: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	lender, err := uuid.Parse(j.Lender)
	if err != nil {
		return nil, fmt.Errorf("parse lender: %w", err)
	}
	return &command.LendOrderModify{
		RequestID:       requestID,
		Lender:          lender,
		LendAsset:       j.LendAsset,
		TopUpAmount:     j.TopUpAmount,
		InterestRateBps: j.InterestRateBps,
		DurationSeconds: j.DurationSeconds,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type lendOrderCancelJSON struct {
	RequestID   string `json:"request_id"`
	Lender      string `json:"lender"`
	LendAsset   string `json:"lend_asset"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func ParseLendOrderCancel(data []byte) (*command.LendOrderCancel, error) {
	var j lendOrderCancelJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LendOrderCancel: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	lender, err := uuid.Parse(j.Lender)
	if err != nil {
		return nil, fmt.Errorf("parse lender: %w", err)
	}
	return &command.LendOrderCancel{
		RequestID: requestID,
		Lender:    lender,
		LendAsset: j.LendAsset,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type borrowOrderCreateJSON struct {
	RequestID       string `json:"request_id"`
	Borrower        string `json:"borrower"`
	BorrowAsset     string `json:"borrow_asset"`
	CollateralAsset string `json:"collateral_asset"`
	BorrowAmount    uint64 `json:"borrow_amount"`
	InterestRateBps uint64 `json:"interest_rate_bps"`
	DurationSeconds uint64 `json:"duration_seconds"`
	Sequence        int64  `json:"sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func ParseBorrowOrderCreate(data []byte) (*command.BorrowOrderCreate, error) {
	var j borrowOrderCreateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BorrowOrderCreate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	borrower, err := uuid.Parse(j.Borrower)
	if err != nil {
		return nil, fmt.Errorf("parse borrower: %w", err)
	}
	return &command.BorrowOrderCreate{
		RequestID:       requestID,
		Borrower:        borrower,
		BorrowAsset:     j.BorrowAsset,
		CollateralAsset: j.CollateralAsset,
		BorrowAmount:    j.BorrowAmount,
		InterestRateBps: j.InterestRateBps,
		DurationSeconds: j.DurationSeconds,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type borrowOrderModifyJSON struct {
	RequestID        string `json:"request_id"`
	Borrower         string `json:"borrower"`
	BorrowAsset      string `json:"borrow_asset"`
	AdditionalAmount uint64 `json:"additional_amount"`
	InterestRateBps  uint64 `json:"interest_rate_bps"`
	DurationSeconds  uint64 `json:"duration_seconds"`
	Sequence         int64  `json:"sequence"`
	TimestampUs      int64  `json:"timestamp_us"`
}

func ParseBorrowOrderModify(data []byte) (*command.BorrowOrderModify, error) {
	var j borrowOrderModifyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BorrowOrderModify: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	borrower, err := uuid.Parse(j.Borrower)
	if err != nil {
		return nil, fmt.Errorf("parse borrower: %w", err)
	}
	return &command.BorrowOrderModify{
		RequestID:        requestID,
		Borrower:         borrower,
		BorrowAsset:      j.BorrowAsset,
		AdditionalAmount: j.AdditionalAmount,
		InterestRateBps:  j.InterestRateBps,
		DurationSeconds:  j.DurationSeconds,
		Sequence:         j.Sequence,
		Timestamp:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type borrowOrderCancelJSON struct {
	RequestID   string `json:"request_id"`
	Borrower    string `json:"borrower"`
	BorrowAsset string `json:"borrow_asset"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func ParseBorrowOrderCancel(data []byte) (*command.BorrowOrderCancel, error) {
	var j borrowOrderCancelJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BorrowOrderCancel: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	borrower, err := uuid.Parse(j.Borrower)
	if err != nil {
		return nil, fmt.Errorf("parse borrower: %w", err)
	}
	return &command.BorrowOrderCancel{
		RequestID: requestID,
		Borrower:  borrower,
		BorrowAsset: j.BorrowAsset,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type orderMatchedJSON struct {
	MatchID     string `json:"match_id"`
	SubmittedBy string `json:"submitted_by"`
	Lender      string `json:"lender"`
	Borrower    string `json:"borrower"`
	MatchAsset  string `json:"match_asset"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func ParseOrderMatched(data []byte) (*command.OrderMatched, error) {
	var j orderMatchedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OrderMatched: %w", err)
	}
	matchID, err := uuid.Parse(j.MatchID)
	if err != nil {
		return nil, fmt.Errorf("parse match_id: %w", err)
	}
	submittedBy, err := uuid.Parse(j.SubmittedBy)
	if err != nil {
		return nil, fmt.Errorf("parse submitted_by: %w", err)
	}
	lender, err := uuid.Parse(j.Lender)
	if err != nil {
		return nil, fmt.Errorf("parse lender: %w", err)
	}
	borrower, err := uuid.Parse(j.Borrower)
	if err != nil {
		return nil, fmt.Errorf("parse borrower: %w", err)
	}
	return &command.OrderMatched{
		MatchID:     matchID,
		SubmittedBy: submittedBy,
		Lender:      lender,
		Borrower:    borrower,
		MatchAsset:  j.MatchAsset,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type priceUpdateJSON struct {
	FeedID      string `json:"feed_id"`
	FeedAsset   string `json:"feed_asset"`
	Mantissa    uint64 `json:"mantissa"`
	Exponent    int32  `json:"exponent"`
	PublishTime int64  `json:"publish_time"`
	Sequence    int64  `json:"sequence"`
}

func ParsePriceUpdate(data []byte) (*command.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	feedID, err := parseFeedID(j.FeedID)
	if err != nil {
		return nil, err
	}
	return &command.PriceUpdate{
		FeedID:      feedID,
		FeedAsset:   j.FeedAsset,
		Mantissa:    j.Mantissa,
		Exponent:    j.Exponent,
		PublishTime: j.PublishTime,
		Sequence:    j.Sequence,
		Timestamp:   time.Unix(j.PublishTime, 0),
	}, nil
}

type assetWhitelistJSON struct {
	RequestID   string `json:"request_id"`
	Caller      string `json:"caller"`
	Token       string `json:"token"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func ParseAssetWhitelist(data []byte) (*command.AssetWhitelist, error) {
	var j assetWhitelistJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AssetWhitelist: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	return &command.AssetWhitelist{
		RequestID: requestID,
		Caller:    caller,
		Token:     j.Token,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type priceFeedRegisterJSON struct {
	RequestID   string `json:"request_id"`
	Caller      string `json:"caller"`
	FeedAsset   string `json:"feed_asset"`
	FeedID      string `json:"feed_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func ParsePriceFeedRegister(data []byte) (*command.PriceFeedRegister, error) {
	var j priceFeedRegisterJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceFeedRegister: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	feedID, err := parseFeedID(j.FeedID)
	if err != nil {
		return nil, err
	}
	return &command.PriceFeedRegister{
		RequestID: requestID,
		Caller:    caller,
		FeedAsset: j.FeedAsset,
		FeedID:    feedID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type trustedEntityAddJSON struct {
	RequestID   string `json:"request_id"`
	Caller      string `json:"caller"`
	Entity      string `json:"entity"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func ParseTrustedEntityAdd(data []byte) (*command.TrustedEntityAdd, error) {
	var j trustedEntityAddJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TrustedEntityAdd: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	entity, err := uuid.Parse(j.Entity)
	if err != nil {
		return nil, fmt.Errorf("parse entity: %w", err)
	}
	return &command.TrustedEntityAdd{
		RequestID: requestID,
		Caller:    caller,
		Entity:    entity,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type setWhitelisterJSON struct {
	RequestID   string `json:"request_id"`
	Caller      string `json:"caller"`
	Whitelister string `json:"whitelister"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func ParseSetWhitelister(data []byte) (*command.SetWhitelister, error) {
	var j setWhitelisterJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetWhitelister: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	whitelister, err := uuid.Parse(j.Whitelister)
	if err != nil {
		return nil, fmt.Errorf("parse whitelister: %w", err)
	}
	return &command.SetWhitelister{
		RequestID:   requestID,
		Caller:      caller,
		Whitelister: whitelister,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}
