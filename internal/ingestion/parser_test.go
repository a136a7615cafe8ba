package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"LendLedger/internal/command"
	"LendLedger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseLendOrderCreate(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":        "550e8400-e29b-41d4-a716-446655440000",
		"lender":            "660e8400-e29b-41d4-a716-446655440001",
		"lend_asset":        "USDT",
		"amount":            uint64(1_000_000),
		"interest_rate_bps": uint64(250),
		"duration_seconds":  uint64(2_592_000),
		"sequence":          int64(42),
		"timestamp_us":      int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "LendOrderCreate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	lo, ok := cmd.(*command.LendOrderCreate)
	if !ok {
		t.Fatalf("expected *command.LendOrderCreate, got %T", cmd)
	}

	if lo.LendAsset != "USDT" {
		t.Errorf("lend_asset: got %s, want USDT", lo.LendAsset)
	}
	if lo.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", lo.Amount)
	}
	if lo.InterestRateBps != 250 {
		t.Errorf("interest_rate_bps: got %d, want 250", lo.InterestRateBps)
	}
	if lo.DurationSeconds != 2_592_000 {
		t.Errorf("duration_seconds: got %d, want 2_592_000", lo.DurationSeconds)
	}
	if lo.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", lo.Sequence)
	}
	if lo.Timestamp != time.UnixMicro(1700000000000000) {
		t.Errorf("timestamp: got %v", lo.Timestamp)
	}
	if lo.CommandType() != command.CommandTypeLendOrderCreate {
		t.Errorf("command type: got %v, want LendOrderCreate", lo.CommandType())
	}
}

func TestParseBorrowOrderCreate(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":        "550e8400-e29b-41d4-a716-446655440000",
		"borrower":          "660e8400-e29b-41d4-a716-446655440001",
		"borrow_asset":      "USDT",
		"collateral_asset":  "SOL",
		"borrow_amount":     uint64(500),
		"interest_rate_bps": uint64(300),
		"duration_seconds":  uint64(7_776_000),
		"sequence":          int64(7),
		"timestamp_us":      int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "BorrowOrderCreate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	bo, ok := cmd.(*command.BorrowOrderCreate)
	if !ok {
		t.Fatalf("expected *command.BorrowOrderCreate, got %T", cmd)
	}

	if bo.BorrowAsset != "USDT" || bo.CollateralAsset != "SOL" {
		t.Errorf("assets: got %s/%s, want USDT/SOL", bo.BorrowAsset, bo.CollateralAsset)
	}
	if bo.BorrowAmount != 500 {
		t.Errorf("borrow_amount: got %d, want 500", bo.BorrowAmount)
	}
}

func TestParseOrderMatched(t *testing.T) {
	payload := map[string]interface{}{
		"match_id":     "550e8400-e29b-41d4-a716-446655440000",
		"submitted_by": "660e8400-e29b-41d4-a716-446655440001",
		"lender":       "770e8400-e29b-41d4-a716-446655440002",
		"borrower":     "880e8400-e29b-41d4-a716-446655440003",
		"match_asset":  "USDT",
		"sequence":     int64(12),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "OrderMatched")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	om, ok := cmd.(*command.OrderMatched)
	if !ok {
		t.Fatalf("expected *command.OrderMatched, got %T", cmd)
	}

	if om.MatchAsset != "USDT" {
		t.Errorf("match_asset: got %s, want USDT", om.MatchAsset)
	}
	if om.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key must be the match_id, got %s", om.IdempotencyKey())
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"feed_id":      "aa01000000000000000000000000000000000000000000000000000000000000",
		"feed_asset":   "SOL",
		"mantissa":     uint64(50_000),
		"exponent":     int32(-3),
		"publish_time": int64(1700000000),
		"sequence":     int64(100),
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "PriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu, ok := cmd.(*command.PriceUpdate)
	if !ok {
		t.Fatalf("expected *command.PriceUpdate, got %T", cmd)
	}

	if pu.FeedAsset != "SOL" {
		t.Errorf("feed_asset: got %s, want SOL", pu.FeedAsset)
	}
	if pu.Mantissa != 50_000 || pu.Exponent != -3 {
		t.Errorf("price: got %dx10^%d, want 50000x10^-3", pu.Mantissa, pu.Exponent)
	}
	if pu.FeedID[0] != 0xAA || pu.FeedID[1] != 0x01 {
		t.Errorf("feed_id: got %x", pu.FeedID[:2])
	}
	if pu.Sequence != 100 {
		t.Errorf("sequence: got %d, want 100", pu.Sequence)
	}
}

func TestParsePriceUpdate_ShortFeedID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"feed_id":      "aa01",
		"feed_asset":   "SOL",
		"mantissa":     uint64(1),
		"exponent":     int32(0),
		"publish_time": int64(1700000000),
		"sequence":     int64(1),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawCommand(raw, "PriceUpdate"); err == nil {
		t.Fatal("expected error for truncated feed_id")
	}
}

func TestParseAssetWhitelist(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"caller":       "660e8400-e29b-41d4-a716-446655440001",
		"token":        "USDC",
		"sequence":     int64(0),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "AssetWhitelist")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	aw, ok := cmd.(*command.AssetWhitelist)
	if !ok {
		t.Fatalf("expected *command.AssetWhitelist, got %T", cmd)
	}
	if aw.Token != "USDC" {
		t.Errorf("token: got %s, want USDC", aw.Token)
	}
}

func TestParseUnknownCommandType_Fails(t *testing.T) {
	raw := ingestion.RawCommand{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawCommand(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown command type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawCommand{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawCommand(raw, "LendOrderCreate")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":        "not-a-uuid",
		"lender":            "also-not-a-uuid",
		"lend_asset":        "USDT",
		"amount":            uint64(1),
		"interest_rate_bps": uint64(1),
		"duration_seconds":  uint64(2_592_000),
		"sequence":          int64(0),
		"timestamp_us":      int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawCommand(raw, "LendOrderCreate")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}
