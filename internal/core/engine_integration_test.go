package core_test

import (
	"errors"
	"testing"
	"time"

	"LendLedger/internal/command"
	"LendLedger/internal/core"
	"LendLedger/internal/ledger"
	"LendLedger/internal/oracle"
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

// --- Test helpers ---

var (
	usdtFeed = [32]byte{0xAA, 0x01}
	usdcFeed = [32]byte{0xAA, 0x02}
	solFeed  = [32]byte{0xAA, 0x03}
)

var baseTime = time.Unix(1_700_000_000, 0)

// oneMonth is the shortest supported loan duration (rate cap 300 bps).
const oneMonth = 2_592_000

// testEnv wraps a LendingCore with buffered channels, no DB checker,
// and per-partition upstream sequence counters.
type testEnv struct {
	core        *core.LendingCore
	persistCh   chan core.CoreOutput
	projCh      chan core.CoreOutput
	admin       uuid.UUID
	whitelister uuid.UUID
	matcher     uuid.UUID
	seqs        map[string]int64
	priceSeqs   map[string]int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1024)
	admin := uuid.New()

	env := &testEnv{
		core:        core.NewLendingCore(0, "SOL", admin, persistCh, projCh, nil, nil),
		persistCh:   persistCh,
		projCh:      projCh,
		admin:       admin,
		whitelister: uuid.New(),
		matcher:     uuid.New(),
		seqs:        make(map[string]int64),
		priceSeqs:   make(map[string]int64),
	}

	env.mustProcess(t, &command.SetWhitelister{
		RequestID:   uuid.New(),
		Caller:      admin,
		Whitelister: env.whitelister,
		Sequence:    env.nextSeq(""),
		Timestamp:   baseTime,
	})
	env.mustProcess(t, &command.TrustedEntityAdd{
		RequestID: uuid.New(),
		Caller:    admin,
		Entity:    env.matcher,
		Sequence:  env.nextSeq(""),
		Timestamp: baseTime,
	})

	env.whitelistToken(t, "USDT")
	env.whitelistToken(t, "USDC")

	env.registerFeed(t, "USDT", usdtFeed)
	env.registerFeed(t, "USDC", usdcFeed)
	env.registerFeed(t, "SOL", solFeed)

	// All three assets priced at 1.000 unless a test overrides.
	env.pushPrice(t, "USDT", usdtFeed, 1_000, -3, baseTime.Unix())
	env.pushPrice(t, "USDC", usdcFeed, 1_000, -3, baseTime.Unix())
	env.pushPrice(t, "SOL", solFeed, 1_000, -3, baseTime.Unix())

	return env
}

// nextSeq hands out the next upstream sequence for an asset partition
// (empty asset means the global partition).
func (env *testEnv) nextSeq(asset string) int64 {
	seq := env.seqs[asset]
	env.seqs[asset]++
	return seq
}

func (env *testEnv) mustProcess(t *testing.T, cmd command.Command) {
	t.Helper()
	if err := env.core.ProcessCommand(cmd); err != nil {
		t.Fatalf("ProcessCommand(%s) failed: %v", cmd.CommandType(), err)
	}
}

func (env *testEnv) whitelistToken(t *testing.T, token string) {
	t.Helper()
	env.mustProcess(t, &command.AssetWhitelist{
		RequestID: uuid.New(),
		Caller:    env.whitelister,
		Token:     token,
		Sequence:  env.nextSeq(token),
		Timestamp: baseTime,
	})
}

func (env *testEnv) registerFeed(t *testing.T, asset string, feedID [32]byte) {
	t.Helper()
	env.mustProcess(t, &command.PriceFeedRegister{
		RequestID: uuid.New(),
		Caller:    env.admin,
		FeedAsset: asset,
		FeedID:    feedID,
		Sequence:  env.nextSeq(asset),
		Timestamp: baseTime,
	})
}

func (env *testEnv) pushPrice(t *testing.T, asset string, feedID [32]byte, mantissa uint64, exponent int32, publishTime int64) {
	t.Helper()
	env.priceSeqs[asset]++
	env.mustProcess(t, &command.PriceUpdate{
		FeedID:      feedID,
		FeedAsset:   asset,
		Mantissa:    mantissa,
		Exponent:    exponent,
		PublishTime: publishTime,
		Sequence:    env.priceSeqs[asset],
	})
}

func (env *testEnv) lendCreate(lender uuid.UUID, asset string, amount, rateBps, duration uint64, at time.Time) *command.LendOrderCreate {
	return &command.LendOrderCreate{
		RequestID:       uuid.New(),
		Lender:          lender,
		LendAsset:       asset,
		Amount:          amount,
		InterestRateBps: rateBps,
		DurationSeconds: duration,
		Sequence:        env.nextSeq(asset),
		Timestamp:       at,
	}
}

func (env *testEnv) borrowCreate(borrower uuid.UUID, asset, collateral string, amount, rateBps, duration uint64, at time.Time) *command.BorrowOrderCreate {
	return &command.BorrowOrderCreate{
		RequestID:       uuid.New(),
		Borrower:        borrower,
		BorrowAsset:     asset,
		CollateralAsset: collateral,
		BorrowAmount:    amount,
		InterestRateBps: rateBps,
		DurationSeconds: duration,
		Sequence:        env.nextSeq(asset),
		Timestamp:       at,
	}
}

func (env *testEnv) escrowTotals(t *testing.T, asset string) (lent, borrowed uint64) {
	t.Helper()
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		t.Fatalf("asset %s not registered", asset)
	}
	record, err := env.core.Escrows().GetRecord(assetID)
	if err != nil {
		t.Fatalf("GetRecord(%s) failed: %v", asset, err)
	}
	return record.TotalLent, record.TotalBorrowed
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// ============================================================================
// Test: Lend order lifecycle
// ============================================================================

func TestLendOrderCreate_CreditsEscrow(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()

	env.mustProcess(t, env.lendCreate(lender, "USDT", 1_000, 250, oneMonth, baseTime.Add(time.Second)))

	lent, borrowed := env.escrowTotals(t, "USDT")
	if lent != 1_000 {
		t.Errorf("expected total_lent 1000, got %d", lent)
	}
	if borrowed != 0 {
		t.Errorf("expected total_borrowed 0, got %d", borrowed)
	}

	pos, err := env.core.Positions().GetLenderPosition(lender, "USDT")
	if err != nil {
		t.Fatalf("GetLenderPosition failed: %v", err)
	}
	if pos.PositionID != 1 {
		t.Errorf("first lender position must get ID 1, got %d", pos.PositionID)
	}
	if pos.Amount != 1_000 || pos.Matched {
		t.Errorf("unexpected position state: amount=%d matched=%v", pos.Amount, pos.Matched)
	}
	if pos.CreatedAt != baseTime.Add(time.Second).Unix() {
		t.Errorf("position must carry the command's timestamp, got %d", pos.CreatedAt)
	}
}

func TestLendOrderCreate_RateAboveTierCap_Rejected(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()
	seqBefore := env.core.GetSequence()

	err := env.core.ProcessCommand(env.lendCreate(lender, "USDT", 1_000, 350, oneMonth, baseTime))
	if !errors.Is(err, state.ErrInterestRateTooHigh) {
		t.Fatalf("expected ErrInterestRateTooHigh, got %v", err)
	}

	lent, _ := env.escrowTotals(t, "USDT")
	if lent != 0 {
		t.Errorf("rejected order must leave escrow untouched, total_lent=%d", lent)
	}
	if _, err := env.core.Positions().GetLenderPosition(lender, "USDT"); err == nil {
		t.Error("rejected order must not create a position")
	}
	if env.core.GetSequence() != seqBefore {
		t.Error("rejected order must not advance the global sequence")
	}
}

func TestLendOrderCreate_ZeroAmount_Rejected(t *testing.T) {
	env := newTestEnv(t)

	err := env.core.ProcessCommand(env.lendCreate(uuid.New(), "USDT", 0, 250, oneMonth, baseTime))
	if !errors.Is(err, core.ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestLendOrderCreate_UnlistedAsset_Rejected(t *testing.T) {
	env := newTestEnv(t)

	err := env.core.ProcessCommand(env.lendCreate(uuid.New(), "DOGE", 1_000, 250, oneMonth, baseTime))
	if !errors.Is(err, state.ErrTokenNotAllowed) {
		t.Fatalf("expected ErrTokenNotAllowed, got %v", err)
	}
}

func TestLendOrderCreate_SecondOrderSameAsset_Rejected(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()

	env.mustProcess(t, env.lendCreate(lender, "USDT", 1_000, 250, oneMonth, baseTime))

	err := env.core.ProcessCommand(env.lendCreate(lender, "USDT", 2_000, 250, oneMonth, baseTime))
	if !errors.Is(err, state.ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}

	lent, _ := env.escrowTotals(t, "USDT")
	if lent != 1_000 {
		t.Errorf("expected total_lent 1000 after rejected duplicate order, got %d", lent)
	}
}

func TestLendOrderModify_TopUpAccumulates(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()

	env.mustProcess(t, env.lendCreate(lender, "USDT", 1_000, 250, oneMonth, baseTime))
	env.mustProcess(t, &command.LendOrderModify{
		RequestID:       uuid.New(),
		Lender:          lender,
		LendAsset:       "USDT",
		TopUpAmount:     500,
		InterestRateBps: 250,
		DurationSeconds: oneMonth,
		Sequence:        env.nextSeq("USDT"),
		Timestamp:       baseTime.Add(time.Second),
	})

	lent, _ := env.escrowTotals(t, "USDT")
	if lent != 1_500 {
		t.Errorf("expected total_lent 1500 after top-up, got %d", lent)
	}

	pos, err := env.core.Positions().GetLenderPosition(lender, "USDT")
	if err != nil {
		t.Fatalf("GetLenderPosition failed: %v", err)
	}
	if pos.Amount != 1_500 {
		t.Errorf("expected position amount 1500, got %d", pos.Amount)
	}
	if pos.Version != 1 {
		t.Errorf("expected version 1 after one modify, got %d", pos.Version)
	}
}

func TestLendOrderModify_NewTermsValidated(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()

	env.mustProcess(t, env.lendCreate(lender, "USDT", 1_000, 250, oneMonth, baseTime))

	err := env.core.ProcessCommand(&command.LendOrderModify{
		RequestID:       uuid.New(),
		Lender:          lender,
		LendAsset:       "USDT",
		InterestRateBps: 9_999,
		DurationSeconds: oneMonth,
		Sequence:        env.nextSeq("USDT"),
		Timestamp:       baseTime,
	})
	if !errors.Is(err, state.ErrInterestRateTooHigh) {
		t.Fatalf("expected ErrInterestRateTooHigh on changed terms, got %v", err)
	}

	pos, _ := env.core.Positions().GetLenderPosition(lender, "USDT")
	if pos.Terms.InterestRateBps != 250 {
		t.Errorf("rejected modify must not change terms, got %d bps", pos.Terms.InterestRateBps)
	}
}

func TestLendOrderCancel_RefundsAndDestroys(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()

	env.mustProcess(t, env.lendCreate(lender, "USDT", 1_000, 250, oneMonth, baseTime))
	env.mustProcess(t, &command.LendOrderCancel{
		RequestID: uuid.New(),
		Lender:    lender,
		LendAsset: "USDT",
		Sequence:  env.nextSeq("USDT"),
		Timestamp: baseTime.Add(time.Second),
	})

	lent, _ := env.escrowTotals(t, "USDT")
	if lent != 0 {
		t.Errorf("expected total_lent 0 after cancel, got %d", lent)
	}
	if _, err := env.core.Positions().GetLenderPosition(lender, "USDT"); err == nil {
		t.Error("cancelled position must be destroyed")
	}

	// Cancelling again must fail: the position is gone.
	err := env.core.ProcessCommand(&command.LendOrderCancel{
		RequestID: uuid.New(),
		Lender:    lender,
		LendAsset: "USDT",
		Sequence:  env.nextSeq("USDT"),
		Timestamp: baseTime.Add(2 * time.Second),
	})
	if !errors.Is(err, state.ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound on double cancel, got %v", err)
	}
}

func TestPositionIDs_NeverReused(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()

	env.mustProcess(t, env.lendCreate(lender, "USDT", 1_000, 250, oneMonth, baseTime))
	env.mustProcess(t, &command.LendOrderCancel{
		RequestID: uuid.New(),
		Lender:    lender,
		LendAsset: "USDT",
		Sequence:  env.nextSeq("USDT"),
		Timestamp: baseTime,
	})
	env.mustProcess(t, env.lendCreate(lender, "USDT", 1_000, 250, oneMonth, baseTime))

	pos, err := env.core.Positions().GetLenderPosition(lender, "USDT")
	if err != nil {
		t.Fatalf("GetLenderPosition failed: %v", err)
	}
	if pos.PositionID != 2 {
		t.Errorf("a destroyed position's ID must never be reused, got %d", pos.PositionID)
	}
}

// ============================================================================
// Test: Borrow order lifecycle
// ============================================================================

func TestBorrowOrderCreate_NativeCollateral(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()
	borrower := uuid.New()

	// Seed the pool so the payout has funds to draw on.
	env.mustProcess(t, env.lendCreate(lender, "USDT", 10_000, 250, oneMonth, baseTime))

	env.mustProcess(t, env.borrowCreate(borrower, "USDT", "SOL", 500, 250, oneMonth, baseTime.Add(time.Second)))

	// Equal prices: 500 x 15700 / 10000 = 785 units of SOL.
	pos, err := env.core.Positions().GetBorrowerPosition(borrower, "USDT")
	if err != nil {
		t.Fatalf("GetBorrowerPosition failed: %v", err)
	}
	if pos.CollateralAmount != 785 {
		t.Errorf("expected collateral 785, got %d", pos.CollateralAmount)
	}
	if pos.BorrowAmount != 500 || pos.CollateralAsset != "SOL" {
		t.Errorf("unexpected position: borrow=%d collateral_asset=%s", pos.BorrowAmount, pos.CollateralAsset)
	}
	if pos.PositionID != 1 {
		t.Errorf("first borrower position must get ID 1, got %d", pos.PositionID)
	}

	_, borrowed := env.escrowTotals(t, "USDT")
	if borrowed != 500 {
		t.Errorf("expected total_borrowed 500, got %d", borrowed)
	}
	if vault := env.core.Escrows().Vault(); vault.Balance != 785 {
		t.Errorf("expected native vault balance 785, got %d", vault.Balance)
	}
}

func TestBorrowOrderCreate_TokenCollateral(t *testing.T) {
	env := newTestEnv(t)
	borrower := uuid.New()

	env.mustProcess(t, env.lendCreate(uuid.New(), "USDT", 10_000, 250, oneMonth, baseTime))

	env.mustProcess(t, env.borrowCreate(borrower, "USDT", "USDC", 500, 250, oneMonth, baseTime.Add(time.Second)))

	// Non-native collateral is held in that asset's collateral vault
	// and counts toward its supplied side.
	usdcLent, _ := env.escrowTotals(t, "USDC")
	if usdcLent != 785 {
		t.Errorf("expected USDC total_lent 785 from locked collateral, got %d", usdcLent)
	}
	if vault := env.core.Escrows().Vault(); vault.Balance != 0 {
		t.Errorf("native vault must be untouched, got %d", vault.Balance)
	}
}

func TestBorrowOrderCreate_StaleQuote_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.mustProcess(t, env.lendCreate(uuid.New(), "USDT", 10_000, 250, oneMonth, baseTime))

	// The quotes were published at baseTime; 31 seconds later they are
	// past the freshness window.
	err := env.core.ProcessCommand(env.borrowCreate(uuid.New(), "USDT", "SOL", 500, 250, oneMonth, baseTime.Add(31*time.Second)))
	if !errors.Is(err, oracle.ErrQuoteStale) {
		t.Fatalf("expected ErrQuoteStale, got %v", err)
	}

	_, borrowed := env.escrowTotals(t, "USDT")
	if borrowed != 0 {
		t.Errorf("rejected borrow must leave escrow untouched, total_borrowed=%d", borrowed)
	}
}

func TestBorrowOrderCreate_SameAssetCollateral_Rejected(t *testing.T) {
	env := newTestEnv(t)
	borrower := uuid.New()
	env.mustProcess(t, env.lendCreate(uuid.New(), "USDT", 10_000, 250, oneMonth, baseTime))

	err := env.core.ProcessCommand(env.borrowCreate(borrower, "USDT", "USDT", 500, 250, oneMonth, baseTime.Add(time.Second)))
	if !errors.Is(err, core.ErrSameAssetCollateral) {
		t.Fatalf("expected ErrSameAssetCollateral, got %v", err)
	}

	// The rejection happens before any escrow staging: neither side of
	// the USDT record may move.
	lent, borrowed := env.escrowTotals(t, "USDT")
	if lent != 10_000 || borrowed != 0 {
		t.Errorf("escrow must be untouched, total_lent=%d total_borrowed=%d", lent, borrowed)
	}
	if _, err := env.core.Positions().GetBorrowerPosition(borrower, "USDT"); err == nil {
		t.Error("no borrower position may be created")
	}
}

func TestBorrowOrderCreate_UnpricedCollateral_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.whitelistToken(t, "BONK") // whitelisted but no feed registered
	env.mustProcess(t, env.lendCreate(uuid.New(), "USDT", 10_000, 250, oneMonth, baseTime))

	err := env.core.ProcessCommand(env.borrowCreate(uuid.New(), "USDT", "BONK", 500, 250, oneMonth, baseTime))
	if !errors.Is(err, state.ErrPriceFeedNotFound) {
		t.Fatalf("expected ErrPriceFeedNotFound, got %v", err)
	}
}

func TestBorrowOrderModify_GrowthPricedSeparately(t *testing.T) {
	env := newTestEnv(t)
	borrower := uuid.New()

	env.mustProcess(t, env.lendCreate(uuid.New(), "USDT", 10_000, 250, oneMonth, baseTime))
	env.mustProcess(t, env.borrowCreate(borrower, "USDT", "SOL", 500, 250, oneMonth, baseTime))

	// 250 more at the same prices: 250 x 15700 / 10000 = 392 (floored).
	env.mustProcess(t, &command.BorrowOrderModify{
		RequestID:        uuid.New(),
		Borrower:         borrower,
		BorrowAsset:      "USDT",
		AdditionalAmount: 250,
		InterestRateBps:  300,
		DurationSeconds:  oneMonth,
		Sequence:         env.nextSeq("USDT"),
		Timestamp:        baseTime.Add(time.Second),
	})

	pos, err := env.core.Positions().GetBorrowerPosition(borrower, "USDT")
	if err != nil {
		t.Fatalf("GetBorrowerPosition failed: %v", err)
	}
	if pos.BorrowAmount != 750 {
		t.Errorf("expected borrow 750, got %d", pos.BorrowAmount)
	}
	if pos.CollateralAmount != 785+392 {
		t.Errorf("expected collateral 1177, got %d", pos.CollateralAmount)
	}
	if pos.Terms.InterestRateBps != 300 {
		t.Errorf("modify must replace terms, got %d bps", pos.Terms.InterestRateBps)
	}

	_, borrowed := env.escrowTotals(t, "USDT")
	if borrowed != 750 {
		t.Errorf("expected total_borrowed 750, got %d", borrowed)
	}
	if vault := env.core.Escrows().Vault(); vault.Balance != 1_177 {
		t.Errorf("expected native vault balance 1177, got %d", vault.Balance)
	}
}

func TestBorrowOrderModify_TermsOnly(t *testing.T) {
	env := newTestEnv(t)
	borrower := uuid.New()

	env.mustProcess(t, env.lendCreate(uuid.New(), "USDT", 10_000, 250, oneMonth, baseTime))
	env.mustProcess(t, env.borrowCreate(borrower, "USDT", "SOL", 500, 250, oneMonth, baseTime))

	env.mustProcess(t, &command.BorrowOrderModify{
		RequestID:       uuid.New(),
		Borrower:        borrower,
		BorrowAsset:     "USDT",
		InterestRateBps: 100,
		DurationSeconds: oneMonth,
		Sequence:        env.nextSeq("USDT"),
		Timestamp:       baseTime.Add(time.Second),
	})

	pos, _ := env.core.Positions().GetBorrowerPosition(borrower, "USDT")
	if pos.BorrowAmount != 500 || pos.CollateralAmount != 785 {
		t.Errorf("terms-only modify must not move funds: borrow=%d collateral=%d", pos.BorrowAmount, pos.CollateralAmount)
	}
	if pos.Terms.InterestRateBps != 100 || pos.Version != 1 {
		t.Errorf("expected updated terms at version 1, got %d bps at version %d", pos.Terms.InterestRateBps, pos.Version)
	}
}

func TestBorrowOrderCancel_FullRepayAndUnlock(t *testing.T) {
	env := newTestEnv(t)
	borrower := uuid.New()

	env.mustProcess(t, env.lendCreate(uuid.New(), "USDT", 10_000, 250, oneMonth, baseTime))
	env.mustProcess(t, env.borrowCreate(borrower, "USDT", "SOL", 500, 250, oneMonth, baseTime))

	env.mustProcess(t, &command.BorrowOrderCancel{
		RequestID:   uuid.New(),
		Borrower:    borrower,
		BorrowAsset: "USDT",
		Sequence:    env.nextSeq("USDT"),
		Timestamp:   baseTime.Add(time.Second),
	})

	lent, borrowed := env.escrowTotals(t, "USDT")
	if lent != 10_000 || borrowed != 0 {
		t.Errorf("expected lent=10000 borrowed=0 after cancel, got lent=%d borrowed=%d", lent, borrowed)
	}
	if vault := env.core.Escrows().Vault(); vault.Balance != 0 {
		t.Errorf("expected native vault drained after cancel, got %d", vault.Balance)
	}
	if _, err := env.core.Positions().GetBorrowerPosition(borrower, "USDT"); err == nil {
		t.Error("cancelled borrower position must be destroyed")
	}
}

// ============================================================================
// Test: Matching
// ============================================================================

func matchOrders(env *testEnv, t *testing.T, lender, borrower uuid.UUID) {
	t.Helper()
	env.mustProcess(t, &command.OrderMatched{
		MatchID:     uuid.New(),
		SubmittedBy: env.matcher,
		Lender:      lender,
		Borrower:    borrower,
		MatchAsset:  "USDT",
		Sequence:    env.nextSeq("USDT"),
		Timestamp:   baseTime.Add(2 * time.Second),
	})
}

func TestOrderMatched_FlipsBothFlags(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()
	borrower := uuid.New()

	env.mustProcess(t, env.lendCreate(lender, "USDT", 10_000, 250, oneMonth, baseTime))
	env.mustProcess(t, env.borrowCreate(borrower, "USDT", "SOL", 500, 250, oneMonth, baseTime))
	matchOrders(env, t, lender, borrower)

	lendPos, _ := env.core.Positions().GetLenderPosition(lender, "USDT")
	borrowPos, _ := env.core.Positions().GetBorrowerPosition(borrower, "USDT")
	if !lendPos.Matched || !borrowPos.Matched {
		t.Errorf("both sides must be matched: lender=%v borrower=%v", lendPos.Matched, borrowPos.Matched)
	}
}

func TestOrderMatched_UntrustedSubmitter_Rejected(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()
	borrower := uuid.New()

	env.mustProcess(t, env.lendCreate(lender, "USDT", 10_000, 250, oneMonth, baseTime))
	env.mustProcess(t, env.borrowCreate(borrower, "USDT", "SOL", 500, 250, oneMonth, baseTime))

	err := env.core.ProcessCommand(&command.OrderMatched{
		MatchID:     uuid.New(),
		SubmittedBy: uuid.New(),
		Lender:      lender,
		Borrower:    borrower,
		MatchAsset:  "USDT",
		Sequence:    env.nextSeq("USDT"),
		Timestamp:   baseTime,
	})
	if !errors.Is(err, core.ErrUntrustedSubmitter) {
		t.Fatalf("expected ErrUntrustedSubmitter, got %v", err)
	}

	lendPos, _ := env.core.Positions().GetLenderPosition(lender, "USDT")
	if lendPos.Matched {
		t.Error("rejected match must not flip flags")
	}
}

func TestMatchedPositions_RejectModifyAndCancel(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()
	borrower := uuid.New()

	env.mustProcess(t, env.lendCreate(lender, "USDT", 10_000, 250, oneMonth, baseTime))
	env.mustProcess(t, env.borrowCreate(borrower, "USDT", "SOL", 500, 250, oneMonth, baseTime))
	matchOrders(env, t, lender, borrower)

	lentBefore, borrowedBefore := env.escrowTotals(t, "USDT")

	err := env.core.ProcessCommand(&command.LendOrderModify{
		RequestID:       uuid.New(),
		Lender:          lender,
		LendAsset:       "USDT",
		TopUpAmount:     500,
		InterestRateBps: 250,
		DurationSeconds: oneMonth,
		Sequence:        env.nextSeq("USDT"),
		Timestamp:       baseTime,
	})
	if !errors.Is(err, state.ErrAlreadyMatched) {
		t.Fatalf("expected ErrAlreadyMatched on modify, got %v", err)
	}

	err = env.core.ProcessCommand(&command.BorrowOrderCancel{
		RequestID:   uuid.New(),
		Borrower:    borrower,
		BorrowAsset: "USDT",
		Sequence:    env.nextSeq("USDT"),
		Timestamp:   baseTime,
	})
	if !errors.Is(err, state.ErrAlreadyMatched) {
		t.Fatalf("expected ErrAlreadyMatched on cancel, got %v", err)
	}

	lent, borrowed := env.escrowTotals(t, "USDT")
	if lent != lentBefore || borrowed != borrowedBefore {
		t.Error("rejected commands on matched positions must not move escrow totals")
	}
}

// ============================================================================
// Test: Pipeline mechanics
// ============================================================================

func TestDuplicateCommand_SkippedSilently(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()

	cmd := env.lendCreate(lender, "USDT", 1_000, 250, oneMonth, baseTime)
	env.mustProcess(t, cmd)

	// Redelivery of the same command (same request ID, same upstream
	// sequence) must be a silent no-op.
	if err := env.core.ProcessCommand(cmd); err != nil {
		t.Fatalf("duplicate delivery must not error: %v", err)
	}

	lent, _ := env.escrowTotals(t, "USDT")
	if lent != 1_000 {
		t.Errorf("duplicate must not double-apply, total_lent=%d", lent)
	}
}

func TestSequenceGap_Rejected(t *testing.T) {
	env := newTestEnv(t)

	cmd := env.lendCreate(uuid.New(), "USDT", 1_000, 250, oneMonth, baseTime)
	cmd.Sequence += 5 // skip ahead

	err := env.core.ProcessCommand(cmd)
	if err == nil {
		t.Fatal("expected a sequence gap error")
	}
}

func TestPriceSequenceGap_Tolerated(t *testing.T) {
	env := newTestEnv(t)

	// Oracle streams drop ticks routinely; a gap must be accepted.
	env.mustProcess(t, &command.PriceUpdate{
		FeedID:      usdtFeed,
		FeedAsset:   "USDT",
		Mantissa:    1_010,
		Exponent:    -3,
		PublishTime: baseTime.Add(5 * time.Second).Unix(),
		Sequence:    env.priceSeqs["USDT"] + 50,
	})
}

func TestHashChain_LinksOutputs(t *testing.T) {
	env := newTestEnv(t)
	drainOutputs(env.persistCh)
	lender := uuid.New()

	env.mustProcess(t, env.lendCreate(lender, "USDT", 1_000, 250, oneMonth, baseTime))
	env.mustProcess(t, &command.LendOrderModify{
		RequestID:       uuid.New(),
		Lender:          lender,
		LendAsset:       "USDT",
		TopUpAmount:     500,
		InterestRateBps: 250,
		DurationSeconds: oneMonth,
		Sequence:        env.nextSeq("USDT"),
		Timestamp:       baseTime.Add(time.Second),
	})

	outputs := drainOutputs(env.persistCh)
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}

	first, second := outputs[0].Envelope, outputs[1].Envelope
	if second.Sequence != first.Sequence+1 {
		t.Errorf("sequence must advance by one: %d then %d", first.Sequence, second.Sequence)
	}
	if second.PrevHash != first.StateHash {
		t.Error("envelope prev_hash must equal the previous state_hash")
	}
	if first.StateHash == second.StateHash {
		t.Error("distinct commands must produce distinct state hashes")
	}
	if env.core.GetStateHash() != second.StateHash {
		t.Error("core chain tip must equal the last envelope's state_hash")
	}
}

func TestEnvelopePayload_RoundTrips(t *testing.T) {
	env := newTestEnv(t)
	drainOutputs(env.persistCh)

	cmd := env.lendCreate(uuid.New(), "USDT", 1_000, 250, oneMonth, baseTime)
	env.mustProcess(t, cmd)

	outputs := drainOutputs(env.persistCh)
	envlp := outputs[0].Envelope

	decoded, err := command.DecodeCommand(envlp.CommandType, envlp.Payload)
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	replayed, ok := decoded.(*command.LendOrderCreate)
	if !ok {
		t.Fatalf("expected *LendOrderCreate, got %T", decoded)
	}
	if replayed.RequestID != cmd.RequestID || replayed.Amount != cmd.Amount {
		t.Error("envelope payload must round-trip the command")
	}
}

// ============================================================================
// Test: Snapshot restore
// ============================================================================

func TestSnapshotRestore_ResumesIdentically(t *testing.T) {
	env := newTestEnv(t)
	lender := uuid.New()
	borrower := uuid.New()

	env.mustProcess(t, env.lendCreate(lender, "USDT", 10_000, 250, oneMonth, baseTime))
	env.mustProcess(t, env.borrowCreate(borrower, "USDT", "SOL", 500, 250, oneMonth, baseTime))

	snap := env.core.CreateSnapshotState()

	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1024)
	restored := core.NewLendingCore(0, "SOL", env.admin, persistCh, projCh, nil, nil)
	restored.RestoreFromSnapshot(snap)

	if restored.GetSequence() != env.core.GetSequence() {
		t.Errorf("sequence mismatch: %d vs %d", restored.GetSequence(), env.core.GetSequence())
	}
	if restored.GetStateHash() != env.core.GetStateHash() {
		t.Error("restored chain tip must match the original")
	}

	pos, err := restored.Positions().GetBorrowerPosition(borrower, "USDT")
	if err != nil {
		t.Fatalf("restored core lost the borrower position: %v", err)
	}
	if pos.CollateralAmount != 785 {
		t.Errorf("expected collateral 785 after restore, got %d", pos.CollateralAmount)
	}

	// The restored core must keep processing where the original left
	// off, on the same sequence partitions.
	restoredEnv := &testEnv{
		core:      restored,
		persistCh: persistCh,
		projCh:    projCh,
		admin:     env.admin,
		seqs:      env.seqs,
		priceSeqs: env.priceSeqs,
	}
	restoredEnv.mustProcess(t, &command.BorrowOrderCancel{
		RequestID:   uuid.New(),
		Borrower:    borrower,
		BorrowAsset: "USDT",
		Sequence:    restoredEnv.nextSeq("USDT"),
		Timestamp:   baseTime.Add(time.Second),
	})

	lent, borrowed := restoredEnv.escrowTotals(t, "USDT")
	if lent != 10_000 || borrowed != 0 {
		t.Errorf("expected lent=10000 borrowed=0 after restore+cancel, got lent=%d borrowed=%d", lent, borrowed)
	}
}

// ============================================================================
// Test: Admin commands
// ============================================================================

func TestAssetWhitelist_NonWhitelister_Rejected(t *testing.T) {
	env := newTestEnv(t)

	err := env.core.ProcessCommand(&command.AssetWhitelist{
		RequestID: uuid.New(),
		Caller:    uuid.New(),
		Token:     "BONK",
		Sequence:  env.nextSeq("BONK"),
		Timestamp: baseTime,
	})
	if !errors.Is(err, state.ErrNotWhitelister) {
		t.Fatalf("expected ErrNotWhitelister, got %v", err)
	}
}

func TestAssetWhitelist_Duplicate_Rejected(t *testing.T) {
	env := newTestEnv(t)

	err := env.core.ProcessCommand(&command.AssetWhitelist{
		RequestID: uuid.New(),
		Caller:    env.whitelister,
		Token:     "USDT",
		Sequence:  env.nextSeq("USDT"),
		Timestamp: baseTime,
	})
	if !errors.Is(err, state.ErrTokenWhitelisted) {
		t.Fatalf("expected ErrTokenWhitelisted, got %v", err)
	}
}

func TestTrustedEntityAdd_NonAdmin_Rejected(t *testing.T) {
	env := newTestEnv(t)

	err := env.core.ProcessCommand(&command.TrustedEntityAdd{
		RequestID: uuid.New(),
		Caller:    uuid.New(),
		Entity:    uuid.New(),
		Sequence:  env.nextSeq(""),
		Timestamp: baseTime,
	})
	if !errors.Is(err, state.ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
}
