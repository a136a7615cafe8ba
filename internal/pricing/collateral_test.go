package pricing_test

import (
	"errors"
	"testing"

	"LendLedger/internal/oracle"
	"LendLedger/internal/pricing"
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

var (
	usdtFeed = [32]byte{1}
	solFeed  = [32]byte{2}
)

func newTestPricer(t *testing.T) (*pricing.CollateralPricer, *oracle.QuoteCache) {
	t.Helper()

	authority := uuid.New()
	registry := state.NewPriceFeedRegistry(authority)
	if err := registry.AddFeed(authority, "USDT", usdtFeed); err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}
	if err := registry.AddFeed(authority, "SOL", solFeed); err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}

	quotes := oracle.NewQuoteCache()
	return pricing.NewCollateralPricer(registry, quotes), quotes
}

func TestRequiredCollateral_EqualPrices(t *testing.T) {
	pricer, quotes := newTestPricer(t)
	quotes.Update(usdtFeed, oracle.PriceQuote{Mantissa: 1_000, Exponent: -3, PublishTime: 100, Sequence: 1})
	quotes.Update(solFeed, oracle.PriceQuote{Mantissa: 1_000, Exponent: -3, PublishTime: 100, Sequence: 1})

	// Equal prices: 500 x 15700 / 10000 = 785.
	required, err := pricer.RequiredCollateral("USDT", "SOL", 500, 110)
	if err != nil {
		t.Fatalf("RequiredCollateral failed: %v", err)
	}
	if required != 785 {
		t.Errorf("expected 785, got %d", required)
	}
}

func TestRequiredCollateral_MixedExponents(t *testing.T) {
	pricer, quotes := newTestPricer(t)
	// USDT at 1.00 (100 x 10^-2), SOL at 50.000 (50000 x 10^-3).
	quotes.Update(usdtFeed, oracle.PriceQuote{Mantissa: 100, Exponent: -2, PublishTime: 100, Sequence: 1})
	quotes.Update(solFeed, oracle.PriceQuote{Mantissa: 50_000, Exponent: -3, PublishTime: 100, Sequence: 1})

	// 10000 USDT borrowed: value 10000 x 1.57 = 15700 USD, at 50 USD
	// per SOL that floors to 314 SOL.
	required, err := pricer.RequiredCollateral("USDT", "SOL", 10_000, 110)
	if err != nil {
		t.Fatalf("RequiredCollateral failed: %v", err)
	}
	if required != 314 {
		t.Errorf("expected 314, got %d", required)
	}
}

func TestRequiredCollateral_Deterministic(t *testing.T) {
	pricer, quotes := newTestPricer(t)
	quotes.Update(usdtFeed, oracle.PriceQuote{Mantissa: 99_991, Exponent: -5, PublishTime: 100, Sequence: 1})
	quotes.Update(solFeed, oracle.PriceQuote{Mantissa: 147_335_501, Exponent: -6, PublishTime: 100, Sequence: 1})

	first, err := pricer.RequiredCollateral("USDT", "SOL", 123_456_789, 110)
	if err != nil {
		t.Fatalf("RequiredCollateral failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := pricer.RequiredCollateral("USDT", "SOL", 123_456_789, 110)
		if err != nil || again != first {
			t.Fatalf("pricing must be deterministic: run %d gave %d, %v (want %d)", i, again, err, first)
		}
	}
}

func TestRequiredCollateral_Linearity(t *testing.T) {
	pricer, quotes := newTestPricer(t)
	quotes.Update(usdtFeed, oracle.PriceQuote{Mantissa: 1_000, Exponent: -3, PublishTime: 100, Sequence: 1})
	quotes.Update(solFeed, oracle.PriceQuote{Mantissa: 1_000, Exponent: -3, PublishTime: 100, Sequence: 1})

	// With prices that divide evenly, pricing a doubled amount doubles
	// the requirement.
	base, err := pricer.RequiredCollateral("USDT", "SOL", 10_000, 110)
	if err != nil {
		t.Fatalf("RequiredCollateral failed: %v", err)
	}
	double, err := pricer.RequiredCollateral("USDT", "SOL", 20_000, 110)
	if err != nil {
		t.Fatalf("RequiredCollateral failed: %v", err)
	}
	if double != 2*base {
		t.Errorf("expected %d, got %d", 2*base, double)
	}
}

func TestRequiredCollateral_MissingFeed_HardError(t *testing.T) {
	authority := uuid.New()
	registry := state.NewPriceFeedRegistry(authority)
	_ = registry.AddFeed(authority, "USDT", usdtFeed)
	quotes := oracle.NewQuoteCache()
	quotes.Update(usdtFeed, oracle.PriceQuote{Mantissa: 100, Exponent: -2, PublishTime: 100, Sequence: 1})
	pricer := pricing.NewCollateralPricer(registry, quotes)

	_, err := pricer.RequiredCollateral("USDT", "SOL", 500, 110)
	if !errors.Is(err, state.ErrPriceFeedNotFound) {
		t.Errorf("unregistered collateral feed must be a hard error, got %v", err)
	}
}

func TestRequiredCollateral_StaleQuote_Fails(t *testing.T) {
	pricer, quotes := newTestPricer(t)
	quotes.Update(usdtFeed, oracle.PriceQuote{Mantissa: 100, Exponent: -2, PublishTime: 100, Sequence: 1})
	quotes.Update(solFeed, oracle.PriceQuote{Mantissa: 100, Exponent: -2, PublishTime: 50, Sequence: 1})

	_, err := pricer.RequiredCollateral("USDT", "SOL", 500, 110)
	if !errors.Is(err, oracle.ErrQuoteStale) {
		t.Errorf("expected stale error, got %v", err)
	}
}

func TestRequiredCollateral_ZeroCollateralPrice_Fails(t *testing.T) {
	pricer, quotes := newTestPricer(t)
	quotes.Update(usdtFeed, oracle.PriceQuote{Mantissa: 100, Exponent: -2, PublishTime: 100, Sequence: 1})
	quotes.Update(solFeed, oracle.PriceQuote{Mantissa: 0, Exponent: -2, PublishTime: 100, Sequence: 1})

	_, err := pricer.RequiredCollateral("USDT", "SOL", 500, 110)
	if !errors.Is(err, pricing.ErrZeroCollateralPrice) {
		t.Errorf("expected zero-price error, got %v", err)
	}
}

func TestRequiredCollateral_OverflowingResult_Fails(t *testing.T) {
	pricer, quotes := newTestPricer(t)
	// A huge borrow price against a tiny collateral price pushes the
	// requirement past uint64.
	quotes.Update(usdtFeed, oracle.PriceQuote{Mantissa: 1 << 62, Exponent: 6, PublishTime: 100, Sequence: 1})
	quotes.Update(solFeed, oracle.PriceQuote{Mantissa: 1, Exponent: -6, PublishTime: 100, Sequence: 1})

	_, err := pricer.RequiredCollateral("USDT", "SOL", 1<<60, 110)
	if err == nil {
		t.Error("requirement beyond uint64 must fail, not wrap")
	}
}
