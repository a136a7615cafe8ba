// Package pricing values borrow requests against oracle quotes. The
// pricer is pure: given the same registry, quotes and timestamp it
// always produces the same requirement, and it never touches state.
package pricing

import (
	"errors"
	"fmt"
	"math/big"

	lmath "LendLedger/internal/math"
	"LendLedger/internal/oracle"
	"LendLedger/internal/state"
)

var ErrZeroCollateralPrice = errors.New("collateral price is zero")

// CollateralRatioBps is the collateral requirement applied to the
// borrow-side value: a 150% minimum plus a 7% buffer.
const (
	CollateralRatioBps = 15_700
	BpsDenominator     = 10_000
)

// CollateralPricer computes the collateral a borrow must lock.
type CollateralPricer struct {
	registry *state.PriceFeedRegistry
	quotes   *oracle.QuoteCache
}

func NewCollateralPricer(registry *state.PriceFeedRegistry, quotes *oracle.QuoteCache) *CollateralPricer {
	return &CollateralPricer{registry: registry, quotes: quotes}
}

// RequiredCollateral returns the collateral units needed to borrow
// amount units of borrowAsset against collateralAsset, at the prices
// fresh as of asOf (unix seconds).
//
//	required = floor(amount x borrowPrice x ratio / 10000 / collateralPrice)
//
// Both feeds must be registered and fresh; a missing feed is a hard
// error, never a zero valuation. The result must fit in uint64.
func (cp *CollateralPricer) RequiredCollateral(
	borrowAsset string,
	collateralAsset string,
	amount uint64,
	asOf int64,
) (uint64, error) {
	borrowQuote, err := cp.freshQuote(borrowAsset, asOf)
	if err != nil {
		return 0, err
	}
	collateralQuote, err := cp.freshQuote(collateralAsset, asOf)
	if err != nil {
		return 0, err
	}
	if collateralQuote.Mantissa == 0 {
		return 0, fmt.Errorf("asset %s: %w", collateralAsset, ErrZeroCollateralPrice)
	}

	// numerator   = amount x borrowMantissa x ratio
	// denominator = 10000 x collateralMantissa
	// The exponent difference folds into whichever side keeps both
	// integers non-negative.
	num := lmath.MulU64Big(amount, borrowQuote.Mantissa)
	defer lmath.ReleaseBig(num)
	num.Mul(num, bigRatio)

	den := lmath.MulU64Big(BpsDenominator, collateralQuote.Mantissa)
	defer lmath.ReleaseBig(den)

	expDiff := int64(borrowQuote.Exponent) - int64(collateralQuote.Exponent)
	if expDiff > 0 {
		lmath.ScalePow10(num, uint32(expDiff))
	} else if expDiff < 0 {
		lmath.ScalePow10(den, uint32(-expDiff))
	}

	return lmath.FloorDivU64(num, den)
}

var bigRatio = big.NewInt(CollateralRatioBps)

func (cp *CollateralPricer) freshQuote(asset string, asOf int64) (oracle.PriceQuote, error) {
	feedID, err := cp.registry.Lookup(asset)
	if err != nil {
		return oracle.PriceQuote{}, fmt.Errorf("asset %s: %w", asset, err)
	}
	quote, err := cp.quotes.GetNoOlderThan(feedID, oracle.MaxQuoteAgeSeconds, asOf)
	if err != nil {
		return oracle.PriceQuote{}, fmt.Errorf("asset %s: %w", asset, err)
	}
	return quote, nil
}
