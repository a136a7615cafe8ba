package state

import "errors"

var (
	ErrUnsupportedDuration = errors.New("unsupported loan duration")
	ErrInterestRateTooHigh = errors.New("interest rate above duration cap")
)

// Supported loan durations in seconds.
const (
	DurationSixMonths   = 15_552_000 // 180 days
	DurationThreeMonths = 7_776_000  // 90 days
	DurationOneMonth    = 2_592_000  // 30 days
)

// Per-duration interest rate caps in basis points.
const (
	MaxRateSixMonths   = 700
	MaxRateThreeMonths = 500
	MaxRateOneMonth    = 300
)

// LoanTerms is the rate/duration pair attached to every order. Rates
// are annualized basis points.
type LoanTerms struct {
	InterestRateBps uint64 `json:"interest_rate_bps"`
	DurationSeconds uint64 `json:"duration_seconds"`
}

// Validate enforces the duration tiers: longer commitments may carry
// higher rates, and any duration outside the three tiers is rejected
// outright.
func (lt LoanTerms) Validate() error {
	var maxRate uint64
	switch lt.DurationSeconds {
	case DurationSixMonths:
		maxRate = MaxRateSixMonths
	case DurationThreeMonths:
		maxRate = MaxRateThreeMonths
	case DurationOneMonth:
		maxRate = MaxRateOneMonth
	default:
		return ErrUnsupportedDuration
	}

	if lt.InterestRateBps > maxRate {
		return ErrInterestRateTooHigh
	}
	return nil
}
