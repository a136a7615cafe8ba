package math

import "errors"

var (
	ErrAmountOverflow  = errors.New("amount arithmetic overflow")
	ErrAmountUnderflow = errors.New("amount arithmetic underflow")
)

// AddU64 returns a + b, failing instead of wrapping around.
func AddU64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}

// SubU64 returns a - b, failing when b exceeds a.
func SubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrAmountUnderflow
	}
	return a - b, nil
}

// MulU64 returns a * b, failing instead of wrapping around.
func MulU64(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/a != b {
		return 0, ErrAmountOverflow
	}
	return prod, nil
}

// IncrementU64 returns a + 1, failing at the uint64 ceiling. Used by
// position counters that must never wrap or reuse an identifier.
func IncrementU64(a uint64) (uint64, error) {
	return AddU64(a, 1)
}
