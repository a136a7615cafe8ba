package math_test

import (
	"errors"
	"math/big"
	"testing"

	lmath "LendLedger/internal/math"
)

func TestMulU64Big(t *testing.T) {
	// 2^63 * 4 does not fit in uint64; big.Int must carry it.
	result := lmath.MulU64Big(1<<63, 4)
	defer lmath.ReleaseBig(result)

	expected := new(big.Int).Lsh(big.NewInt(1), 65)
	if result.Cmp(expected) != 0 {
		t.Errorf("expected %s, got %s", expected, result)
	}
}

func TestScalePow10(t *testing.T) {
	v := big.NewInt(785)
	lmath.ScalePow10(v, 3)
	if v.Int64() != 785_000 {
		t.Errorf("expected 785000, got %d", v.Int64())
	}

	// Zero exponent leaves the value alone.
	lmath.ScalePow10(v, 0)
	if v.Int64() != 785_000 {
		t.Errorf("expected 785000, got %d", v.Int64())
	}
}

func TestFloorDivU64(t *testing.T) {
	q, err := lmath.FloorDivU64(big.NewInt(7), big.NewInt(2))
	if err != nil {
		t.Fatalf("FloorDivU64 failed: %v", err)
	}
	if q != 3 {
		t.Errorf("expected floor quotient 3, got %d", q)
	}

	if _, err := lmath.FloorDivU64(big.NewInt(1), big.NewInt(0)); !errors.Is(err, lmath.ErrDivideByZero) {
		t.Errorf("expected divide-by-zero error, got %v", err)
	}

	tooBig := new(big.Int).Lsh(big.NewInt(1), 70)
	if _, err := lmath.FloorDivU64(tooBig, big.NewInt(1)); !errors.Is(err, lmath.ErrValueOutOfRange) {
		t.Errorf("expected out-of-range error, got %v", err)
	}
}
