package math_test

import (
	"errors"
	stdmath "math"
	"testing"

	lmath "LendLedger/internal/math"
)

func TestAddU64(t *testing.T) {
	sum, err := lmath.AddU64(1_000_000, 2_500_000)
	if err != nil {
		t.Fatalf("AddU64 failed: %v", err)
	}
	if sum != 3_500_000 {
		t.Errorf("expected 3500000, got %d", sum)
	}

	if _, err := lmath.AddU64(stdmath.MaxUint64, 1); !errors.Is(err, lmath.ErrAmountOverflow) {
		t.Errorf("expected overflow error, got %v", err)
	}

	// Max plus zero is still representable.
	if _, err := lmath.AddU64(stdmath.MaxUint64, 0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSubU64(t *testing.T) {
	diff, err := lmath.SubU64(500, 200)
	if err != nil {
		t.Fatalf("SubU64 failed: %v", err)
	}
	if diff != 300 {
		t.Errorf("expected 300, got %d", diff)
	}

	if _, err := lmath.SubU64(200, 500); !errors.Is(err, lmath.ErrAmountUnderflow) {
		t.Errorf("expected underflow error, got %v", err)
	}

	if diff, err := lmath.SubU64(500, 500); err != nil || diff != 0 {
		t.Errorf("expected 0 with no error, got %d, %v", diff, err)
	}
}

func TestMulU64(t *testing.T) {
	prod, err := lmath.MulU64(1_000_000, 1_000_000)
	if err != nil {
		t.Fatalf("MulU64 failed: %v", err)
	}
	if prod != 1_000_000_000_000 {
		t.Errorf("expected 1e12, got %d", prod)
	}

	if _, err := lmath.MulU64(stdmath.MaxUint64, 2); !errors.Is(err, lmath.ErrAmountOverflow) {
		t.Errorf("expected overflow error, got %v", err)
	}

	if prod, err := lmath.MulU64(0, stdmath.MaxUint64); err != nil || prod != 0 {
		t.Errorf("expected 0 with no error, got %d, %v", prod, err)
	}
}

func TestIncrementU64(t *testing.T) {
	next, err := lmath.IncrementU64(41)
	if err != nil || next != 42 {
		t.Fatalf("expected 42, got %d, %v", next, err)
	}

	if _, err := lmath.IncrementU64(stdmath.MaxUint64); !errors.Is(err, lmath.ErrAmountOverflow) {
		t.Errorf("expected overflow error, got %v", err)
	}
}
