package math

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrDivideByZero = errors.New("division by zero")
	// ErrValueOutOfRange means an intermediate or final price value does
	// not fit in uint64.
	ErrValueOutOfRange = errors.New("price value out of uint64 range")
)

// Pooled big.Int for intermediate price calculations.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

// NewBig returns a pooled big.Int set to zero.
func NewBig() *big.Int {
	v := bigPool.Get().(*big.Int)
	v.SetInt64(0)
	return v
}

// ReleaseBig returns v to the pool.
func ReleaseBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// MulU64Big returns a * b as a pooled big.Int. The caller releases the
// result with ReleaseBig.
func MulU64Big(a, b uint64) *big.Int {
	result := NewBig()
	x := new(big.Int).SetUint64(a)
	y := new(big.Int).SetUint64(b)
	result.Mul(x, y)
	return result
}

// ScalePow10 multiplies v by 10^exp in place and returns it. exp is the
// magnitude of a decimal exponent, so callers fold a negative exponent
// into the opposite side of a fraction instead of passing it here.
func ScalePow10(v *big.Int, exp uint32) *big.Int {
	if exp == 0 {
		return v
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
	return v.Mul(v, scale)
}

// FloorDivU64 divides num by den with floor division and returns the
// quotient as uint64. Fails on a zero denominator or a quotient outside
// the uint64 range. Inputs must be non-negative.
func FloorDivU64(num, den *big.Int) (uint64, error) {
	if den.Sign() == 0 {
		return 0, ErrDivideByZero
	}
	quotient := NewBig()
	defer ReleaseBig(quotient)

	quotient.Quo(num, den)
	if quotient.Sign() < 0 || !quotient.IsUint64() {
		return 0, ErrValueOutOfRange
	}
	return quotient.Uint64(), nil
}
