// internal/math/fixedpoint.go
package math

import (
	"CoverLedger/internal/errs"
	"math/big"
	"math/bits"
	"sync"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

// Int128 is a pooled big.Int for widened intermediate products
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// Add returns a + b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errs.ErrOverflow
	}
	return sum, nil
}

// Sub returns a - b or ErrUnderflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, errs.ErrUnderflow
	}
	return diff, nil
}

// Mul returns a * b or ErrOverflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, errs.ErrOverflow
	}
	return lo, nil
}

// Div returns a / b (truncating) or ErrDivisionByZero.
func Div(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, errs.ErrDivisionByZero
	}
	return a / b, nil
}

// SaturatingAdd clamps at MaxUint64.
func SaturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}

// SaturatingSub clamps at zero.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// MulDiv computes a * b / d with a 128-bit intermediate product, truncating.
// The quotient must fit back into 64 bits.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, errs.ErrDivisionByZero
	}

	product := getInt128()
	denom := getInt128()
	defer putInt128(product)
	defer putInt128(denom)

	product.SetUint64(a)
	denom.SetUint64(b)
	product.Mul(product, denom)

	denom.SetUint64(d)
	product.Quo(product, denom)

	if !product.IsUint64() {
		return 0, errs.ErrOverflow
	}
	return product.Uint64(), nil
}

// ApplyBps returns amount * bps / 10000 using checked 64-bit arithmetic.
func ApplyBps(amount uint64, bps uint16) (uint64, error) {
	scaled, err := Mul(amount, uint64(bps))
	if err != nil {
		return 0, err
	}
	return Div(scaled, BpsDenominator)
}
