package math

import (
	"errors"
	"math/big"
	stdmath "math"
	"sync"
)

// BpsDenominator is the basis-point scale: 10_000 bps = 100%.
const BpsDenominator = 10_000

// ErrOverflow is returned by every checked operation whose result does not
// fit the target width. Callers collapse all arithmetic failures into this
// single kind.
var ErrOverflow = errors.New("math overflow")

var maxUint64 = new(big.Int).SetUint64(stdmath.MaxUint64)

// wideIntPool recycles big.Int temporaries for the hot price/settlement path.
var wideIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getWide() *big.Int {
	return wideIntPool.Get().(*big.Int)
}

func putWide(v *big.Int) {
	v.SetInt64(0)
	wideIntPool.Put(v)
}

// CheckedAddU64 returns a+b or ErrOverflow.
func CheckedAddU64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSubU64 returns a-b or ErrOverflow on underflow.
func CheckedSubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// CheckedMulU64 returns a*b or ErrOverflow.
func CheckedMulU64(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/a != b {
		return 0, ErrOverflow
	}
	return prod, nil
}

// MulWide returns a*b as a fresh 128-bit-capable integer. Never overflows.
func MulWide(a, b uint64) *big.Int {
	result := new(big.Int).SetUint64(a)
	return result.Mul(result, new(big.Int).SetUint64(b))
}

// BpsMulWide computes x * bps / 10_000 with floor division over a wide
// intermediate, matching the reference u128 arithmetic exactly.
func BpsMulWide(x *big.Int, bps uint16) *big.Int {
	result := new(big.Int).SetUint64(uint64(bps))
	result.Mul(result, x)
	return result.Quo(result, big.NewInt(BpsDenominator))
}

// BpsOfU64 computes x * bps / 10_000 over a wide intermediate and narrows
// the quotient back to uint64, failing with ErrOverflow if it does not fit.
func BpsOfU64(x uint64, bps uint16) (uint64, error) {
	wide := getWide()
	defer putWide(wide)

	wide.SetUint64(x)
	wide.Mul(wide, new(big.Int).SetUint64(uint64(bps)))
	wide.Quo(wide, big.NewInt(BpsDenominator))
	return NarrowToU64(wide)
}

// NarrowToU64 converts a non-negative wide integer to uint64, or ErrOverflow.
func NarrowToU64(v *big.Int) (uint64, error) {
	if v.Sign() < 0 || v.Cmp(maxUint64) > 0 {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// SignRole selects which side of a deal the PnL is computed for.
type SignRole int

const (
	RoleLong  SignRole = iota // buyer: profits when mark > agreed
	RoleShort                 // farmer: profits when mark < agreed
)

// SignedMulDiff computes (mark − agreed) × qty for the long role, or the
// negation for the short role, in wide signed arithmetic. The result is
// positive when the chosen role wins.
func SignedMulDiff(agreed, mark, qty uint64, role SignRole) *big.Int {
	diff := new(big.Int).SetUint64(mark)
	diff.Sub(diff, new(big.Int).SetUint64(agreed))
	if role == RoleShort {
		diff.Neg(diff)
	}
	return diff.Mul(diff, new(big.Int).SetUint64(qty))
}

// PriceBandOK reports whether |next−prev| × 10_000 / prev ≤ maxDeltaBps.
// A zero prev disables the check (no reference price yet).
func PriceBandOK(prev, next uint64, maxDeltaBps uint64) bool {
	if prev == 0 {
		return true
	}
	var delta uint64
	if next >= prev {
		delta = next - prev
	} else {
		delta = prev - next
	}

	wide := getWide()
	defer putWide(wide)

	wide.SetUint64(delta)
	wide.Mul(wide, big.NewInt(BpsDenominator))
	wide.Quo(wide, new(big.Int).SetUint64(prev))
	return wide.Cmp(new(big.Int).SetUint64(maxDeltaBps)) <= 0
}

// MinU64 returns the smaller of a and b.
func MinU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
