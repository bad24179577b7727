package math

import (
	"errors"
	stdmath "math"
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	QuoteConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // 0.000001 base units
	RatioConfig = DecimalConfig{DecimalPrecision: 4, Scale: 10_000}      // 0.0001 (health factor)
	RateConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // 0.000001 (decay factor)
	PriceConfig = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000} // 0.00000001 (oracle price)
)

// HealthInfinity is the sentinel health factor for positions with zero debt.
const HealthInfinity = int64(stdmath.MaxInt64)

// ErrOverflow reports a checked conversion or addition that does not fit.
var ErrOverflow = errors.New("arithmetic overflow")

// Int128 is a pooled big.Int for intermediate calculations
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

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	// Apply rounding
	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			// remainder > half: round up
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			// remainder == half and even denominator: round to even
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// ApplyRate scales amount by a rate at RateConfig precision.
// ApplyRate(1000e6, 900000) == 900e6.
func ApplyRate(amount, rate int64) int64 {
	raw := MultiplyInt128(amount, rate)
	result := DivideInt128(raw, RateConfig.Scale, RoundDown)
	putInt128(raw)
	return result
}

// ComputeValue converts an amount (quote scale) at an oracle price
// (price scale, per whole unit) into a value at quote scale.
func ComputeValue(amount, price int64) int64 {
	raw := MultiplyInt128(amount, price)
	result := DivideInt128(raw, PriceConfig.Scale, RoundHalfEven)
	putInt128(raw)
	return result
}

// ComputeHealthFactor returns collateralValue/debtValue at RatioConfig scale.
// Zero debt yields HealthInfinity, never an error.
func ComputeHealthFactor(collateralValue, debtValue int64) int64 {
	if debtValue <= 0 {
		return HealthInfinity
	}
	raw := MultiplyInt128(collateralValue, RatioConfig.Scale)
	result := DivideInt128(raw, debtValue, RoundDown)
	putInt128(raw)
	return result
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrOverflow.
func CheckedSub(a, b int64) (int64, error) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, ErrOverflow
	}
	return diff, nil
}

// ToInt32 narrows v, failing loudly instead of truncating.
func ToInt32(v int64) (int32, error) {
	if v < stdmath.MinInt32 || v > stdmath.MaxInt32 {
		return 0, ErrOverflow
	}
	return int32(v), nil
}
