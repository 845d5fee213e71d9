// Package decimalmath implements checked, exponent-scaled integer arithmetic
// for every money computation in the pool.
//
// Amounts are carried as (coefficient, exponent) pairs whose value is
// coefficient * 10^exponent. Intermediates are computed exactly with
// shopspring/decimal and only narrowed back to uint64 at a caller-chosen
// target exponent, so nothing wraps silently and nothing is rounded beyond
// the precision the caller asked for. Never float64 for money.
package decimalmath

import (
	"errors"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when a result does not fit in uint64 or a
	// divisor is zero.
	ErrOverflow = errors.New("decimalmath: overflow in arithmetic operation")

	// ErrNegative is returned when a result that must be an unsigned amount
	// is negative.
	ErrNegative = errors.New("decimalmath: negative result")
)

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

// CheckedAdd returns a + b.
func CheckedAdd(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, ErrOverflow
	}
	return s, nil
}

// CheckedSub returns a - b. Underflow is reported as ErrOverflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// CheckedMul returns a * b.
func CheckedMul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	p := a * b
	if p/b != a {
		return 0, ErrOverflow
	}
	return p, nil
}

// CheckedDiv returns a / b truncated toward zero.
func CheckedDiv(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrOverflow
	}
	return a / b, nil
}

// ToDecimal converts a (coefficient, exponent) pair into an exact decimal.
func ToDecimal(coef uint64, exp int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(coef), exp)
}

// CheckedAsU64 casts an integral decimal to uint64. Any fractional part is
// truncated toward zero.
func CheckedAsU64(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, ErrNegative
	}
	bi := d.Truncate(0).BigInt()
	if bi.Cmp(maxUint64) > 0 {
		return 0, ErrOverflow
	}
	return bi.Uint64(), nil
}

// ScaleDecimal expresses d as a coefficient at exponent target, truncating
// toward zero.
func ScaleDecimal(d decimal.Decimal, target int32) (uint64, error) {
	return CheckedAsU64(d.Shift(-target))
}

// ScaleDecimalCeil is ScaleDecimal rounding toward positive infinity.
func ScaleDecimalCeil(d decimal.Decimal, target int32) (uint64, error) {
	return CheckedAsU64(d.Shift(-target).Ceil())
}

// ScaleToExponent rescales coef*10^exp to the target exponent.
func ScaleToExponent(coef uint64, exp, target int32) (uint64, error) {
	return ScaleDecimal(ToDecimal(coef, exp), target)
}

// CheckedDecimalMul multiplies two (coefficient, exponent) pairs and returns
// the product as a coefficient at the target exponent.
func CheckedDecimalMul(c1 uint64, e1 int32, c2 uint64, e2 int32, target int32) (uint64, error) {
	if c1 == 0 || c2 == 0 {
		return 0, nil
	}
	return ScaleDecimal(ToDecimal(c1, e1).Mul(ToDecimal(c2, e2)), target)
}

// CheckedDecimalDiv divides c1*10^e1 by c2*10^e2 and returns the quotient as
// a coefficient at the target exponent, truncated toward zero.
func CheckedDecimalDiv(c1 uint64, e1 int32, c2 uint64, e2 int32, target int32) (uint64, error) {
	q, err := quotient(c1, e1, c2, e2, target)
	if err != nil {
		return 0, err
	}
	return ScaleDecimal(q, target)
}

// CheckedDecimalCeilDiv is CheckedDecimalDiv rounding up instead of down.
func CheckedDecimalCeilDiv(c1 uint64, e1 int32, c2 uint64, e2 int32, target int32) (uint64, error) {
	if c2 == 0 {
		return 0, ErrOverflow
	}
	num := ToDecimal(c1, e1)
	den := ToDecimal(c2, e2)
	q, r := num.QuoRem(den, -target)
	out, err := ScaleDecimal(q, target)
	if err != nil {
		return 0, err
	}
	if !r.IsZero() {
		return CheckedAdd(out, 1)
	}
	return out, nil
}

func quotient(c1 uint64, e1 int32, c2 uint64, e2 int32, target int32) (decimal.Decimal, error) {
	if c2 == 0 {
		return decimal.Zero, ErrOverflow
	}
	q, _ := ToDecimal(c1, e1).QuoRem(ToDecimal(c2, e2), -target)
	return q, nil
}

// CheckedSqrt returns floor(sqrt(coef*10^exp)) as a coefficient at the
// target exponent. Integer square root keeps the result deterministic.
func CheckedSqrt(coef uint64, exp, target int32) (uint64, error) {
	radicand := ToDecimal(coef, exp).Shift(-2 * target).Truncate(0).BigInt()
	root := new(big.Int).Sqrt(radicand)
	if root.Cmp(maxUint64) > 0 {
		return 0, ErrOverflow
	}
	return root.Uint64(), nil
}
