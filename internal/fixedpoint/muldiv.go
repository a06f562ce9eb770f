// Package fixedpoint implements checked 128-bit multiply-then-divide with an
// explicit rounding mode.
//
// The intermediate product is computed at 256-bit width so that it can be
// range-checked before it is narrowed back to 128 bits. A product that does
// not fit in 128 bits is an error; it is never wrapped or saturated.
package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

// Rounding selects how MulDiv treats a non-zero remainder.
type Rounding int

const (
	// Down truncates the quotient.
	Down Rounding = iota
	// Up adds one to the quotient when the remainder is non-zero.
	Up
)

// String returns the rounding mode name.
func (r Rounding) String() string {
	switch r {
	case Down:
		return "down"
	case Up:
		return "up"
	default:
		return fmt.Sprintf("rounding(%d)", int(r))
	}
}

var (
	// ErrOverflow is returned when a result does not fit in 128 bits.
	ErrOverflow = errors.New("fixedpoint: result overflows 128 bits")

	// ErrUnderflow is returned when a checked subtraction would go negative.
	ErrUnderflow = errors.New("fixedpoint: subtraction underflows")

	// ErrDivisionByZero is returned for a zero denominator.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
)

// MulDiv computes x*y/denominator with the given rounding.
func MulDiv(x, y, denominator uint128.Uint128, rounding Rounding) (uint128.Uint128, error) {
	if denominator.IsZero() {
		return uint128.Zero, ErrDivisionByZero
	}

	product, err := mul(x, y)
	if err != nil {
		return uint128.Zero, err
	}

	quotient, remainder := product.QuoRem(denominator)
	switch rounding {
	case Down:
		return quotient, nil
	case Up:
		if remainder.IsZero() {
			return quotient, nil
		}
		// remainder > 0 implies denominator > 1, so quotient < product <= Max.
		return quotient.Add64(1), nil
	default:
		return uint128.Zero, fmt.Errorf("fixedpoint: unsupported rounding mode %s", rounding)
	}
}

// mul returns x*y, or ErrOverflow if the product needs more than 128 bits.
func mul(x, y uint128.Uint128) (uint128.Uint128, error) {
	wx := uint256.Int{x.Lo, x.Hi, 0, 0}
	wy := uint256.Int{y.Lo, y.Hi, 0, 0}

	// Two 128-bit operands cannot overflow 256 bits.
	var wide uint256.Int
	wide.Mul(&wx, &wy)
	if wide[2] != 0 || wide[3] != 0 {
		return uint128.Zero, ErrOverflow
	}
	return uint128.New(wide[0], wide[1]), nil
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint128.Uint128) (uint128.Uint128, error) {
	sum := a.AddWrap(b)
	if sum.Cmp(a) < 0 {
		return uint128.Zero, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrUnderflow.
func CheckedSub(a, b uint128.Uint128) (uint128.Uint128, error) {
	if b.Cmp(a) > 0 {
		return uint128.Zero, fmt.Errorf("%w: %s - %s", ErrUnderflow, a, b)
	}
	return a.Sub(b), nil
}
