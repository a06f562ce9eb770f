package types

import (
	"fmt"

	"lukechampine.com/uint128"
)

// U128 is an unsigned 128-bit amount that marshals as a decimal string.
//
// JSON numbers cannot carry 128-bit integers without precision loss, so every
// amount crossing a process boundary is written as "12345".
type U128 uint128.Uint128

// NewU128 wraps a uint128 value.
func NewU128(v uint128.Uint128) U128 {
	return U128(v)
}

// U128From64 creates a U128 from a uint64.
func U128From64(v uint64) U128 {
	return U128(uint128.From64(v))
}

// ParseU128 parses a base-10 string into a U128.
// Fails on empty input, signs, non-digits, and values above 2^128-1.
func ParseU128(s string) (U128, error) {
	if s == "" {
		return U128{}, fmt.Errorf("parse u128: empty string")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return U128{}, fmt.Errorf("parse u128 %q: not a decimal integer", s)
		}
	}
	v, err := uint128.FromString(s)
	if err != nil {
		return U128{}, fmt.Errorf("parse u128 %q: %w", s, err)
	}
	return U128(v), nil
}

// MustParseU128 is like ParseU128 but panics on error. For tests and constants.
func MustParseU128(s string) U128 {
	v, err := ParseU128(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Uint128 returns the underlying value.
func (u U128) Uint128() uint128.Uint128 {
	return uint128.Uint128(u)
}

// IsZero reports whether u == 0.
func (u U128) IsZero() bool {
	return uint128.Uint128(u).IsZero()
}

// String returns the decimal representation.
func (u U128) String() string {
	return uint128.Uint128(u).String()
}

// MarshalText implements encoding.TextMarshaler.
// encoding/json quotes the result, yielding "123".
func (u U128) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *U128) UnmarshalText(text []byte) error {
	v, err := ParseU128(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
