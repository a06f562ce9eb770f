package types

import (
	"fmt"
)

// AccountID identifies an account on the host platform.
//
// Valid ids are 2 to 64 characters of lowercase letters and digits, with
// single '-', '_' or '.' separators between alphanumeric runs.
type AccountID string

const (
	minAccountIDLen = 2
	maxAccountIDLen = 64
)

// String returns the account id.
func (a AccountID) String() string {
	return string(a)
}

// Validate checks the account id format.
func (a AccountID) Validate() error {
	s := string(a)
	if len(s) < minAccountIDLen || len(s) > maxAccountIDLen {
		return fmt.Errorf("account id %q: length must be %d..%d", s, minAccountIDLen, maxAccountIDLen)
	}

	prevSeparator := true // leading separator is invalid
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevSeparator = false
		case c == '-' || c == '_' || c == '.':
			if prevSeparator {
				return fmt.Errorf("account id %q: misplaced separator at %d", s, i)
			}
			prevSeparator = true
		default:
			return fmt.Errorf("account id %q: invalid character %q", s, c)
		}
	}
	if prevSeparator {
		return fmt.Errorf("account id %q: trailing separator", s)
	}
	return nil
}

// ParseAccountID validates and returns an AccountID.
func ParseAccountID(s string) (AccountID, error) {
	id := AccountID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}
