package vault

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes vault failures.
type ErrorCode string

const (
	// ErrCodeUnauthorized is returned for a wrong caller: a deposit from a
	// contract other than the underlying asset, a missing intent proof, or
	// an external call to ResolveWithdraw.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrCodeInsufficientBalance is returned when a withdrawal exceeds the
	// owner's entitlement or the vault's accounted assets.
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"

	// ErrCodeSlippageViolation is returned when a deposit would mint fewer
	// shares than the caller's minimum.
	ErrCodeSlippageViolation ErrorCode = "SLIPPAGE_VIOLATION"

	// ErrCodeZeroAmount is returned when an operation would move no assets.
	ErrCodeZeroAmount ErrorCode = "ZERO_AMOUNT"

	// ErrCodeArithmeticOverflow is returned when a result exceeds 128 bits.
	ErrCodeArithmeticOverflow ErrorCode = "ARITHMETIC_OVERFLOW"

	// ErrCodeTransferFailed reports a failed outbound transfer. It never
	// escapes ResolveWithdraw; it is logged alongside the compensation.
	ErrCodeTransferFailed ErrorCode = "TRANSFER_FAILED"

	// ErrCodeInvalidArgument is returned for malformed inputs such as an
	// invalid receiver account id or a mismatched multi-token batch.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// Error is a vault failure. An operation that returns an Error has made no
// state changes.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the vault error code of err, or "" if err is not a vault
// error. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// IsCode reports whether err is a vault error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsUnauthorized returns true if err is an authorization failure.
func IsUnauthorized(err error) bool {
	return IsCode(err, ErrCodeUnauthorized)
}

// IsInsufficientBalance returns true if err is an entitlement failure.
func IsInsufficientBalance(err error) bool {
	return IsCode(err, ErrCodeInsufficientBalance)
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func overflowError(op string, err error) *Error {
	return &Error{Code: ErrCodeArithmeticOverflow, Message: op, Err: err}
}

func (e *Error) with(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}
