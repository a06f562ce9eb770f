package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/roach88/sharevault/internal/host"
	"github.com/roach88/sharevault/internal/store"
	"github.com/roach88/sharevault/internal/vault"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// statusFor maps a vault error code to an HTTP status.
func statusFor(code vault.ErrorCode) int {
	switch code {
	case vault.ErrCodeUnauthorized:
		return http.StatusForbidden
	case vault.ErrCodeInsufficientBalance, vault.ErrCodeSlippageViolation, vault.ErrCodeZeroAmount:
		return http.StatusUnprocessableEntity
	case vault.ErrCodeArithmeticOverflow, vault.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeCallError writes err with the status its type implies.
func writeCallError(w http.ResponseWriter, err error) {
	var ve *vault.Error
	if errors.As(err, &ve) {
		writeError(w, statusFor(ve.Code), string(ve.Code), ve.Message, ve.Details)
		return
	}

	var re *host.RuntimeError
	if errors.As(err, &re) {
		status := http.StatusInternalServerError
		switch re.Code {
		case host.ErrCodeQueueClosed:
			status = http.StatusServiceUnavailable
		case host.ErrCodeSagaNotFound:
			status = http.StatusNotFound
		}
		writeError(w, status, string(re.Code), re.Message, re.Details)
		return
	}

	switch {
	case errors.Is(err, store.ErrSagaNotFound):
		writeError(w, http.StatusNotFound, "SAGA_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error(), nil)
	default:
		slog.Error("rpc call failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message, Details: details}})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, "BAD_REQUEST", message, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}
