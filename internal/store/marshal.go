package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"lukechampine.com/uint128"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/types"
)

func unixNow() int64 {
	return time.Now().Unix()
}

// parseAmount reads a decimal TEXT column.
func parseAmount(column, s string) (uint128.Uint128, error) {
	v, err := types.ParseU128(s)
	if err != nil {
		return uint128.Zero, fmt.Errorf("column %s: %w", column, err)
	}
	return v.Uint128(), nil
}

// marshalCall converts an outbound call to JSON TEXT for the saga log.
func marshalCall(c asset.Call) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal transfer: %w", err)
	}
	return string(data), nil
}

// unmarshalCall parses JSON TEXT into an outbound call.
func unmarshalCall(data string) (asset.Call, error) {
	var c asset.Call
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return asset.Call{}, fmt.Errorf("unmarshal transfer: %w", err)
	}
	return c, nil
}

// nullString maps an optional memo to a nullable column.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
