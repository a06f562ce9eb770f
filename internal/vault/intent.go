package vault

import (
	"encoding/json"
	"strings"

	"github.com/roach88/sharevault/internal/types"
)

// DepositIntent carries the optional bounds a depositor attaches to an
// inbound transfer. It lives only for the duration of one notification.
type DepositIntent struct {
	MinShares *types.U128
	MaxShares *types.U128
	Receiver  *types.AccountID
	Memo      *string
}

// depositMessage accepts both snake_case and camelCase field names.
type depositMessage struct {
	MinShares      *types.U128 `json:"min_shares"`
	MinSharesCamel *types.U128 `json:"minShares"`
	MaxShares      *types.U128 `json:"max_shares"`
	MaxSharesCamel *types.U128 `json:"maxShares"`
	Receiver       *string     `json:"receiver_id"`
	ReceiverCamel  *string     `json:"receiverId"`
	Memo           *string     `json:"memo"`
}

// ParseDepositIntent decodes a transfer message. A message that is empty or
// does not parse, including one naming an invalid receiver, yields the zero
// intent: a plain deposit credited to the sender.
func ParseDepositIntent(msg string) DepositIntent {
	if strings.TrimSpace(msg) == "" {
		return DepositIntent{}
	}

	var m depositMessage
	if err := json.Unmarshal([]byte(msg), &m); err != nil {
		return DepositIntent{}
	}

	intent := DepositIntent{
		MinShares: firstNonNil(m.MinShares, m.MinSharesCamel),
		MaxShares: firstNonNil(m.MaxShares, m.MaxSharesCamel),
		Memo:      m.Memo,
	}
	if r := firstNonNil(m.Receiver, m.ReceiverCamel); r != nil {
		id, err := types.ParseAccountID(*r)
		if err != nil {
			return DepositIntent{}
		}
		intent.Receiver = &id
	}
	return intent
}

func firstNonNil[T any](a, b *T) *T {
	if a != nil {
		return a
	}
	return b
}
