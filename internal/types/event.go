package types

import "fmt"

// EventKind names a vault event.
type EventKind string

const (
	// EventMint records shares credited to an owner.
	EventMint EventKind = "ft_mint"
	// EventBurn records shares debited from an owner.
	EventBurn EventKind = "ft_burn"
	// EventDeposit records an accepted deposit.
	EventDeposit EventKind = "vault_deposit"
	// EventWithdraw records a finalized withdrawal.
	EventWithdraw EventKind = "vault_withdraw"
)

// Event standards, following the NEP-297 envelope.
const (
	StandardShares = "nep141"
	StandardVault  = "nep621"
	EventVersion   = "1.0.0"
)

// Memos attached to share events.
const (
	MemoDeposit  = "Deposit"
	MemoWithdraw = "Withdrawal"
	MemoRollback = "Withdrawal rollback"
)

// Standard returns the NEP-297 standard an event kind belongs to.
func (k EventKind) Standard() string {
	switch k {
	case EventMint, EventBurn:
		return StandardShares
	default:
		return StandardVault
	}
}

// Event is a record emitted by a vault operation.
//
// Share events (ft_mint, ft_burn) use Owner and Shares. Vault events use all
// parties. Seq is assigned by the emitter; ID is content-addressed over the
// other fields (see EventID).
type Event struct {
	ID       string    `json:"id"`
	Seq      int64     `json:"seq"`
	Kind     EventKind `json:"event"`
	SagaID   string    `json:"saga_id,omitempty"`
	Sender   AccountID `json:"sender_id,omitempty"`
	Owner    AccountID `json:"owner_id"`
	Receiver AccountID `json:"receiver_id,omitempty"`
	Assets   U128      `json:"assets"`
	Shares   U128      `json:"shares"`
	Memo     string    `json:"memo,omitempty"`
}

// String renders the event in a single log-friendly line.
func (e Event) String() string {
	return fmt.Sprintf("%s owner=%s assets=%s shares=%s memo=%q", e.Kind, e.Owner, e.Assets, e.Shares, e.Memo)
}

// canonicalMap returns the hashed fields of the event.
// Empty optional fields are omitted so that adding a field never changes
// the id of events that do not use it.
func (e Event) canonicalMap() map[string]any {
	m := map[string]any{
		"standard": e.Kind.Standard(),
		"version":  EventVersion,
		"event":    string(e.Kind),
		"seq":      e.Seq,
		"owner_id": string(e.Owner),
		"assets":   e.Assets.String(),
		"shares":   e.Shares.String(),
	}
	if e.SagaID != "" {
		m["saga_id"] = e.SagaID
	}
	if e.Sender != "" {
		m["sender_id"] = string(e.Sender)
	}
	if e.Receiver != "" {
		m["receiver_id"] = string(e.Receiver)
	}
	if e.Memo != "" {
		m["memo"] = e.Memo
	}
	return m
}
