package vault

import (
	"fmt"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/types"
)

// SagaStatus is the state of a withdrawal saga.
//
//	requested -> committed -> finalized
//	                       -> compensated
//
// A requested saga exists only inside the call that validates it; the first
// durable state is committed.
type SagaStatus string

const (
	SagaRequested   SagaStatus = "requested"
	SagaCommitted   SagaStatus = "committed"
	SagaFinalized   SagaStatus = "finalized"
	SagaCompensated SagaStatus = "compensated"
)

var sagaTransitions = map[SagaStatus][]SagaStatus{
	SagaRequested: {SagaCommitted},
	SagaCommitted: {SagaFinalized, SagaCompensated},
}

// CanTransition reports whether a saga may move from one status to another.
func CanTransition(from, to SagaStatus) bool {
	for _, next := range sagaTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final status.
func (s SagaStatus) Terminal() bool {
	return s == SagaFinalized || s == SagaCompensated
}

// WithdrawalContext is the compensation record of an in-flight withdrawal.
// It is handed back to ResolveWithdraw unchanged.
type WithdrawalContext struct {
	SagaID   string          `json:"saga_id"`
	Owner    types.AccountID `json:"owner_id"`
	Receiver types.AccountID `json:"receiver_id"`
	Shares   types.U128      `json:"shares"`
	Assets   types.U128      `json:"assets"`
	Memo     *string         `json:"memo,omitempty"`
}

// String renders the context for logs.
func (w WithdrawalContext) String() string {
	return fmt.Sprintf("saga=%s owner=%s receiver=%s shares=%s assets=%s",
		w.SagaID, w.Owner, w.Receiver, w.Shares, w.Assets)
}

// Pending is a committed withdrawal awaiting its outbound transfer.
//
// The host dispatches Transfer and then calls ResolveWithdraw with Context
// and the transfer outcome, within the ResolveGas budget.
type Pending struct {
	Context    WithdrawalContext
	Transfer   asset.Call
	ResolveGas asset.Gas
}
