package host

import (
	"time"

	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// Observer receives call outcomes. internal/metrics implements it with
// Prometheus collectors.
type Observer interface {
	// Deposit reports a deposit notification: assets used and refunded,
	// or the rejection code.
	Deposit(used, unused types.U128, code vault.ErrorCode)

	// WithdrawalCommitted reports a withdrawal that burned its shares.
	WithdrawalCommitted(assets types.U128)

	// WithdrawalResolved reports a finished saga and how long it was in
	// flight.
	WithdrawalResolved(status vault.SagaStatus, elapsed time.Duration)

	// Retried reports another attempt at one leg of a saga: "transfer"
	// after an unknown outcome, "resolve" after a continuation that did
	// not commit.
	Retried(leg string)

	// Rejected reports a call refused by the vault.
	Rejected(call string, code vault.ErrorCode)

	// Pool reports the vault totals after each committed call.
	Pool(totalAssets, totalSupply types.U128)
}

type nopObserver struct{}

func (nopObserver) Deposit(types.U128, types.U128, vault.ErrorCode) {}
func (nopObserver) WithdrawalCommitted(types.U128) {}
func (nopObserver) WithdrawalResolved(vault.SagaStatus, time.Duration) {}
func (nopObserver) Retried(string) {}
func (nopObserver) Rejected(string, vault.ErrorCode) {}
func (nopObserver) Pool(types.U128, types.U128) {}
