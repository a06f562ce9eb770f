package host

import (
	"context"

	"github.com/roach88/sharevault/internal/store"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// OnTransfer delivers an inbound single-token transfer notification and
// returns the amount to refund. On error the whole amount is refundable.
func (h *Host) OnTransfer(ctx context.Context, caller vault.Caller, sender types.AccountID, amount types.U128, msg string) (types.U128, error) {
	var unused types.U128
	err := h.submit(ctx, "ft_on_transfer", true, func(ctx context.Context, v *vault.Vault, _ *store.Tx) error {
		var err error
		unused, err = v.OnTransfer(ctx, caller, sender, amount, msg)
		return err
	})
	if err != nil {
		h.observer.Deposit(types.U128{}, amount, vault.CodeOf(err))
		return amount, err
	}
	h.observer.Deposit(usedOf(amount, unused), unused, "")
	return unused, nil
}

// OnMultiTransfer delivers an inbound multi-token transfer notification and
// returns the per-item amounts to refund.
func (h *Host) OnMultiTransfer(ctx context.Context, caller vault.Caller, sender, previousOwner types.AccountID, itemIDs []string, amounts []types.U128, msg string) ([]types.U128, error) {
	var unused []types.U128
	err := h.submit(ctx, "mt_on_transfer", true, func(ctx context.Context, v *vault.Vault, _ *store.Tx) error {
		var err error
		unused, err = v.OnMultiTransfer(ctx, caller, sender, previousOwner, itemIDs, amounts, msg)
		return err
	})
	if err != nil {
		h.observer.Rejected("mt_on_transfer", vault.CodeOf(err))
		return amounts, err
	}
	if len(amounts) == 1 && len(unused) == 1 {
		h.observer.Deposit(usedOf(amounts[0], unused[0]), unused[0], "")
	}
	return unused, nil
}

// Redeem burns shares and waits for the withdrawal to settle. Outcome.Assets
// is the amount delivered; 0 if the transfer failed and the burn was
// reversed.
func (h *Host) Redeem(ctx context.Context, caller vault.Caller, shares types.U128, receiver *types.AccountID, memo *string) (Outcome, error) {
	return h.withdrawal(ctx, "redeem", func(ctx context.Context, v *vault.Vault) (*vault.Pending, error) {
		return v.Redeem(ctx, caller, shares, receiver, memo)
	})
}

// Withdraw burns the shares needed for assets and waits for the withdrawal
// to settle.
func (h *Host) Withdraw(ctx context.Context, caller vault.Caller, assets types.U128, receiver *types.AccountID, memo *string) (Outcome, error) {
	return h.withdrawal(ctx, "withdraw", func(ctx context.Context, v *vault.Vault) (*vault.Pending, error) {
		return v.Withdraw(ctx, caller, assets, receiver, memo)
	})
}

func (h *Host) withdrawal(ctx context.Context, name string, start func(context.Context, *vault.Vault) (*vault.Pending, error)) (Outcome, error) {
	var p *vault.Pending
	err := h.submit(ctx, name, true, func(ctx context.Context, v *vault.Vault, tx *store.Tx) error {
		var err error
		if p, err = start(ctx, v); err != nil {
			return err
		}
		return tx.RecordWithdrawal(ctx, p)
	})
	if err != nil {
		if code := vault.CodeOf(err); code != "" {
			h.observer.Rejected(name, code)
		}
		return Outcome{}, err
	}

	h.observer.WithdrawalCommitted(p.Context.Assets)
	return h.settle(ctx, p)
}

func usedOf(amount, unused types.U128) types.U128 {
	if unused.Uint128().Cmp(amount.Uint128()) >= 0 {
		return types.U128{}
	}
	return types.NewU128(amount.Uint128().Sub(unused.Uint128()))
}
