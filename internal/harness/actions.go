package harness

import (
	"context"
	"fmt"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/host"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// call runs one step and returns its result fields. Errors returned by the
// vault, the host or the ledger are the step's outcome; malformed arguments
// are harness errors and are wrapped so caseOf does not recognise them.
func (h *Harness) call(ctx context.Context, action string, args map[string]any) (map[string]any, error) {
	a := stepArgs(args)

	switch action {
	case ActionMint:
		account, amount := a.account("account"), a.amount("amount")
		if a.err != nil {
			return nil, a.err
		}
		return nil, h.ledger.Mint(h.asset, account, amount)

	case ActionRegister:
		if a.need("account"); a.err != nil {
			return nil, a.err
		}
		h.ledger.Register(a.account("account"))
		return nil, nil

	case ActionUnregister:
		if a.need("account"); a.err != nil {
			return nil, a.err
		}
		h.ledger.Unregister(a.account("account"))
		return nil, nil

	case ActionTransferCall, ActionMultiTransferCall:
		sender, amount, msg := a.account("sender"), a.amount("amount"), a.str("msg")
		if a.err != nil {
			return nil, a.err
		}
		notify := func(ctx context.Context, amount types.U128) (types.U128, error) {
			return h.notify(ctx, action, sender, amount, msg)
		}
		kept, err := h.ledger.TransferCall(ctx, h.asset, sender, h.vault, amount, notify)
		if err != nil {
			return nil, err
		}
		return map[string]any{"kept": kept.String()}, nil

	case ActionOnTransfer:
		sender, amount, msg := a.account("sender"), a.amount("amount"), a.str("msg")
		predecessor := h.asset.Contract()
		if p := a.str("predecessor"); p != "" {
			predecessor = types.AccountID(p)
		}
		if a.err != nil {
			return nil, a.err
		}
		unused, err := h.host.OnTransfer(ctx, vault.Caller{Predecessor: predecessor}, sender, amount, msg)
		if err != nil {
			return nil, err
		}
		return map[string]any{"unused": unused.String()}, nil

	case ActionRedeem, ActionWithdraw:
		caller, receiver, memo := a.caller(), a.optAccount("receiver"), a.optStr("memo")
		var (
			out host.Outcome
			err error
		)
		if action == ActionRedeem {
			shares := a.amount("shares")
			if a.err != nil {
				return nil, a.err
			}
			out, err = h.host.Redeem(ctx, caller, shares, receiver, memo)
		} else {
			assets := a.amount("assets")
			if a.err != nil {
				return nil, a.err
			}
			out, err = h.host.Withdraw(ctx, caller, assets, receiver, memo)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"saga_id": out.SagaID,
			"status":  string(out.Status),
			"shares":  out.Shares.String(),
			"assets":  out.Assets.String(),
		}, nil
	}

	return h.view(ctx, action, a)
}

// notify delivers the transfer notification the asset contract would send
// to the vault.
func (h *Harness) notify(ctx context.Context, action string, sender types.AccountID, amount types.U128, msg string) (types.U128, error) {
	caller := vault.Caller{Predecessor: h.asset.Contract()}
	if action == ActionTransferCall {
		return h.host.OnTransfer(ctx, caller, sender, amount, msg)
	}

	itemID, _ := h.asset.ItemID()
	unused, err := h.host.OnMultiTransfer(ctx, caller, sender, sender, []string{itemID}, []types.U128{amount}, msg)
	if err != nil {
		return amount, err
	}
	if len(unused) != 1 {
		return amount, fmt.Errorf("mt_on_transfer returned %d amounts for 1 item", len(unused))
	}
	return unused[0], nil
}

type viewFunc func(*vault.Vault, context.Context) (types.U128, error)

func amountView(f func(*vault.Vault, context.Context, types.U128) (types.U128, error), amount types.U128) viewFunc {
	return func(v *vault.Vault, ctx context.Context) (types.U128, error) { return f(v, ctx, amount) }
}

func accountView(f func(*vault.Vault, context.Context, types.AccountID) (types.U128, error), account types.AccountID) viewFunc {
	return func(v *vault.Vault, ctx context.Context) (types.U128, error) { return f(v, ctx, account) }
}

func (h *Harness) view(ctx context.Context, action string, a *argReader) (map[string]any, error) {
	var fn viewFunc

	switch action {
	case ActionTotalAssets:
		fn = (*vault.Vault).TotalAssets
	case ActionTotalSupply:
		fn = (*vault.Vault).TotalSupply
	case ActionMaxDeposit:
		fn = (*vault.Vault).MaxDeposit
	case ActionBalanceOf:
		fn = accountView((*vault.Vault).BalanceOf, a.account("account"))
	case ActionMaxRedeem:
		fn = accountView((*vault.Vault).MaxRedeem, a.account("owner"))
	case ActionMaxWithdraw:
		fn = accountView((*vault.Vault).MaxWithdraw, a.account("owner"))
	case ActionConvertToShares:
		fn = amountView((*vault.Vault).ConvertToShares, a.amount("assets"))
	case ActionPreviewDeposit:
		fn = amountView((*vault.Vault).PreviewDeposit, a.amount("assets"))
	case ActionPreviewWithdraw:
		fn = amountView((*vault.Vault).PreviewWithdraw, a.amount("assets"))
	case ActionConvertToAssets:
		fn = amountView((*vault.Vault).ConvertToAssets, a.amount("shares"))
	case ActionPreviewRedeem:
		fn = amountView((*vault.Vault).PreviewRedeem, a.amount("shares"))
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
	if a.err != nil {
		return nil, a.err
	}

	var value types.U128
	err := h.host.View(ctx, func(ctx context.Context, v *vault.Vault) error {
		var err error
		value, err = fn(v, ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"value": value.String()}, nil
}

// argReader reads step arguments, keeping the first error.
type argReader struct {
	args map[string]any
	err  error
}

func stepArgs(args map[string]any) *argReader {
	return &argReader{args: args}
}

func (r *argReader) fail(format string, a ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, a...)
	}
}

func (r *argReader) need(key string) {
	if _, ok := r.args[key]; !ok {
		r.fail("missing arg %q", key)
	}
}

// str returns an optional string argument.
func (r *argReader) str(key string) string {
	v, _ := r.args[key].(string)
	return v
}

func (r *argReader) optStr(key string) *string {
	if _, ok := r.args[key]; !ok {
		return nil
	}
	v := r.str(key)
	return &v
}

func (r *argReader) account(key string) types.AccountID {
	r.need(key)
	return types.AccountID(r.str(key))
}

func (r *argReader) optAccount(key string) *types.AccountID {
	if _, ok := r.args[key]; !ok {
		return nil
	}
	v := types.AccountID(r.str(key))
	return &v
}

func (r *argReader) amount(key string) types.U128 {
	r.need(key)
	v, err := types.ParseU128(r.str(key))
	if err != nil {
		r.fail("arg %q: %w", key, err)
	}
	return v
}

// caller signs as owner with the one-unit deposit unless "attached" says
// otherwise.
func (r *argReader) caller() vault.Caller {
	c := vault.Caller{Predecessor: r.account("owner"), Attached: asset.OneUnit}
	if _, ok := r.args["attached"]; ok {
		c.Attached = r.amount("attached")
	}
	return c
}
