package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/store"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// Outcome is the settled result of a withdrawal.
type Outcome struct {
	SagaID string           `json:"saga_id"`
	Status vault.SagaStatus `json:"status"`

	// Shares is the number of shares burned; restored when compensated.
	Shares types.U128 `json:"shares"`

	// Assets is the amount delivered to the receiver: the resolution's
	// result, 0 when compensated.
	Assets types.U128 `json:"assets"`
}

func outcomeOf(w store.Withdrawal) Outcome {
	return Outcome{
		SagaID: w.Context.SagaID,
		Status: w.Status,
		Shares: w.Context.Shares,
		Assets: w.Result,
	}
}

func committedOutcome(wc vault.WithdrawalContext) Outcome {
	return Outcome{
		SagaID: wc.SagaID,
		Status: vault.SagaCommitted,
		Shares: wc.Shares,
	}
}

// settle dispatches the transfer and waits for the resolution. If ctx ends
// first the saga keeps running; the caller gets a committed Outcome.
func (h *Host) settle(ctx context.Context, p *vault.Pending) (Outcome, error) {
	done := h.dispatch(p)
	select {
	case res := <-done:
		return res.outcome, res.err
	case <-ctx.Done():
		return committedOutcome(p.Context), ctx.Err()
	}
}

type settled struct {
	outcome Outcome
	err     error
}

// dispatch runs the outbound transfer off the loop, then enqueues the
// resolution. The returned channel receives exactly one value, whose
// Outcome always carries the saga id.
//
// The transfer runs on a context detached from any caller: once shares are
// burned the saga must reach a terminal state whether or not anyone is
// still waiting.
func (h *Host) dispatch(p *vault.Pending) <-chan settled {
	done := make(chan settled, 1)
	committedAt := time.Now()

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()

		rejection, err := h.transfer(p)
		if err != nil {
			slog.Warn("withdrawal left committed",
				"saga_id", p.Context.SagaID,
				"error", err,
			)
			done <- settled{outcome: committedOutcome(p.Context), err: NewSagaPendingError(p.Context.SagaID, err)}
			return
		}

		out, err := h.resolve(p.Context.SagaID, rejection)
		if err == nil {
			h.observer.WithdrawalResolved(out.Status, time.Since(committedAt))
		}
		done <- settled{outcome: out, err: err}
	}()
	return done
}

// transfer sends the payout until the asset ledger answers definitively.
// It returns the ledger's refusal, if any, or an error when the host
// stopped or the attempts ran out while the outcome was still unknown.
// Every attempt carries the same call, so the ledger applies it once.
func (h *Host) transfer(p *vault.Pending) (rejection error, err error) {
	for attempt := 1; ; attempt++ {
		tctx, cancel := context.WithTimeout(context.Background(), h.timeouts.Transfer)
		err = h.ledger.Transfer(tctx, h.cfg.ID, p.Transfer)
		cancel()

		if err == nil {
			return nil, nil
		}
		if asset.IsRejected(err) {
			slog.Warn("transfer rejected",
				"saga_id", p.Context.SagaID,
				"receiver", p.Context.Receiver,
				"assets", p.Context.Assets.String(),
				"error", err,
			)
			return err, nil
		}

		slog.Warn("transfer outcome unknown",
			"saga_id", p.Context.SagaID,
			"attempt", attempt,
			"error", err,
		)
		if h.retry.MaxAttempts > 0 && attempt >= h.retry.MaxAttempts {
			return nil, err
		}
		if !h.pause(h.retry.backoff(attempt)) {
			return nil, err
		}
		h.observer.Retried("transfer")
	}
}

// pause sleeps for d. It returns false if the host stopped first.
func (h *Host) pause(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-h.quit:
		return false
	}
}

// resolve runs the saga's continuation on the loop, retrying until the saga
// is terminal or the host stops. rejection is the ledger's refusal of the
// transfer; nil means the transfer was applied. Resolving an already
// resolved saga returns the recorded outcome and changes nothing.
func (h *Host) resolve(sagaID string, rejection error) (Outcome, error) {
	for attempt := 1; ; attempt++ {
		out, err := h.resolveOnce(sagaID, rejection)
		if err == nil || !retryable(err) {
			return out, err
		}
		if !h.pause(h.retry.backoff(attempt)) {
			return out, NewSagaPendingError(sagaID, err)
		}
		slog.Warn("retrying resolution", "saga_id", sagaID, "attempt", attempt+1, "error", err)
		h.observer.Retried("resolve")
	}
}

// retryable reports whether a failed resolution may succeed on another
// attempt. Vault rejections and corrupt state will not.
func retryable(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return false
	}
	return vault.CodeOf(err) == ""
}

// resolveOnce runs one attempt of the continuation. The resolve budget
// starts when the loop picks the task up. On failure the Outcome is the
// committed one.
func (h *Host) resolveOnce(sagaID string, rejection error) (Outcome, error) {
	self := vault.Caller{Predecessor: h.cfg.ID}
	out := Outcome{SagaID: sagaID, Status: vault.SagaCommitted}
	err := h.submitBudgeted("resolve_withdraw", h.timeouts.Resolve, func(ctx context.Context, v *vault.Vault, tx *store.Tx) error {
		w, err := tx.Withdrawal(ctx, sagaID)
		if errors.Is(err, store.ErrSagaNotFound) {
			return NewSagaNotFoundError(sagaID)
		}
		if err != nil {
			return err
		}
		out.Shares = w.Context.Shares
		if w.Status.Terminal() {
			slog.Info("saga already resolved", "saga_id", sagaID, "status", string(w.Status))
			out = outcomeOf(w)
			return nil
		}

		result, err := v.ResolveWithdraw(ctx, self, w.Context, rejection)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", sagaID, err)
		}

		status, errMsg := vault.SagaFinalized, ""
		if rejection != nil {
			status, errMsg = vault.SagaCompensated, rejection.Error()
		}
		ok, err := tx.ResolveWithdrawal(ctx, sagaID, status, result, errMsg)
		if err != nil {
			return err
		}
		if !ok {
			return NewInvariantError(sagaID, "committed saga did not accept resolution")
		}

		w.Status, w.Result = status, result
		out = outcomeOf(w)
		return nil
	})
	if err != nil {
		// A failed attempt rolled back; whatever the body saw is void.
		out.Status, out.Assets = vault.SagaCommitted, types.U128{}
	}
	return out, err
}

// Recover dispatches every withdrawal left in 'committed' and waits for
// all of them to settle. It returns the outcomes in saga log order. The
// saga id travels as the transfer's reference, so a transfer that did
// reach the asset ledger before the restart is not applied twice.
//
// If ctx ends first, the unsettled sagas are reported committed with
// ctx's error and keep running in the background until the host stops.
func (h *Host) Recover(ctx context.Context) ([]Outcome, error) {
	pending, err := h.store.PendingWithdrawals(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	slog.Info("recovering withdrawals", "count", len(pending))

	outcomes := make([]Outcome, len(pending))
	errs := make([]error, len(pending))
	var wg sync.WaitGroup
	for i, w := range pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := w.Pending()
			select {
			case res := <-h.dispatch(p):
				outcomes[i], errs[i] = res.outcome, res.err
			case <-ctx.Done():
				outcomes[i], errs[i] = committedOutcome(p.Context), fmt.Errorf("%s: %w", p.Context.SagaID, ctx.Err())
			}
		}()
	}
	wg.Wait()

	return outcomes, errors.Join(errs...)
}
