package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/host"
	"github.com/roach88/sharevault/internal/store"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// VaultInfo is the response of GET /v1/vault.
type VaultInfo struct {
	Asset       asset.Descriptor `json:"asset"`
	TotalAssets types.U128       `json:"total_assets"`
	TotalSupply types.U128       `json:"total_supply"`
	MaxDeposit  types.U128       `json:"max_deposit"`
}

// AccountInfo is the response of GET /v1/accounts/{account}.
type AccountInfo struct {
	Account     types.AccountID `json:"account"`
	Shares      types.U128      `json:"shares"`
	Assets      types.U128      `json:"assets"`
	MaxRedeem   types.U128      `json:"max_redeem"`
	MaxWithdraw types.U128      `json:"max_withdraw"`
}

// AmountResponse carries a single amount.
type AmountResponse struct {
	Amount types.U128 `json:"amount"`
}

// OnTransferRequest is the body of ft_on_transfer.
type OnTransferRequest struct {
	SenderID types.AccountID `json:"sender_id"`
	Amount   types.U128      `json:"amount"`
	Msg      string          `json:"msg"`
}

// OnMultiTransferRequest is the body of mt_on_transfer.
type OnMultiTransferRequest struct {
	SenderID         types.AccountID   `json:"sender_id"`
	PreviousOwnerIDs []types.AccountID `json:"previous_owner_ids"`
	TokenIDs         []string          `json:"token_ids"`
	Amounts          []types.U128      `json:"amounts"`
	Msg              string            `json:"msg"`
}

// UnusedResponse is the refund owed to the sender.
type UnusedResponse struct {
	Unused types.U128 `json:"unused"`
}

// UnusedMultiResponse is the per-item refund owed to the sender.
type UnusedMultiResponse struct {
	Unused []types.U128 `json:"unused"`
}

// RedeemRequest is the body of redeem.
type RedeemRequest struct {
	Shares   types.U128       `json:"shares"`
	Receiver *types.AccountID `json:"receiver_id,omitempty"`
	Memo     *string          `json:"memo,omitempty"`
}

// WithdrawRequest is the body of withdraw.
type WithdrawRequest struct {
	Assets   types.U128       `json:"assets"`
	Receiver *types.AccountID `json:"receiver_id,omitempty"`
	Memo     *string          `json:"memo,omitempty"`
}

// WithdrawalInfo is the response of GET /v1/withdrawals/{saga_id}.
type WithdrawalInfo struct {
	vault.WithdrawalContext
	Status      vault.SagaStatus `json:"status"`
	Result      types.U128       `json:"result"`
	Error       string           `json:"error,omitempty"`
	CommittedAt int64            `json:"committed_at"`
	ResolvedAt  *int64           `json:"resolved_at,omitempty"`
}

// NewWithdrawalInfo converts a saga log entry to its wire form.
func NewWithdrawalInfo(wd store.Withdrawal) WithdrawalInfo {
	return WithdrawalInfo{
		WithdrawalContext: wd.Context,
		Status:            wd.Status,
		Result:            wd.Result,
		Error:             wd.Error,
		CommittedAt:       wd.CommittedAt,
		ResolvedAt:        wd.ResolvedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": types.VaultVersion})
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	var info VaultInfo
	err := s.calls.View(r.Context(), func(ctx context.Context, v *vault.Vault) error {
		var err error
		info.Asset = v.Asset()
		if info.TotalAssets, err = v.TotalAssets(ctx); err != nil {
			return err
		}
		if info.TotalSupply, err = v.TotalSupply(ctx); err != nil {
			return err
		}
		info.MaxDeposit, err = v.MaxDeposit(ctx)
		return err
	})
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := types.ParseAccountID(mux.Vars(r)["account"])
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	info := AccountInfo{Account: account}
	err = s.calls.View(r.Context(), func(ctx context.Context, v *vault.Vault) error {
		var err error
		if info.Shares, err = v.BalanceOf(ctx, account); err != nil {
			return err
		}
		if info.Assets, err = v.ConvertToAssets(ctx, info.Shares); err != nil {
			return err
		}
		if info.MaxRedeem, err = v.MaxRedeem(ctx, account); err != nil {
			return err
		}
		info.MaxWithdraw, err = v.MaxWithdraw(ctx, account)
		return err
	})
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	direction := mux.Vars(r)["direction"]
	param := "assets"
	if direction == "to_assets" {
		param = "shares"
	}
	amount, ok := queryAmount(w, r, param)
	if !ok {
		return
	}

	var out types.U128
	err := s.calls.View(r.Context(), func(ctx context.Context, v *vault.Vault) error {
		var err error
		if direction == "to_shares" {
			out, err = v.ConvertToShares(ctx, amount)
		} else {
			out, err = v.ConvertToAssets(ctx, amount)
		}
		return err
	})
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: out})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	op := mux.Vars(r)["op"]
	amount, ok := queryAmount(w, r, "amount")
	if !ok {
		return
	}

	var out types.U128
	err := s.calls.View(r.Context(), func(ctx context.Context, v *vault.Vault) error {
		var err error
		switch op {
		case "deposit":
			out, err = v.PreviewDeposit(ctx, amount)
		case "redeem":
			out, err = v.PreviewRedeem(ctx, amount)
		case "withdraw":
			out, err = v.PreviewWithdraw(ctx, amount)
		}
		return err
	})
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: out})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.EventFilter{SagaID: q.Get("saga_id")}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil || after < 0 {
			badRequest(w, fmt.Sprintf("invalid after %q", v))
			return
		}
		f.AfterSeq = after
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			badRequest(w, fmt.Sprintf("invalid limit %q", v))
			return
		}
		f.Limit = limit
	}

	events, err := s.records.ReadEvents(r.Context(), f)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := s.records.Withdrawal(r.Context(), mux.Vars(r)["saga_id"])
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewWithdrawalInfo(wd))
}

func (s *Server) handleOnTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req OnTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	unused, err := s.calls.OnTransfer(r.Context(), caller, req.SenderID, req.Amount, req.Msg)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UnusedResponse{Unused: unused})
}

func (s *Server) handleOnMultiTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req OnMultiTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.PreviousOwnerIDs) != len(req.TokenIDs) {
		badRequest(w, "previous_owner_ids and token_ids differ in length")
		return
	}
	var previousOwner types.AccountID
	if len(req.PreviousOwnerIDs) > 0 {
		previousOwner = req.PreviousOwnerIDs[0]
	}

	unused, err := s.calls.OnMultiTransfer(r.Context(), caller, req.SenderID, previousOwner, req.TokenIDs, req.Amounts, req.Msg)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UnusedMultiResponse{Unused: unused})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req RedeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := s.calls.Redeem(r.Context(), caller, req.Shares, req.Receiver, req.Memo)
	writeOutcome(w, out, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req WithdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := s.calls.Withdraw(r.Context(), caller, req.Assets, req.Receiver, req.Memo)
	writeOutcome(w, out, err)
}

// writeOutcome reports a settled withdrawal as 200. A withdrawal that
// burned its shares but has not settled yet (the caller went away, or the
// transfer's outcome is still unknown) is 202 with the saga id to poll.
func writeOutcome(w http.ResponseWriter, out host.Outcome, err error) {
	if err != nil && out.SagaID != "" && out.Status == vault.SagaCommitted {
		writeJSON(w, http.StatusAccepted, out)
		return
	}
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// callerOf returns the caller the auth middleware verified.
func callerOf(w http.ResponseWriter, r *http.Request) (vault.Caller, bool) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no authenticated caller", nil)
	}
	return caller, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func queryAmount(w http.ResponseWriter, r *http.Request, name string) (types.U128, bool) {
	v, err := types.ParseU128(r.URL.Query().Get(name))
	if err != nil {
		badRequest(w, name+": "+err.Error())
		return types.U128{}, false
	}
	return v, true
}
