package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lukechampine.com/uint128"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/fixedpoint"
	"github.com/roach88/sharevault/internal/types"
)

var (
	// ErrNotRegistered is returned when the receiver of a transfer has no
	// storage registered on the asset ledger.
	ErrNotRegistered = errors.New("account not registered")

	// ErrInsufficientFunds is returned when the sender's balance is too low.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrMissingDeposit is returned when a transfer lacks the one-unit
	// attached payment.
	ErrMissingDeposit = errors.New("requires attached deposit of exactly 1")
)

type holding struct {
	contract types.AccountID
	itemID   string
	account  types.AccountID
}

func holdingOf(d asset.Descriptor, account types.AccountID) holding {
	item, _ := d.ItemID()
	return holding{contract: d.Contract(), itemID: item, account: account}
}

// TransferReceiver is notified of an inbound transfer-with-call and returns
// the unused amount to refund. A returned error refunds the whole amount.
type TransferReceiver func(ctx context.Context, amount types.U128) (types.U128, error)

// Simulated is an in-process asset ledger holding balances for any number
// of single- and multi-token assets.
//
// Transfers carrying a Reference are applied at most once; a repeat returns
// the first outcome.
//
// Thread-safety: Simulated is safe for concurrent use via internal mutex.
type Simulated struct {
	mu         sync.Mutex
	registered map[types.AccountID]bool
	balances   map[holding]uint128.Uint128
	applied    map[string]error
}

// NewSimulated creates an empty ledger.
func NewSimulated() *Simulated {
	return &Simulated{
		registered: make(map[types.AccountID]bool),
		balances:   make(map[holding]uint128.Uint128),
		applied:    make(map[string]error),
	}
}

// Register marks account as able to receive transfers.
func (s *Simulated) Register(account types.AccountID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[account] = true
}

// Unregister removes account's registration. Its balance is kept.
func (s *Simulated) Unregister(account types.AccountID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registered, account)
}

// Mint credits amount of d to account, registering it.
func (s *Simulated) Mint(d asset.Descriptor, account types.AccountID, amount types.U128) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registered[account] = true
	h := holdingOf(d, account)
	bal, err := fixedpoint.CheckedAdd(s.balances[h], amount.Uint128())
	if err != nil {
		return fmt.Errorf("mint %s to %s: %w", d, account, err)
	}
	s.balances[h] = bal
	return nil
}

// BalanceOf returns account's balance of d.
func (s *Simulated) BalanceOf(d asset.Descriptor, account types.AccountID) types.U128 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.NewU128(s.balances[holdingOf(d, account)])
}

// Transfer executes an outbound ft_transfer or mt_transfer call made by from.
// Every refusal is definitive; nothing is applied when Transfer fails.
func (s *Simulated) Transfer(ctx context.Context, from types.AccountID, call asset.Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args, err := asset.DecodeTransfer(call)
	if err != nil {
		return asset.Rejected(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if call.Reference != "" {
		if prev, ok := s.applied[call.Reference]; ok {
			return prev
		}
	}
	err = asset.Rejected(s.move(call, from, args))
	if call.Reference != "" {
		s.applied[call.Reference] = err
	}
	return err
}

func (s *Simulated) move(call asset.Call, from types.AccountID, args asset.TransferArgs) error {
	if call.Deposit != asset.OneUnit {
		return ErrMissingDeposit
	}
	if !s.registered[args.ReceiverID] {
		return fmt.Errorf("transfer to %s: %w", args.ReceiverID, ErrNotRegistered)
	}

	src := holding{contract: call.Contract, itemID: args.TokenID, account: from}
	dst := holding{contract: call.Contract, itemID: args.TokenID, account: args.ReceiverID}
	return s.apply(src, dst, args.Amount.Uint128())
}

func (s *Simulated) apply(src, dst holding, amount uint128.Uint128) error {
	srcBal, err := fixedpoint.CheckedSub(s.balances[src], amount)
	if err != nil {
		return fmt.Errorf("transfer from %s: %w", src.account, ErrInsufficientFunds)
	}
	s.balances[src] = srcBal
	// Total issuance of one asset fits in 128 bits, so dst cannot overflow.
	s.balances[dst] = s.balances[dst].Add(amount)
	return nil
}

// TransferCall moves amount of d from sender to receiver, notifies the
// receiver and refunds whatever it reports unused. It returns the amount
// the receiver kept.
func (s *Simulated) TransferCall(ctx context.Context, d asset.Descriptor, sender, receiver types.AccountID, amount types.U128, notify TransferReceiver) (types.U128, error) {
	s.mu.Lock()
	if !s.registered[receiver] {
		s.mu.Unlock()
		return types.U128{}, fmt.Errorf("transfer to %s: %w", receiver, ErrNotRegistered)
	}
	if err := s.apply(holdingOf(d, sender), holdingOf(d, receiver), amount.Uint128()); err != nil {
		s.mu.Unlock()
		return types.U128{}, err
	}
	s.mu.Unlock()

	unused, notifyErr := notify(ctx, amount)
	if notifyErr != nil {
		unused = amount
	}
	if unused.Uint128().Cmp(amount.Uint128()) > 0 {
		unused = amount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !unused.IsZero() {
		if err := s.apply(holdingOf(d, receiver), holdingOf(d, sender), unused.Uint128()); err != nil {
			return types.U128{}, fmt.Errorf("refund to %s: %w", sender, err)
		}
	}
	return types.NewU128(amount.Uint128().Sub(unused.Uint128())), notifyErr
}
