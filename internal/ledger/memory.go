package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"lukechampine.com/uint128"

	"github.com/roach88/sharevault/internal/fixedpoint"
	"github.com/roach88/sharevault/internal/types"
)

// Memory is an in-memory share ledger, asset total and event log.
//
// Thread-safety: Memory is safe for concurrent use via internal mutex.
type Memory struct {
	mu          sync.Mutex
	balances    map[types.AccountID]uint128.Uint128
	supply      uint128.Uint128
	totalAssets uint128.Uint128
	events      []types.Event
}

// NewMemory creates an empty ledger: no shares, no assets.
func NewMemory() *Memory {
	return &Memory{balances: make(map[types.AccountID]uint128.Uint128)}
}

// TotalSupply returns the number of shares outstanding.
func (m *Memory) TotalSupply(context.Context) (uint128.Uint128, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply, nil
}

// BalanceOf returns account's share balance.
func (m *Memory) BalanceOf(_ context.Context, account types.AccountID) (uint128.Uint128, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

// Credit adds amount to account and to the total supply.
func (m *Memory) Credit(_ context.Context, account types.AccountID, amount uint128.Uint128) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	supply, err := fixedpoint.CheckedAdd(m.supply, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	// bal <= supply, so this cannot overflow once the supply check passed.
	m.balances[account] = m.balances[account].Add(amount)
	m.supply = supply
	return nil
}

// Debit removes amount from account and from the total supply.
func (m *Memory) Debit(_ context.Context, account types.AccountID, amount uint128.Uint128) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, err := fixedpoint.CheckedSub(m.balances[account], amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", account, err)
	}
	if bal.IsZero() {
		delete(m.balances, account)
	} else {
		m.balances[account] = bal
	}
	m.supply = m.supply.Sub(amount)
	return nil
}

// TotalAssets returns the accounted asset balance.
func (m *Memory) TotalAssets(context.Context) (uint128.Uint128, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalAssets, nil
}

// SetTotalAssets replaces the accounted asset balance.
func (m *Memory) SetTotalAssets(_ context.Context, v uint128.Uint128) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalAssets = v
	return nil
}

// Emit appends e to the log, assigning Seq and ID.
func (m *Memory) Emit(_ context.Context, e *types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.Seq = int64(len(m.events) + 1)
	id, err := types.EventID(*e)
	if err != nil {
		return err
	}
	e.ID = id
	m.events = append(m.events, *e)
	return nil
}

// Events returns a copy of the event log.
func (m *Memory) Events() []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Holder is one share balance in a Snapshot.
type Holder struct {
	Account types.AccountID
	Shares  types.U128
}

// Snapshot is a point-in-time copy of ledger state, comparable with ==
// field by field in tests.
type Snapshot struct {
	TotalAssets types.U128
	TotalSupply types.U128
	Holders     []Holder
}

// Snapshot returns the current state with holders sorted by account.
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	holders := make([]Holder, 0, len(m.balances))
	for acct, bal := range m.balances {
		holders = append(holders, Holder{Account: acct, Shares: types.NewU128(bal)})
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i].Account < holders[j].Account })

	return Snapshot{
		TotalAssets: types.NewU128(m.totalAssets),
		TotalSupply: types.NewU128(m.supply),
		Holders:     holders,
	}
}
