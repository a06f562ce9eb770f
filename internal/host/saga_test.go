package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/ledger"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

var fastRetry = RetryPolicy{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, Multiplier: 2}

// remoteLedger is an HTTP asset ledger that applies each Idempotency-Key
// once. The first request for a key is applied and then answered only
// after delay.
type remoteLedger struct {
	delay time.Duration

	mu      sync.Mutex
	applied map[string]int
	hits    int
}

func newRemoteLedger(t *testing.T, delay time.Duration) (*remoteLedger, *ledger.Client) {
	t.Helper()
	rl := &remoteLedger{delay: delay, applied: make(map[string]int)}
	srv := httptest.NewServer(rl)
	t.Cleanup(srv.Close)
	return rl, ledger.NewClient(ledger.ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func (l *remoteLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	l.mu.Lock()
	l.hits++
	first := l.applied[key] == 0
	if first {
		l.applied[key] = 1
	}
	l.mu.Unlock()

	if first {
		select {
		case <-time.After(l.delay):
		case <-r.Context().Done():
			return
		}
	}
	_ = json.NewEncoder(w).Encode(ledger.CallResponse{Success: true})
}

func (l *remoteLedger) counts() (applied, hits int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.applied), l.hits
}

// retryCounter records Retried calls.
type retryCounter struct {
	nopObserver
	transfer atomic.Int32
	resolve  atomic.Int32
}

func (c *retryCounter) Retried(leg string) {
	switch leg {
	case "transfer":
		c.transfer.Add(1)
	case "resolve":
		c.resolve.Add(1)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.backoff(2))
	assert.Equal(t, 800*time.Millisecond, p.backoff(4))
	assert.Equal(t, time.Second, p.backoff(5))
	assert.Equal(t, time.Second, p.backoff(50))
}

func TestHost_LateTransferReplyIsNotCompensated(t *testing.T) {
	ctx := context.Background()
	remote, client := newRemoteLedger(t, 300*time.Millisecond)
	obs := &retryCounter{}
	f := newFixture(t, client,
		WithTimeouts(Timeouts{Transfer: 100 * time.Millisecond, Resolve: time.Second}),
		WithRetry(fastRetry),
		WithObserver(obs),
	)
	f.ledger = newSimulated()
	f.deposit(t, alice, 1000, "")

	out, err := f.host.Redeem(ctx, signed(alice), u(500), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, vault.SagaFinalized, out.Status)
	assert.Equal(t, u(500), out.Assets)

	applied, hits := remote.counts()
	assert.Equal(t, 1, applied, "the payout went out once")
	assert.GreaterOrEqual(t, hits, 2, "the timed out attempt was repeated")
	assert.GreaterOrEqual(t, obs.transfer.Load(), int32(1))

	st, err := f.store.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, u(500), st.TotalAssets)
	assert.Equal(t, u(500), st.TotalSupply)
	assert.Zero(t, st.Pending)

	w, err := f.store.Withdrawal(ctx, out.SagaID)
	require.NoError(t, err)
	assert.Equal(t, vault.SagaFinalized, w.Status)
}

func TestHost_UnknownTransferOutcomeLeavesSagaCommitted(t *testing.T) {
	ctx := context.Background()
	var down atomic.Bool
	down.Store(true)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(ledger.CallResponse{Success: true})
	}))
	t.Cleanup(srv.Close)
	client := ledger.NewClient(ledger.ClientConfig{BaseURL: srv.URL, Timeout: time.Second})

	policy := fastRetry
	policy.MaxAttempts = 3
	f := newFixture(t, client, WithRetry(policy))
	f.ledger = newSimulated()
	f.deposit(t, alice, 1000, "")

	out, err := f.host.Redeem(ctx, signed(alice), u(400), nil, nil)
	require.Error(t, err)
	assert.True(t, IsSagaPending(err))
	assert.Equal(t, "saga-0001", out.SagaID)
	assert.Equal(t, vault.SagaCommitted, out.Status)
	assert.Equal(t, u(400), out.Shares)
	assert.Equal(t, int32(3), hits.Load())

	// Not compensated: the shares stay burned until the ledger answers.
	w, err := f.store.Withdrawal(ctx, out.SagaID)
	require.NoError(t, err)
	assert.Equal(t, vault.SagaCommitted, w.Status)
	st, err := f.store.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, u(600), st.TotalSupply)
	assert.Equal(t, 1, st.Pending)

	down.Store(false)
	outcomes, err := f.host.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, vault.SagaFinalized, outcomes[0].Status)
	assert.Equal(t, u(400), outcomes[0].Assets)
}

func TestHost_RefusedTransferCompensates(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ledger.CallResponse{Success: false, Error: "account not registered"})
	}))
	t.Cleanup(srv.Close)
	client := ledger.NewClient(ledger.ClientConfig{BaseURL: srv.URL, Timeout: time.Second})

	f := newFixture(t, client, WithRetry(fastRetry))
	f.ledger = newSimulated()
	f.deposit(t, alice, 1000, "")

	out, err := f.host.Redeem(ctx, signed(alice), u(400), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, vault.SagaCompensated, out.Status)
	assert.Equal(t, types.U128{}, out.Assets)

	w, err := f.store.Withdrawal(ctx, out.SagaID)
	require.NoError(t, err)
	assert.Contains(t, w.Error, "account not registered")
}

func TestHost_ResolutionWaitsOutBusyLoop(t *testing.T) {
	ctx := context.Background()
	sim := newSimulated()
	bl := &blockingLedger{next: sim, started: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, bl, WithTimeouts(Timeouts{Transfer: 5 * time.Second, Resolve: 100 * time.Millisecond}))
	f.ledger = sim
	f.deposit(t, alice, 1000, "")

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := f.host.Redeem(ctx, signed(alice), u(500), nil, nil)
		done <- result{out, err}
	}()
	<-bl.started

	// Hold the loop well past the resolve budget while the transfer lands.
	holding := make(chan struct{})
	viewDone := make(chan error, 1)
	go func() {
		viewDone <- f.host.View(ctx, func(ctx context.Context, v *vault.Vault) error {
			close(holding)
			time.Sleep(500 * time.Millisecond)
			return nil
		})
	}()
	<-holding
	close(bl.release)

	res := <-done
	require.NoError(t, <-viewDone)
	require.NoError(t, res.err)
	assert.Equal(t, "saga-0001", res.out.SagaID)
	assert.Equal(t, vault.SagaFinalized, res.out.Status)

	st, err := f.store.ReadState(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Pending)
	assert.Equal(t, u(500), st.TotalSupply)
	assert.Equal(t, u(500), sim.BalanceOf(usdc, alice))
}

func TestHost_StopLeavesUnsettledSagaPending(t *testing.T) {
	sim := newSimulated()
	unknown := &flakyLedger{}
	f := newFixture(t, unknown, WithRetry(fastRetry))
	f.ledger = sim
	f.deposit(t, alice, 1000, "")

	done := make(chan error, 1)
	var out Outcome
	go func() {
		var err error
		out, err = f.host.Redeem(context.Background(), signed(alice), u(100), nil, nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return unknown.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	f.host.Stop()
	err := <-done
	assert.True(t, IsSagaPending(err))
	assert.Equal(t, "saga-0001", out.SagaID)
	assert.Equal(t, vault.SagaCommitted, out.Status)
	assert.Equal(t, types.U128{}, sim.BalanceOf(usdc, alice))
}

// flakyLedger never gives a definitive answer.
type flakyLedger struct {
	calls atomic.Int32
}

func (l *flakyLedger) Transfer(ctx context.Context, from types.AccountID, call asset.Call) error {
	l.calls.Add(1)
	return context.DeadlineExceeded
}
