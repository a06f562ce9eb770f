package host

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/store"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// AssetLedger executes outbound transfers on the external asset ledger.
// Implementations must apply a call with a given Reference at most once.
type AssetLedger interface {
	Transfer(ctx context.Context, from types.AccountID, call asset.Call) error
}

// Timeouts bound the two legs of a withdrawal. They play the role of the
// gas budgets attached to the transfer call and its continuation.
type Timeouts struct {
	Transfer time.Duration
	Resolve  time.Duration
}

// DefaultTimeouts derives timeouts from the default gas budgets at one
// second per 10 TGas.
func DefaultTimeouts() Timeouts {
	return TimeoutsFor(asset.DefaultBudget())
}

// TimeoutsFor maps gas budgets to wall-clock timeouts at one second per
// 10 TGas, with a one second floor.
func TimeoutsFor(b asset.Budget) Timeouts {
	conv := func(g asset.Gas) time.Duration {
		d := time.Duration(g/(10*asset.TGas)) * time.Second
		if d < time.Second {
			d = time.Second
		}
		return d
	}
	return Timeouts{Transfer: conv(b.Transfer), Resolve: conv(b.Resolve)}
}

// RetryPolicy paces repeated attempts at a saga leg: a transfer whose
// outcome is unknown, or a resolution that did not commit.
type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// MaxAttempts bounds transfer attempts per dispatch. 0 retries until
	// the host stops. A saga that runs out is left committed for Recover.
	MaxAttempts int
}

// DefaultRetryPolicy retries every 100ms, doubling up to 10s, until the
// host stops.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
	}
}

// backoff is the wait before attempt n+1, for n >= 1.
func (p RetryPolicy) backoff(n int) time.Duration {
	d := float64(p.InitialBackoff)
	for i := 1; i < n && d < float64(p.MaxBackoff); i++ {
		d *= p.Multiplier
	}
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	return time.Duration(d)
}

// Host is the single-writer call loop around one vault.
//
// Thread-safety model:
//   - all exported call methods: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Host struct {
	store    *store.Store
	cfg      vault.Config
	ledger   AssetLedger
	timeouts Timeouts
	retry    RetryPolicy
	observer Observer

	queue *taskQueue

	// quit closes when the host stops; retry loops give up on it.
	quit     chan struct{}
	quitOnce sync.Once

	steps atomic.Int64 // tasks run; stamps log lines

	// inflight tracks transfer goroutines so Wait can drain them.
	inflight sync.WaitGroup
}

// Option configures a Host.
type Option func(*Host)

// WithTimeouts overrides the transfer and resolve timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(h *Host) {
		h.timeouts = t
	}
}

// WithRetry overrides the retry policy for saga legs.
func WithRetry(p RetryPolicy) Option {
	return func(h *Host) {
		h.retry = p
	}
}

// WithObserver installs an observer for call outcomes (e.g. metrics).
func WithObserver(o Observer) Option {
	return func(h *Host) {
		h.observer = o
	}
}

// New creates a Host. The store must already be initialized with cfg's
// vault id and asset.
func New(s *store.Store, cfg vault.Config, ledger AssetLedger, opts ...Option) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Host{
		store:    s,
		cfg:      cfg,
		ledger:   ledger,
		timeouts: TimeoutsFor(cfg.Budget),
		retry:    DefaultRetryPolicy(),
		observer: nopObserver{},
		queue:    newTaskQueue(),
		quit:     make(chan struct{}),
	}
	if cfg.Budget == (asset.Budget{}) {
		h.timeouts = DefaultTimeouts()
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Run starts the call loop.
// Blocks until context is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (h *Host) Run(ctx context.Context) error {
	slog.Info("host starting", "vault", h.cfg.ID, "asset", h.cfg.Asset.String())

	for {
		if t, ok := h.queue.TryDequeue(); ok {
			h.process(t)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("host stopping: context cancelled")
			h.shutdown()
			return ctx.Err()

		case <-h.queue.Wait():
			// The signal channel closes when the queue is closed.
			if h.queue.Len() == 0 && h.stopped() {
				slog.Info("host stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Calls still queued fail with QUEUE_CLOSED; Run
// returns once the current call finishes.
func (h *Host) Stop() {
	h.shutdown()
}

// Wait blocks until every saga dispatched so far has settled, or has been
// left committed because the host stopped.
func (h *Host) Wait() {
	h.inflight.Wait()
}

// Steps returns how many tasks the loop has run.
func (h *Host) Steps() int64 {
	return h.steps.Load()
}

func (h *Host) stopped() bool {
	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	return h.queue.closed
}

func (h *Host) shutdown() {
	h.quitOnce.Do(func() { close(h.quit) })
	for _, t := range h.queue.Close() {
		t.reply <- NewQueueClosedError(t.name)
	}
}

// submit enqueues fn and blocks until the loop has run it. The loop always
// replies, so the outcome reported to the caller matches what was committed.
func (h *Host) submit(ctx context.Context, name string, commit bool, fn txFunc) error {
	return h.enqueue(task{name: name, ctx: ctx, fn: fn, commit: commit})
}

// submitBudgeted is submit for continuations: time spent waiting in the
// queue does not count against budget.
func (h *Host) submitBudgeted(name string, budget time.Duration, fn txFunc) error {
	return h.enqueue(task{name: name, ctx: context.Background(), fn: fn, commit: true, budget: budget})
}

func (h *Host) enqueue(t task) error {
	t.reply = make(chan error, 1)
	if !h.queue.Enqueue(t) {
		return NewQueueClosedError(t.name)
	}
	return <-t.reply
}

// process runs one task in its own transaction.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
func (h *Host) process(t task) {
	step := h.steps.Add(1)
	slog.Debug("running call", "step", step, "call", t.name)

	err := h.runTx(t)
	if err != nil {
		logCallError(step, t.name, err)
	}
	t.reply <- err
}

func (h *Host) runTx(t task) error {
	ctx := t.ctx
	if t.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.budget)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	v, err := vault.New(h.cfg, tx)
	if err != nil {
		return err
	}
	if err := t.fn(ctx, v, tx); err != nil {
		return err
	}
	if !t.commit {
		return nil
	}

	totalAssets, err := v.TotalAssets(ctx)
	if err != nil {
		return err
	}
	totalSupply, err := v.TotalSupply(ctx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	h.observer.Pool(totalAssets, totalSupply)
	return nil
}

// logCallError logs a failed call. Rejections by the vault are routine and
// logged at Info; anything else is an Error.
func logCallError(step int64, call string, err error) {
	if code := vault.CodeOf(err); code != "" {
		slog.Info("call rejected", "step", step, "call", call, "code", string(code), "error", err)
		return
	}
	slog.Error("call failed", "step", step, "call", call, "error", err)
}

// View runs fn against a read-only snapshot of the vault on the call loop.
func (h *Host) View(ctx context.Context, fn func(ctx context.Context, v *vault.Vault) error) error {
	return h.submit(ctx, "view", false, func(ctx context.Context, v *vault.Vault, _ *store.Tx) error {
		return fn(ctx, v)
	})
}
