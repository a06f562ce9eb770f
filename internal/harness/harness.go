package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/host"
	"github.com/roach88/sharevault/internal/ledger"
	"github.com/roach88/sharevault/internal/store"
	"github.com/roach88/sharevault/internal/testutil"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// Defaults for scenarios that leave the vault identity out.
const (
	DefaultVaultID  types.AccountID = "vault.test"
	DefaultContract types.AccountID = "usdc.test"
)

// CaseSuccess is the output case of a step that did not fail.
const CaseSuccess = "Success"

// Harness is the test execution engine.
// It runs scenarios with deterministic clocks and saga ids.
type Harness struct {
	store  *store.Store
	host   *host.Host
	ledger *ledger.Simulated
	asset  asset.Descriptor
	vault  types.AccountID

	clock   *testutil.DeterministicClock
	lastSeq int64
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with its own host and
// simulated ledger. An error is returned only when the harness itself
// cannot proceed; failed expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	d, vaultID, err := identity(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	st.WithClock(testutil.NewDeterministicClock(0).Next)

	ctx := context.Background()
	if err := st.Init(ctx, vaultID, d); err != nil {
		return nil, fmt.Errorf("failed to init vault: %w", err)
	}

	sim := ledger.NewSimulated()
	sim.Register(vaultID)
	for _, a := range scenario.Accounts {
		sim.Register(types.AccountID(a))
	}

	cfg := vault.Config{ID: vaultID, Asset: d, SagaIDs: testutil.NewSequentialSagaIDs(scenario.SagaPrefix)}
	hst, err := host.New(st, cfg, sim)
	if err != nil {
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hst.Run(runCtx)
	}()
	defer func() {
		hst.Wait()
		cancel()
		<-done
	}()

	h := &Harness{
		store:  st,
		host:   hst,
		ledger: sim,
		asset:  d,
		vault:  vaultID,
		clock:  testutil.NewDeterministicClock(0),
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{Store: st, Ledger: sim, Asset: d, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func identity(s *Scenario) (asset.Descriptor, types.AccountID, error) {
	vaultID := DefaultVaultID
	if s.VaultID != "" {
		vaultID = types.AccountID(s.VaultID)
	}

	d := asset.SingleToken(DefaultContract)
	if s.Asset != nil {
		if s.Asset.Kind == "multi" {
			d = asset.MultiToken(types.AccountID(s.Asset.Contract), s.Asset.ItemID)
		} else {
			d = asset.SingleToken(types.AccountID(s.Asset.Contract))
		}
	}
	if err := d.Validate(); err != nil {
		return asset.Descriptor{}, "", fmt.Errorf("scenario asset: %w", err)
	}
	if err := vaultID.Validate(); err != nil {
		return asset.Descriptor{}, "", fmt.Errorf("scenario vault_id: %w", err)
	}
	return d, vaultID, nil
}

// executeSetup runs ledger setup actions. Any failure aborts the scenario.
func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep, result *Result) error {
	for i, step := range setup {
		args, err := normalizeArgs(step.Args)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		result.AddInvocationTrace(step.Action, args, h.clock.Next())

		if _, err := h.call(ctx, step.Action, args); err != nil {
			return fmt.Errorf("setup step %d (%s): %w", i, step.Action, err)
		}
		result.AddCompletionTrace(CaseSuccess, nil, h.clock.Next())
	}
	return nil
}

// executeFlow runs all flow steps, recording each invocation, the events it
// emitted and its completion, and checks expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		args, err := normalizeArgs(step.Args)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		result.AddInvocationTrace(step.Invoke, args, h.clock.Next())

		out, callErr := h.call(ctx, step.Invoke, args)
		outputCase := caseOf(callErr)
		if outputCase == "" {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Invoke, callErr)
		}

		if err := h.traceEvents(ctx, result); err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		result.AddCompletionTrace(outputCase, out, h.clock.Next())

		expect := step.Expect
		if expect == nil {
			expect = &ExpectClause{Case: CaseSuccess}
		}
		if expect.Case != outputCase {
			msg := fmt.Sprintf("flow[%d] %s: expected case %s, got %s", i, step.Invoke, expect.Case, outputCase)
			if callErr != nil {
				msg += fmt.Sprintf(" (%v)", callErr)
			}
			result.AddError(msg)
			continue
		}
		for key, want := range expect.Result {
			got, ok := out[key]
			if !ok {
				result.AddError(fmt.Sprintf("flow[%d] %s: result has no field %q", i, step.Invoke, key))
				continue
			}
			if fmt.Sprint(want) != fmt.Sprint(got) {
				result.AddError(fmt.Sprintf("flow[%d] %s: result %s = %v, expected %v", i, step.Invoke, key, got, want))
			}
		}
	}
	return nil
}

// caseOf names the outcome of a call. Vault and host errors are expected
// outcomes; any other error is a harness failure and yields "".
func caseOf(err error) string {
	if err == nil {
		return CaseSuccess
	}
	if code := vault.CodeOf(err); code != "" {
		return string(code)
	}
	var re *host.RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	switch {
	case errors.Is(err, ledger.ErrNotRegistered):
		return "NOT_REGISTERED"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	}
	return ""
}

// traceEvents appends every event stored since the previous call.
func (h *Harness) traceEvents(ctx context.Context, result *Result) error {
	events, err := h.store.ReadEvents(ctx, store.EventFilter{AfterSeq: h.lastSeq})
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	for _, e := range events {
		result.AddEventTrace(string(e.Kind), eventFields(e), h.clock.Next())
		h.lastSeq = e.Seq
	}
	return nil
}

func eventFields(e types.Event) map[string]any {
	fields := map[string]any{
		"owner_id": string(e.Owner),
		"shares":   e.Shares.String(),
		"assets":   e.Assets.String(),
	}
	if e.Sender != "" {
		fields["sender_id"] = string(e.Sender)
	}
	if e.Receiver != "" {
		fields["receiver_id"] = string(e.Receiver)
	}
	if e.SagaID != "" {
		fields["saga_id"] = e.SagaID
	}
	if e.Memo != "" {
		fields["memo"] = e.Memo
	}
	return fields
}

// normalizeArgs converts YAML scalars to strings so traces are uniform.
func normalizeArgs(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch v.(type) {
		case string, int, int64, uint64, bool:
			out[k] = fmt.Sprint(v)
		case nil:
			return nil, fmt.Errorf("arg %q: null is not allowed", k)
		default:
			return nil, fmt.Errorf("arg %q: unsupported type %T", k, v)
		}
	}
	return out, nil
}
