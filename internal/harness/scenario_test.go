package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: test_scenario
description: "Test scenario for validation"
asset: { kind: multi, contract: items.test, item_id: gold }
accounts: [alice]
saga_prefix: w
setup:
  - action: mint
    args: { account: alice, amount: "10" }
flow:
  - invoke: mt_transfer_call
    args:
      sender: alice
      amount: 10
    expect:
      case: Success
      result: { kept: "10" }
assertions:
  - type: ledger_balance
    account: alice
    amount: "0"
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, &AssetSpec{Kind: "multi", Contract: "items.test", ItemID: "gold"}, scenario.Asset)
	assert.Equal(t, []string{"alice"}, scenario.Accounts)
	assert.Equal(t, "w", scenario.SagaPrefix)
	require.Len(t, scenario.Setup, 1)
	require.Len(t, scenario.Flow, 1)
	assert.Equal(t, ActionMultiTransferCall, scenario.Flow[0].Invoke)
	assert.Equal(t, 10, scenario.Flow[0].Args["amount"])
	assert.Equal(t, "Success", scenario.Flow[0].Expect.Case)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, "0", scenario.Assertions[0].Amount)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "assertion instead of assertions"
flow:
  - invoke: total_assets
    args: {}
assertion:
  - type: trace_count
    action: ft_mint
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
	assert.Contains(t, err.Error(), "field assertion not found")
}

func TestParseScenario_Invalid(t *testing.T) {
	const flow = `
flow:
  - invoke: total_assets
    args: {}
`
	const assertions = `
assertions:
  - type: trace_count
    action: ft_mint
`
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing name", `description: d` + flow + assertions, "name is required"},
		{"missing description", `name: n` + flow + assertions, "description is required"},
		{"empty flow", "name: n\ndescription: d\nflow: []" + assertions, "flow list is required"},
		{"no assertions", "name: n\ndescription: d" + flow, "assertions list is required"},
		{
			"bad asset kind",
			"name: n\ndescription: d\nasset: { kind: nft, contract: x.test }" + flow + assertions,
			`asset.kind must be single or multi, got "nft"`,
		},
		{
			"unknown setup action",
			"name: n\ndescription: d\nsetup:\n  - action: redeem\n    args: {}" + flow + assertions,
			`setup[0]: unknown action "redeem"`,
		},
		{
			"setup without args",
			"name: n\ndescription: d\nsetup:\n  - action: mint" + flow + assertions,
			"setup[0]: args is required",
		},
		{
			"unknown invoke",
			"name: n\ndescription: d\nflow:\n  - invoke: steal\n    args: {}" + assertions,
			`flow[0]: unknown invoke "steal"`,
		},
		{
			"missing invoke",
			"name: n\ndescription: d\nflow:\n  - args: {}" + assertions,
			"flow[0]: invoke is required",
		},
		{
			"flow without args",
			"name: n\ndescription: d\nflow:\n  - invoke: total_assets" + assertions,
			"flow[0]: args is required",
		},
		{
			"expect without case",
			"name: n\ndescription: d\nflow:\n  - invoke: total_assets\n    args: {}\n    expect:\n      result: { value: 0 }" + assertions,
			"flow[0].expect: case is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAssertion(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"missing type", Assertion{}, "type is required"},
		{"unknown type", Assertion{Type: "eventually"}, `unknown assertion type "eventually"`},
		{"contains without action", Assertion{Type: AssertTraceContains}, "action is required for trace_contains"},
		{"order without actions", Assertion{Type: AssertTraceOrder}, "actions list is required"},
		{"count without action", Assertion{Type: AssertTraceCount}, "action is required for trace_count"},
		{"negative count", Assertion{Type: AssertTraceCount, Action: "ft_mint", Count: -1}, "count must be non-negative"},
		{"state without table", Assertion{Type: AssertFinalState, Expect: map[string]any{"a": 1}}, "table is required"},
		{"state without expect", Assertion{Type: AssertFinalState, Table: "vault_state"}, "expect is required"},
		{"balance without amount", Assertion{Type: AssertLedgerBalance, Account: "alice"}, "account and amount are required"},
		{"valid count", Assertion{Type: AssertTraceCount, Action: "ft_burn"}, ""},
		{"valid balance", Assertion{Type: AssertLedgerBalance, Account: "alice", Amount: "0"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAssertion(2, &tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "assertions[2]")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"deposit_and_redeem", "multi_token", "rejected_calls", "withdraw_compensated"}, names)
}

func TestLoadScenarios_ReportsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(validScenario), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("name: [broken"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	_, err := LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.yaml")
}
