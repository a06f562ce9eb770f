package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	harnessScenarios = "../harness/testdata/scenarios"
	harnessGolden    = "../harness/testdata/golden"
)

const passingScenario = `name: single_deposit
description: "One deposit at 1:1"
accounts: [alice]
setup:
  - action: mint
    args: { account: alice, amount: "100" }
flow:
  - invoke: ft_transfer_call
    args: { sender: alice, amount: "100", msg: "" }
    expect:
      result: { kept: "100" }
assertions:
  - type: trace_contains
    action: ft_transfer_call
`

const failingScenario = `name: wrong_balance
description: "Asserts a balance the deposit cannot produce"
accounts: [alice]
setup:
  - action: mint
    args: { account: alice, amount: "100" }
flow:
  - invoke: ft_transfer_call
    args: { sender: alice, amount: "100", msg: "" }
  - invoke: balance_of
    args: { account: alice }
    expect:
      result: { value: "7" }
assertions:
  - type: trace_contains
    action: balance_of
`

func writeScenario(t *testing.T, dir, file, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0644))
}

func TestScenario_HarnessSuite(t *testing.T) {
	stdout, stderr, code := runCLI(t, "scenario", harnessScenarios, "--golden-dir", harnessGolden)
	require.Equal(t, ExitSuccess, code, stdout+stderr)
	assert.Contains(t, stdout, "✓ deposit_and_redeem")
	assert.Contains(t, stdout, "✓ withdraw_compensated")
	assert.Contains(t, stdout, "4 passed, 0 failed, 4 total")
}

func TestScenario_Filter(t *testing.T) {
	stdout, _, code := runCLI(t, "scenario", harnessScenarios, "--golden-dir", harnessGolden, "--filter", "withdraw_*")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "withdraw_compensated")
	assert.NotContains(t, stdout, "deposit_and_redeem")
	assert.Contains(t, stdout, "1 passed, 0 failed, 1 total")
}

func TestScenario_InvalidFilter(t *testing.T) {
	_, stderr, code := runCLI(t, "scenario", harnessScenarios, "--filter", "[")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid filter pattern")
}

func TestScenario_MissingDirectory(t *testing.T) {
	_, stderr, code := runCLI(t, "scenario", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "scenarios directory not found")
}

func TestScenario_Empty(t *testing.T) {
	stdout, _, code := runCLI(t, "scenario", t.TempDir())
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "No scenarios found.")
}

func TestScenario_UpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "single_deposit.yaml", passingScenario)

	stdout, stderr, code := runCLI(t, "scenario", dir, "--update")
	require.Equal(t, ExitSuccess, code, stdout+stderr)

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "single_deposit.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"single_deposit"`)

	_, _, code = runCLI(t, "scenario", dir)
	assert.Equal(t, ExitSuccess, code)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "single_deposit.golden"), []byte("{}"), 0644))
	stdout, _, code = runCLI(t, "scenario", dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "trace does not match golden file")
}

func TestScenario_FailureJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "single_deposit.yaml", passingScenario)
	writeScenario(t, dir, "wrong_balance.yaml", failingScenario)
	writeScenario(t, dir, "broken.yaml", "name: [\n")

	stdout, _, code := runCLI(t, "--format", "json", "scenario", dir)
	assert.Equal(t, ExitFailure, code)

	var resp struct {
		Status string          `json:"status"`
		Data   ScenarioSummary `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", resp.Error.Code)
	assert.Equal(t, 3, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 2, resp.Data.Failed)

	byName := map[string]ScenarioResult{}
	for _, s := range resp.Data.Scenarios {
		byName[s.Name] = s
	}
	assert.True(t, byName["single_deposit"].Pass)
	require.Contains(t, byName, "broken.yaml")
	assert.Contains(t, byName["broken.yaml"].Errors[0], "failed to load scenario")
	require.Contains(t, byName, "wrong_balance")
	assert.Contains(t, byName["wrong_balance"].Errors[0], "result value")
}
