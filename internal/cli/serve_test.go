package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sharevault/internal/rpc"
)

// startServe runs serve in the background and returns the API base URL.
// The returned stop function cancels the command and waits for it.
func startServe(t *testing.T, opts *ServeOptions) (base string, stop func() (string, error)) {
	t.Helper()
	t.Setenv("SHAREVAULT_AUTH_SECRET", testSecret)
	ready := make(chan string, 1)
	opts.ready = ready
	opts.Listen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)

	errChan := make(chan error, 1)
	go func() { errChan <- runServe(opts, cmd) }()

	select {
	case addr := <-ready:
		base = "http://" + addr
	case err := <-errChan:
		cancel()
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("serve did not start")
	}

	return base, func() (string, error) {
		cancel()
		select {
		case err := <-errChan:
			return out.String(), err
		case <-time.After(5 * time.Second):
			t.Fatal("serve did not stop")
			return "", nil
		}
	}
}

// post sends body as a call signed for predecessor.
func post(t *testing.T, url, predecessor, attached, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+issueToken(t, predecessor, attached))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServe_DepositRedeemAndMetrics(t *testing.T) {
	path := initDB(t)
	opts := &ServeOptions{
		RootOptions: &RootOptions{Format: "text", Database: path},
		Register:    []string{"bob"},
	}
	base, stop := startServe(t, opts)

	resp := post(t, base+"/v1/calls/ft_on_transfer", "token.local", "",
		`{"sender_id":"alice","amount":"500","msg":""}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var unused rpc.UnusedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&unused))
	assert.Equal(t, "0", unused.Unused.String())

	resp = post(t, base+"/v1/calls/redeem", "alice", "1",
		`{"shares":"200","receiver_id":"bob","memo":"rent"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outcome struct {
		SagaID string `json:"saga_id"`
		Status string `json:"status"`
		Assets string `json:"assets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	assert.NotEmpty(t, outcome.SagaID)
	assert.Equal(t, "finalized", outcome.Status)
	assert.Equal(t, "200", outcome.Assets)

	metricsResp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sharevault_deposit_total")
	assert.Contains(t, string(body), "sharevault_pool_total_assets 300")

	output, err := stop()
	require.NoError(t, err)
	assert.Contains(t, output, "Vault vault.local serving on")

	stdout, _, code := runCLI(t, "state", "--db", path)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Total assets: 300")
	assert.Contains(t, stdout, "Total supply: 300")
}

func TestServe_RecoversAtStartup(t *testing.T) {
	path := initDB(t)
	deposit(t, path, "alice", 1000)
	strandWithdrawal(t, path, "saga-crash", "alice", "bob", 400)

	opts := &ServeOptions{
		RootOptions: &RootOptions{Format: "text", Database: path},
		Register:    []string{"bob"},
	}
	base, stop := startServe(t, opts)

	resp, err := http.Get(base + "/v1/withdrawals/saga-crash")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info rpc.WithdrawalInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "finalized", string(info.Status))

	_, err = stop()
	require.NoError(t, err)
}

func TestServe_RejectsUnsignedCalls(t *testing.T) {
	path := initDB(t)
	base, stop := startServe(t, &ServeOptions{RootOptions: &RootOptions{Format: "text", Database: path}})

	req, err := http.NewRequest(http.MethodPost, base+"/v1/calls/ft_on_transfer",
		strings.NewReader(`{"sender_id":"alice","amount":"500","msg":""}`))
	require.NoError(t, err)
	req.Header.Set("X-Predecessor-Id", "token.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, err = stop()
	require.NoError(t, err)

	stdout, _, code := runCLI(t, "state", "--db", path)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Total supply: 0")
}

func TestServe_RequiresAuthSecret(t *testing.T) {
	path := initDB(t)
	t.Setenv("SHAREVAULT_AUTH_SECRET", "")
	_, stderr, code := runCLI(t, "serve", "--db", path)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "auth.secret is not set")
}

func TestServe_MissingDatabase(t *testing.T) {
	t.Setenv("SHAREVAULT_AUTH_SECRET", testSecret)
	_, stderr, code := runCLI(t, "serve", "--db", t.TempDir()+"/missing.db")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "run init first")
}
