package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/types"
)

// Client sends outbound transfers to a remote asset ledger over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a new asset ledger client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CallRequest is the body posted for one contract call.
type CallRequest struct {
	SignerID types.AccountID `json:"signer_id"`
	Call     asset.Call      `json:"call"`
}

// CallResponse is the remote ledger's verdict on a call.
type CallResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Transfer posts call to {base}/contracts/{contract}/{method}. The saga id
// travels as the Idempotency-Key header so a retried transfer is applied
// once.
//
// Only a response that says the call was refused (success=false, or a 4xx
// other than 408, 409 and 429) is returned as an asset.RejectedError. A
// transport failure, a timeout, a 5xx or an unreadable answer leaves the
// outcome unknown and must be retried with the same reference.
func (c *Client) Transfer(ctx context.Context, from types.AccountID, call asset.Call) error {
	body, err := json.Marshal(CallRequest{SignerID: from, Call: call})
	if err != nil {
		return asset.Rejected(fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/contracts/%s/%s", c.baseURL, call.Contract, call.Method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return asset.Rejected(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if call.Reference != "" {
		httpReq.Header.Set("Idempotency-Key", call.Reference)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("request failed: %s - %s", resp.Status, strings.TrimSpace(string(respBody)))
		if refusedStatus(resp.StatusCode) {
			return asset.Rejected(err)
		}
		return err
	}

	var result CallResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if !result.Success {
		return asset.Rejected(fmt.Errorf("%s on %s failed: %s", call.Method, call.Contract, result.Error))
	}
	return nil
}

// refusedStatus reports whether an HTTP status proves the call was not
// applied.
func refusedStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}
