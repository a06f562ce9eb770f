package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, vaultID, time.Minute)
	token, err := issuer.Issue(vault.Caller{Predecessor: "alice", Attached: asset.OneUnit})
	require.NoError(t, err)

	caller, err := NewAuthenticator(testSecret, vaultID).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, types.AccountID("alice"), caller.Predecessor)
	assert.Equal(t, asset.OneUnit, caller.Attached)

	token, err = issuer.Issue(vault.Caller{Predecessor: tokenID})
	require.NoError(t, err)
	caller, err = NewAuthenticator(testSecret, vaultID).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, tokenID, caller.Predecessor)
	assert.True(t, caller.Attached.IsZero())
}

func TestTokenIssuer_DefaultTTL(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, vaultID, 0)
	assert.Equal(t, DefaultTokenTTL, issuer.ttl)

	_, err := NewTokenIssuer(nil, vaultID, 0).Issue(vault.Caller{Predecessor: "alice"})
	assert.ErrorIs(t, err, ErrNoAuth)
}

func TestAuthenticator_RejectsBadTokens(t *testing.T) {
	valid := callerClaims("alice", "1")

	expired := callerClaims("alice", "1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	otherVault := callerClaims("alice", "1")
	otherVault.Audience = jwt.ClaimStrings{"other.test"}

	noExpiry := callerClaims("alice", "1")
	noExpiry.ExpiresAt = nil

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, valid).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, valid).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signClaims(t, []byte("another-secret-another-secret-00"), valid)},
		{"expired", signClaims(t, testSecret, expired)},
		{"other vault", signClaims(t, testSecret, otherVault)},
		{"no expiry", signClaims(t, testSecret, noExpiry)},
		{"bad subject", signClaims(t, testSecret, callerClaims("Not Valid", ""))},
		{"bad attached", signClaims(t, testSecret, callerClaims("alice", "-1"))},
		{"alg none", none},
		{"other alg", hs512},
		{"garbage", "not.a.token"},
	}
	a := NewAuthenticator(testSecret, vaultID)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Verify(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestAuthenticator_NoSecretRejectsAll(t *testing.T) {
	_, err := NewAuthenticator(nil, vaultID).Verify(signClaims(t, testSecret, callerClaims("alice", "")))
	assert.ErrorIs(t, err, ErrNoAuth)

	var nilAuth *Authenticator
	_, err = nilAuth.Verify("x")
	assert.ErrorIs(t, err, ErrNoAuth)
}

func TestAuthenticator_Handler(t *testing.T) {
	var seen vault.Caller
	h := NewAuthenticator(testSecret, vaultID).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CallerFrom(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + signClaims(t, testSecret, callerClaims("alice", "")), http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"valid", "Bearer " + signClaims(t, testSecret, callerClaims("alice", "1")), http.StatusOK},
		{"lowercase scheme", "bearer " + signClaims(t, testSecret, callerClaims("alice", "1")), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/calls/redeem", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				var eb ErrorBody
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
				assert.Equal(t, "UNAUTHENTICATED", eb.Error.Code)
			}
		})
	}
	assert.Equal(t, types.AccountID("alice"), seen.Predecessor)
}

func TestServer_ForgedDepositNotificationMintsNothing(t *testing.T) {
	f := newFixture(t, Config{})
	f.deposit(t, "bob", 1000, "")
	forged := OnTransferRequest{SenderID: "alice", Amount: types.U128From64(1000)}

	// The old identity headers carry no weight.
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/calls/ft_on_transfer", nil)
	require.NoError(t, err)
	req.Header.Set("X-Predecessor-Id", string(tokenID))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A token naming the asset contract but signed with the wrong secret.
	status, _ := f.doToken(t, http.MethodPost, "/v1/calls/ft_on_transfer",
		signClaims(t, []byte("guessed-secret-guessed-secret-00"), callerClaims(string(tokenID), "")), forged)
	assert.Equal(t, http.StatusUnauthorized, status)

	// A genuine token for someone other than the asset contract.
	status, body := f.do(t, http.MethodPost, "/v1/calls/ft_on_transfer", "alice", "", forged)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, body).Code)

	status, body = f.do(t, http.MethodGet, "/v1/accounts/alice", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	var acct AccountInfo
	require.NoError(t, json.Unmarshal(body, &acct))
	assert.True(t, acct.Shares.IsZero())

	// Bob still exits at par.
	status, body = f.do(t, http.MethodPost, "/v1/calls/redeem", "bob", "1", RedeemRequest{Shares: types.U128From64(1000)})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, `{"saga_id":"saga-0001","status":"finalized","shares":"1000","assets":"1000"}`, string(body))
}

func TestServer_CallerCannotSpendAnotherOwnersShares(t *testing.T) {
	f := newFixture(t, Config{})
	f.deposit(t, "bob", 500, "")

	status, body := f.do(t, http.MethodPost, "/v1/calls/redeem", "alice", "1",
		RedeemRequest{Shares: types.U128From64(100)})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INSUFFICIENT_BALANCE", decodeError(t, body).Code)
	assert.True(t, f.ledger.BalanceOf(asset.SingleToken(tokenID), "bob").IsZero())
}
