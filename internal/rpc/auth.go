package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

const (
	// DefaultTokenTTL is the lifetime of an issued caller token.
	DefaultTokenTTL = 5 * time.Minute

	// tokenLeeway absorbs clock skew between issuer and vault.
	tokenLeeway = 30 * time.Second
)

type contextKey string

const callerKey contextKey = "caller"

// ErrNoAuth is returned when the server has no signing secret.
var ErrNoAuth = errors.New("caller authentication not configured")

// CallerClaims are the claims of a caller token. The subject is the
// calling account and the audience is the vault the call is for.
type CallerClaims struct {
	// Attached is the payment attached to the call, in base units.
	Attached string `json:"attached_deposit,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies caller tokens signed with HS256.
type Authenticator struct {
	secret   []byte
	audience string
	now      func() time.Time
}

// NewAuthenticator creates an authenticator for tokens addressed to
// vaultID. An empty secret rejects every token.
func NewAuthenticator(secret []byte, vaultID types.AccountID) *Authenticator {
	return &Authenticator{secret: secret, audience: string(vaultID), now: time.Now}
}

// Verify checks token and returns the caller it names.
func (a *Authenticator) Verify(token string) (vault.Caller, error) {
	if a == nil || len(a.secret) == 0 {
		return vault.Caller{}, ErrNoAuth
	}

	claims := &CallerClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return vault.Caller{}, err
	}

	predecessor, err := types.ParseAccountID(claims.Subject)
	if err != nil {
		return vault.Caller{}, fmt.Errorf("subject: %w", err)
	}
	caller := vault.Caller{Predecessor: predecessor}
	if claims.Attached != "" {
		if caller.Attached, err = types.ParseU128(claims.Attached); err != nil {
			return vault.Caller{}, fmt.Errorf("attached_deposit: %w", err)
		}
	}
	return caller, nil
}

// Handler authenticates the request's bearer token and stores the caller
// in the request context. Requests without a valid token get 401.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token", nil)
			return
		}

		caller, err := a.Verify(token)
		if err != nil {
			slog.Warn("caller token rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid caller token", nil)
			return
		}

		slog.Debug("caller authenticated", "caller", caller.Predecessor, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithCaller returns ctx carrying an authenticated caller.
func WithCaller(ctx context.Context, caller vault.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFrom returns the authenticated caller stored in ctx.
func CallerFrom(ctx context.Context) (vault.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(vault.Caller)
	return caller, ok
}

// TokenIssuer signs caller tokens for one vault.
type TokenIssuer struct {
	secret   []byte
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer creates an issuer. A zero ttl uses DefaultTokenTTL.
func NewTokenIssuer(secret []byte, vaultID types.AccountID, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: secret, audience: string(vaultID), ttl: ttl, now: time.Now}
}

// Issue signs a token naming caller.
func (i *TokenIssuer) Issue(caller vault.Caller) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNoAuth
	}
	now := i.now()
	claims := CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(caller.Predecessor),
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	if !caller.Attached.IsZero() {
		claims.Attached = caller.Attached.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
