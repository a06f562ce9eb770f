// Package rpc exposes the vault over HTTP with JSON bodies.
//
// Mutating calls go through the host's call loop; views run in a read-only
// transaction on the same loop so they observe a consistent pool. The
// caller identity that the vault checks (predecessor and attached payment)
// comes only from a signed bearer token; see Authenticator.
package rpc

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/sharevault/internal/host"
	"github.com/roach88/sharevault/internal/store"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// Calls is the host surface the server drives.
type Calls interface {
	OnTransfer(ctx context.Context, caller vault.Caller, sender types.AccountID, amount types.U128, msg string) (types.U128, error)
	OnMultiTransfer(ctx context.Context, caller vault.Caller, sender, previousOwner types.AccountID, itemIDs []string, amounts []types.U128, msg string) ([]types.U128, error)
	Redeem(ctx context.Context, caller vault.Caller, shares types.U128, receiver *types.AccountID, memo *string) (host.Outcome, error)
	Withdraw(ctx context.Context, caller vault.Caller, assets types.U128, receiver *types.AccountID, memo *string) (host.Outcome, error)
	View(ctx context.Context, fn func(context.Context, *vault.Vault) error) error
}

// Records is the read side of the store.
type Records interface {
	ReadEvents(ctx context.Context, f store.EventFilter) ([]types.Event, error)
	Withdrawal(ctx context.Context, sagaID string) (store.Withdrawal, error)
}

// Config configures the server.
type Config struct {
	// Auth verifies callers of /v1/calls. Without it every call is
	// refused.
	Auth *Authenticator

	// RPS and Burst bound requests per caller; RPS 0 disables limiting.
	RPS   float64
	Burst int

	// Metrics, if set, is served at /metrics.
	Metrics http.Handler
}

// Server routes HTTP requests to the vault.
type Server struct {
	calls   Calls
	records Records
	router  *mux.Router
}

// NewServer builds the router.
func NewServer(calls Calls, records Records, cfg Config) *Server {
	s := &Server{calls: calls, records: records, router: mux.NewRouter()}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		s.router.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(logRequests)

	limit := func(h http.Handler) http.Handler { return h }
	if cfg.RPS > 0 {
		limit = NewRateLimiter(cfg.RPS, cfg.Burst).Handler
	}
	view := func(path string, fn http.HandlerFunc) {
		api.Handle(path, limit(fn)).Methods(http.MethodGet)
	}
	// The limiter runs after authentication so calls are keyed by account.
	call := func(name string, fn http.HandlerFunc) {
		api.Handle("/calls/"+name, cfg.Auth.Handler(limit(fn))).Methods(http.MethodPost)
	}

	view("/vault", s.handleVault)
	view("/accounts/{account}", s.handleAccount)
	view("/convert/{direction:to_shares|to_assets}", s.handleConvert)
	view("/preview/{op:deposit|redeem|withdraw}", s.handlePreview)
	view("/events", s.handleEvents)
	view("/withdrawals/{saga_id}", s.handleWithdrawal)

	call("ft_on_transfer", s.handleOnTransfer)
	call("mt_on_transfer", s.handleOnMultiTransfer)
	call("redeem", s.handleRedeem)
	call("withdraw", s.handleWithdraw)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("rpc request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
