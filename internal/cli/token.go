package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sharevault/internal/config"
	"github.com/roach88/sharevault/internal/rpc"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Account  string
	Attached string
	TTL      time.Duration
}

// TokenResult is a signed caller token.
type TokenResult struct {
	Account   types.AccountID `json:"account"`
	Token     string          `json:"token"`
	ExpiresIn string          `json:"expires_in"`
}

func (r TokenResult) String() string {
	return r.Token
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a caller token for the call API",
		Long: `Sign a bearer token naming the calling account, using auth.secret.
--attached records the payment attached to the call; redeem and withdraw
require exactly 1.

Example:
  sharevault token --account alice --attached 1
  curl -H "Authorization: Bearer $(sharevault token --account alice --attached 1)" ...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Account, "account", "", "calling account (required)")
	cmd.Flags().StringVar(&opts.Attached, "attached", "", "payment attached to the call")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" {
		return NewExitError(ExitCommandError, "auth.secret is not set (config or "+config.EnvPrefix+"AUTH_SECRET)")
	}

	account, err := types.ParseAccountID(opts.Account)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --account", err)
	}
	caller := vault.Caller{Predecessor: account}
	if opts.Attached != "" {
		if caller.Attached, err = types.ParseU128(opts.Attached); err != nil {
			return WrapExitError(ExitCommandError, "invalid --attached", err)
		}
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = cfg.TokenTTL()
	}
	token, err := rpc.NewTokenIssuer([]byte(cfg.Auth.Secret), types.AccountID(cfg.VaultID), ttl).Issue(caller)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to sign token", err)
	}
	return formatter(opts.RootOptions, cmd).Success(TokenResult{
		Account:   account,
		Token:     token,
		ExpiresIn: ttl.String(),
	})
}
