// Package config loads the service configuration.
//
// A config is read from YAML (unknown keys rejected), overlaid with an
// optional .env file and SHAREVAULT_* environment variables, filled with
// defaults, and finally validated against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/host"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHAREVAULT_"

// MinSecretLen is the shortest accepted auth secret.
const MinSecretLen = 32

// Config is the service configuration.
type Config struct {
	VaultID       string          `yaml:"vault_id" json:"vault_id"`
	Asset         AssetConfig     `yaml:"asset" json:"asset"`
	Database      string          `yaml:"database" json:"database"`
	Listen        string          `yaml:"listen" json:"listen"`
	MetricsListen string          `yaml:"metrics_listen" json:"metrics_listen"`
	AssetLedger   LedgerConfig    `yaml:"asset_ledger" json:"asset_ledger"`
	Budgets       BudgetConfig    `yaml:"budgets" json:"budgets"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Auth          AuthConfig      `yaml:"auth" json:"auth"`
	LogLevel      string          `yaml:"log_level" json:"log_level"`
}

// AssetConfig names the underlying asset.
type AssetConfig struct {
	Kind     string `yaml:"kind" json:"kind"`
	Contract string `yaml:"contract" json:"contract"`
	ItemID   string `yaml:"item_id" json:"item_id"`
}

// LedgerConfig locates the remote asset ledger. An empty endpoint runs the
// vault against the in-process simulated ledger.
type LedgerConfig struct {
	Endpoint string   `yaml:"endpoint" json:"endpoint"`
	Timeout  Duration `yaml:"timeout" json:"timeout"`
}

// BudgetConfig holds the gas budgets and, optionally, explicit timeouts
// that override the ones derived from gas.
type BudgetConfig struct {
	TransferGas     uint64   `yaml:"transfer_gas" json:"transfer_gas"`
	ResolveGas      uint64   `yaml:"resolve_gas" json:"resolve_gas"`
	TransferTimeout Duration `yaml:"transfer_timeout" json:"transfer_timeout"`
	ResolveTimeout  Duration `yaml:"resolve_timeout" json:"resolve_timeout"`
}

// RateLimitConfig bounds RPC calls per caller. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

// AuthConfig holds the HS256 secret that signs caller tokens. serve
// refuses to start without one. The secret is never serialized.
type AuthConfig struct {
	Secret   string   `yaml:"secret" json:"-"`
	TokenTTL Duration `yaml:"token_ttl" json:"token_ttl"`
}

// Duration is a time.Duration written as "3s" in YAML and JSON.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	b := asset.DefaultBudget()
	return Config{
		VaultID:       "vault.local",
		Asset:         AssetConfig{Kind: string(asset.KindSingleToken), Contract: "token.local"},
		Database:      "sharevault.db",
		Listen:        "127.0.0.1:8080",
		MetricsListen: "",
		AssetLedger:   LedgerConfig{Timeout: Duration(10 * time.Second)},
		Budgets: BudgetConfig{
			TransferGas: uint64(b.Transfer),
			ResolveGas:  uint64(b.Resolve),
		},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100},
		Auth:      AuthConfig{TokenTTL: Duration(5 * time.Minute)},
		LogLevel:  "info",
	}
}

// Load reads path (if non-empty), applies envFile (if non-empty) and the
// process environment, and validates the result.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode parses YAML over the defaults in cfg, rejecting unknown keys.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// applyEnv overlays SHAREVAULT_* variables. Nested fields join their YAML
// keys with an underscore: SHAREVAULT_ASSET_CONTRACT, SHAREVAULT_RATE_LIMIT_RPS.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	str("VAULT_ID", &cfg.VaultID)
	str("ASSET_KIND", &cfg.Asset.Kind)
	str("ASSET_CONTRACT", &cfg.Asset.Contract)
	str("ASSET_ITEM_ID", &cfg.Asset.ItemID)
	str("DATABASE", &cfg.Database)
	str("LISTEN", &cfg.Listen)
	str("METRICS_LISTEN", &cfg.MetricsListen)
	str("ASSET_LEDGER_ENDPOINT", &cfg.AssetLedger.Endpoint)
	str("AUTH_SECRET", &cfg.Auth.Secret)
	str("LOG_LEVEL", &cfg.LogLevel)

	var errs []error
	parse := func(key string, set func(string) error) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			}
		}
	}
	parse("ASSET_LEDGER_TIMEOUT", func(v string) error { return cfg.AssetLedger.Timeout.UnmarshalText([]byte(v)) })
	parse("BUDGETS_TRANSFER_GAS", func(v string) (err error) {
		cfg.Budgets.TransferGas, err = strconv.ParseUint(v, 10, 64)
		return err
	})
	parse("BUDGETS_RESOLVE_GAS", func(v string) (err error) {
		cfg.Budgets.ResolveGas, err = strconv.ParseUint(v, 10, 64)
		return err
	})
	parse("BUDGETS_TRANSFER_TIMEOUT", func(v string) error { return cfg.Budgets.TransferTimeout.UnmarshalText([]byte(v)) })
	parse("BUDGETS_RESOLVE_TIMEOUT", func(v string) error { return cfg.Budgets.ResolveTimeout.UnmarshalText([]byte(v)) })
	parse("AUTH_TOKEN_TTL", func(v string) error { return cfg.Auth.TokenTTL.UnmarshalText([]byte(v)) })
	parse("RATE_LIMIT_RPS", func(v string) (err error) {
		cfg.RateLimit.RPS, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("RATE_LIMIT_BURST", func(v string) (err error) {
		cfg.RateLimit.Burst, err = strconv.Atoi(v)
		return err
	})
	return errors.Join(errs...)
}

// Validate checks cfg against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Message: strings.TrimSpace(cueerrors.Details(err, nil))}
	}

	if n := len(c.Auth.Secret); n > 0 && n < MinSecretLen {
		return &ValidationError{Message: fmt.Sprintf("auth.secret: must be at least %d bytes", MinSecretLen)}
	}

	// The schema checks shape; account ids get the full grammar here.
	if _, err := types.ParseAccountID(c.VaultID); err != nil {
		return &ValidationError{Message: fmt.Sprintf("vault_id: %v", err)}
	}
	if _, err := c.Descriptor(); err != nil {
		return &ValidationError{Message: fmt.Sprintf("asset: %v", err)}
	}
	return nil
}

// ValidationError reports a config that does not satisfy the schema.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + e.Message
}

// Descriptor returns the configured asset.
func (c Config) Descriptor() (asset.Descriptor, error) {
	var d asset.Descriptor
	switch asset.Kind(c.Asset.Kind) {
	case asset.KindSingleToken:
		d = asset.SingleToken(types.AccountID(c.Asset.Contract))
	case asset.KindMultiToken:
		d = asset.MultiToken(types.AccountID(c.Asset.Contract), c.Asset.ItemID)
	default:
		return asset.Descriptor{}, fmt.Errorf("unknown kind %q", c.Asset.Kind)
	}
	if err := d.Validate(); err != nil {
		return asset.Descriptor{}, err
	}
	return d, nil
}

// Budget returns the configured gas budgets.
func (c Config) Budget() asset.Budget {
	return asset.Budget{
		Transfer: asset.Gas(c.Budgets.TransferGas),
		Resolve:  asset.Gas(c.Budgets.ResolveGas),
	}
}

// Timeouts returns the host timeouts: derived from the gas budgets, with
// any explicit timeout taking precedence.
func (c Config) Timeouts() host.Timeouts {
	t := host.TimeoutsFor(c.Budget())
	if c.Budgets.TransferTimeout > 0 {
		t.Transfer = time.Duration(c.Budgets.TransferTimeout)
	}
	if c.Budgets.ResolveTimeout > 0 {
		t.Resolve = time.Duration(c.Budgets.ResolveTimeout)
	}
	return t
}

// TokenTTL returns the lifetime of issued caller tokens.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTL)
}

// Vault returns the vault configuration. Saga ids default to UUIDv7.
func (c Config) Vault() (vault.Config, error) {
	d, err := c.Descriptor()
	if err != nil {
		return vault.Config{}, err
	}
	return vault.Config{
		ID:     types.AccountID(c.VaultID),
		Asset:  d,
		Budget: c.Budget(),
	}, nil
}
