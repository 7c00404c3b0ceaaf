// Package config defines the top-level configuration for lenderd and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LENDERD_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Contracts ContractsConfig `toml:"contracts"`
	Flows     FlowsConfig     `toml:"flows"`
	Solver    SolverConfig    `toml:"solver"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the account's signing credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds RPC endpoint and chain parameters.
type ChainConfig struct {
	RPCURL              string   `toml:"rpc_url"`
	ChainID             int64    `toml:"chain_id"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
}

// ContractsConfig holds the on-chain addresses the engine talks to.
type ContractsConfig struct {
	Protocol      string `toml:"protocol"`
	Bundler       string `toml:"bundler"`
	PermitRouter  string `toml:"permit_router"`
	WrappedNative string `toml:"wrapped_native"`
	FeeRecipient  string `toml:"fee_recipient"`
}

// FlowsConfig holds transaction-flow behavior knobs.
type FlowsConfig struct {
	// UsePermit selects signature-based token approvals through the permit
	// router instead of classic on-chain approve transactions.
	UsePermit bool `toml:"use_permit"`
	// AllowancePollInterval is how often the background allowance poller
	// refreshes tracked allowances.
	AllowancePollInterval duration `toml:"allowance_poll_interval"`
	// SignatureDelay is the pause between consecutive wallet prompts within
	// one multi-step flow.
	SignatureDelay duration `toml:"signature_delay"`
	// LockTTL bounds how long a per-account flow lock may be held.
	LockTTL duration `toml:"lock_ttl"`
	// Attribution is an optional hex-encoded suffix appended to every batch
	// payload for on-chain integration attribution.
	Attribution string `toml:"attribution"`
}

// SolverConfig holds reallocation and rebalance solver parameters.
type SolverConfig struct {
	// Vault is the public-allocator vault reallocations are routed through.
	Vault           string         `toml:"vault"`
	ReallocFeeBps   int64          `toml:"realloc_fee_bps"`
	RebalanceFeeBps int64          `toml:"rebalance_fee_bps"`
	Sources         []SourceConfig `toml:"sources"`
}

// SourceConfig is the TOML shape of one public-reallocation liquidity
// source: a vault plus the market it can be drained from.
type SourceConfig struct {
	Vault           string `toml:"vault"`
	LoanToken       string `toml:"loan_token"`
	CollateralToken string `toml:"collateral_token"`
	Oracle          string `toml:"oracle"`
	IRM             string `toml:"irm"`
	LLTV            string `toml:"lltv"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:             8453,
			ReceiptPollInterval: duration{2 * time.Second},
		},
		Flows: FlowsConfig{
			UsePermit:             true,
			AllowancePollInterval: duration{10 * time.Second},
			SignatureDelay:        duration{500 * time.Millisecond},
			LockTTL:               duration{5 * time.Minute},
		},
		Solver: SolverConfig{
			ReallocFeeBps:   25,
			RebalanceFeeBps: 10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "lenderd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Notify: NotifyConfig{
			Events: []string{"flow_complete", "flow_failed"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — at least one credential source must be specified.
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.ReceiptPollInterval.Duration <= 0 {
		errs = append(errs, "chain: receipt_poll_interval must be positive")
	}

	// Contracts — every address must be a valid non-zero hex address.
	for _, f := range []struct {
		name  string
		value string
	}{
		{"protocol", c.Contracts.Protocol},
		{"bundler", c.Contracts.Bundler},
		{"permit_router", c.Contracts.PermitRouter},
		{"wrapped_native", c.Contracts.WrappedNative},
		{"fee_recipient", c.Contracts.FeeRecipient},
	} {
		if !common.IsHexAddress(f.value) {
			errs = append(errs, fmt.Sprintf("contracts: %s is not a valid address: %q", f.name, f.value))
		} else if common.HexToAddress(f.value) == (common.Address{}) {
			errs = append(errs, fmt.Sprintf("contracts: %s must not be the zero address", f.name))
		}
	}

	// Flows
	if c.Flows.AllowancePollInterval.Duration <= 0 {
		errs = append(errs, "flows: allowance_poll_interval must be positive")
	}
	if c.Flows.LockTTL.Duration <= 0 {
		errs = append(errs, "flows: lock_ttl must be positive")
	}

	// Flows — attribution must be valid hex when set.
	if c.Flows.Attribution != "" {
		if _, err := hexutil.Decode(withHexPrefix(c.Flows.Attribution)); err != nil {
			errs = append(errs, fmt.Sprintf("flows: attribution is not valid hex: %q", c.Flows.Attribution))
		}
	}

	// Solver — fees are basis points, capped well below 100%.
	if c.Solver.Vault != "" && !common.IsHexAddress(c.Solver.Vault) {
		errs = append(errs, fmt.Sprintf("solver: vault is not a valid address: %q", c.Solver.Vault))
	}
	if len(c.Solver.Sources) > 0 && c.Solver.Vault == "" {
		errs = append(errs, "solver: vault is required when sources are configured")
	}
	if c.Solver.ReallocFeeBps < 0 || c.Solver.ReallocFeeBps > 1000 {
		errs = append(errs, fmt.Sprintf("solver: realloc_fee_bps must be 0-1000, got %d", c.Solver.ReallocFeeBps))
	}
	if c.Solver.RebalanceFeeBps < 0 || c.Solver.RebalanceFeeBps > 1000 {
		errs = append(errs, fmt.Sprintf("solver: rebalance_fee_bps must be 0-1000, got %d", c.Solver.RebalanceFeeBps))
	}
	for i, s := range c.Solver.Sources {
		if !common.IsHexAddress(s.Vault) {
			errs = append(errs, fmt.Sprintf("solver: sources[%d].vault is not a valid address: %q", i, s.Vault))
		}
		if !common.IsHexAddress(s.LoanToken) {
			errs = append(errs, fmt.Sprintf("solver: sources[%d].loan_token is not a valid address: %q", i, s.LoanToken))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// withHexPrefix normalizes a hex string for hexutil, which insists on "0x".
func withHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
