package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LENDERD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LENDERD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "LENDERD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LENDERD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LENDERD_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "LENDERD_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "LENDERD_CHAIN_ID")
	setDuration(&cfg.Chain.ReceiptPollInterval, "LENDERD_CHAIN_RECEIPT_POLL_INTERVAL")

	// ── Contracts ──
	setStr(&cfg.Contracts.Protocol, "LENDERD_CONTRACTS_PROTOCOL")
	setStr(&cfg.Contracts.Bundler, "LENDERD_CONTRACTS_BUNDLER")
	setStr(&cfg.Contracts.PermitRouter, "LENDERD_CONTRACTS_PERMIT_ROUTER")
	setStr(&cfg.Contracts.WrappedNative, "LENDERD_CONTRACTS_WRAPPED_NATIVE")
	setStr(&cfg.Contracts.FeeRecipient, "LENDERD_CONTRACTS_FEE_RECIPIENT")

	// ── Flows ──
	setBool(&cfg.Flows.UsePermit, "LENDERD_FLOWS_USE_PERMIT")
	setDuration(&cfg.Flows.AllowancePollInterval, "LENDERD_FLOWS_ALLOWANCE_POLL_INTERVAL")
	setDuration(&cfg.Flows.SignatureDelay, "LENDERD_FLOWS_SIGNATURE_DELAY")
	setDuration(&cfg.Flows.LockTTL, "LENDERD_FLOWS_LOCK_TTL")
	setStr(&cfg.Flows.Attribution, "LENDERD_FLOWS_ATTRIBUTION")

	// ── Solver ──
	setStr(&cfg.Solver.Vault, "LENDERD_SOLVER_VAULT")
	setInt64(&cfg.Solver.ReallocFeeBps, "LENDERD_SOLVER_REALLOC_FEE_BPS")
	setInt64(&cfg.Solver.RebalanceFeeBps, "LENDERD_SOLVER_REBALANCE_FEE_BPS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LENDERD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LENDERD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LENDERD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LENDERD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LENDERD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LENDERD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LENDERD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LENDERD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LENDERD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LENDERD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LENDERD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LENDERD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LENDERD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LENDERD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LENDERD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LENDERD_REDIS_TLS_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LENDERD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LENDERD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LENDERD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LENDERD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "LENDERD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
