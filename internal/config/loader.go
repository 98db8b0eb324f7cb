package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// legacyKeyEnv is the key variable of the original deployment scripts. It is
// read only when no SETTLEBOT_WALLET_PRIVATE_KEY or TOML key is present.
const legacyKeyEnv = "ACCOUNT_0_PRIVATE_KEY"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults and applies SETTLEBOT_* environment variable overrides.
// An empty path skips the file. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SETTLEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SETTLEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SETTLEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SETTLEBOT_WALLET_KEY_PASSWORD")
	if cfg.Wallet.PrivateKey == "" && cfg.Wallet.EncryptedKeyPath == "" {
		setStr(&cfg.Wallet.PrivateKey, legacyKeyEnv)
	}

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "SETTLEBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "SETTLEBOT_CHAIN_CHAIN_ID")
	setUint64(&cfg.Chain.GasLimit, "SETTLEBOT_CHAIN_GAS_LIMIT")
	setStr(&cfg.Chain.NoncePolicy, "SETTLEBOT_CHAIN_NONCE_POLICY")
	setDuration(&cfg.Chain.ReceiptPollInterval, "SETTLEBOT_CHAIN_RECEIPT_POLL_INTERVAL")
	setDuration(&cfg.Chain.ReceiptTimeout, "SETTLEBOT_CHAIN_RECEIPT_TIMEOUT")

	// ── Settlement ──
	setStr(&cfg.Settlement.ContractAddress, "SETTLEBOT_SETTLEMENT_CONTRACT_ADDRESS")
	setStr(&cfg.Settlement.ABIPath, "SETTLEBOT_SETTLEMENT_ABI_PATH")

	// ── Input ──
	setStr(&cfg.Input.TradesPath, "SETTLEBOT_INPUT_TRADES_PATH")
	setStr(&cfg.Input.S3Key, "SETTLEBOT_INPUT_S3_KEY")
	setBool(&cfg.Input.Force, "SETTLEBOT_INPUT_FORCE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SETTLEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SETTLEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SETTLEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SETTLEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SETTLEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SETTLEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SETTLEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SETTLEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SETTLEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SETTLEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SETTLEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETTLEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETTLEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SETTLEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SETTLEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SETTLEBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "SETTLEBOT_REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SETTLEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SETTLEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SETTLEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SETTLEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SETTLEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SETTLEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SETTLEBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ReportPrefix, "SETTLEBOT_S3_REPORT_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SETTLEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SETTLEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SETTLEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SETTLEBOT_NOTIFY_EVENTS")

	// ── History ──
	setStr(&cfg.History.BatchID, "SETTLEBOT_HISTORY_BATCH_ID")
	setStr(&cfg.History.TxHash, "SETTLEBOT_HISTORY_TX_HASH")
	setInt(&cfg.History.AuditLimit, "SETTLEBOT_HISTORY_AUDIT_LIMIT")

	// ── Top-level ──
	setStr(&cfg.Mode, "SETTLEBOT_MODE")
	setStr(&cfg.LogLevel, "SETTLEBOT_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
