// Package config defines settlebot's configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then overridden by SETTLEBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Chain      ChainConfig      `toml:"chain"`
	Settlement SettlementConfig `toml:"settlement"`
	Input      InputConfig      `toml:"input"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	History    HistoryConfig    `toml:"history"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the submitter key sources.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds node and transaction parameters.
type ChainConfig struct {
	RPCURL              string   `toml:"rpc_url"`
	ChainID             int64    `toml:"chain_id"`
	GasLimit            uint64   `toml:"gas_limit"`
	NoncePolicy         string   `toml:"nonce_policy"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
	// ReceiptTimeout bounds the wait for each receipt; zero waits forever.
	ReceiptTimeout duration `toml:"receipt_timeout"`
}

// SettlementConfig identifies the settlement contract.
type SettlementConfig struct {
	ContractAddress string `toml:"contract_address"`
	// ABIPath optionally points at a compiler build artifact for the contract.
	ABIPath string `toml:"abi_path"`
}

// InputConfig selects where the trade batch is read from. TradesPath wins
// over S3Key.
type InputConfig struct {
	TradesPath string `toml:"trades_path"`
	S3Key      string `toml:"s3_key"`
	// Force re-runs a batch whose report is already archived.
	Force bool `toml:"force"`
}

// PostgresConfig holds outcome-store connection parameters. Persistence is
// enabled when DSN or Host is set.
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

// Enabled reports whether an outcome store is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds account-lock connection parameters. Locking is enabled
// when Addr is set.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds object storage parameters. Object storage is enabled when
// Bucket is set.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ReportPrefix   string `toml:"report_prefix"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// HistoryConfig selects what history mode reads back from postgres. With
// neither BatchID nor TxHash set, the latest AuditLimit audit entries are
// listed.
type HistoryConfig struct {
	BatchID    string `toml:"batch_id"`
	TxHash     string `toml:"tx_hash"`
	AuditLimit int    `toml:"audit_limit"`
}

// duration wraps time.Duration for TOML strings like "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config for a local Anvil node.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:              "http://localhost:8545",
			ChainID:             31337,
			GasLimit:            500_000,
			NoncePolicy:         "local",
			ReceiptPollInterval: duration{time.Second},
		},
		Input: InputConfig{
			TradesPath: "packaged_trades.json",
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   4,
			MaxRetries: 3,
			LockTTL:    duration{10 * time.Minute},
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
			ReportPrefix:   "reports",
		},
		Notify: NotifyConfig{
			Events: []string{"batch_completed", "batch_halted"},
		},
		History: HistoryConfig{
			AuditLimit: 20,
		},
		Mode:     "settle",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"settle":  true,
	"verify":  true,
	"history": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validNoncePolicies = map[string]bool{
	"local": true,
	"chain": true,
}

// Validate checks c and returns one error listing every problem found.
// A missing wallet key is not reported here; it surfaces as
// domain.ErrMissingCredential when the key is resolved.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: settle, verify, history)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	history := strings.ToLower(c.Mode) == "history"
	if history {
		if !c.Postgres.Enabled() {
			errs = append(errs, "history: postgres dsn or host must be set")
		}
		if c.History.AuditLimit < 1 {
			errs = append(errs, "history: audit_limit must be >= 1")
		}
	}

	if !history && c.Input.TradesPath == "" && c.Input.S3Key == "" {
		errs = append(errs, "input: one of trades_path or s3_key must be set")
	}
	if !history && c.Input.TradesPath == "" && c.Input.S3Key != "" && c.S3.Bucket == "" {
		errs = append(errs, "input: s3_key requires s3.bucket")
	}

	if strings.ToLower(c.Mode) == "settle" {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if !common.IsHexAddress(c.Settlement.ContractAddress) {
			errs = append(errs, fmt.Sprintf("settlement: contract_address %q is not a hex address", c.Settlement.ContractAddress))
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.PrivateKey == "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}
	if c.Chain.GasLimit == 0 {
		errs = append(errs, "chain: gas_limit must be > 0")
	}
	if !validNoncePolicies[strings.ToLower(c.Chain.NoncePolicy)] {
		errs = append(errs, fmt.Sprintf("chain: unknown nonce_policy %q (valid: local, chain)", c.Chain.NoncePolicy))
	}
	if c.Chain.ReceiptPollInterval.Duration <= 0 {
		errs = append(errs, "chain: receipt_poll_interval must be > 0")
	}
	if c.Chain.ReceiptTimeout.Duration < 0 {
		errs = append(errs, "chain: receipt_timeout must be >= 0")
	}

	if c.Postgres.Enabled() {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL.Duration <= 0 {
		errs = append(errs, "redis: lock_ttl must be > 0")
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %d error(s):\n  - %s", len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}

// PollInterval returns the configured receipt polling period.
func (c ChainConfig) PollInterval() time.Duration { return c.ReceiptPollInterval.Duration }

// Timeout returns the configured receipt timeout; zero means none.
func (c ChainConfig) Timeout() time.Duration { return c.ReceiptTimeout.Duration }

// TTL returns the configured lock TTL.
func (r RedisConfig) TTL() time.Duration { return r.LockTTL.Duration }
