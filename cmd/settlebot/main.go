// Command settlebot settles a batch of matched limit-order trades on the
// settlement contract. It loads configuration, validates it, wires
// dependencies, sets up signal handling, and runs the configured mode.
//
// Usage:
//
//	settlebot [-config settle.toml]
//	settlebot history [-config settle.toml] [-batch ID | -tx HASH | -limit N]
//	settlebot encrypt-key -out key.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/settlebot/internal/app"
	"github.com/alanyoungcy/settlebot/internal/config"
	"github.com/alanyoungcy/settlebot/internal/crypto"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "encrypt-key":
			os.Exit(encryptKey(os.Args[2:]))
		case "history":
			os.Exit(history(os.Args[2:]))
		}
	}

	configPath := flag.String("config", "", "path to configuration file (defaults plus environment when empty)")
	flag.Parse()
	os.Exit(run(*configPath, nil))
}

// history reads settled outcomes and audit entries back from postgres.
func history(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	batchID := fs.String("batch", "", "list every outcome of this batch")
	txHash := fs.String("tx", "", "show the outcome of this transaction")
	limit := fs.Int("limit", 0, "number of audit entries to list")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	return run(*configPath, func(cfg *config.Config) {
		cfg.Mode = "history"
		if *batchID != "" {
			cfg.History.BatchID = *batchID
		}
		if *txHash != "" {
			cfg.History.TxHash = *txHash
		}
		if *limit > 0 {
			cfg.History.AuditLimit = *limit
		}
	})
}

// run loads the configuration, applies override when non-nil and runs the
// application until it finishes or a signal arrives.
func run(configPath string, override func(*config.Config)) int {
	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", configPath),
			slog.String("error", err.Error()),
		)
		return 1
	}
	if override != nil {
		override(cfg)
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	redacted := config.RedactedConfig(cfg)
	logger.Info("settlebot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
		slog.Any("settings", redacted),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("settlebot interrupted", slog.String("error", err.Error()))
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		}
		return 1
	}

	logger.Info("settlebot stopped")
	return 0
}

// encryptKey seals SETTLEBOT_WALLET_PRIVATE_KEY (or ACCOUNT_0_PRIVATE_KEY)
// under SETTLEBOT_WALLET_KEY_PASSWORD and writes the key file.
func encryptKey(args []string) int {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	out := fs.String("out", "key.json", "where to write the encrypted key file")
	configPath := fs.String("config", "", "optional configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := newLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		return 1
	}

	data, err := crypto.EncryptKey(cfg.Wallet.PrivateKey, cfg.Wallet.KeyPassword)
	if err != nil {
		logger.Error("encrypt key failed", slog.String("error", err.Error()))
		return 1
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		logger.Error("write key file failed",
			slog.String("path", *out),
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("encrypted key written",
		slog.String("path", *out),
		slog.String("key", crypto.RedactKey(cfg.Wallet.PrivateKey)),
	)
	return 0
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
