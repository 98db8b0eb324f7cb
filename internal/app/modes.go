package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/settlebot/internal/cache/redis"
	"github.com/alanyoungcy/settlebot/internal/chain"
	"github.com/alanyoungcy/settlebot/internal/crypto"
	"github.com/alanyoungcy/settlebot/internal/domain"
	"github.com/alanyoungcy/settlebot/internal/notify"
	"github.com/alanyoungcy/settlebot/internal/report"
	"github.com/alanyoungcy/settlebot/internal/settlement"
	"github.com/alanyoungcy/settlebot/internal/tradefeed"
)

// ErrAlreadySettled is returned when a report for the input batch is already
// archived and the run was not forced.
var ErrAlreadySettled = errors.New("batch already settled")

// loadKey resolves the submitter key from the wallet configuration. It
// touches only the local filesystem.
func (a *App) loadKey() (string, error) {
	key, err := crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return "", fmt.Errorf("app: load key: %w", err)
	}
	return key, nil
}

// SettleMode loads the configured batch and settles it on chain with the
// submitter key resolved by loadKey.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies, key string) error {
	a.logger.InfoContext(ctx, "starting settle mode")

	signer, err := crypto.NewTxSigner(key)
	if err != nil {
		return fmt.Errorf("app: signer: %w", err)
	}
	a.logger.InfoContext(ctx, "submitter key loaded",
		slog.String("account", signer.Address().Hex()),
		slog.String("key", crypto.RedactKey(key)),
	)

	source, trades, err := a.loadTrades(ctx, deps)
	if err != nil {
		return err
	}
	if err := a.checkNotSettled(ctx, deps, source); err != nil {
		return err
	}

	client, err := chain.Dial(ctx, chain.ClientConfig{
		RPCURL:  a.cfg.Chain.RPCURL,
		ChainID: a.cfg.Chain.ChainID,
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	defer client.Close()

	contract, err := a.buildContract()
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	deployed, err := client.HasCode(ctx, contract.Address())
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if !deployed {
		return fmt.Errorf("app: no contract deployed at %s", contract.Address().Hex())
	}
	if bal, err := client.Balance(ctx, signer.Address()); err == nil {
		a.logger.InfoContext(ctx, "submitter balance", slog.String("wei", bal.String()))
		if bal.Sign() == 0 {
			a.logger.WarnContext(ctx, "submitter account has no funds for gas")
		}
	}

	policy, err := settlement.ParseNoncePolicy(a.cfg.Chain.NoncePolicy)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	runner := settlement.NewRunner(client, contract, signer, settlement.RunnerOptions{
		ChainID:        client.VerifiedChainID(),
		GasLimit:       a.cfg.Chain.GasLimit,
		NoncePolicy:    policy,
		PollInterval:   a.cfg.Chain.PollInterval(),
		ReceiptTimeout: a.cfg.Chain.Timeout(),
	}, a.logger)
	if deps.OutcomeStore != nil {
		runner.AddRecorder(deps.OutcomeStore)
	}

	// One submitter per account: hold the account lock for the whole batch.
	if deps.LockManager != nil {
		lockKey := redis.AccountLockKey(a.cfg.Chain.ChainID, signer.Address().Hex())
		release, err := deps.LockManager.Acquire(ctx, lockKey, a.cfg.Redis.TTL())
		if err != nil {
			return fmt.Errorf("app: account lock: %w", err)
		}
		defer release()
		runner.AddRecorder(&lockExtender{locks: deps.LockManager, key: lockKey, ttl: a.cfg.Redis.TTL()})
	}

	batch, runErr := runner.Run(ctx, trades)
	a.finishBatch(ctx, deps, source, batch, runErr)
	if runErr != nil {
		return fmt.Errorf("app: batch %s halted: %w", batch.BatchID, runErr)
	}
	return nil
}

// VerifyMode encodes every trade of the batch offline, packs it into fill
// calldata and decodes it back, logging the decoded tuples. Nothing is sent
// to a node.
func (a *App) VerifyMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting verify mode")

	_, trades, err := a.loadTrades(ctx, deps)
	if err != nil {
		return err
	}
	contract, err := a.buildContract()
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	var errs []error
	for i, trade := range trades {
		call, err := verifyTrade(contract, trade)
		if err != nil {
			a.logger.ErrorContext(ctx, "trade failed verification",
				slog.Int("trade_index", i),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("trade %d: %w", i, err))
			continue
		}
		a.logger.InfoContext(ctx, "trade verified",
			slog.Int("trade_index", i),
			slog.Any("limit_order", orderAttrs(call.Order)),
			slog.Any("signatures", signatureAttrs(call.Signatures)),
			slog.String("fill_amount", call.FillAmount.String()),
		)
	}

	a.logger.InfoContext(ctx, "verification finished",
		slog.Int("trades", len(trades)),
		slog.Int("failed", len(errs)),
	)
	if len(errs) > 0 {
		return fmt.Errorf("app: %d of %d trades failed verification: %w", len(errs), len(trades), errors.Join(errs...))
	}
	return nil
}

// verifyTrade encodes trade and checks that its calldata decodes to the same
// arguments.
func verifyTrade(contract *settlement.Contract, trade domain.TradeRecord) (settlement.EncodedCall, error) {
	call, err := settlement.Encode(trade)
	if err != nil {
		return settlement.EncodedCall{}, err
	}
	data, err := contract.PackFill(call)
	if err != nil {
		return settlement.EncodedCall{}, err
	}
	decoded, err := contract.UnpackFill(data)
	if err != nil {
		return settlement.EncodedCall{}, err
	}
	again, err := contract.PackFill(decoded)
	if err != nil {
		return settlement.EncodedCall{}, err
	}
	if !bytes.Equal(data, again) {
		return settlement.EncodedCall{}, fmt.Errorf("app: calldata does not round-trip")
	}
	return decoded, nil
}

// loadTrades reads the batch from the local file or, when no file is
// configured, from object storage. It returns the source name with the
// trades.
func (a *App) loadTrades(ctx context.Context, deps *Dependencies) (string, []domain.TradeRecord, error) {
	if path := a.cfg.Input.TradesPath; path != "" {
		trades, err := tradefeed.LoadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("app: %w", err)
		}
		a.logger.InfoContext(ctx, "trades loaded", slog.String("source", path), slog.Int("trades", len(trades)))
		return path, trades, nil
	}

	key := a.cfg.Input.S3Key
	if deps.BlobReader == nil {
		return "", nil, fmt.Errorf("app: input %s needs object storage", key)
	}
	ok, err := deps.BlobReader.Exists(ctx, key)
	if err != nil {
		return "", nil, fmt.Errorf("app: stat %s: %w", key, err)
	}
	if !ok {
		return "", nil, fmt.Errorf("app: input %s: %w", key, domain.ErrNotFound)
	}
	trades, err := tradefeed.LoadBlob(ctx, deps.BlobReader, key)
	if err != nil {
		return "", nil, fmt.Errorf("app: %w", err)
	}
	a.logger.InfoContext(ctx, "trades loaded", slog.String("source", key), slog.Int("trades", len(trades)))
	return key, trades, nil
}

// checkNotSettled refuses to run a batch that already has an archived report.
// Re-submitting settled orders would only revert on chain.
func (a *App) checkNotSettled(ctx context.Context, deps *Dependencies, source string) error {
	if deps.BlobReader == nil || a.cfg.Input.Force {
		return nil
	}
	prefix := report.SourcePrefix(a.cfg.S3.ReportPrefix, source)
	existing, err := deps.BlobReader.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("app: list reports: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("app: %s has %d archived report(s) under %s (set input.force to re-run): %w",
			source, len(existing), prefix, ErrAlreadySettled)
	}
	return nil
}

func (a *App) buildContract() (*settlement.Contract, error) {
	addr := common.HexToAddress(a.cfg.Settlement.ContractAddress)
	if a.cfg.Settlement.ABIPath != "" {
		return settlement.LoadContract(addr, a.cfg.Settlement.ABIPath)
	}
	return settlement.NewContract(addr)
}

// finishBatch audits, archives and announces a finished batch. Failures here
// are logged and never change the batch result.
func (a *App) finishBatch(ctx context.Context, deps *Dependencies, source string, batch domain.BatchReport, runErr error) {
	summary := report.Summary(batch)
	event := notify.EventBatchCompleted
	if runErr != nil {
		event = notify.EventBatchHalted
	}

	if deps.AuditStore != nil {
		detail := map[string]any{
			"batch_id":  batch.BatchID,
			"source":    source,
			"account":   batch.Account,
			"total":     batch.Total,
			"committed": batch.Committed,
			"halted":    batch.Halted,
		}
		if runErr != nil {
			detail["error"] = runErr.Error()
		}
		if err := deps.AuditStore.Log(ctx, event, detail); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if deps.BlobWriter != nil {
		key, err := report.Publish(ctx, deps.BlobWriter, a.cfg.S3.ReportPrefix, source, batch)
		if err != nil {
			a.logger.WarnContext(ctx, "report upload failed", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "report archived", slog.String("key", key))
			summary += "\nreport: " + key
		}
	}

	if err := deps.Notifier.Notify(ctx, event, "settlebot "+event, summary); err != nil {
		a.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
	}
}

// lockExtender renews the account lock after every trade so long batches
// keep it.
type lockExtender struct {
	locks domain.LockManager
	key   string
	ttl   time.Duration
}

func (l *lockExtender) Record(ctx context.Context, _, _ string, _ domain.Outcome) error {
	return l.locks.Extend(ctx, l.key, l.ttl)
}

func orderAttrs(o settlement.EncodedOrder) map[string]any {
	return map[string]any{
		"makerToken":        o.MakerToken.Hex(),
		"takerToken":        o.TakerToken.Hex(),
		"makerAmount":       o.MakerAmount.String(),
		"takerAmount":       o.TakerAmount.String(),
		"protocolFeeAmount": o.ProtocolFeeAmount.String(),
		"maker":             o.Maker.Hex(),
		"taker":             o.Taker.Hex(),
		"sender":            o.Sender.Hex(),
		"feeRecipient":      o.FeeRecipient.Hex(),
		"pool":              common.Hash(o.Pool).Hex(),
		"expiration":        o.Expiration,
		"salt":              o.Salt.String(),
		"makerIsBuyer":      o.MakerIsBuyer,
	}
}

func signatureAttrs(s settlement.EncodedSignaturePair) map[string]any {
	return map[string]any{
		"signatureType": s.SignatureType,
		"makerV":        s.MakerV,
		"makerR":        common.Hash(s.MakerR).Hex(),
		"makerS":        common.Hash(s.MakerS).Hex(),
		"takerV":        s.TakerV,
		"takerR":        common.Hash(s.TakerR).Hex(),
		"takerS":        common.Hash(s.TakerS).Hex(),
	}
}
