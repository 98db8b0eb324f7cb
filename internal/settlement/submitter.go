package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

// DefaultPollInterval is the receipt polling period.
const DefaultPollInterval = time.Second

// ErrSendInterrupted marks a broadcast cut short by context cancellation.
// Whether the node received the transaction is unknown, so its nonce is
// treated as spent.
var ErrSendInterrupted = errors.New("broadcast interrupted")

// Submitter broadcasts signed transactions and waits for their receipts.
type Submitter struct {
	client       ChainClient
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

// NewSubmitter creates a Submitter. A zero pollInterval selects
// DefaultPollInterval. A zero timeout waits for a receipt indefinitely.
func NewSubmitter(client ChainClient, pollInterval, timeout time.Duration, logger *slog.Logger) *Submitter {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Submitter{
		client:       client,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger.With(slog.String("component", "submitter")),
	}
}

// Submit broadcasts signed and blocks until it is mined. A mined revert is
// returned as a result with StatusReverted and a nil error. Errors wrap
// domain.ErrBroadcastRejected when the node refused the transaction,
// ErrSendInterrupted when ctx ended during the broadcast itself, or
// domain.ErrReceiptTimeout when the configured wait elapsed.
func (s *Submitter) Submit(ctx context.Context, signed SignedTransaction) (domain.SubmissionResult, error) {
	if err := s.client.SendTransaction(ctx, signed.Tx); err != nil {
		// A cancelled request may still have reached the node.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.SubmissionResult{TxHash: signed.Hash.Hex()},
				fmt.Errorf("settlement: send %s: %w: %w", signed.Hash.Hex(), ErrSendInterrupted, ctxErr)
		}
		return domain.SubmissionResult{}, fmt.Errorf("settlement: send %s: %w: %w", signed.Hash.Hex(), domain.ErrBroadcastRejected, err)
	}
	s.logger.InfoContext(ctx, "transaction broadcast",
		slog.String("tx_hash", signed.Hash.Hex()),
		slog.Uint64("nonce", signed.Tx.Nonce()),
	)

	receipt, err := s.waitMined(ctx, signed.Hash)
	if err != nil {
		return domain.SubmissionResult{TxHash: signed.Hash.Hex()}, err
	}
	return resultFromReceipt(signed.Hash, receipt), nil
}

// waitMined polls for the receipt of hash until it appears or ctx ends.
func (s *Submitter) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "receipt lookup failed",
				slog.String("tx_hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			if s.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("settlement: receipt %s after %s: %w", hash.Hex(), s.timeout, domain.ErrReceiptTimeout)
			}
			return nil, fmt.Errorf("settlement: receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func resultFromReceipt(hash common.Hash, r *types.Receipt) domain.SubmissionResult {
	res := domain.SubmissionResult{
		TxHash:      hash.Hex(),
		Status:      domain.StatusReverted,
		BlockNumber: r.BlockNumber,
		BlockHash:   r.BlockHash.Hex(),
		GasUsed:     r.GasUsed,
	}
	if r.Status == types.ReceiptStatusSuccessful {
		res.Status = domain.StatusSuccess
	}
	return res
}
