package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

// OutcomeRecorder receives every per-trade outcome as soon as it is known.
type OutcomeRecorder interface {
	Record(ctx context.Context, batchID, account string, o domain.Outcome) error
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	ChainID        *big.Int
	GasLimit       uint64
	NoncePolicy    NoncePolicy
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
}

// Runner settles a batch of trades strictly in order from one account,
// halting on the first failure.
type Runner struct {
	client    ChainClient
	signer    TxSigner
	assembler *Assembler
	submitter *Submitter
	policy    NoncePolicy
	recorders []OutcomeRecorder
	logger    *slog.Logger
}

// NewRunner creates a Runner. signer may be nil, in which case Run fails
// with domain.ErrMissingCredential without touching the network.
func NewRunner(client ChainClient, contract *Contract, signer TxSigner, opts RunnerOptions, logger *slog.Logger) *Runner {
	policy := opts.NoncePolicy
	if policy == "" {
		policy = NonceLocal
	}
	return &Runner{
		client:    client,
		signer:    signer,
		assembler: NewAssembler(client, contract, opts.GasLimit, opts.ChainID),
		submitter: NewSubmitter(client, opts.PollInterval, opts.ReceiptTimeout, logger),
		policy:    policy,
		logger:    logger.With(slog.String("component", "runner")),
	}
}

// AddRecorder registers an OutcomeRecorder. Recorder failures are logged and
// never halt the batch.
func (r *Runner) AddRecorder(rec OutcomeRecorder) {
	r.recorders = append(r.recorders, rec)
}

// Run settles trades in input order. Trade i+1 is not started until trade
// i has a mined receipt. The returned report always lists every attempted
// trade; the error is the *domain.StageError of the trade that halted the
// batch, or nil when every trade committed.
func (r *Runner) Run(ctx context.Context, trades []domain.TradeRecord) (domain.BatchReport, error) {
	report := domain.BatchReport{
		BatchID:   uuid.New().String(),
		Total:     len(trades),
		StartedAt: time.Now().UTC(),
	}
	finish := func(err error) (domain.BatchReport, error) {
		report.FinishedAt = time.Now().UTC()
		report.Halted = err != nil
		return report, err
	}

	if r.signer == nil {
		return finish(fmt.Errorf("settlement: no submitter key configured: %w", domain.ErrMissingCredential))
	}
	from := r.signer.Address()
	report.Account = from.Hex()
	nonces := NewNonceSource(r.policy, r.client, from)

	logger := r.logger.With(
		slog.String("batch_id", report.BatchID),
		slog.String("account", report.Account),
	)
	logger.InfoContext(ctx, "batch started",
		slog.Int("trades", len(trades)),
		slog.String("nonce_policy", string(r.policy)),
	)

	for i, trade := range trades {
		if err := ctx.Err(); err != nil {
			logger.WarnContext(ctx, "batch interrupted", slog.Int("next_trade", i))
			return finish(fmt.Errorf("settlement: interrupted before trade %d: %w", i, err))
		}

		out, err := r.settle(ctx, i, trade, nonces)
		report.Outcomes = append(report.Outcomes, out)
		r.record(ctx, report.BatchID, report.Account, out)

		if err != nil {
			logger.ErrorContext(ctx, "batch halted",
				slog.Int("trade_index", i),
				slog.String("stage", string(out.Stage)),
				slog.Int("committed", report.Committed),
				slog.String("error", err.Error()),
			)
			return finish(err)
		}
		report.Committed++
		logger.InfoContext(ctx, "trade settled",
			slog.Int("trade_index", i),
			slog.String("tx_hash", out.TxHash),
			slog.String("block", out.Result.BlockNumber.String()),
		)
	}

	logger.InfoContext(ctx, "batch completed", slog.Int("committed", report.Committed))
	return finish(nil)
}

// settle runs one trade through encode, assemble, sign and submit.
func (r *Runner) settle(ctx context.Context, index int, trade domain.TradeRecord, nonces NonceSource) (domain.Outcome, error) {
	out := domain.Outcome{Index: index}
	fail := func(stage domain.Stage, err error) (domain.Outcome, error) {
		se := &domain.StageError{Index: index, Stage: stage, Err: err}
		out.Stage = stage
		out.Err = se
		return out, se
	}

	call, err := Encode(trade)
	if err != nil {
		return fail(domain.StageEncode, err)
	}

	pending, err := r.assembler.Assemble(ctx, call, r.signer.Address(), nonces)
	if err != nil {
		return fail(domain.StageAssemble, err)
	}
	nonce := pending.Nonce
	out.Nonce = &nonce

	signed, err := Sign(pending, r.signer)
	if err != nil {
		return fail(domain.StageSign, err)
	}
	out.TxHash = signed.Hash.Hex()

	result, err := r.submitter.Submit(ctx, signed)
	if err != nil {
		if errors.Is(err, domain.ErrBroadcastRejected) {
			return fail(domain.StageBroadcast, err)
		}
		if errors.Is(err, ErrSendInterrupted) {
			nonces.Advance()
			return fail(domain.StageBroadcast, err)
		}
		// The node accepted the transaction, so its nonce is spent.
		nonces.Advance()
		return fail(domain.StageReceipt, err)
	}
	nonces.Advance()
	out.Result = &result

	if result.Status != domain.StatusSuccess {
		return fail(domain.StageExecution, fmt.Errorf("settlement: tx %s in block %s: %w",
			result.TxHash, result.BlockNumber, domain.ErrExecutionReverted))
	}
	return out, nil
}

func (r *Runner) record(ctx context.Context, batchID, account string, o domain.Outcome) {
	for _, rec := range r.recorders {
		if err := rec.Record(ctx, batchID, account, o); err != nil {
			r.logger.WarnContext(ctx, "record outcome failed",
				slog.String("batch_id", batchID),
				slog.Int("trade_index", o.Index),
				slog.String("error", err.Error()),
			)
		}
	}
}
