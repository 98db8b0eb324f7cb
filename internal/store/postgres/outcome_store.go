package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates an OutcomeStore backed by pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Record upserts the outcome of one trade of a batch.
func (s *OutcomeStore) Record(ctx context.Context, batchID, account string, o domain.Outcome) error {
	row := outcomeRow(batchID, account, o)

	const query = `
		INSERT INTO settlement_outcomes
			(batch_id, trade_index, account, nonce, tx_hash, status, block_number, stage, error)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), NULLIF($9, ''))
		ON CONFLICT (batch_id, trade_index) DO UPDATE SET
			nonce        = EXCLUDED.nonce,
			tx_hash      = EXCLUDED.tx_hash,
			status       = EXCLUDED.status,
			block_number = EXCLUDED.block_number,
			stage        = EXCLUDED.stage,
			error        = EXCLUDED.error`
	_, err := s.pool.Exec(ctx, query,
		row.BatchID, row.TradeIndex, row.Account, row.Nonce, row.TxHash,
		row.Status, row.BlockNumber, row.Stage, row.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: record outcome %s/%d: %w", batchID, o.Index, err)
	}
	return nil
}

// ListByBatch returns a batch's outcomes in trade order.
func (s *OutcomeStore) ListByBatch(ctx context.Context, batchID string) ([]domain.OutcomeRow, error) {
	rows, err := s.pool.Query(ctx, selectOutcomes+` WHERE batch_id = $1 ORDER BY trade_index`, batchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes for %s: %w", batchID, err)
	}
	defer rows.Close()

	var out []domain.OutcomeRow
	for rows.Next() {
		r, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list outcomes rows: %w", err)
	}
	return out, nil
}

// GetByTxHash returns the outcome that broadcast txHash.
func (s *OutcomeStore) GetByTxHash(ctx context.Context, txHash string) (domain.OutcomeRow, error) {
	r, err := scanOutcome(s.pool.QueryRow(ctx, selectOutcomes+` WHERE tx_hash = $1 ORDER BY id DESC LIMIT 1`, txHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OutcomeRow{}, fmt.Errorf("postgres: outcome for tx %s: %w", txHash, domain.ErrNotFound)
	}
	return r, err
}

const selectOutcomes = `
	SELECT id, batch_id::text, trade_index, account, nonce, COALESCE(tx_hash, ''), status,
	       block_number, COALESCE(stage, ''), COALESCE(error, ''), created_at
	FROM settlement_outcomes`

func scanOutcome(row pgx.Row) (domain.OutcomeRow, error) {
	var r domain.OutcomeRow
	err := row.Scan(&r.ID, &r.BatchID, &r.TradeIndex, &r.Account, &r.Nonce, &r.TxHash,
		&r.Status, &r.BlockNumber, &r.Stage, &r.Error, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("postgres: scan outcome: %w", err)
	}
	return r, nil
}

// outcomeRow flattens an outcome into its table representation.
func outcomeRow(batchID, account string, o domain.Outcome) domain.OutcomeRow {
	r := domain.OutcomeRow{
		BatchID:    batchID,
		TradeIndex: o.Index,
		Account:    account,
		TxHash:     o.TxHash,
		Stage:      string(o.Stage),
		Status:     "failed",
	}
	if o.Nonce != nil && *o.Nonce <= math.MaxInt64 {
		n := int64(*o.Nonce)
		r.Nonce = &n
	}
	if o.Result != nil {
		r.Status = string(o.Result.Status)
		if o.Result.BlockNumber != nil && o.Result.BlockNumber.IsInt64() {
			b := o.Result.BlockNumber.Int64()
			r.BlockNumber = &b
		}
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

// Compile-time interface check.
var _ domain.OutcomeStore = (*OutcomeStore)(nil)
