package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OutcomeRow is a persisted per-trade settlement outcome.
type OutcomeRow struct {
	ID          int64
	BatchID     string
	TradeIndex  int
	Account     string
	Nonce       *int64
	TxHash      string
	Status      string
	BlockNumber *int64
	Stage       string
	Error       string
	CreatedAt   time.Time
}

// OutcomeStore persists settlement outcomes.
type OutcomeStore interface {
	Record(ctx context.Context, batchID, account string, o Outcome) error
	ListByBatch(ctx context.Context, batchID string) ([]OutcomeRow, error)
	GetByTxHash(ctx context.Context, txHash string) (OutcomeRow, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
