package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

// HistoryMode reads settled outcomes back from postgres: one transaction when
// history.tx_hash is set, a whole batch when history.batch_id is set, and the
// latest audit entries otherwise.
func (a *App) HistoryMode(ctx context.Context, deps *Dependencies) error {
	if deps.OutcomeStore == nil || deps.AuditStore == nil {
		return fmt.Errorf("app: history mode needs postgres")
	}
	h := a.cfg.History

	switch {
	case h.TxHash != "":
		row, err := deps.OutcomeStore.GetByTxHash(ctx, h.TxHash)
		if err != nil {
			return fmt.Errorf("app: outcome %s: %w", h.TxHash, err)
		}
		a.logOutcome(ctx, row)

	case h.BatchID != "":
		rows, err := deps.OutcomeStore.ListByBatch(ctx, h.BatchID)
		if err != nil {
			return fmt.Errorf("app: batch %s: %w", h.BatchID, err)
		}
		if len(rows) == 0 {
			return fmt.Errorf("app: batch %s: %w", h.BatchID, domain.ErrNotFound)
		}
		committed := 0
		for _, row := range rows {
			if row.Status == string(domain.StatusSuccess) {
				committed++
			}
			a.logOutcome(ctx, row)
		}
		a.logger.InfoContext(ctx, "batch history",
			slog.String("batch_id", h.BatchID),
			slog.Int("trades", len(rows)),
			slog.Int("committed", committed),
		)

	default:
		entries, err := deps.AuditStore.List(ctx, domain.ListOpts{Limit: h.AuditLimit})
		if err != nil {
			return fmt.Errorf("app: audit log: %w", err)
		}
		for _, e := range entries {
			a.logger.InfoContext(ctx, "audit entry",
				slog.Int64("id", e.ID),
				slog.String("event", e.Event),
				slog.Time("at", e.CreatedAt),
				slog.Any("detail", e.Detail),
			)
		}
	}
	return nil
}

func (a *App) logOutcome(ctx context.Context, row domain.OutcomeRow) {
	attrs := []any{
		slog.String("batch_id", row.BatchID),
		slog.Int("trade_index", row.TradeIndex),
		slog.String("status", row.Status),
		slog.String("tx_hash", row.TxHash),
	}
	if row.Nonce != nil {
		attrs = append(attrs, slog.Int64("nonce", *row.Nonce))
	}
	if row.BlockNumber != nil {
		attrs = append(attrs, slog.Int64("block", *row.BlockNumber))
	}
	if row.Stage != "" {
		attrs = append(attrs, slog.String("stage", row.Stage), slog.String("error", row.Error))
	}
	a.logger.InfoContext(ctx, "outcome", attrs...)
}
