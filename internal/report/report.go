// Package report renders batch reports for operators and archives them.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

// Document is the JSON form of a batch report.
type Document struct {
	BatchID    string     `json:"batch_id"`
	Source     string     `json:"source,omitempty"`
	Account    string     `json:"account"`
	Total      int        `json:"total"`
	Committed  int        `json:"committed"`
	Halted     bool       `json:"halted"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Outcomes   []TradeRow `json:"outcomes"`
}

// TradeRow is the JSON form of one outcome.
type TradeRow struct {
	Index       int     `json:"index"`
	Nonce       *uint64 `json:"nonce,omitempty"`
	TxHash      string  `json:"tx_hash,omitempty"`
	Status      string  `json:"status"`
	BlockNumber string  `json:"block_number,omitempty"`
	GasUsed     uint64  `json:"gas_used,omitempty"`
	Stage       string  `json:"stage,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Build converts r into its JSON document.
func Build(r domain.BatchReport, source string) Document {
	doc := Document{
		BatchID:    r.BatchID,
		Source:     source,
		Account:    r.Account,
		Total:      r.Total,
		Committed:  r.Committed,
		Halted:     r.Halted,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Outcomes:   make([]TradeRow, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		row := TradeRow{
			Index:  o.Index,
			Nonce:  o.Nonce,
			TxHash: o.TxHash,
			Stage:  string(o.Stage),
			Status: "failed",
		}
		if o.Result != nil {
			row.Status = string(o.Result.Status)
			row.GasUsed = o.Result.GasUsed
			if o.Result.BlockNumber != nil {
				row.BlockNumber = o.Result.BlockNumber.String()
			}
		}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		doc.Outcomes = append(doc.Outcomes, row)
	}
	return doc
}

// Summary is a short human-readable account of r.
func Summary(r domain.BatchReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "batch %s from %s: %d/%d trades committed", r.BatchID, r.Account, r.Committed, r.Total)
	if !r.Halted {
		return b.String()
	}
	if n := len(r.Outcomes); n > 0 && r.Outcomes[n-1].Err != nil {
		fmt.Fprintf(&b, "\nhalted: %v", r.Outcomes[n-1].Err)
	} else {
		b.WriteString("\nhalted before the first trade")
	}
	return b.String()
}

// Key is the object key a report for source is archived under.
func Key(prefix, source, batchID string) string {
	return path.Join(SourcePrefix(prefix, source), batchID+".json")
}

// SourcePrefix is the key prefix holding every report for source.
func SourcePrefix(prefix, source string) string {
	name := strings.TrimSuffix(path.Base(source), path.Ext(source))
	if name == "" || name == "." || name == "/" {
		name = "batch"
	}
	return path.Join(prefix, name) + "/"
}

// Publish uploads the report for r as JSON and returns its key.
func Publish(ctx context.Context, w domain.BlobWriter, prefix, source string, r domain.BatchReport) (string, error) {
	data, err := json.MarshalIndent(Build(r, source), "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal: %w", err)
	}
	key := Key(prefix, source, r.BatchID)
	if err := w.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("report: publish %s: %w", key, err)
	}
	return key, nil
}
