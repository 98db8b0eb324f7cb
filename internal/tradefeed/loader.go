// Package tradefeed loads packaged trade batches produced by the matching
// engine. A batch is a JSON array of domain.TradeRecord in settlement order.
package tradefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

// Decode reads a JSON array of trades from r. Unknown fields are ignored,
// matching the matching engine's habit of adding bookkeeping columns.
func Decode(r io.Reader) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	if err := json.NewDecoder(r).Decode(&trades); err != nil {
		return nil, fmt.Errorf("tradefeed: decode: %w", err)
	}
	return trades, nil
}

// LoadFile reads a batch from a local file.
func LoadFile(path string) ([]domain.TradeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tradefeed: open %s: %w", path, err)
	}
	defer f.Close()

	trades, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("tradefeed: %s: %w", path, err)
	}
	return trades, nil
}

// LoadBlob reads a batch from object storage.
func LoadBlob(ctx context.Context, blobs domain.BlobReader, key string) ([]domain.TradeRecord, error) {
	body, err := blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("tradefeed: fetch %s: %w", key, err)
	}
	defer body.Close()

	trades, err := Decode(body)
	if err != nil {
		return nil, fmt.Errorf("tradefeed: %s: %w", key, err)
	}
	return trades, nil
}
