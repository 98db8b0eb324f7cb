package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

func haltedBatch() domain.BatchReport {
	n0, n1 := uint64(5), uint64(6)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return domain.BatchReport{
		BatchID:   "b1",
		Account:   "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Total:     3,
		Committed: 1,
		Halted:    true,
		StartedAt: start,
		Outcomes: []domain.Outcome{
			{
				Index:  0,
				Nonce:  &n0,
				TxHash: "0xaa",
				Result: &domain.SubmissionResult{TxHash: "0xaa", Status: domain.StatusSuccess, BlockNumber: big.NewInt(10), GasUsed: 90_000},
			},
			{
				Index:  1,
				Nonce:  &n1,
				TxHash: "0xbb",
				Result: &domain.SubmissionResult{TxHash: "0xbb", Status: domain.StatusReverted, BlockNumber: big.NewInt(11)},
				Stage:  domain.StageExecution,
				Err:    &domain.StageError{Index: 1, Stage: domain.StageExecution, Err: domain.ErrExecutionReverted},
			},
		},
		FinishedAt: start.Add(3 * time.Second),
	}
}

func TestBuild(t *testing.T) {
	doc := Build(haltedBatch(), "packaged_trades.json")

	assert.Equal(t, "b1", doc.BatchID)
	assert.Equal(t, 3, doc.Total)
	assert.True(t, doc.Halted)
	require.Len(t, doc.Outcomes, 2)

	assert.Equal(t, "success", doc.Outcomes[0].Status)
	assert.Equal(t, "10", doc.Outcomes[0].BlockNumber)
	assert.Empty(t, doc.Outcomes[0].Error)

	assert.Equal(t, "reverted", doc.Outcomes[1].Status)
	assert.Equal(t, "execution", doc.Outcomes[1].Stage)
	assert.Equal(t, "trade 1: execution: execution reverted", doc.Outcomes[1].Error)
}

func TestBuild_FailedBeforeBroadcast(t *testing.T) {
	r := domain.BatchReport{Outcomes: []domain.Outcome{{
		Index: 0,
		Stage: domain.StageEncode,
		Err:   &domain.StageError{Stage: domain.StageEncode, Err: domain.ErrNumericOverflow},
	}}}

	doc := Build(r, "")
	assert.Equal(t, "failed", doc.Outcomes[0].Status)
	assert.Nil(t, doc.Outcomes[0].Nonce)
}

func TestSummary(t *testing.T) {
	r := haltedBatch()
	assert.Equal(t,
		"batch b1 from 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266: 1/3 trades committed\nhalted: trade 1: execution: execution reverted",
		Summary(r))

	r.Halted = false
	assert.NotContains(t, Summary(r), "halted")

	r = domain.BatchReport{BatchID: "b2", Halted: true}
	assert.Contains(t, Summary(r), "halted before the first trade")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "reports/packaged_trades/", SourcePrefix("reports", "data/packaged_trades.json"))
	assert.Equal(t, "reports/packaged_trades/b1.json", Key("reports", "data/packaged_trades.json", "b1"))
	assert.Equal(t, "reports/day-42/b1.json", Key("reports", "batches/day-42.json", "b1"))
	assert.Equal(t, "batch/", SourcePrefix("", ""))
}

type memWriter struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	m.key, m.contentType = path, contentType
	var err error
	m.body, err = io.ReadAll(data)
	return err
}

func TestPublish(t *testing.T) {
	w := &memWriter{}
	key, err := Publish(context.Background(), w, "reports", "packaged_trades.json", haltedBatch())
	require.NoError(t, err)

	assert.Equal(t, "reports/packaged_trades/b1.json", key)
	assert.Equal(t, key, w.key)
	assert.Equal(t, "application/json", w.contentType)

	var doc Document
	require.NoError(t, json.Unmarshal(w.body, &doc))
	assert.Equal(t, "packaged_trades.json", doc.Source)
	assert.Len(t, doc.Outcomes, 2)

	_, err = Publish(context.Background(), &memWriter{err: fmt.Errorf("bucket gone")}, "reports", "x.json", haltedBatch())
	assert.ErrorContains(t, err, "bucket gone")
}
