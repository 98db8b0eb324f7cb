package domain

import (
	"math/big"
	"time"
)

// TxStatus is the terminal status of a mined transaction.
type TxStatus string

const (
	StatusSuccess  TxStatus = "success"
	StatusReverted TxStatus = "reverted"
)

// SubmissionResult is the mined receipt summary for one broadcast.
type SubmissionResult struct {
	TxHash      string
	Status      TxStatus
	BlockNumber *big.Int
	BlockHash   string
	GasUsed     uint64
}

// Outcome is the per-trade record of a batch run. Err is nil only for a
// trade whose transaction mined successfully. Result is set whenever the
// transaction reached the chain, including on revert.
type Outcome struct {
	Index  int
	Nonce  *uint64
	TxHash string
	Result *SubmissionResult
	Stage  Stage
	Err    error
}

// Committed reports whether the trade settled on chain.
func (o Outcome) Committed() bool {
	return o.Err == nil && o.Result != nil && o.Result.Status == StatusSuccess
}

// BatchReport summarises a batch run.
type BatchReport struct {
	BatchID    string
	Account    string
	Total      int
	Committed  int
	Halted     bool
	Outcomes   []Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}
