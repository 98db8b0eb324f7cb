package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")

	// Encoding stage.
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidByteLength = errors.New("invalid byte length")
	ErrNumericOverflow   = errors.New("numeric overflow")
	ErrInvalidNumber     = errors.New("invalid number")

	// Assembly stage.
	ErrChainContextUnavailable = errors.New("chain context unavailable")

	// Signing stage.
	ErrMissingCredential = errors.New("missing credential")
	ErrSigningFailure    = errors.New("signing failure")

	// Submission stage.
	ErrBroadcastRejected = errors.New("broadcast rejected")
	ErrExecutionReverted = errors.New("execution reverted")
	ErrReceiptTimeout    = errors.New("receipt wait timed out")
)

// Stage names a step of the settlement pipeline.
type Stage string

const (
	StageEncode    Stage = "encode"
	StageAssemble  Stage = "assemble"
	StageSign      Stage = "sign"
	StageBroadcast Stage = "broadcast"
	StageReceipt   Stage = "receipt"
	StageExecution Stage = "execution"
)

// StageError attaches the trade index and pipeline stage to the underlying
// cause. Index is zero-based.
type StageError struct {
	Index int
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("trade %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
