package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

func signedFor(t *testing.T, chain *fakeChain) SignedTransaction {
	t.Helper()
	signer := newTestSigner(t)
	call, err := Encode(referenceTrade())
	require.NoError(t, err)
	p, err := NewAssembler(chain, newTestContract(t), 0, testChainID).
		Assemble(context.Background(), call, signer.Address(), NewNonceSource(NonceLocal, chain, signer.Address()))
	require.NoError(t, err)
	signed, err := Sign(p, signer)
	require.NoError(t, err)
	return signed
}

func TestSubmit_Success(t *testing.T) {
	chain := newFakeChain()
	signed := signedFor(t, chain)
	s := NewSubmitter(chain, time.Millisecond, 0, discardLogger())

	res, err := s.Submit(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Equal(t, signed.Hash.Hex(), res.TxHash)
	assert.Equal(t, int64(100), res.BlockNumber.Int64())
	assert.Equal(t, uint64(21_000), res.GasUsed)
	require.Len(t, chain.sent, 1)
}

func TestSubmit_RevertIsAResult(t *testing.T) {
	chain := newFakeChain()
	chain.revert = map[int]bool{0: true}
	s := NewSubmitter(chain, time.Millisecond, 0, discardLogger())

	res, err := s.Submit(context.Background(), signedFor(t, chain))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReverted, res.Status)
	assert.NotNil(t, res.BlockNumber)
}

func TestSubmit_WaitsThroughNotFound(t *testing.T) {
	chain := newFakeChain()
	chain.pendingPolls = 3
	s := NewSubmitter(chain, time.Millisecond, 0, discardLogger())

	res, err := s.Submit(context.Background(), signedFor(t, chain))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Equal(t, 4, chain.receiptCalls)
}

func TestSubmit_BroadcastRejected(t *testing.T) {
	chain := newFakeChain()
	chain.sendErr = map[int]error{0: errors.New("nonce too low")}
	s := NewSubmitter(chain, time.Millisecond, 0, discardLogger())

	_, err := s.Submit(context.Background(), signedFor(t, chain))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBroadcastRejected)
	assert.ErrorContains(t, err, "nonce too low")
	assert.Zero(t, chain.receiptCalls)
}

func TestSubmit_ReceiptTimeout(t *testing.T) {
	chain := newFakeChain()
	chain.neverMine = true
	s := NewSubmitter(chain, time.Millisecond, 20*time.Millisecond, discardLogger())

	res, err := s.Submit(context.Background(), signedFor(t, chain))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReceiptTimeout)
	assert.NotEmpty(t, res.TxHash)
}

func TestSubmit_ContextCancelled(t *testing.T) {
	chain := newFakeChain()
	chain.neverMine = true
	s := NewSubmitter(chain, time.Millisecond, 0, discardLogger())
	signed := signedFor(t, chain)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Submit(ctx, signed)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrReceiptTimeout)
}

func TestSubmit_CancelledDuringBroadcast(t *testing.T) {
	chain := newFakeChain()
	chain.sendErr = map[int]error{0: context.Canceled}
	s := NewSubmitter(chain, time.Millisecond, 0, discardLogger())
	signed := signedFor(t, chain)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.Submit(ctx, signed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrBroadcastRejected)
	assert.Equal(t, signed.Hash.Hex(), res.TxHash)
	assert.Zero(t, chain.receiptCalls)
}
