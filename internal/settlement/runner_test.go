package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, batchID, account string, o domain.Outcome) error {
	args := m.Called(ctx, batchID, account, o)
	return args.Error(0)
}

func newTestRunner(t *testing.T, chain *fakeChain, signer TxSigner, policy NoncePolicy) *Runner {
	t.Helper()
	return NewRunner(chain, newTestContract(t), signer, RunnerOptions{
		ChainID:      testChainID,
		NoncePolicy:  policy,
		PollInterval: time.Millisecond,
	}, discardLogger())
}

func batchOf(n int) []domain.TradeRecord {
	trades := make([]domain.TradeRecord, n)
	for i := range trades {
		trades[i] = referenceTrade()
		trades[i].Salt = domain.Text(big.NewInt(int64(1000 + i)).String())
	}
	return trades
}

func TestRun_AllCommitted(t *testing.T) {
	for _, policy := range []NoncePolicy{NonceLocal, NonceChain} {
		t.Run(string(policy), func(t *testing.T) {
			chain := newFakeChain()
			chain.baseNonce = 11
			signer := newTestSigner(t)

			report, err := newTestRunner(t, chain, signer, policy).Run(context.Background(), batchOf(4))
			require.NoError(t, err)

			assert.NotEmpty(t, report.BatchID)
			assert.Equal(t, signer.Address().Hex(), report.Account)
			assert.Equal(t, 4, report.Total)
			assert.Equal(t, 4, report.Committed)
			assert.False(t, report.Halted)
			assert.False(t, report.FinishedAt.Before(report.StartedAt))
			require.Len(t, report.Outcomes, 4)
			for i, o := range report.Outcomes {
				assert.Equal(t, i, o.Index)
				assert.True(t, o.Committed())
				assert.NoError(t, o.Err)
				require.NotNil(t, o.Nonce)
				assert.Equal(t, uint64(11+i), *o.Nonce)
			}

			assert.Equal(t, []uint64{11, 12, 13, 14}, chain.sentNonces())
		})
	}
}

func TestRun_LocalPolicyQueriesNonceOnce(t *testing.T) {
	chain := newFakeChain()
	_, err := newTestRunner(t, chain, newTestSigner(t), NonceLocal).Run(context.Background(), batchOf(3))
	require.NoError(t, err)
	assert.Equal(t, 1, chain.nonceCalls)

	chain = newFakeChain()
	_, err = newTestRunner(t, chain, newTestSigner(t), NonceChain).Run(context.Background(), batchOf(3))
	require.NoError(t, err)
	assert.Equal(t, 3, chain.nonceCalls)
}

func TestRun_HaltsAtFirstFailure(t *testing.T) {
	// Trade k=3 of 5 has a 31-byte pool id.
	trades := batchOf(5)
	trades[2].Pool = "0x" + trades[2].Pool[4:]
	chain := newFakeChain()

	report, err := newTestRunner(t, chain, newTestSigner(t), NonceLocal).Run(context.Background(), trades)
	require.Error(t, err)

	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Index)
	assert.Equal(t, domain.StageEncode, se.Stage)
	assert.ErrorIs(t, err, domain.ErrInvalidByteLength)

	assert.True(t, report.Halted)
	assert.Equal(t, 2, report.Committed)
	require.Len(t, report.Outcomes, 3)
	assert.True(t, report.Outcomes[0].Committed())
	assert.True(t, report.Outcomes[1].Committed())
	failed := report.Outcomes[2]
	assert.False(t, failed.Committed())
	assert.Equal(t, domain.StageEncode, failed.Stage)
	assert.Nil(t, failed.Nonce)
	assert.Empty(t, failed.TxHash)

	assert.Len(t, chain.sent, 2)
}

func TestRun_SecondTradeOverflows(t *testing.T) {
	trades := batchOf(2)
	trades[1].MakerAmount = domain.Text(new(big.Int).Lsh(big.NewInt(1), 128).String())
	chain := newFakeChain()

	report, err := newTestRunner(t, chain, newTestSigner(t), NonceLocal).Run(context.Background(), trades)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNumericOverflow)

	assert.Equal(t, 1, report.Committed)
	assert.True(t, report.Halted)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, domain.StatusSuccess, report.Outcomes[0].Result.Status)
	assert.Equal(t, domain.StageEncode, report.Outcomes[1].Stage)
	assert.Len(t, chain.sent, 1, "no transaction may be broadcast for the overflowing trade")
}

func TestRun_MissingCredentialBeforeNetwork(t *testing.T) {
	chain := newFakeChain()
	report, err := newTestRunner(t, chain, nil, NonceLocal).Run(context.Background(), batchOf(2))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingCredential)
	assert.True(t, report.Halted)
	assert.Empty(t, report.Outcomes)
	assert.Zero(t, chain.callCount())
}

func TestRun_RevertHalts(t *testing.T) {
	chain := newFakeChain()
	chain.revert = map[int]bool{1: true}

	report, err := newTestRunner(t, chain, newTestSigner(t), NonceLocal).Run(context.Background(), batchOf(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExecutionReverted)

	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.StageExecution, se.Stage)
	assert.Equal(t, 1, se.Index)

	require.Len(t, report.Outcomes, 2)
	reverted := report.Outcomes[1]
	require.NotNil(t, reverted.Result)
	assert.Equal(t, domain.StatusReverted, reverted.Result.Status)
	assert.NotEmpty(t, reverted.TxHash)
	assert.Equal(t, 1, report.Committed)
	assert.Len(t, chain.sent, 2)
}

func TestRun_BroadcastRejectedHalts(t *testing.T) {
	chain := newFakeChain()
	chain.sendErr = map[int]error{1: errors.New("replacement transaction underpriced")}

	report, err := newTestRunner(t, chain, newTestSigner(t), NonceLocal).Run(context.Background(), batchOf(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBroadcastRejected)

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, domain.StageBroadcast, report.Outcomes[1].Stage)
	assert.Nil(t, report.Outcomes[1].Result)
	assert.Equal(t, 1, report.Committed)
}

func TestRun_ChainContextUnavailableHalts(t *testing.T) {
	chain := newFakeChain()
	chain.gasPriceErr = errors.New("429 too many requests")

	report, err := newTestRunner(t, chain, newTestSigner(t), NonceLocal).Run(context.Background(), batchOf(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrChainContextUnavailable)
	assert.Equal(t, domain.StageAssemble, report.Outcomes[0].Stage)
	assert.Empty(t, chain.sent)
}

func TestRun_CancelledContext(t *testing.T) {
	chain := newFakeChain()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestRunner(t, chain, newTestSigner(t), NonceLocal).Run(ctx, batchOf(2))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Halted)
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, chain.sent)
}

func TestRun_RecordsEveryOutcome(t *testing.T) {
	chain := newFakeChain()
	chain.revert = map[int]bool{1: true}
	signer := newTestSigner(t)

	rec := new(MockRecorder)
	rec.On("Record", mock.Anything, mock.AnythingOfType("string"), signer.Address().Hex(),
		mock.MatchedBy(func(o domain.Outcome) bool { return o.Index == 0 })).Return(nil).Once()
	// A failing recorder must not stop the batch from reporting.
	rec.On("Record", mock.Anything, mock.AnythingOfType("string"), signer.Address().Hex(),
		mock.MatchedBy(func(o domain.Outcome) bool { return o.Index == 1 })).Return(errors.New("db down")).Once()

	runner := newTestRunner(t, chain, signer, NonceLocal)
	runner.AddRecorder(rec)

	report, err := runner.Run(context.Background(), batchOf(3))
	require.ErrorIs(t, err, domain.ErrExecutionReverted)
	assert.Len(t, report.Outcomes, 2)
	rec.AssertExpectations(t)
	rec.AssertNumberOfCalls(t, "Record", 2)
}

func TestRun_InterruptedBroadcastHalts(t *testing.T) {
	chain := newFakeChain()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chain.onSend = func(i int) {
		if i == 1 {
			cancel()
		}
	}
	chain.sendErr = map[int]error{1: context.Canceled}

	report, err := newTestRunner(t, chain, newTestSigner(t), NonceLocal).Run(ctx, batchOf(3))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrBroadcastRejected)

	require.Len(t, report.Outcomes, 2)
	interrupted := report.Outcomes[1]
	assert.Equal(t, domain.StageBroadcast, interrupted.Stage)
	assert.NotEmpty(t, interrupted.TxHash)
	assert.Equal(t, 1, report.Committed)
	assert.Len(t, chain.sent, 1)
}
