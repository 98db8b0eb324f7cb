package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

var (
	testChainID  = big.NewInt(31337)
	testContract = common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
)

// referenceTrade is a well-formed trade with lowercase addresses.
func referenceTrade() domain.TradeRecord {
	return domain.TradeRecord{
		MakerToken:   "0x" + strings.Repeat("a1", 20),
		TakerToken:   "0x" + strings.Repeat("b2", 20),
		MakerAmount:  "1000000000000000000",
		TakerAmount:  "500000000000000000",
		Maker:        "0x" + strings.Repeat("c3", 20),
		Taker:        "0x" + strings.Repeat("d4", 20),
		Sender:       "0x" + strings.Repeat("e5", 20),
		FeeRecipient: "0x" + strings.Repeat("f6", 20),
		Pool:         "0x" + strings.Repeat("01", 32),
		Expiration:   "1999999999",
		Salt:         "123456789",
		MakerIsBuyer: true,
		MakerV:       "27",
		MakerR:       "0x" + strings.Repeat("11", 32),
		MakerS:       "0x" + strings.Repeat("22", 32),
		TakerV:       "28",
		TakerR:       "0x" + strings.Repeat("33", 32),
		TakerS:       "0x" + strings.Repeat("44", 32),
	}
}

// testSigner signs with a freshly generated secp256k1 key.
type testSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	return &testSigner{key: key, addr: gethcrypto.PubkeyToAddress(key.PublicKey)}
}

func (s *testSigner) Address() common.Address { return s.addr }

func (s *testSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestContract(t *testing.T) *Contract {
	t.Helper()
	c, err := NewContract(testContract)
	require.NoError(t, err)
	return c
}

// fakeChain is an in-memory node. Every broadcast transaction is mined on
// the next receipt lookup unless configured otherwise.
type fakeChain struct {
	mu sync.Mutex

	chainID  *big.Int
	gasPrice *big.Int
	// baseNonce is the account nonce before the first broadcast.
	baseNonce uint64

	chainIDErr  error
	gasPriceErr error
	nonceErr    error
	// sendErr is returned by SendTransaction for the broadcast with the
	// given 0-based index.
	sendErr map[int]error
	// onSend runs at the start of every SendTransaction with the broadcast
	// index.
	onSend func(i int)
	// revert marks broadcasts, by 0-based index, that mine with status 0.
	revert map[int]bool
	// pendingPolls is the number of NotFound answers before a receipt.
	pendingPolls int
	// neverMine keeps every receipt lookup returning NotFound.
	neverMine bool

	sent         []*types.Transaction
	calls        int
	nonceCalls   int
	receiptCalls int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		chainID:  new(big.Int).Set(testChainID),
		gasPrice: big.NewInt(1_000_000_000),
	}
}

var _ ChainClient = (*fakeChain)(nil)

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.chainIDErr != nil {
		return nil, f.chainIDErr
	}
	return new(big.Int).Set(f.chainID), nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.gasPriceErr != nil {
		return nil, f.gasPriceErr
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.nonceCalls++
	if f.nonceErr != nil {
		return 0, f.nonceErr
	}
	return f.baseNonce + uint64(len(f.sent)), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onSend != nil {
		f.onSend(len(f.sent))
	}
	if err := f.sendErr[len(f.sent)]; err != nil {
		return err
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.receiptCalls++
	if f.neverMine {
		return nil, ethereum.NotFound
	}
	if f.pendingPolls > 0 {
		f.pendingPolls--
		return nil, ethereum.NotFound
	}
	for i, tx := range f.sent {
		if tx.Hash() != hash {
			continue
		}
		status := types.ReceiptStatusSuccessful
		if f.revert[i] {
			status = types.ReceiptStatusFailed
		}
		return &types.Receipt{
			Status:      status,
			TxHash:      hash,
			BlockNumber: big.NewInt(int64(100 + i)),
			BlockHash:   common.BigToHash(big.NewInt(int64(100 + i))),
			GasUsed:     21_000,
		}, nil
	}
	return nil, fmt.Errorf("fake chain: unknown tx %s", hash.Hex())
}

func (f *fakeChain) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChain) sentNonces() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, 0, len(f.sent))
	for _, tx := range f.sent {
		out = append(out, tx.Nonce())
	}
	return out
}
