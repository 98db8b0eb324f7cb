package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

// DefaultGasLimit is a conservative limit for a single fill call.
const DefaultGasLimit uint64 = 500_000

// PendingTransaction is an unsigned fill transaction.
type PendingTransaction struct {
	To       common.Address
	From     common.Address
	Data     []byte
	GasLimit uint64
	GasPrice *big.Int
	Nonce    uint64
	ChainID  *big.Int
}

// Tx builds the legacy (gas price) transaction described by p.
func (p PendingTransaction) Tx() *types.Transaction {
	to := p.To
	return types.NewTx(&types.LegacyTx{
		Nonce:    p.Nonce,
		GasPrice: new(big.Int).Set(p.GasPrice),
		Gas:      p.GasLimit,
		To:       &to,
		Value:    new(big.Int),
		Data:     p.Data,
	})
}

// Assembler turns encoded fill calls into pending transactions.
type Assembler struct {
	client   ChainClient
	contract *Contract
	gasLimit uint64
	chainID  *big.Int
}

// NewAssembler creates an Assembler. A zero gasLimit selects
// DefaultGasLimit; a nil chainID is resolved from the node on first use.
func NewAssembler(client ChainClient, contract *Contract, gasLimit uint64, chainID *big.Int) *Assembler {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	return &Assembler{
		client:   client,
		contract: contract,
		gasLimit: gasLimit,
		chainID:  chainID,
	}
}

// Assemble packs call and fills in gas price, nonce and chain ID. Gas price
// and nonce are read from the chain at call time.
func (a *Assembler) Assemble(ctx context.Context, call EncodedCall, from common.Address, nonces NonceSource) (PendingTransaction, error) {
	data, err := a.contract.PackFill(call)
	if err != nil {
		return PendingTransaction{}, err
	}

	chainID, err := a.resolveChainID(ctx)
	if err != nil {
		return PendingTransaction{}, err
	}

	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return PendingTransaction{}, fmt.Errorf("settlement: suggest gas price: %w: %w", domain.ErrChainContextUnavailable, err)
	}

	nonce, err := nonces.Next(ctx)
	if err != nil {
		return PendingTransaction{}, fmt.Errorf("%w: %w", domain.ErrChainContextUnavailable, err)
	}

	return PendingTransaction{
		To:       a.contract.Address(),
		From:     from,
		Data:     data,
		GasLimit: a.gasLimit,
		GasPrice: gasPrice,
		Nonce:    nonce,
		ChainID:  chainID,
	}, nil
}

func (a *Assembler) resolveChainID(ctx context.Context) (*big.Int, error) {
	if a.chainID != nil {
		return a.chainID, nil
	}
	id, err := a.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("settlement: chain id: %w: %w", domain.ErrChainContextUnavailable, err)
	}
	a.chainID = id
	return id, nil
}
