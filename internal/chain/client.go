// Package chain connects to an Ethereum JSON-RPC node for the settlement
// pipeline.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/settlebot/internal/settlement"
)

// ClientConfig holds node connection parameters.
type ClientConfig struct {
	// RPCURL is an http(s), ws(s) or IPC endpoint.
	RPCURL string
	// ChainID is the expected chain ID. Zero accepts whatever the node reports.
	ChainID int64
}

// Client wraps an ethclient.Client whose chain ID has been verified.
type Client struct {
	*ethclient.Client
	chainID *big.Int
}

// Dial connects to the node and checks that it serves the expected chain.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("chain: rpc url is required")
	}
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	id, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain: query chain id: %w", err)
	}
	if cfg.ChainID != 0 && id.Cmp(big.NewInt(cfg.ChainID)) != 0 {
		ec.Close()
		return nil, fmt.Errorf("chain: node reports chain id %s, expected %d", id, cfg.ChainID)
	}

	return &Client{Client: ec, chainID: id}, nil
}

// VerifiedChainID returns the chain ID confirmed at dial time.
func (c *Client) VerifiedChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// HasCode reports whether a contract is deployed at addr.
func (c *Client) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := c.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("chain: code at %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

// Balance returns the account balance in wei at the latest block.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balance of %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// Compile-time interface check.
var _ settlement.ChainClient = (*Client)(nil)
