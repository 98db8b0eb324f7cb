package settlement

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NoncePolicy selects how the runner derives each transaction's nonce.
type NoncePolicy string

const (
	// NonceLocal reads the pending nonce once per batch and then counts
	// locally. Safe when other traffic shares the account between batches.
	NonceLocal NoncePolicy = "local"
	// NonceChain re-reads the pending nonce before every trade. Assumes no
	// concurrent traffic on the account during the batch.
	NonceChain NoncePolicy = "chain"
)

// ParseNoncePolicy maps a configuration string to a NoncePolicy. The empty
// string selects NonceLocal.
func ParseNoncePolicy(s string) (NoncePolicy, error) {
	switch NoncePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", NonceLocal:
		return NonceLocal, nil
	case NonceChain:
		return NonceChain, nil
	default:
		return "", fmt.Errorf("settlement: unknown nonce policy %q (valid: local, chain)", s)
	}
}

// NonceSource yields the nonce for the next transaction of one account.
type NonceSource interface {
	// Next returns the nonce to use for the next transaction.
	Next(ctx context.Context) (uint64, error)
	// Advance records that the nonce returned by Next was consumed by a
	// broadcast transaction.
	Advance()
}

// NewNonceSource returns the NonceSource for policy.
func NewNonceSource(policy NoncePolicy, client ChainClient, account common.Address) NonceSource {
	if policy == NonceChain {
		return &chainNonces{client: client, account: account}
	}
	return &localNonces{client: client, account: account}
}

type chainNonces struct {
	client  ChainClient
	account common.Address
}

func (c *chainNonces) Next(ctx context.Context) (uint64, error) {
	n, err := c.client.PendingNonceAt(ctx, c.account)
	if err != nil {
		return 0, fmt.Errorf("settlement: pending nonce for %s: %w", c.account.Hex(), err)
	}
	return n, nil
}

func (c *chainNonces) Advance() {}

// localNonces seeds from the chain on first use and counts from there.
type localNonces struct {
	client  ChainClient
	account common.Address

	mu     sync.Mutex
	seeded bool
	next   uint64
}

func (l *localNonces) Next(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.seeded {
		n, err := l.client.PendingNonceAt(ctx, l.account)
		if err != nil {
			return 0, fmt.Errorf("settlement: seed nonce for %s: %w", l.account.Hex(), err)
		}
		l.next = n
		l.seeded = true
	}
	return l.next, nil
}

func (l *localNonces) Advance() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seeded {
		l.next++
	}
}
