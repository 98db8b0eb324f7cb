package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

// unlockLua deletes the lock only while it still carries the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes the TTL only while the lock carries the caller's token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and token-checked
// Lua release and extension.
type LockManager struct {
	rdb      redis.UniversalClient
	unlockSc *redis.Script
	extendSc *redis.Script

	mu     sync.Mutex
	tokens map[string]string // lock key -> token held by this process
}

// NewLockManager creates a LockManager backed by c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.rdb,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
		tokens:   make(map[string]string),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// AccountLockKey is the lock key guarding submissions from one account.
func AccountLockKey(chainID int64, account string) string {
	return fmt.Sprintf("settle:%d:%s", chainID, account)
}

// Acquire takes the lock for key with the given TTL. It returns
// domain.ErrLockHeld if another holder owns it. The returned release func is
// idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	lm.mu.Lock()
	lm.tokens[lk] = token
	lm.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			lm.mu.Lock()
			delete(lm.tokens, lk)
			lm.mu.Unlock()

			// The caller's context may already be cancelled at shutdown.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(releaseCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}

// Extend pushes the expiry of a lock acquired by this LockManager. It returns
// domain.ErrLockHeld if the lock was lost to another holder.
func (lm *LockManager) Extend(ctx context.Context, key string, ttl time.Duration) error {
	lk := lockKey(key)
	lm.mu.Lock()
	token, ok := lm.tokens[lk]
	lm.mu.Unlock()
	if !ok {
		return fmt.Errorf("redis: extend lock %s: not held", key)
	}

	n, err := lm.extendSc.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: extend lock %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: extend lock %s: %w", key, domain.ErrLockHeld)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
