package domain

import (
	"context"
	"time"
)

// LockManager provides distributed mutual exclusion.
type LockManager interface {
	// Acquire obtains a lock. The returned function releases it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
	// Extend pushes the expiry of a lock this process still holds.
	Extend(ctx context.Context, key string, ttl time.Duration) error
}
