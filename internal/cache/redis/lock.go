package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openlend/lenderd/internal/domain"
	"github.com/redis/go-redis/v9"
)

// unlockLua is a Lua script that deletes a lock key only if its value matches
// the caller's unique token. This prevents one holder from releasing a lock
// that has expired and been re-acquired by another holder.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// a Lua-based conditional unlock. Tokens for held locks are kept in-process
// so Release only ever removes locks this manager acquired.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script

	mu     sync.Mutex
	tokens map[string]string
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		tokens:   make(map[string]string),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. It returns (false, nil) when the lock is already held by
// another party.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.New().String()

	ok, err := lm.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	lm.mu.Lock()
	lm.tokens[key] = token
	lm.mu.Unlock()

	return true, nil
}

// Release removes the lock for key if this manager still holds it. Releasing
// a lock that has already expired is not an error.
func (lm *LockManager) Release(ctx context.Context, key string) error {
	lm.mu.Lock()
	token, held := lm.tokens[key]
	delete(lm.tokens, key)
	lm.mu.Unlock()

	if !held {
		return nil
	}

	if err := lm.unlockSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token).Err(); err != nil {
		return fmt.Errorf("redis: release lock %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
