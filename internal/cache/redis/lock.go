package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token. This prevents one holder from accidentally releasing another
// holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends a lock's TTL only while the caller still holds it.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// RunLock implements domain.RunLock using Redis SETNX with a TTL and
// Lua-based conditional release and refresh. It guards a bot id against
// concurrent execution by two processes sharing the same durable store.
type RunLock struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script

	mu     sync.Mutex
	tokens map[string]string // botID -> lock token held by this process
}

// NewRunLock creates a RunLock backed by the given Client.
func NewRunLock(c *Client) *RunLock {
	return &RunLock{
		rdb:       c.Underlying(),
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
		tokens:    make(map[string]string),
	}
}

func runLockKey(botID string) string {
	return "botlock:" + botID
}

// Acquire takes the lock for botID or returns domain.ErrLockHeld.
func (l *RunLock) Acquire(ctx context.Context, botID string, ttl time.Duration) error {
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, runLockKey(botID), token, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: acquire lock %s: %w", botID, err)
	}
	if !ok {
		return domain.ErrLockHeld
	}

	l.mu.Lock()
	l.tokens[botID] = token
	l.mu.Unlock()
	return nil
}

// Release drops the lock if this process still holds it. Releasing a lock
// that expired or was never acquired is a no-op.
func (l *RunLock) Release(ctx context.Context, botID string) error {
	l.mu.Lock()
	token, ok := l.tokens[botID]
	delete(l.tokens, botID)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := l.unlockSc.Run(ctx, l.rdb, []string{runLockKey(botID)}, token).Err(); err != nil {
		return fmt.Errorf("redis: release lock %s: %w", botID, err)
	}
	return nil
}

// Refresh extends a held lock's TTL. Refreshing a lock this process does not
// hold returns domain.ErrLockHeld.
func (l *RunLock) Refresh(ctx context.Context, botID string, ttl time.Duration) error {
	l.mu.Lock()
	token, ok := l.tokens[botID]
	l.mu.Unlock()
	if !ok {
		return domain.ErrLockHeld
	}

	res, err := l.refreshSc.Run(ctx, l.rdb, []string{runLockKey(botID)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", botID, err)
	}
	if res == 0 {
		return domain.ErrLockHeld
	}
	return nil
}

// Compile-time interface check.
var _ domain.RunLock = (*RunLock)(nil)
