// Package lock provides the short-lived distributed lock that guards reconciliation of one transaction.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can block retries.
const DefaultTTL = 30 * time.Second

// TransactionKey is the lock key for a provider transaction id.
func TransactionKey(id string) string {
	return "txn:" + id
}

// release only if the caller still owns the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements SET NX PX locks shared by every process talking to the same Redis.
type RedisLocker struct {
	rdb redis.UniversalClient
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

// TryAcquire returns ok=false without error when another holder is active. The token must be
// passed to Release.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token, err = newToken()
	if err != nil {
		return "", false, err
	}

	ok, err = l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the key if token still owns it. A lock that already expired is not an error.
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
