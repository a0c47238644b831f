package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tessara-labs/payguard/pkg/fault"
)

// redisReleaseScript deletes the lock only when the holder token matches, so
// a slow holder cannot release a lock a later caller re-acquired.
var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements IntentLocker on Redis for multi-node deployments.
// Locks expire after TTL so a crashed holder cannot wedge an intent forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker against the given Redis address.
func NewRedisLocker(addr, password string, db int, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLocker{client: rdb, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, intentID string) (func(), error) {
	key := fmt.Sprintf("payguard:intent_lock:%s", intentID)
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire intent lock: %w", err)
	}
	if !ok {
		return nil, fault.Conflict(intentID)
	}
	release := func() {
		// Best-effort; the TTL reclaims the lock if this fails.
		_ = redisReleaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}
	return release, nil
}
