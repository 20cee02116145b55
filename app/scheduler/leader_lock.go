package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LeaderLock elects the single instance allowed to admit records
type LeaderLock interface {
	// Acquire takes the lock or extends it when already held; it reports whether this instance leads
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this instance holds it
	Release(ctx context.Context) error
}

var (
	refreshLeaderScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseLeaderScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLeaderLock is a SET NX PX lock owned by one engine instance
type RedisLeaderLock struct {
	client redis.UniversalClient
	key    string
	owner  string
	ttl    time.Duration
}

func NewRedisLeaderLock(client redis.UniversalClient, key, owner string, ttl time.Duration) (*RedisLeaderLock, error) {
	if client == nil {
		return nil, errors.New("leader lock: redis client is required")
	}
	if key == "" || owner == "" {
		return nil, errors.New("leader lock: key and owner are required")
	}
	if ttl <= 0 {
		return nil, errors.New("leader lock: ttl must be positive")
	}
	return &RedisLeaderLock{client: client, key: key, owner: owner, ttl: ttl}, nil
}

func (l *RedisLeaderLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("leader lock: acquire %s: %w", l.key, err)
	}
	if ok {
		return true, nil
	}
	n, err := refreshLeaderScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("leader lock: refresh %s: %w", l.key, err)
	}
	return n == 1, nil
}

func (l *RedisLeaderLock) Release(ctx context.Context) error {
	if err := releaseLeaderScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("leader lock: release %s: %w", l.key, err)
	}
	return nil
}

// Owner returns the instance id stored in the lock
func (l *RedisLeaderLock) Owner() string {
	return l.owner
}
