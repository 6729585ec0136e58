package redisx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// only the holder may drop or extend the lease
var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var extendLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Lease is a named lock with a TTL. A holder that dies simply lets it expire.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string

	mu   sync.Mutex
	held bool
}

func NewLease(rdb *redis.Client, name string) *Lease {
	return &Lease{rdb: rdb, key: fmt.Sprintf(KeyLease, name), token: uuid.NewString()}
}

func (l *Lease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "acquire %s", l.key)
	}
	l.mu.Lock()
	l.held = ok
	l.mu.Unlock()
	return ok, nil
}

// Extend pushes the expiry out while the lease is still ours.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := extendLeaseScript.Run(ctx, l.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, errors.Wrapf(err, "extend %s", l.key)
	}
	return n == 1, nil
}

func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	held := l.held
	l.held = false
	l.mu.Unlock()
	if !held {
		return nil
	}
	if err := releaseLeaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return errors.Wrapf(err, "release %s", l.key)
	}
	return nil
}
