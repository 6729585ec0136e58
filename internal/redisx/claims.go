package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Claims marks a create-order request as in flight so a concurrent duplicate
// is turned away before it reserves stock.
type Claims struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewClaims(rdb *redis.Client, ttl time.Duration) *Claims {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &Claims{rdb: rdb, ttl: ttl}
}

func (c *Claims) Claim(ctx context.Context, customerID, key string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf(KeyIdemOrderCreate, customerID, key), 1, c.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "claim idempotency key")
	}
	return ok, nil
}

func (c *Claims) Release(ctx context.Context, customerID, key string) error {
	return errors.Wrap(c.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, customerID, key)).Err(), "release idempotency key")
}

// Dedup remembers handled ids for one consumer.
type Dedup struct {
	rdb     *redis.Client
	service string
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.rdb, fmt.Sprintf(KeyDedup, d.service, id))
}

func (d *Dedup) Mark(ctx context.Context, id string) error {
	return d.rdb.Set(ctx, fmt.Sprintf(KeyDedup, d.service, id), "1", TTLDedup).Err()
}
