package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

// OrderCache serves GET /orders/{id}. Every status or payment change
// invalidates the entry.
type OrderCache struct {
	rdb *redis.Client
}

func NewOrderCache(rdb *redis.Client) *OrderCache {
	return &OrderCache{rdb: rdb}
}

func (c *OrderCache) Get(ctx context.Context, orderID string) (orders.Order, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderCache, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return orders.Order{}, false, errors.Wrap(err, "decode cached order")
	}
	return o, true, nil
}

func (c *OrderCache) Set(ctx context.Context, o orders.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return errors.Wrap(err, "encode order")
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderCache, o.ID), b, TTLOrderCache).Err()
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderCache, orderID)).Err()
}
