package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/cart"
)

const cartUpdateAttempts = 10

var errCartBusy = apperr.New(apperr.KindConflict, "cart is being updated, please retry")

// CartStore keeps one JSON document per customer. Updates use optimistic
// WATCH/MULTI so concurrent edits of the same cart never lose a line.
type CartStore struct {
	rdb *redis.Client
}

func NewCartStore(rdb *redis.Client) *CartStore {
	return &CartStore{rdb: rdb}
}

func (s *CartStore) Get(ctx context.Context, customerID string) (cart.Cart, error) {
	return load(ctx, s.rdb, customerID)
}

func (s *CartStore) Update(ctx context.Context, customerID string, fn func(c *cart.Cart) error) (cart.Cart, error) {
	key := fmt.Sprintf(KeyCart, customerID)
	var out cart.Cart
	txf := func(tx *redis.Tx) error {
		c, err := load(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		b, err := json.Marshal(c)
		if err != nil {
			return errors.Wrap(err, "marshal cart")
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, TTLCart)
			return nil
		})
		if err == nil {
			out = c
		}
		return err
	}

	for i := 0; i < cartUpdateAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return cart.Cart{}, err
		}
	}
	return cart.Cart{}, errors.WithStack(errCartBusy)
}

func (s *CartStore) Delete(ctx context.Context, customerID string) error {
	return errors.Wrap(s.rdb.Del(ctx, fmt.Sprintf(KeyCart, customerID)).Err(), "delete cart")
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, rdb getter, customerID string) (cart.Cart, error) {
	b, err := rdb.Get(ctx, fmt.Sprintf(KeyCart, customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cart.Cart{CustomerID: customerID}, nil
	}
	if err != nil {
		return cart.Cart{}, errors.Wrap(err, "load cart")
	}
	var c cart.Cart
	if err := json.Unmarshal(b, &c); err != nil {
		return cart.Cart{}, errors.Wrap(err, "decode cart")
	}
	return c, nil
}
