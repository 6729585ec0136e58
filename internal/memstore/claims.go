package memstore

import (
	"context"
	"sync"
	"time"
)

// Claims is an in-process stand-in for the Redis idempotency claims and the
// sweep lease.
type Claims struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewClaims() *Claims {
	return &Claims{held: map[string]time.Time{}, now: time.Now}
}

func (c *Claims) Claim(_ context.Context, customerID, key string) (bool, error) {
	return c.acquire(idemKey(customerID, key), time.Minute), nil
}

func (c *Claims) Release(_ context.Context, customerID, key string) error {
	c.mu.Lock()
	delete(c.held, idemKey(customerID, key))
	c.mu.Unlock()
	return nil
}

func (c *Claims) acquire(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, ok := c.held[key]; ok && now.Before(exp) {
		return false
	}
	c.held[key] = now.Add(ttl)
	return true
}

// Lease is a single-process sweep lease.
type Lease struct {
	claims *Claims
	name   string
}

func NewLease(name string) *Lease {
	return &Lease{claims: NewClaims(), name: name}
}

func (l *Lease) Acquire(_ context.Context, ttl time.Duration) (bool, error) {
	return l.claims.acquire(l.name, ttl), nil
}

func (l *Lease) Extend(_ context.Context, ttl time.Duration) (bool, error) {
	c := l.claims
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, ok := c.held[l.name]; !ok || !now.Before(exp) {
		return false, nil
	}
	c.held[l.name] = now.Add(ttl)
	return true, nil
}

func (l *Lease) Release(_ context.Context) error {
	l.claims.mu.Lock()
	delete(l.claims.held, l.name)
	l.claims.mu.Unlock()
	return nil
}
