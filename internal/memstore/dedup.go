package memstore

import (
	"context"
	"sync"
)

type Dedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewDedup() *Dedup { return &Dedup{seen: map[string]bool{}} }

func (d *Dedup) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[key], nil
}

func (d *Dedup) Mark(_ context.Context, key string) error {
	d.mu.Lock()
	d.seen[key] = true
	d.mu.Unlock()
	return nil
}
