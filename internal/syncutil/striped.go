// Package syncutil provides striped per-key locking. Memory stays bounded
// no matter how many distinct keys pass through; keys that hash to the same
// stripe serialize against each other, which is acceptable for our lock
// hold times (a map mutation or a single scoring pass).
package syncutil

import (
	"context"
	"hash/maphash"
	"sync"
)

const defaultStripes = 128

var hashSeed = maphash.MakeSeed()

func stripeFor(key string, n int) int {
	return int(maphash.String(hashSeed, key) % uint64(n))
}

// Striped is a fixed pool of mutexes addressed by string key.
// The zero value is ready to use.
type Striped struct {
	once sync.Once
	mus  []sync.Mutex
}

// Acquire locks the stripe for key and returns its release function.
func (s *Striped) Acquire(key string) (release func()) {
	s.once.Do(func() { s.mus = make([]sync.Mutex, defaultStripes) })
	mu := &s.mus[stripeFor(key, len(s.mus))]
	mu.Lock()
	return mu.Unlock
}

// CtxStriped is a striped lock whose acquisition can be abandoned when the
// caller's context is cancelled. Each stripe is a one-slot semaphore so the
// wait can race against ctx.Done in a select.
type CtxStriped struct {
	sems []chan struct{}
}

// NewCtxStriped returns a context-aware striped lock.
func NewCtxStriped() *CtxStriped {
	c := &CtxStriped{sems: make([]chan struct{}, defaultStripes)}
	for i := range c.sems {
		c.sems[i] = make(chan struct{}, 1)
	}
	return c
}

// Acquire locks the stripe for key, or gives up when ctx is done.
// On success the returned release function must be called exactly once.
func (c *CtxStriped) Acquire(ctx context.Context, key string) (release func(), err error) {
	sem := c.sems[stripeFor(key, len(c.sems))]
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
