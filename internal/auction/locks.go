package auction

import (
	"context"
	"sync"
)

// keyedLocks hands out one exclusive section per key. Entries are reference
// counted and removed once nobody holds or waits for them.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: make(map[string]*slot)}
}

// Lock blocks until the section for key is free or ctx is done. The returned
// func releases the section and is safe to call more than once.
func (k *keyedLocks) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			k.release(key, s)
		})
	}, nil
}

func (k *keyedLocks) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (k *keyedLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
