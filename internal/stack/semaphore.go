package stack

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"firestige.xyz/netcore/internal/core"
)

// Semaphore is the coarse lock around the socket table, the control blocks,
// the routing tables and the ARP cache. Obtain blocks until the lock is held.
type Semaphore interface {
	Obtain()
	Release() error
}

type binarySemaphore struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

// NewSemaphore returns a binary semaphore. Releasing it while it is not held
// fails with core.ErrSemaphoreNotHeld instead of panicking.
func NewSemaphore() Semaphore {
	return &binarySemaphore{sem: semaphore.NewWeighted(1)}
}

func (b *binarySemaphore) Obtain() {
	// cannot fail without a deadline
	_ = b.sem.Acquire(context.Background(), 1)
	b.held.Store(true)
}

func (b *binarySemaphore) Release() error {
	if !b.held.CompareAndSwap(true, false) {
		return core.ErrSemaphoreNotHeld
	}
	b.sem.Release(1)
	return nil
}
