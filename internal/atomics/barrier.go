package atomics

import (
	"fmt"
	"sync"
)

// Barrier is an N-party reusable rendezvous. Wait blocks until the Nth
// caller arrives; all N then proceed. It is reusable without an explicit
// reset: a generation counter distinguishes one cycle's arrivals from the
// next, so an early arriver for cycle k+1 is never released by cycle k's
// wakeup.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	count      int
	generation uint64
}

// NewBarrier constructs a Barrier for exactly parties participants.
func NewBarrier(parties int) (*Barrier, error) {
	if parties <= 0 {
		return nil, fmt.Errorf("atomics: barrier requires at least one party, got %d", parties)
	}
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b, nil
}

// Wait blocks the calling goroutine until Parties() callers have all called
// Wait in the current generation, then releases all of them together.
func (b *Barrier) Wait() {
	b.mu.Lock()
	gen := b.generation
	b.count++
	if b.count == b.parties {
		// Last arriver: start the next generation and wake everyone waiting
		// on this one. Broadcast happens-before every waiter's wakeup check,
		// so the reset below is visible to all of them.
		b.count = 0
		b.generation++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for gen == b.generation {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// Parties reports the configured party count.
func (b *Barrier) Parties() int {
	return b.parties
}
