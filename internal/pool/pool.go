// SPDX-License-Identifier: MIT

// Package pool implements the hierarchical concurrency budget: two global
// weighted semaphores (fast HTTP and headless browser slots) and a per-request
// fair share over them. Plugin invocations acquire through their request's
// Budget, never directly from the global pool, so one busy request cannot
// starve the others.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/scrapecast/scrapecast/internal/metrics"
)

// Kind selects which slot class an acquisition draws from.
type Kind int

const (
	Fast Kind = iota
	Headless
)

func (k Kind) String() string {
	if k == Headless {
		return "headless"
	}
	return "fast"
}

// Pool owns the global slots and the active-request count.
type Pool struct {
	fastSlots     int
	headlessSlots int
	fast          *semaphore.Weighted
	headless      *semaphore.Weighted

	// mu guards active and every budget's held counters; cond wakes
	// budget waiters when shares may have grown.
	mu     sync.Mutex
	cond   *sync.Cond
	active int
	inUse  [2]int
}

// New creates a pool with the given global slot counts.
func New(fastSlots, headlessSlots int) *Pool {
	if fastSlots < 1 {
		fastSlots = 1
	}
	if headlessSlots < 1 {
		headlessSlots = 1
	}
	p := &Pool{
		fastSlots:     fastSlots,
		headlessSlots: headlessSlots,
		fast:          semaphore.NewWeighted(int64(fastSlots)),
		headless:      semaphore.NewWeighted(int64(headlessSlots)),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Register enrols a new top-level request and returns its budget. The caller
// must call Budget.Close when the request finishes.
func (p *Pool) Register() *Budget {
	p.mu.Lock()
	p.active++
	metrics.SetActiveRequests(p.active)
	p.mu.Unlock()
	return &Budget{pool: p}
}

// Active reports the number of registered requests.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Slots reports the configured global slot count for a kind.
func (p *Pool) Slots(kind Kind) int {
	if kind == Headless {
		return p.headlessSlots
	}
	return p.fastSlots
}

// InUse reports currently held global slots for a kind.
func (p *Pool) InUse(kind Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse[kind]
}

func (p *Pool) sem(kind Kind) *semaphore.Weighted {
	if kind == Headless {
		return p.headless
	}
	return p.fast
}

// fairShare is computed against the live active count, so surviving requests
// observe a larger share as soon as a neighbour finishes. Caller holds p.mu.
func (p *Pool) fairShare(kind Kind) int {
	share := p.Slots(kind) / max(1, p.active)
	if share < 1 {
		share = 1
	}
	return share
}

// Budget is one request's slice of the pool.
type Budget struct {
	pool   *Pool
	held   [2]int
	closed bool
}

// Acquire blocks until the request is below its fair share and a global slot
// is free, or ctx is cancelled. The returned release function is safe to call
// exactly once on every exit path.
func (b *Budget) Acquire(ctx context.Context, kind Kind) (func(), error) {
	p := b.pool

	// Wake our waiter when the context dies so the cond loop can observe it.
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	for !b.closed && b.held[kind] >= p.fairShare(kind) {
		if ctx.Err() != nil {
			p.mu.Unlock()
			return nil, ctx.Err()
		}
		p.cond.Wait()
	}
	if b.closed || ctx.Err() != nil {
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		p.mu.Unlock()
		return nil, err
	}
	b.held[kind]++
	p.mu.Unlock()

	if err := p.sem(kind).Acquire(ctx, 1); err != nil {
		p.mu.Lock()
		b.held[kind]--
		p.cond.Broadcast()
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.inUse[kind]++
	metrics.SetPoolSlotsInUse(kind.String(), p.inUse[kind])
	p.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			p.sem(kind).Release(1)
			p.mu.Lock()
			b.held[kind]--
			p.inUse[kind]--
			metrics.SetPoolSlotsInUse(kind.String(), p.inUse[kind])
			p.cond.Broadcast()
			p.mu.Unlock()
		})
	}
	return release, nil
}

// FairShare reports the budget's current share for a kind.
func (b *Budget) FairShare(kind Kind) int {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	return b.pool.fairShare(kind)
}

// Close deregisters the request. Outstanding releases remain valid.
func (b *Budget) Close() {
	p := b.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	p.active--
	metrics.SetActiveRequests(p.active)
	p.cond.Broadcast()
}
