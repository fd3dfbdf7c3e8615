package connection

import (
	"container/list"
	"context"
	"sync"
)

// PacketIDPool allocates 16-bit MQTT packet identifiers. It tracks the lowest
// unused id the way session.Session.NextPacketID does, but adds a cancellable
// waiting acquire for callers that want to block until one frees up instead
// of failing immediately when the pool is exhausted.
type PacketIDPool struct {
	mu      sync.Mutex
	inUse   map[uint16]struct{}
	cursor  uint16
	waiters *list.List // of *idWaiter
}

type idWaiter struct {
	ch        chan uint16
	cancelled bool
}

// NewPacketIDPool creates an empty pool. Packet id 0 is never issued.
func NewPacketIDPool() *PacketIDPool {
	return &PacketIDPool{
		inUse:   make(map[uint16]struct{}),
		cursor:  0,
		waiters: list.New(),
	}
}

// Acquire returns the lowest free id, or ok=false if the pool is exhausted.
func (p *PacketIDPool) Acquire() (id uint16, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked()
}

func (p *PacketIDPool) acquireLocked() (uint16, bool) {
	if len(p.inUse) >= 65535 {
		return 0, false
	}

	for id := uint16(1); id != 0; id++ {
		if _, taken := p.inUse[id]; !taken {
			p.inUse[id] = struct{}{}
			return id, true
		}
	}
	return 0, false
}

// AcquireWait returns an id, blocking until one is available or ctx is done.
// Waiters are served in FIFO order as ids are released.
func (p *PacketIDPool) AcquireWait(ctx context.Context) (uint16, error) {
	p.mu.Lock()
	if id, ok := p.acquireLocked(); ok {
		p.mu.Unlock()
		return id, nil
	}

	w := &idWaiter{ch: make(chan uint16, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case id := <-w.ch:
		return id, nil
	case <-ctx.Done():
		p.mu.Lock()
		if !w.cancelled {
			p.waiters.Remove(elem)
		}
		p.mu.Unlock()
		select {
		case id := <-w.ch:
			// Woken just as we cancelled; honor the grant rather than drop it.
			return id, nil
		default:
		}
		return 0, ctx.Err()
	}
}

// Register reserves a specific id (used when restoring a session's
// previously-stored packets). Returns false if the id is already in use.
func (p *PacketIDPool) Register(id uint16) bool {
	if id == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.inUse[id]; taken {
		return false
	}
	p.inUse[id] = struct{}{}
	return true
}

// Release returns an id to the pool and wakes the oldest waiter, if any.
// Releasing an id that is not in use is a no-op.
func (p *PacketIDPool) Release(id uint16) {
	p.mu.Lock()
	if _, ok := p.inUse[id]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inUse, id)

	for {
		front := p.waiters.Front()
		if front == nil {
			break
		}
		p.waiters.Remove(front)
		w := front.Value.(*idWaiter)
		if w.cancelled {
			continue
		}
		p.inUse[id] = struct{}{}
		w.ch <- id
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
}

// InUse reports whether an id is currently allocated.
func (p *PacketIDPool) InUse(id uint16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inUse[id]
	return ok
}

// Count returns the number of ids currently allocated.
func (p *PacketIDPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// Reset clears the pool, dropping any queued waiters without notifying them.
// Used on a clean-start reconnect where the previous session's in-flight ids
// no longer mean anything.
func (p *PacketIDPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse = make(map[uint16]struct{})
	p.cursor = 0
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(*idWaiter).cancelled = true
	}
	p.waiters.Init()
}
