// Package reclaim provides a small epoch-based safe-reclamation domain.
//
// Go's garbage collector already guarantees that a referenced object is
// never freed out from under a goroutine holding a pointer to it. What it
// does not give a lock-free structure is a policy for when a logically
// deleted node has stopped being reachable from any in-flight traversal, so
// that the structure can drop its own last references (and so retired work
// does not pile up without bound). Domain supplies that policy: pin before a
// traversal, retire a cleanup when a node is fully unlinked, and the
// cleanup runs once every goroutine pinned at retirement time has unpinned.
//
// Nothing here ever blocks on a mutex. Guards live in a Treiber-stack list
// of slots (prepended via CompareAndSwap, the same pattern as a lock-free
// queue's node-linking) and are reused across Pin/Unpin calls via a pool, so
// pinning/unpinning is a single atomic store to a slot's own epoch field.
// Pending retirements live in a second Treiber stack: reclaiming pops the
// whole chain with one CAS, partitions it locally, and pushes back whatever
// isn't ready yet.
package reclaim

import (
	"sync"
	"sync/atomic"
)

// Domain tracks pinned guards against a monotonic epoch counter.
type Domain struct {
	epoch   atomic.Uint64
	guards  atomic.Pointer[Guard]      // head of a Treiber-stack list of all slots ever allocated
	pending atomic.Pointer[retirement] // head of a Treiber-stack list of cleanups awaiting a safe epoch
	slots   sync.Pool
}

type retirement struct {
	epoch uint64
	clean func()
	next  *retirement
}

// Guard is one slot in the domain's registry, reused across Pin/Unpin calls
// via a pool. A slot's epoch field is 0 when unpinned; otherwise it holds
// one more than the epoch snapshot taken at Pin time (the +1 offset keeps
// "unpinned" distinguishable from a legitimate pin snapshot of epoch 0).
type Guard struct {
	domain *Domain
	next   *Guard
	epoch  atomic.Uint64
}

// NewDomain returns an empty reclamation domain.
func NewDomain() *Domain {
	d := &Domain{}
	d.slots.New = func() any {
		g := &Guard{domain: d}
		for {
			head := d.guards.Load()
			g.next = head
			if d.guards.CompareAndSwap(head, g) {
				break
			}
		}
		return g
	}
	return d
}

// Pin records the domain's current epoch as observed by the caller and
// returns a Guard the caller must Unpin when done traversing. Lock-free:
// a pooled slot's epoch field is set with a single atomic store.
func (d *Domain) Pin() *Guard {
	g := d.slots.Get().(*Guard)
	g.epoch.Store(d.epoch.Load() + 1)
	return g
}

// Unpin releases the guard, potentially unblocking pending retirements.
// Lock-free: clearing the slot is a single store, and the reclaim pass
// below never takes a mutex.
func (g *Guard) Unpin() {
	d := g.domain
	g.epoch.Store(0)
	d.slots.Put(g)
	d.tryReclaim()
}

// Retire advances the epoch and queues clean to run once every guard pinned
// at the moment of the call has unpinned. clean should drop the retired
// node's remaining internal references (e.g. nil out its forward slice) so
// the GC can collect it; it must not block.
func (d *Domain) Retire(clean func()) {
	e := d.epoch.Add(1)
	r := &retirement{epoch: e, clean: clean}
	for {
		head := d.pending.Load()
		r.next = head
		if d.pending.CompareAndSwap(head, r) {
			break
		}
	}
	d.tryReclaim()
}

// tryReclaim runs any pending cleanup whose retirement epoch precedes every
// currently pinned guard's observed epoch. It pops the entire pending chain
// with a single CAS, walks the popped copy in local memory, and pushes
// anything not yet ready back onto the live chain — no mutex, no blocking.
func (d *Domain) tryReclaim() {
	minPinned := ^uint64(0)
	for g := d.guards.Load(); g != nil; g = g.next {
		if e := g.epoch.Load(); e != 0 && e-1 < minPinned {
			minPinned = e - 1
		}
	}

	var chain *retirement
	for {
		head := d.pending.Load()
		if head == nil {
			return
		}
		if d.pending.CompareAndSwap(head, nil) {
			chain = head
			break
		}
	}

	var ready []func()
	for r := chain; r != nil; {
		next := r.next
		if r.epoch <= minPinned {
			ready = append(ready, r.clean)
		} else {
			for {
				head := d.pending.Load()
				r.next = head
				if d.pending.CompareAndSwap(head, r) {
					break
				}
			}
		}
		r = next
	}

	for _, clean := range ready {
		clean()
	}
}

// Pending reports the number of retirements still awaiting a safe epoch.
// Advisory; intended for tests and diagnostics.
func (d *Domain) Pending() int {
	n := 0
	for r := d.pending.Load(); r != nil; r = r.next {
		n++
	}
	return n
}
