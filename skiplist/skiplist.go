// Package skiplist implements a lock-free ordered skip list: concurrent
// insert, membership search, and deletion of a specific node, all without
// locks on the fast path.
//
// The algorithm follows Herlihy & Shavit's lock-free skip list (The Art of
// Multiprocessor Programming): each forward pointer is a tagged
// (successor, mark-bit) pair updated by a single compare-and-swap, where the
// mark bit on a node's own slot at level i means that node is logically
// deleted at level i. Deletion marks top-down, level 0 last (the
// linearization point for removal); any traversal that observes a marked
// node helps unlink it before continuing.
//
// Because Go gives no portable way to steal the low bit of a pointer for
// tagging, the (successor, mark) pair is stored as a single immutable
// *markRef behind an atomic.Pointer, swapped wholesale by CompareAndSwap —
// the "separate atomic per slot" alternative the design explicitly allows.
package skiplist

import (
	"cmp"
	"sync"
	"sync/atomic"
	"time"

	xrand "golang.org/x/exp/rand"

	"github.com/mbrt/spraylist/reclaim"
)

// MaxLevel bounds the number of forward pointers any node, including the
// sentinels, may carry.
const MaxLevel = 32

// markRef is the immutable value behind a forward slot's atomic.Pointer.
// Replacing it wholesale via CompareAndSwap gives atomic (pointer, mark)
// updates without pointer tagging.
type markRef[K cmp.Ordered, V any] struct {
	succ   *Node[K, V]
	marked bool
}

// forwardLink is one level's forward slot.
type forwardLink[K cmp.Ordered, V any] struct {
	ptr atomic.Pointer[markRef[K, V]]
}

func (f *forwardLink[K, V]) init(succ *Node[K, V]) {
	f.ptr.Store(&markRef[K, V]{succ: succ})
}

func (f *forwardLink[K, V]) load() (succ *Node[K, V], marked bool) {
	r := f.ptr.Load()
	return r.succ, r.marked
}

// mark flips this slot's mark bit to true, retrying across concurrent
// writers until it succeeds or observes the bit already set. Returns false
// only when the slot was already marked (by this or another goroutine).
func (f *forwardLink[K, V]) mark() bool {
	for {
		cur := f.ptr.Load()
		if cur.marked {
			return false
		}
		if f.ptr.CompareAndSwap(cur, &markRef[K, V]{succ: cur.succ, marked: true}) {
			return true
		}
	}
}

// compareAndSwapSucc attempts to replace an unmarked (oldSucc, false) with
// (newSucc, false). Fails if the slot is marked or the successor changed.
func (f *forwardLink[K, V]) compareAndSwapSucc(oldSucc, newSucc *Node[K, V]) bool {
	cur := f.ptr.Load()
	if cur.marked || cur.succ != oldSucc {
		return false
	}
	return f.ptr.CompareAndSwap(cur, &markRef[K, V]{succ: newSucc})
}

// Node is a skip-list element. Key, Value, and the length of next are fixed
// at construction and never mutated after publication, except that next is
// set to nil once a deleted node's retirement runs (see DeleteNode).
type Node[K cmp.Ordered, V any] struct {
	key      K
	value    V
	topLevel int
	next     []forwardLink[K, V]
	deleted  atomic.Bool
	isHead   bool
	isTail   bool
}

// Key returns the node's key. Undefined for the HEAD/TAIL sentinels.
func (n *Node[K, V]) Key() K { return n.key }

// Value returns the node's value. Undefined for the HEAD/TAIL sentinels.
func (n *Node[K, V]) Value() V { return n.value }

// IsTail reports whether n is the list's TAIL sentinel.
func (n *Node[K, V]) IsTail() bool { return n.isTail }

// Forward returns the next live node at level, skipping (but not
// CAS-helping to unlink) any run of marked nodes. Returns TAIL if the chain
// at this level is exhausted.
func (n *Node[K, V]) Forward(level int) *Node[K, V] {
	succ, _ := n.next[level].load()
	for !succ.isTail {
		// succ's own slot carries its mark: marked means succ is deleted.
		next, marked := succ.next[level].load()
		if !marked {
			return succ
		}
		succ = next
	}
	return succ
}

// newNode builds a regular (non-sentinel) node with topLevel forward slots,
// each pre-initialized to succs[i] following the algorithm's bottom-up
// publication discipline (the node is not yet reachable from anything until
// Insert CASes it into preds[0]).
func newNode[K cmp.Ordered, V any](key K, value V, topLevel int, succs []*Node[K, V]) *Node[K, V] {
	n := &Node[K, V]{key: key, value: value, topLevel: topLevel, next: make([]forwardLink[K, V], topLevel)}
	for i := 0; i < topLevel; i++ {
		n.next[i].init(succs[i])
	}
	return n
}

// List is a lock-free ordered skip list over keys K with payload V.
type List[K cmp.Ordered, V any] struct {
	head          *Node[K, V]
	tail          *Node[K, V]
	maxLevelInUse atomic.Int32
	count         atomic.Int64
	domain        *reclaim.Domain
	rngs          sync.Pool
	rngSeed       atomic.Int64
}

// New returns an empty skip list.
func New[K cmp.Ordered, V any]() *List[K, V] {
	tail := &Node[K, V]{isTail: true, next: make([]forwardLink[K, V], MaxLevel)}
	head := &Node[K, V]{isHead: true, topLevel: MaxLevel, next: make([]forwardLink[K, V], MaxLevel)}
	for i := 0; i < MaxLevel; i++ {
		head.next[i].init(tail)
		// tail's own slots must be initialized too: findPredecessors loads
		// curr.next[level] before checking curr.isTail, and an
		// uninitialized atomic.Pointer holds a nil *markRef.
		tail.next[i].init(tail)
	}
	l := &List[K, V]{head: head, tail: tail, domain: reclaim.NewDomain()}
	l.maxLevelInUse.Store(1)
	l.rngs.New = func() any {
		seed := uint64(time.Now().UnixNano()) ^ uint64(l.rngSeed.Add(1))*0x9E3779B97F4A7C15
		return xrand.New(xrand.NewSource(seed))
	}
	return l
}

// Head returns the sentinel HEAD node, the start of every descent.
func (l *List[K, V]) Head() *Node[K, V] { return l.head }

// MaxLevelInUse returns the current hint for the highest populated level.
func (l *List[K, V]) MaxLevelInUse() int { return int(l.maxLevelInUse.Load()) }

func (l *List[K, V]) bumpMaxLevelInUse(level int) {
	for {
		cur := l.maxLevelInUse.Load()
		if int32(level) <= cur {
			return
		}
		if l.maxLevelInUse.CompareAndSwap(cur, int32(level)) {
			return
		}
	}
}

func (l *List[K, V]) rng() *xrand.Rand {
	return l.rngs.Get().(*xrand.Rand)
}

func (l *List[K, V]) putRng(r *xrand.Rand) {
	l.rngs.Put(r)
}

// randomLevel samples top_level by independent geometric sampling with
// parameter 1/2, truncated at MaxLevel.
func randomLevel(rng *xrand.Rand) int {
	level := 1
	for level < MaxLevel && rng.Float64() < 0.5 {
		level++
	}
	return level
}

// greaterOrEqual reports whether curr's key is >= key, treating TAIL as
// +infinity (curr is never HEAD in this comparison's call sites).
func greaterOrEqual[K cmp.Ordered, V any](curr *Node[K, V], key K) bool {
	return curr.isTail || curr.key >= key
}

// findPredecessors locates, for every level up to MaxLevelInUse, the last
// unmarked node with key < key and its unmarked (or TAIL) successor. Marked
// nodes encountered along the way are opportunistically unlinked (helping).
func (l *List[K, V]) findPredecessors(key K) (preds, succs [MaxLevel]*Node[K, V], found bool) {
	g := l.domain.Pin()
	defer g.Unpin()

retry:
	pred := l.head
	topLevel := l.MaxLevelInUse() - 1

	for level := topLevel; level >= 0; level-- {
		curr, _ := pred.next[level].load()
		for {
			succ, marked := curr.next[level].load()
			for marked {
				if !pred.next[level].compareAndSwapSucc(curr, succ) {
					goto retry
				}
				curr, _ = pred.next[level].load()
				succ, marked = curr.next[level].load()
			}
			if !greaterOrEqual(curr, key) {
				pred = curr
				curr = succ
			} else {
				break
			}
		}
		preds[level] = pred
		succs[level] = curr
	}
	for level := topLevel + 1; level < MaxLevel; level++ {
		preds[level] = l.head
		succs[level] = l.tail
	}

	found = !succs[0].isTail && succs[0].key == key
	return preds, succs, found
}

// Insert publishes (key, value) if key is not already present. Returns
// false, discarding value, if an equal unmarked key exists.
func (l *List[K, V]) Insert(key K, value V) bool {
	rng := l.rng()
	defer l.putRng(rng)
	topLevel := randomLevel(rng)

	for {
		preds, succs, found := l.findPredecessors(key)
		if found {
			return false
		}

		node := newNode(key, value, topLevel, succs[:topLevel])
		if !preds[0].next[0].compareAndSwapSucc(succs[0], node) {
			continue
		}
		// Level 0 published: this is the linearization point for presence.
		l.count.Add(1)

		// Higher levels are stitched opportunistically by CASing each
		// predecessor's slot to point at node; node's own forward slots
		// were fixed once, above, and are never rewritten here — a
		// concurrent deleter may already be marking them, and touching
		// them again would race with that mark.
		for level := 1; level < topLevel; level++ {
			for {
				if node.deleted.Load() {
					break
				}
				preds, succs, _ = l.findPredecessors(key)
				if preds[level].next[level].compareAndSwapSucc(succs[level], node) {
					break
				}
			}
		}
		l.bumpMaxLevelInUse(topLevel)
		return true
	}
}

// Contains reports whether key's level-0 link is currently published and
// unmarked.
func (l *List[K, V]) Contains(key K) bool {
	_, _, found := l.findPredecessors(key)
	return found
}

// DeleteNode logically deletes a specific node: it first claims exclusive
// ownership by CASing n.deleted false -> true (this is the "claim" a caller
// such as the spray layer performs), then marks n's own forward slots
// top-down, level 0 last — the linearization point for removal. Returns
// false if n was already claimed by a concurrent caller, or if n is a
// sentinel.
func (l *List[K, V]) DeleteNode(n *Node[K, V]) bool {
	if n.isHead || n.isTail {
		return false
	}
	if !n.deleted.CompareAndSwap(false, true) {
		return false
	}

	for i := n.topLevel - 1; i >= 0; i-- {
		n.next[i].mark()
	}
	l.count.Add(-1)

	// Help unlink immediately rather than waiting for some future
	// traversal to stumble onto the marked node.
	l.findPredecessors(n.key)

	g := l.domain.Pin()
	l.domain.Retire(func() {
		n.next = nil
	})
	g.Unpin()
	return true
}

// PeekMin returns the key of the first unmarked node after HEAD at level 0,
// without claiming or deleting it. Advisory: it may race with concurrent
// inserts and deletes.
func (l *List[K, V]) PeekMin() (key K, ok bool) {
	n := l.head.Forward(0)
	if n.isTail {
		var zero K
		return zero, false
	}
	return n.key, true
}

// Len returns the approximate size under concurrency, exact once quiescent.
func (l *List[K, V]) Len() int {
	n := int(l.count.Load())
	if n < 0 {
		return 0
	}
	return n
}

// IsEmpty reports whether the list is (approximately, under concurrency)
// empty.
func (l *List[K, V]) IsEmpty() bool {
	return l.head.Forward(0).isTail
}
