// Package spray implements the randomized DeleteMin descent layered on top
// of package skiplist. It is stateless over the skip list's internals: it
// only ever calls the small exported surface skiplist.List and skiplist.Node
// provide (Head, MaxLevelInUse, PeekMin, DeleteNode,
// Node.Forward/Key/Value/IsTail).
//
// Concurrent sprayers land on distinct near-minimum elements with high
// probability because each picks a random horizontal jump at each of O(log p)
// descent steps within a window of width Θ(D·H) = Θ(p log² p); the resulting
// rank bound is statistical, not enforced per call, and is only sampled by
// the test suite (see spray_test.go).
package spray

import (
	"cmp"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	xrand "golang.org/x/exp/rand"

	"github.com/mbrt/spraylist/skiplist"
)

// Params tunes the spray descent.
type Params struct {
	// Base (M) scales the per-level jump width: D = max(1, Base * log2(p)).
	Base int
	// Height (K_h) is added to floor(log2(p)) to pick the starting level H.
	Height int
	// MaxAttempts bounds descent retries before falling back or giving up.
	MaxAttempts int
	// ExactFallbackEnabled, when true, degrades a depleted spray to a
	// linear scan of level 0 for the first unclaimed node instead of
	// returning None.
	ExactFallbackEnabled bool
}

// DefaultParams returns the paper's suggested starting point: base≈32,
// height≈20.
func DefaultParams() Params {
	return Params{Base: 32, Height: 20, MaxAttempts: 8, ExactFallbackEnabled: false}
}

// Validate rejects parameters that cannot produce a sensible descent.
// Invalid parameters are a construction-time failure, never a runtime one.
func (p Params) Validate() error {
	if p.Base < 1 {
		return fmt.Errorf("spray: base must be >= 1, got %d", p.Base)
	}
	if p.Height < 1 {
		return fmt.Errorf("spray: height must be >= 1, got %d", p.Height)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("spray: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	return nil
}

// Spray layers the randomized DeleteMin descent over a *skiplist.List.
type Spray[K cmp.Ordered, V any] struct {
	list       *skiplist.List[K, V]
	params     Params
	numThreads atomic.Int32
	rngs       sync.Pool
	rngSeed    atomic.Int64
}

// New builds a spray layer over list using params, which must already have
// passed Validate.
func New[K cmp.Ordered, V any](list *skiplist.List[K, V], params Params) *Spray[K, V] {
	s := &Spray[K, V]{list: list, params: params}
	s.numThreads.Store(1)
	s.rngs.New = func() any {
		seed := uint64(time.Now().UnixNano()) ^ uint64(s.rngSeed.Add(1))*0x2545F4914F6CDD1D
		return xrand.New(xrand.NewSource(seed))
	}
	return s
}

// SetNumThreads adjusts the estimated concurrent participant count p, which
// governs the spray's starting height H and jump width D. Clamped to >= 1.
// Visible to subsequent DeleteMin calls (release on write, acquire on read).
func (s *Spray[K, V]) SetNumThreads(p int) {
	if p < 1 {
		p = 1
	}
	s.numThreads.Store(int32(p))
}

func (s *Spray[K, V]) numThreadsHint() int {
	return int(s.numThreads.Load())
}

// heightAndWidth derives H and D from p per the spray algorithm's formula:
// H = floor(log2 p) + Height, clamped to [1, MaxLevel-1]; D = max(1, Base *
// log2 p).
func (s *Spray[K, V]) heightAndWidth() (h, d int) {
	p := s.numThreadsHint()
	log2p := math.Log2(float64(p))
	if log2p < 0 {
		log2p = 0
	}

	h = int(math.Floor(log2p)) + s.params.Height
	if h < 1 {
		h = 1
	}
	if h > skiplist.MaxLevel-1 {
		h = skiplist.MaxLevel - 1
	}

	d = int(math.Ceil(float64(s.params.Base) * log2p))
	if d < 1 {
		d = 1
	}
	return h, d
}

func (s *Spray[K, V]) rng() *xrand.Rand {
	return s.rngs.Get().(*xrand.Rand)
}

func (s *Spray[K, V]) putRng(r *xrand.Rand) {
	s.rngs.Put(r)
}

// PeekMin returns the key of the first unmarked node after HEAD at level 0,
// without claiming or deleting it. Delegates straight to the skip list,
// since it only touches the level-0 chain — no descent involved.
func (s *Spray[K, V]) PeekMin() (key K, ok bool) {
	return s.list.PeekMin()
}

// DeleteMin performs the randomized descent and returns an entry that was,
// at some point during the call, present in the structure and whose key
// lies in the low-rank region — or ok=false if the structure appears empty.
func (s *Spray[K, V]) DeleteMin() (key K, value V, ok bool) {
	if _, ok := s.list.PeekMin(); !ok {
		var zero K
		var zv V
		return zero, zv, false
	}

	rng := s.rng()
	defer s.putRng(rng)

	h, d := s.heightAndWidth()
	for attempt := 0; attempt < s.params.MaxAttempts; attempt++ {
		n := s.descend(rng, h, d)
		if n == nil {
			continue // descent never left HEAD; try another descent
		}
		if s.list.DeleteNode(n) {
			return n.Key(), n.Value(), true
		}
		// Already claimed by a concurrent DeleteMin; retry with fresh
		// randomness.
	}

	if s.params.ExactFallbackEnabled {
		if n := s.exactFallback(); n != nil {
			return n.Key(), n.Value(), true
		}
	}

	var zero K
	var zv V
	return zero, zv, false
}

// descend runs one randomized top-down spray: starting from HEAD at level
// h (lowered to the list's highest populated level), repeatedly jump a
// uniformly random distance in [1, d] along the current level and then drop
// one level, until the level goes negative. A jump that reaches TAIL stops
// at the last node before it, and the walk continues one level down from
// there. Returns the landing node, or nil if the cursor never left HEAD
// (every level visited was empty).
func (s *Spray[K, V]) descend(rng *xrand.Rand, h, d int) *skiplist.Node[K, V] {
	maxLevel := s.list.MaxLevelInUse() - 1
	if h > maxLevel {
		h = maxLevel
	}
	if h < 0 {
		return nil
	}

	cursor := s.list.Head()
	for level := h; level >= 0; level-- {
		hops := 1 + rng.Intn(d)
		for i := 0; i < hops; i++ {
			next := cursor.Forward(level)
			if next.IsTail() {
				break
			}
			cursor = next
		}
	}

	if cursor.IsTail() || cursor == s.list.Head() {
		return nil
	}
	return cursor
}

// exactFallback walks level 0 from HEAD, skipping marked nodes, and returns
// the first node whose deleted flag it can claim — degrading to an exact
// DeleteMin when the structure is too depleted for spray to find anything.
func (s *Spray[K, V]) exactFallback() *skiplist.Node[K, V] {
	cursor := s.list.Head().Forward(0)
	for !cursor.IsTail() {
		if s.list.DeleteNode(cursor) {
			return cursor
		}
		cursor = cursor.Forward(0)
	}
	return nil
}
