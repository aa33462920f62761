// Package spraylist is a relaxed concurrent priority queue: a lock-free
// ordered skip list (package skiplist) with a randomized spray descent
// (package spray) layered on top of DeleteMin to cut contention on the
// true minimum under many concurrent consumers.
//
// Queue is a thin façade translating priority-queue operations onto the
// two layers.
package spraylist

import (
	"cmp"
	"fmt"

	"github.com/mbrt/spraylist/config"
	"github.com/mbrt/spraylist/skiplist"
	"github.com/mbrt/spraylist/spray"
)

// Queue is a relaxed priority queue keyed by K with payload V. The zero
// value is not usable; construct with New or WithParams.
type Queue[K cmp.Ordered, V any] struct {
	list  *skiplist.List[K, V]
	spray *spray.Spray[K, V]
}

// New returns an empty Queue using spray.DefaultParams().
func New[K cmp.Ordered, V any]() *Queue[K, V] {
	q, err := WithParams[K, V](spray.DefaultParams())
	if err != nil {
		// DefaultParams always passes Validate; a failure here would be a
		// programming error in this package, not a caller mistake.
		panic(fmt.Sprintf("spraylist: default params failed to validate: %v", err))
	}
	return q
}

// WithParams returns an empty Queue using the given spray parameters,
// which must pass config.Validate.
func WithParams[K cmp.Ordered, V any](params spray.Params) (*Queue[K, V], error) {
	if err := config.Validate(params); err != nil {
		return nil, fmt.Errorf("spraylist: %w", err)
	}
	list := skiplist.New[K, V]()
	return &Queue[K, V]{list: list, spray: spray.New(list, params)}, nil
}

// SetNumThreads tells the queue how many goroutines are expected to call
// DeleteMin concurrently, so the spray descent can pick a starting height
// and jump width commensurate with the contention it must diffuse.
// Clamped to >= 1.
func (q *Queue[K, V]) SetNumThreads(n int) {
	q.spray.SetNumThreads(n)
}

// Insert adds key with the given value. Returns false, discarding value,
// if key is already present.
func (q *Queue[K, V]) Insert(key K, value V) bool {
	return q.list.Insert(key, value)
}

// Contains reports whether key is currently present.
func (q *Queue[K, V]) Contains(key K) bool {
	return q.list.Contains(key)
}

// DeleteMin removes and returns an entry whose key is, with high
// probability, among the lowest-ranked keys currently present — not
// necessarily the absolute minimum. Returns ok=false if the queue
// appeared empty or every spray attempt (and, if enabled, the exact
// fallback) failed to claim a node.
func (q *Queue[K, V]) DeleteMin() (key K, value V, ok bool) {
	return q.spray.DeleteMin()
}

// PeekMin returns the key of the current level-0 minimum without
// claiming it. Advisory: it may race with concurrent inserts and
// deletes, and the key it reports need not be the one a subsequent
// DeleteMin returns.
func (q *Queue[K, V]) PeekMin() (key K, ok bool) {
	return q.list.PeekMin()
}

// Len returns the approximate size under concurrency, exact once
// quiescent.
func (q *Queue[K, V]) Len() int {
	return q.list.Len()
}

// IsEmpty reports whether the queue is (approximately, under
// concurrency) empty.
func (q *Queue[K, V]) IsEmpty() bool {
	return q.list.IsEmpty()
}
