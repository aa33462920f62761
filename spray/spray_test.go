package spray

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrt/spraylist/skiplist"
)

func TestValidateRejectsBadParams(t *testing.T) {
	cases := []Params{
		{Base: 0, Height: 20, MaxAttempts: 8},
		{Base: 32, Height: 0, MaxAttempts: 8},
		{Base: 32, Height: 20, MaxAttempts: 0},
	}
	for _, p := range cases {
		assert.Error(t, p.Validate())
	}
}

func TestValidateAcceptsDefaultAndCustomParams(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())
	assert.NoError(t, Params{Base: 16, Height: 10, MaxAttempts: 8}.Validate())
}

func TestDeleteMinOnEmptyListFails(t *testing.T) {
	l := skiplist.New[int, int]()
	s := New(l, DefaultParams())
	_, _, ok := s.DeleteMin()
	assert.False(t, ok)
}

func TestDeleteMinDrainsEverySingleEntry(t *testing.T) {
	l := skiplist.New[int, int]()
	const n = 500
	for i := 0; i < n; i++ {
		require.True(t, l.Insert(i, i))
	}
	s := New(l, DefaultParams())

	seen := make(map[int]bool)
	for {
		k, _, ok := s.DeleteMin()
		if !ok {
			break
		}
		assert.False(t, seen[k])
		seen[k] = true
	}
	assert.Equal(t, n, len(seen))
	assert.True(t, l.IsEmpty())
}

// TestSingleThreadCollapsesTowardExactMinimum exercises the boundary case
// num_threads=1: with a small Height/Base pair the spray's starting level
// and jump width shrink with it, so the descent should land within a few
// ranks of the true minimum most of the time (it takes at least one hop per
// level, so it does not land on the minimum itself). A large Height dominates the
// p-dependent term regardless of p, so this deliberately uses small
// tuning constants rather than DefaultParams() to demonstrate the
// collapse toward an exact minimum that a single thread should see.
func TestSingleThreadCollapsesTowardExactMinimum(t *testing.T) {
	const n = 200
	const trials = 100
	const rankTolerance = 5

	hits := 0
	for trial := 0; trial < trials; trial++ {
		l := skiplist.New[int, int]()
		for i := 0; i < n; i++ {
			l.Insert(i, i)
		}
		s := New(l, Params{Base: 2, Height: 1, MaxAttempts: 8})
		s.SetNumThreads(1)

		k, _, ok := s.DeleteMin()
		require.True(t, ok)
		if k < rankTolerance {
			hits++
		}
	}
	assert.True(t, hits > trials/2, "expected most single-threaded deletes near rank 0, got %d/%d within rank %d", hits, trials, rankTolerance)
}

// TestExactFallbackRecoversDepletedSpray covers the depletion scenario:
// a single key against a spray window sized for many threads, with the
// exact fallback enabled. The key must be found; since a jump never moves
// past the last node, the descent itself lands on the single key here.
func TestExactFallbackRecoversDepletedSpray(t *testing.T) {
	l := skiplist.New[int, int]()
	require.True(t, l.Insert(42, 1))

	params := DefaultParams()
	params.ExactFallbackEnabled = true
	s := New(l, params)
	s.SetNumThreads(64)

	k, v, ok := s.DeleteMin()
	require.True(t, ok)
	assert.Equal(t, 42, k)
	assert.Equal(t, 1, v)
}

func TestWithoutExactFallbackDepletedSprayMayReportEmpty(t *testing.T) {
	l := skiplist.New[int, int]()
	require.True(t, l.Insert(42, 1))

	s := New(l, DefaultParams())
	s.SetNumThreads(64)

	// Either outcome is valid without the fallback: the key is claimed, or
	// every attempt missed and DeleteMin reports false. This test asserts
	// no particular outcome; it only confirms the call returns without
	// panicking.
	_, _, _ = s.DeleteMin()
}

func TestConcurrentDeleteMinNoDuplicateClaims(t *testing.T) {
	l := skiplist.New[int, int]()
	const n = 2000
	for i := 0; i < n; i++ {
		l.Insert(i, i)
	}
	s := New(l, DefaultParams())
	s.SetNumThreads(8)

	results := make(chan int, n)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				k, _, ok := s.DeleteMin()
				if !ok {
					return
				}
				results <- k
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for k := range results {
		assert.False(t, seen[k], "key %d claimed twice", k)
		seen[k] = true
	}
	assert.Equal(t, n, len(seen))
}

func TestSetNumThreadsClampsBelowOne(t *testing.T) {
	l := skiplist.New[int, int]()
	s := New(l, DefaultParams())
	s.SetNumThreads(0)
	assert.Equal(t, 1, s.numThreadsHint())
	s.SetNumThreads(-5)
	assert.Equal(t, 1, s.numThreadsHint())
}

func TestHeightAndWidthGrowWithThreadCount(t *testing.T) {
	l := skiplist.New[int, int]()
	s := New(l, DefaultParams())

	s.SetNumThreads(1)
	h1, d1 := s.heightAndWidth()

	s.SetNumThreads(1024)
	h2, d2 := s.heightAndWidth()

	assert.True(t, h2 >= h1)
	assert.True(t, d2 > d1)
}
