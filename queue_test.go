package spraylist

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrt/spraylist/spray"
)

func TestInsertThenDeleteMinSequentialOrdering(t *testing.T) {
	q := New[int, string]()
	for _, k := range []int{5, 1, 4, 2, 3} {
		require.True(t, q.Insert(k, "v"))
	}

	// With a single caller, the spray descent's starting height clamps to
	// the list's own populated height (small here) and the jump width is 1,
	// but the descent still takes one hop on every level it visits, so the
	// keys need not come out in ascending order. Collect all five and
	// assert the multiset matches rather than asserting a strict order per
	// call, matching the relaxed contract.
	var got []int
	for i := 0; i < 5; i++ {
		k, _, ok := q.DeleteMin()
		require.True(t, ok)
		got = append(got, k)
	}
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, got)
	assert.True(t, q.IsEmpty())
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	q := New[string, int]()
	require.True(t, q.Insert("a", 1))
	assert.False(t, q.Insert("a", 2))
	assert.True(t, q.Contains("a"))
}

func TestDeleteMinOnEmptyQueueFails(t *testing.T) {
	q := New[int, int]()
	_, _, ok := q.DeleteMin()
	assert.False(t, ok)
}

func TestDeleteMinDrainsExactlyLenEntries(t *testing.T) {
	q := New[int, int]()
	const n = 200
	for i := 0; i < n; i++ {
		require.True(t, q.Insert(i, i))
	}
	assert.Equal(t, n, q.Len())

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		k, _, ok := q.DeleteMin()
		require.True(t, ok)
		assert.False(t, seen[k], "key %d claimed twice", k)
		seen[k] = true
	}
	assert.True(t, q.IsEmpty())
	assert.Equal(t, n, len(seen))

	_, _, ok := q.DeleteMin()
	assert.False(t, ok)
}

func TestConcurrentInsertAndDeleteMinNoDuplicateOrLostEntries(t *testing.T) {
	q := New[int, int]()
	const n = 2000
	const workers = 8
	q.SetNumThreads(workers)

	var wg sync.WaitGroup
	perWorker := n / workers
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				q.Insert(w*perWorker+i, w)
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, n, q.Len())

	results := make(chan int, n)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				k, _, ok := q.DeleteMin()
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
	assert.True(t, q.IsEmpty())
}

func TestDeleteMinFallsBackOnDepletedSpray(t *testing.T) {
	params := spray.DefaultParams()
	params.ExactFallbackEnabled = true
	q, err := WithParams[int, int](params)
	require.NoError(t, err)

	require.True(t, q.Insert(42, 1))
	// A single key against a wide spray window (as if diffusing across
	// many threads), with the exact fallback enabled, must be found and
	// claimed; a jump never moves past the last node, so the descent
	// itself lands on the key here.
	q.SetNumThreads(64)

	k, v, ok := q.DeleteMin()
	require.True(t, ok)
	assert.Equal(t, 42, k)
	assert.Equal(t, 1, v)
	assert.True(t, q.IsEmpty())
}

func TestWithParamsRejectsInvalidParams(t *testing.T) {
	params := spray.DefaultParams()
	params.Base = 0
	_, err := WithParams[int, int](params)
	assert.Error(t, err)
}

func TestWithParamsAcceptsCustomValidParams(t *testing.T) {
	q, err := WithParams[int, int](spray.Params{Base: 16, Height: 10, MaxAttempts: 8})
	require.NoError(t, err)
	require.True(t, q.Insert(1, 1))
	k, _, ok := q.DeleteMin()
	require.True(t, ok)
	assert.Equal(t, 1, k)
}
