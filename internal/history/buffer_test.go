package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_New(t *testing.T) {
	b := New[int](3)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 3, b.Cap())
	assert.Empty(t, b.Snapshot())

	assert.Equal(t, DefaultCapacity, New[int](0).Cap())
	assert.Equal(t, DefaultCapacity, New[int](-5).Cap())
}

func TestBuffer_EvictsOldestFirst(t *testing.T) {
	b := New[int](3)
	b.Push(1, 2)
	assert.Equal(t, []int{1, 2}, b.Snapshot())

	b.Push(3)
	assert.Equal(t, []int{1, 2, 3}, b.Snapshot())

	b.Push(4)
	assert.Equal(t, []int{2, 3, 4}, b.Snapshot())

	b.Push(5, 6, 7, 8)
	assert.Equal(t, []int{6, 7, 8}, b.Snapshot())
	assert.Equal(t, 3, b.Len())
}

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	b := New[int](100)
	for i := 0; i < 10_000; i++ {
		b.Push(i)
		require.LessOrEqual(t, b.Len(), 100)
	}
	snap := b.Snapshot()
	require.Len(t, snap, 100)
	assert.Equal(t, 9900, snap[0])
	assert.Equal(t, 9999, snap[99])
}

func TestBuffer_SnapshotIsACopy(t *testing.T) {
	b := New[int](4)
	b.Push(1, 2, 3)
	snap := b.Snapshot()
	snap[0] = 99
	b.Push(4)
	assert.Equal(t, []int{1, 2, 3, 4}, b.Snapshot())
	assert.Equal(t, []int{99, 2, 3}, snap)
}

func TestBuffer_Last(t *testing.T) {
	b := New[int](5)
	b.Push(1, 2, 3, 4, 5, 6, 7)
	assert.Equal(t, []int{6, 7}, b.Last(2))
	assert.Equal(t, []int{3, 4, 5, 6, 7}, b.Last(50))
	assert.Empty(t, b.Last(0))
	assert.Empty(t, b.Last(-1))
}

func TestBuffer_Clear(t *testing.T) {
	b := New[int](3)
	b.Push(1, 2, 3, 4)
	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Snapshot())

	b.Push(9)
	assert.Equal(t, []int{9}, b.Snapshot())
}

func TestBuffer_ConcurrentReaders(t *testing.T) {
	b := New[int](50)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Push(i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := b.Snapshot()
			for j := 1; j < len(snap); j++ {
				if snap[j] != snap[j-1]+1 {
					t.Errorf("snapshot out of order: %v", snap)
					return
				}
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 50, b.Len())
}
