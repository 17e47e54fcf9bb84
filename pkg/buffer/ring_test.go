package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopOrder(t *testing.T) {
	r := NewRing[int](4)

	for i := 1; i <= 3; i++ {
		require.NoError(t, r.Push(i))
	}

	for want := 1; want <= 3; want++ {
		got, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestDropOldestEvicts(t *testing.T) {
	var droppedMu sync.Mutex
	var dropped []int

	r := NewRing[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) {
			droppedMu.Lock()
			dropped = append(dropped, item)
			droppedMu.Unlock()
		}))

	require.NoError(t, r.Push(1))
	require.NoError(t, r.Push(2))
	require.NoError(t, r.Push(3))

	assert.Equal(t, []int{2, 3}, r.Snapshot())
	droppedMu.Lock()
	assert.Equal(t, []int{1}, dropped)
	droppedMu.Unlock()
	assert.Equal(t, int64(1), r.Stats().Get().Drops)
}

func TestDropNewestDiscards(t *testing.T) {
	r := NewRing[int](2, WithOverflowPolicy[int](DropNewest))

	require.NoError(t, r.Push(1))
	require.NoError(t, r.Push(2))
	require.NoError(t, r.Push(3))

	assert.Equal(t, []int{1, 2}, r.Snapshot())
	assert.Equal(t, int64(1), r.Stats().Get().Drops)
}

func TestBlockPolicyWaitsForSpace(t *testing.T) {
	r := NewRing[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, r.Push(1))

	done := make(chan error, 1)
	go func() {
		done <- r.Push(2)
	}()

	select {
	case <-done:
		t.Fatal("push should have blocked on a full ring")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := r.Pop()
	require.True(t, ok)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked push never completed")
	}
}

func TestCloseReleasesBlockedPusher(t *testing.T) {
	r := NewRing[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, r.Push(1))

	done := make(chan error, 1)
	go func() {
		done <- r.Push(2)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked push never released")
	}

	// Buffered items stay readable after close
	got, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, got)

	assert.Error(t, r.Push(3))
	assert.NoError(t, r.Close())
}

func TestSnapshotDoesNotConsume(t *testing.T) {
	r := NewRing[string](4)
	require.NoError(t, r.Push("a"))
	require.NoError(t, r.Push("b"))

	assert.Equal(t, []string{"a", "b"}, r.Snapshot())
	assert.Equal(t, 2, r.Size())
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())
}

func TestSnapshotWrapsAround(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, r.Push(i))
	}
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())
}

func TestClear(t *testing.T) {
	r := NewRing[int](3)
	require.NoError(t, r.Push(1))
	require.NoError(t, r.Push(2))

	r.Clear()
	assert.Equal(t, 0, r.Size())
	_, ok := r.Peek()
	assert.False(t, ok)

	require.NoError(t, r.Push(9))
	assert.Equal(t, []int{9}, r.Snapshot())
}

func TestStatsHighWaterMark(t *testing.T) {
	r := NewRing[int](10)
	for i := 0; i < 7; i++ {
		require.NoError(t, r.Push(i))
	}
	for i := 0; i < 5; i++ {
		_, _ = r.Pop()
	}

	snap := r.Stats().Get()
	assert.Equal(t, int64(7), snap.Pushes)
	assert.Equal(t, int64(5), snap.Pops)
	assert.Equal(t, int64(2), snap.Size)
	assert.Equal(t, int64(7), snap.MaxSize)
}

func TestConcurrentPushPop(t *testing.T) {
	r := NewRing[int](64)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = r.Push(i)
			}
		}()
	}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r.Pop()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Size(), 64)
}
