package zgc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestConcurrentMutatorsAllocateDistinctHandles covers scenario 5: many
// mutators allocating concurrently never hand out the same Handle identity
// or corrupt each other's bump allocation.
func TestConcurrentMutatorsAllocateDistinctHandles(t *testing.T) {
	h := newTestHeap()
	const goroutines = 10
	const perGoroutine = 500

	var wg sync.WaitGroup
	ids := make(chan uint64, goroutines*perGoroutine)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := h.NewMutator()
			defer m.Close()
			for i := 0; i < perGoroutine; i++ {
				handle, err := m.NewHandle(1)
				require.NoError(t, err)
				ids <- handle.ID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]struct{}, goroutines*perGoroutine)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate handle id %d", id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, goroutines*perGoroutine)
}

// TestConcurrentLoadStoreDuringGC exercises load/store barriers racing a
// background collector, covering scenario 5's second half.
func TestConcurrentLoadStoreDuringGC(t *testing.T) {
	h := newTestHeap()
	h.StartGC()
	defer h.StopGC()

	m := h.NewMutator()
	defer m.Close()

	root, err := m.NewHandle(4)
	require.NoError(t, err)
	h.AddRoot(root)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := h.NewMutator()
			defer worker.Close()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ref := &countingForeign{}
				if err := worker.Store(root, 0, ForeignValue(ref)); err != nil {
					return
				}
				if _, err := worker.Load(root, 0); err != nil {
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		h.MinorGC()
	}
	close(stop)
	wg.Wait()
}
