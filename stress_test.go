package zgc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

// TestStressAllocateLinkCollect covers scenario 6: many rounds of
// allocation, linking objects into small graphs and root churn, interleaved
// with GC cycles, verifying the heap never panics and every handle that was
// ever registered as a root still resolves to a page at the end.
func TestStressAllocateLinkCollect(t *testing.T) {
	h := newTestHeap()
	h.StartGC()
	defer h.StopGC()

	const rounds = 20
	const perRound = 200

	m := h.NewMutator()
	defer m.Close()

	rng := rand.New(rand.NewSource(1))

	var roots []*Handle
	for round := 0; round < rounds; round++ {
		var prev *Handle
		for i := 0; i < perRound; i++ {
			handle, err := m.NewHandle(1 + int(rng.Intn(4)))
			require.NoError(t, err)
			if prev != nil {
				require.NoError(t, m.Store(handle, 0, HandleValue(prev)))
			}
			prev = handle
		}
		h.AddRoot(prev)
		roots = append(roots, prev)

		if round%3 == 0 {
			h.MinorGC()
		}
		if round%5 == 0 {
			h.MajorGC()
		}

		// Drop every other earlier root so some chains become garbage.
		if len(roots) > 2 && round%2 == 0 {
			dropped := roots[len(roots)-2]
			h.RemoveRoot(dropped)
		}
	}

	h.MajorGC()

	for _, r := range roots {
		fixed := h.healHandle(r)
		_ = h.resolvePage(fixed.pageID()) // must not be nil/panic
	}
}

// TestStressConcurrentMutatorsWithGC hammers allocation and the load/store
// barriers from several goroutines while a background collector is running,
// checking nothing deadlocks or panics across many cycles.
func TestStressConcurrentMutatorsWithGC(t *testing.T) {
	h := newTestHeap()
	h.StartGC()
	defer h.StopGC()

	anchor, err := h.NewMutator().NewHandle(1)
	require.NoError(t, err)
	h.AddRoot(anchor)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := h.NewMutator()
			defer m.Close()
			for i := 0; i < 300; i++ {
				handle, err := m.NewHandle(1)
				if err != nil {
					return
				}
				_ = m.Store(handle, 0, ForeignValue(&countingForeign{}))
				_, _ = m.Load(handle, 0)
			}
		}()
	}
	wg.Wait()

	h.MajorGC()
	require.True(t, h.IsMarked(anchor))
}
