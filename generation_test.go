package zgc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// promoteToOld runs MajorGC cycles, retiring the page currently holding
// handle's body before each one (since the evacuation target page fills far
// slower than a mutator's own active page, a handle surviving on its own
// rarely sees its page overflow naturally within a short test), until
// handle's generation hint flips to Old at the tenure threshold.
func promoteToOld(t *testing.T, h *Heap, handle *Handle) {
	t.Helper()
	for i := 0; i < 5 && handle.generation() != Old; i++ {
		fixed := h.healHandle(handle)
		page := h.resolvePage(fixed.pageID())
		page.transition(PageRetired)
		h.enqueueRetired(page)
		h.MajorGC()
	}
	require.Equal(t, Old, handle.generation(), "handle never promoted")
}

// TestTenurePromotion covers scenario 4's first half: a young handle that
// survives Config.TenureThreshold evacuations is promoted to the old
// generation.
func TestTenurePromotion(t *testing.T) {
	h := newTestHeap(WithTenureThreshold(2))
	m := h.NewMutator()
	defer m.Close()

	root, err := m.NewHandle(1)
	require.NoError(t, err)
	h.AddRoot(root)
	require.Equal(t, Young, root.generation())

	promoteToOld(t, h, root)
}

// TestMinorGCSeedsFromRememberedSet covers P3: a minor cycle marks a young
// object reachable only through an old-generation slot, via the remembered
// set recorded by the write barrier on the cross-generational store.
func TestMinorGCSeedsFromRememberedSet(t *testing.T) {
	h := newTestHeap(WithTenureThreshold(2))
	m := h.NewMutator()
	defer m.Close()

	root, err := m.NewHandle(1)
	require.NoError(t, err)
	h.AddRoot(root)
	promoteToOld(t, h, root)

	child, err := m.NewHandle(1)
	require.NoError(t, err)
	require.Equal(t, Young, child.generation())
	require.NoError(t, m.Store(root, 0, HandleValue(child)))

	h.MinorGC()

	require.True(t, h.IsMarked(child), "young child reachable only via old root's remembered set must be marked by minor GC")
}

// TestMinorGCDoesNotTraceOldSubgraph covers §4.5's generational mode: a
// minor cycle treats an old-generation handle reached from a root as live
// but does not descend into its slots, so an old handle's own young
// children are only discovered via the remembered set, not direct tracing.
func TestMinorGCDoesNotTraceOldSubgraph(t *testing.T) {
	h := newTestHeap(WithTenureThreshold(2))
	m := h.NewMutator()
	defer m.Close()

	root, err := m.NewHandle(1)
	require.NoError(t, err)
	h.AddRoot(root)
	promoteToOld(t, h, root)

	child, err := m.NewHandle(1)
	require.NoError(t, err)
	require.NoError(t, m.Store(root, 0, HandleValue(child)))

	// Drain the remembered set entry the Store just recorded, so minor
	// marking has no seed for child other than directly tracing root's
	// slots, which a minor trace must not do.
	rootFixed := h.healHandle(root)
	page := h.resolvePage(rootFixed.pageID())
	page.remembered.drain()

	h.MinorGC()

	require.False(t, h.IsMarked(child), "minor GC must not trace into an old handle's slots directly")
}
