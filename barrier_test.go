package zgc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// TestLoadStoreRoundTrip covers scenario 1 from the interface spec: allocate
// a handle, store a foreign value into a slot, and read it back unchanged.
func TestLoadStoreRoundTrip(t *testing.T) {
	h := newTestHeap()
	m := h.NewMutator()
	defer m.Close()

	handle, err := m.NewHandle(2)
	require.NoError(t, err)

	ref := &countingForeign{}
	require.NoError(t, m.Store(handle, 0, ForeignValue(ref)))
	require.EqualValues(t, 1, ref.retains.Load())

	v, err := m.Load(handle, 0)
	require.NoError(t, err)
	require.False(t, v.IsHandle())
	require.Same(t, ref, v.Foreign())
}

// TestLoadInvalidSlot checks the out-of-range slot error path.
func TestLoadInvalidSlot(t *testing.T) {
	h := newTestHeap()
	m := h.NewMutator()
	defer m.Close()

	handle, err := m.NewHandle(1)
	require.NoError(t, err)

	_, err = m.Load(handle, 5)
	require.ErrorIs(t, err, ErrInvalidSlot)
}

// TestStoreOverwriteReleasesForeign verifies the write barrier's
// retain/release contract: overwriting a slot releases the old foreign
// value and retains the new one exactly once each.
func TestStoreOverwriteReleasesForeign(t *testing.T) {
	h := newTestHeap()
	m := h.NewMutator()
	defer m.Close()

	handle, err := m.NewHandle(1)
	require.NoError(t, err)

	first := &countingForeign{}
	second := &countingForeign{}
	require.NoError(t, m.Store(handle, 0, ForeignValue(first)))
	require.NoError(t, m.Store(handle, 0, ForeignValue(second)))

	require.EqualValues(t, 1, first.retains.Load())
	require.EqualValues(t, 1, first.releases.Load())
	require.EqualValues(t, 1, second.retains.Load())
	require.EqualValues(t, 0, second.releases.Load())
}

// TestGetBodyAddressDoesNotHeal checks the documented supplement: reading a
// body address never runs the barrier, so it can observe a stale color.
func TestGetBodyAddressDoesNotHeal(t *testing.T) {
	h := newTestHeap()
	m := h.NewMutator()
	defer m.Close()

	handle, err := m.NewHandle(1)
	require.NoError(t, err)

	before := h.GetBodyAddress(handle)
	h.colors.markStart()
	after := h.GetBodyAddress(handle)

	require.Equal(t, before.Color(), after.Color())
	require.Equal(t, before.raw().pageID(), after.raw().pageID())
	require.Equal(t, before.raw().cell(), after.raw().cell())
}

// countingForeign is a ForeignRef test double whose counters are safe to
// bump from concurrent mutators racing the write barrier.
type countingForeign struct {
	retains  atomic.Int64
	releases atomic.Int64
}

func (c *countingForeign) Retain()  { c.retains.Add(1) }
func (c *countingForeign) Release() { c.releases.Add(1) }
