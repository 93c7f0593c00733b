package zgc

import "github.com/rs/zerolog"

// newTestHeap builds a Heap with a small page size so tests can force page
// retirement and relocation without allocating tens of thousands of filler
// objects, the way the original reference's relocation tests did against
// its real multi-megabyte default (original_source/tests/test_relocation.py).
func newTestHeap(opts ...Option) *Heap {
	base := []Option{
		WithPageSize(2048),
		WithTenureThreshold(2),
		WithRelocationThreshold(0.75),
		WithReclamationDelayCycles(2),
		WithOccupancyTrigger(0.95),
	}
	return New(zerolog.Nop(), append(base, opts...)...)
}

// fillGarbage allocates n small handles via m that no root reaches, to push
// a page past retirement. They are never Released, so their host refcount
// keeps them alive and evacuation carries them forward.
func fillGarbage(m *Mutator, n int) {
	for i := 0; i < n; i++ {
		_, _ = m.NewHandle(1)
	}
}
