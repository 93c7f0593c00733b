// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import (
	"sync"

	"go.uber.org/atomic"
)

// PageState is a Page's lifecycle stage: bump-allocatable, candidate for
// collection, mid-evacuation, or freed.
type PageState uint32

const (
	PageActive PageState = iota
	PageRetired
	PageRelocating
	PageReclaimed
)

// bitset is a simple atomic mark bitmap, one bit per cell (body slot) in a
// page, set via compare-and-swap so "I was the marker" is a race-free local
// decision — the same contract as the teacher runtime's per-object mark
// bit, generalized from a single global heap bitmap to one bitmap per page.
type bitset struct {
	words []atomic.Uint64
}

func newBitset(cells int) *bitset {
	return &bitset{words: make([]atomic.Uint64, (cells+63)/64+1)}
}

// trySet sets bit i and reports whether this call was the one that set it.
func (b *bitset) trySet(i uint64) bool {
	word := i / 64
	bit := uint64(1) << (i % 64)
	for {
		old := b.words[word].Load()
		if old&bit != 0 {
			return false
		}
		if b.words[word].CompareAndSwap(old, old|bit) {
			return true
		}
	}
}

func (b *bitset) isSet(i uint64) bool {
	word := i / 64
	bit := uint64(1) << (i % 64)
	return b.words[word].Load()&bit != 0
}

func (b *bitset) clear() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}

// Page is a fixed-capacity region with a bump-pointer. Capacity is
// expressed in bytes, matching the spec's page-size model; cells is the
// backing slice of Body pointers a mutator's bump allocation grows into.
// forwarding is the per-page sparse map from source cell to the colored
// pointer of the evacuated copy; it stays populated for
// Config.ReclamationDelayCycles cycles after relocation so stale self-heal
// lookups keep succeeding.
type Page struct {
	id         uint32
	generation Generation
	capacity   int // bytes
	state      atomic.Uint32

	transitionMu sync.Mutex // held only across state transitions, never allocation

	bumpBytes atomic.Int64
	cells     []*Body
	cellsMu   sync.Mutex // guards append to cells during bump allocation

	mark       *bitset
	liveBytes  atomic.Int64

	fwdMu      sync.RWMutex
	forwarding map[uint64]bodyPtr

	remembered *rememberedSet // nil for young pages

	retiredSeq             uint64 // monotonic, for oldest-first candidate ordering
	cyclesSincePublished    int   // reclamation delay counter, see generation.go
}

func newPage(id uint32, gen Generation, capacityBytes int) *Page {
	p := &Page{
		id:         id,
		generation: gen,
		capacity:   capacityBytes,
		cells:      make([]*Body, 0, 64),
		mark:       newBitset(capacityBytes/headerBytes + 1),
		forwarding: make(map[uint64]bodyPtr),
	}
	p.state.Store(uint32(PageActive))
	if gen == Old {
		p.remembered = newRememberedSet()
	}
	return p
}

func (p *Page) stateNow() PageState { return PageState(p.state.Load()) }

const (
	headerBytes = 64
	slotBytes   = 8
)

func bytesForSlots(n int) int {
	size := headerBytes + n*slotBytes
	return (size + 7) &^ 7 // round up to 8-byte alignment
}

// bumpAlloc reserves space for a Body with n slots and appends its cell,
// returning the cell index or false if the page's capacity is exhausted.
// Wait-free per caller in the common case: the only contention is the
// cellsMu guarding slice append, held for the duration of one append.
func (p *Page) bumpAlloc(n int) (cellIdx uint64, ok bool) {
	size := int64(bytesForSlots(n))
	for {
		cur := p.bumpBytes.Load()
		next := cur + size
		if next > int64(p.capacity) {
			return 0, false
		}
		if p.bumpBytes.CompareAndSwap(cur, next) {
			break
		}
	}
	p.cellsMu.Lock()
	idx := uint64(len(p.cells))
	p.cells = append(p.cells, nil)
	p.cellsMu.Unlock()
	return idx, true
}

func (p *Page) setCell(idx uint64, b *Body) {
	p.cellsMu.Lock()
	p.cells[idx] = b
	p.cellsMu.Unlock()
}

func (p *Page) cellCount() int {
	p.cellsMu.Lock()
	defer p.cellsMu.Unlock()
	return len(p.cells)
}

func (p *Page) cellAt(idx uint64) *Body {
	p.cellsMu.Lock()
	defer p.cellsMu.Unlock()
	if idx >= uint64(len(p.cells)) {
		return nil
	}
	return p.cells[idx]
}

func (p *Page) occupancy() float64 {
	if p.capacity == 0 {
		return 0
	}
	return float64(p.liveBytes.Load()) / float64(p.capacity)
}

func (p *Page) publishForwarding(cell uint64, target bodyPtr) {
	p.fwdMu.Lock()
	p.forwarding[cell] = target
	p.fwdMu.Unlock()
}

func (p *Page) lookupForwarding(cell uint64) (bodyPtr, bool) {
	p.fwdMu.RLock()
	defer p.fwdMu.RUnlock()
	v, ok := p.forwarding[cell]
	return v, ok
}

// transition moves the page between lifecycle states, serialized by a
// per-page lock held only for the transition itself, never for allocation
// or barrier work — the same separation of concerns the spec calls for in
// §4.1's allocator guarantees.
func (p *Page) transition(to PageState) {
	p.transitionMu.Lock()
	defer p.transitionMu.Unlock()
	p.state.Store(uint32(to))
}
