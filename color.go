// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import "go.uber.org/atomic"

// Color is the 4-bit GC color tag embedded in the high bits of a body
// pointer. Exactly one color is "good" at any instant; a pointer tagged
// with any other color requires barrier work before use.
type Color uint8

const (
	ColorM0 Color = iota // mark color 0
	ColorM1              // mark color 1
	ColorR               // relocate color
)

const (
	colorBits   = 4
	addressBits = 64 - colorBits // 60, per the interface spec's bit layout

	// Address packing: pageID in the high bits of the address field,
	// cell index (the body's slot position within the page) in the low
	// bits. zgc has no raw virtual memory to tag directly, so "address"
	// is a dense page-table coordinate rather than a linear byte offset;
	// see SPEC_FULL.md §4 for why this substitution is faithful to the
	// spec's bit-exact encoding while staying safe Go.
	pageIDBits = 24
	cellBits   = addressBits - pageIDBits // 36

	addressMask = (uint64(1) << addressBits) - 1
	cellMask    = (uint64(1) << cellBits) - 1
	pageIDMask  = (uint64(1) << pageIDBits) - 1
)

// bodyPtr is the colored pointer itself: color in bits 63..60, address in
// bits 59..0, bit-exact with the interface spec's encoding.
type bodyPtr uint64

func packBodyPtr(color Color, pageID uint32, cell uint64) bodyPtr {
	addr := ((uint64(pageID) & pageIDMask) << cellBits) | (cell & cellMask)
	return bodyPtr(uint64(color)<<addressBits | (addr & addressMask))
}

func (p bodyPtr) color() Color {
	return Color(uint64(p) >> addressBits)
}

func (p bodyPtr) pageID() uint32 {
	return uint32((uint64(p) & addressMask) >> cellBits & pageIDMask)
}

func (p bodyPtr) cell() uint64 {
	return uint64(p) & cellMask
}

// withColor returns p re-tagged with a new color, same address.
func (p bodyPtr) withColor(c Color) bodyPtr {
	return packBodyPtr(c, p.pageID(), p.cell())
}

// Phase is the collector's global phase, observed by every barrier.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseMark
	PhaseRelocate
)

// colorState is the pair of atomics (currentGoodColor, phase) that every
// barrier fast path reads. Phase transitions are the only writers; they run
// on the goroutine executing the cycle (the collector goroutine, or the
// MajorGC/MinorGC caller when StartGC was never called) and are ordered by the scheduler's
// handshake (see scheduler.go), so relaxed loads on the fast path are safe:
// a barrier that races a transition simply takes the slow path once more.
type colorState struct {
	phase     atomic.Uint32
	goodColor atomic.Uint32
	lastMark  atomic.Uint32 // last mark color used, for Relocate End
}

func newColorState() *colorState {
	cs := &colorState{}
	cs.phase.Store(uint32(PhaseIdle))
	cs.goodColor.Store(uint32(ColorM0))
	cs.lastMark.Store(uint32(ColorM0))
	return cs
}

func (cs *colorState) phaseNow() Phase   { return Phase(cs.phase.Load()) }
func (cs *colorState) goodNow() Color    { return Color(cs.goodColor.Load()) }

// markStart flips the good color to the next mark color and enters the
// mark phase. Every existing pointer becomes "bad (needs mark)".
func (cs *colorState) markStart() {
	next := ColorM1
	if Color(cs.lastMark.Load()) == ColorM1 {
		next = ColorM0
	}
	cs.lastMark.Store(uint32(next))
	cs.goodColor.Store(uint32(next))
	cs.phase.Store(uint32(PhaseMark))
}

// relocateStart flips the good color to R and enters the relocate phase.
func (cs *colorState) relocateStart() {
	cs.goodColor.Store(uint32(ColorR))
	cs.phase.Store(uint32(PhaseRelocate))
}

// relocateEnd returns the good color to the last mark color; R-tagged
// pointers keep self-healing lazily through the still-published forwarding
// maps (see relocate.go reclamation delay).
func (cs *colorState) relocateEnd() {
	cs.goodColor.Store(cs.lastMark.Load())
	cs.phase.Store(uint32(PhaseIdle))
}
