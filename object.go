// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import (
	"sync"

	"go.uber.org/atomic"
)

// Generation is the young/old split driving promotion and remembered-set
// maintenance.
type Generation uint8

const (
	Young Generation = iota
	Old
)

// ForeignRef is an opaque host-owned value stored in a slot. zgc never
// inspects its contents; Store retains it when written into a slot and
// releases it when that slot is overwritten. Reclaiming a page does not
// release the foreign values held by its Bodies.
type ForeignRef interface {
	Retain()
	Release()
}

// Value is the sum type a slot holds: either a managed Handle reference or
// an opaque ForeignRef. Exactly one of isHandle/foreign is meaningful.
type Value struct {
	handle   *Handle
	foreign  ForeignRef
	isHandle bool
}

func HandleValue(h *Handle) Value   { return Value{handle: h, isHandle: true} }
func ForeignValue(f ForeignRef) Value { return Value{foreign: f} }

func (v Value) IsHandle() bool     { return v.isHandle }
func (v Value) Handle() *Handle    { return v.handle }
func (v Value) Foreign() ForeignRef { return v.foreign }
func (v Value) IsEmpty() bool      { return !v.isHandle && v.foreign == nil }

// Handle is the immovable identity for a managed object. Its body field is
// a colored pointer that the load barrier fixes lazily; hostRefs tracks the
// host's reference-counted view of liveness, while collector reachability
// is tracked independently by the mark bitmap of whatever page the body
// currently lives in. A Handle is destructible only when both agree it is
// dead (host refcount at zero and not reachable from a root).
type Handle struct {
	id             uint64
	body           atomic.Uint64 // bodyPtr, colored
	generationHint atomic.Uint32 // Generation
	hostRefs       atomic.Int64
	destroyed      atomic.Bool
}

// ID returns handle's diagnostic identity, stable for the handle's
// lifetime.
func (h *Handle) ID() uint64 { return h.id }

func (h *Handle) bodyPtr() bodyPtr   { return bodyPtr(h.body.Load()) }
func (h *Handle) generation() Generation { return Generation(h.generationHint.Load()) }

// casBody attempts to self-heal h.body from old to new. Losing the race
// just means another mutator already fixed it to the same logical target;
// either way the caller proceeds with new.
func (h *Handle) casBody(old, new bodyPtr) {
	h.body.CompareAndSwap(uint64(old), uint64(new))
}

// BodyHeader is the fixed-size per-Body header: size class, age, mark word
// mirror, and the forwarding slot populated on evacuation. The mark bit
// itself lives in the owning page's bitmap (one atomic bit per body),
// matching the page layout in SPEC_FULL.md §6; header.forward mirrors the
// page's forwarding-map entry for diagnostic symmetry with the spec's
// "header forwarding slot" language, but the barrier's canonical lookup
// path is always the page's forwarding map.
type BodyHeader struct {
	sizeClass int
	age       atomic.Uint32
	forward   atomic.Uint64 // 0 until evacuated; then a colored bodyPtr
}

// Body is movable storage: a header plus a small ordered array of slots.
// While a Body sits in a non-retired page its header.forward is zero;
// after evacuation it points at the new Body's colored pointer.
type Body struct {
	header BodyHeader
	handle *Handle // back-pointer, for promotion bookkeeping and marking
	mu     sync.Mutex
	slots  []Value
}
