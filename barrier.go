// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

// loadBarrierFix is the barrier slow/fast path core: given a possibly-stale
// colored pointer, return the pointer a caller should use and self-heal
// onto. If raw's color already matches the current good color, it is
// returned unchanged — the fast path is a single word load plus compare.
// Otherwise the slow path, in the order spec'd in §4.3:
//
//  1. consult the forwarding map of the page containing raw's address; if
//     present, remap to the evacuated copy's address.
//  2. if the collector is in the mark phase, mark the (possibly remapped)
//     referent and push it onto the mark stack if this call newly marked it.
//  3. return the pointer, re-tagged with the current good color.
func (h *Heap) loadBarrierFix(raw bodyPtr) bodyPtr {
	if raw.color() == h.colors.goodNow() {
		return raw
	}
	page := h.resolvePage(raw.pageID())
	if page == nil {
		throwInvariant("load barrier: page %d not found for address in %#x", raw.pageID(), uint64(raw))
	}

	fixed := raw
	if fwd, ok := page.lookupForwarding(raw.cell()); ok {
		fixed = fwd
	}

	if h.colors.phaseNow() == PhaseMark {
		h.markReachable(fixed)
	}

	return fixed.withColor(h.colors.goodNow())
}

// healHandle runs the load barrier on h's own body pointer and writes the
// fixed pointer back, amortizing the fix cost to at most once per stale
// pointer per Handle.
func (heap *Heap) healHandle(h *Handle) bodyPtr {
	raw := h.bodyPtr()
	fixed := heap.loadBarrierFix(raw)
	if fixed != raw {
		h.casBody(raw, fixed)
	}
	return fixed
}

func (heap *Heap) resolveBody(ptr bodyPtr) *Body {
	page := heap.resolvePage(ptr.pageID())
	if page == nil {
		throwInvariant("resolveBody: page %d not found", ptr.pageID())
	}
	if page.stateNow() == PageReclaimed {
		throwInvariant("resolveBody: page %d already reclaimed", ptr.pageID())
	}
	body := page.cellAt(ptr.cell())
	if body == nil {
		throwInvariant("resolveBody: cell %d empty on page %d", ptr.cell(), ptr.pageID())
	}
	return body
}

// Load implements the host-facing load(handle, slot) operation: it heals
// handle's own body pointer, reads the slot, and — if the slot holds
// another Handle — eagerly heals that Handle's body pointer too, matching
// the original implementation's behavior of chaining the barrier through a
// returned reference (see SPEC_FULL.md §3 supplement on get_body_address).
func (m *Mutator) Load(h *Handle, slot int) (Value, error) {
	m.inBarrier.Store(true)
	defer m.inBarrier.Store(false)

	heap := m.heap
	fixed := heap.healHandle(h)
	body := heap.resolveBody(fixed)

	body.mu.Lock()
	if slot < 0 || slot >= len(body.slots) {
		body.mu.Unlock()
		return Value{}, ErrInvalidSlot
	}
	v := body.slots[slot]
	body.mu.Unlock()

	heap.scheduler.ackBarrier(m)

	if v.IsHandle() && v.handle != nil {
		heap.healHandle(v.handle)
	}
	return v, nil
}

// Store implements the host-facing store(handle, slot, value) operation.
// Before writing, if handle is in the old generation and value is a Handle
// in the young generation, the write barrier records (page, cell, slot) in
// the old page's remembered set (§4.4). Foreign references are
// retained/released across the overwrite; writing a Handle reference
// retains nothing, though a foreign value it replaces is still released.
func (m *Mutator) Store(h *Handle, slot int, v Value) error {
	m.inBarrier.Store(true)
	defer m.inBarrier.Store(false)

	heap := m.heap
	fixed := heap.healHandle(h)
	body := heap.resolveBody(fixed)
	page := heap.resolvePage(fixed.pageID())

	if h.generation() == Old && v.IsHandle() && v.handle != nil && v.handle.generation() == Young {
		page.remembered.record(fixed.cell(), slot)
	}

	body.mu.Lock()
	if slot < 0 || slot >= len(body.slots) {
		body.mu.Unlock()
		return ErrInvalidSlot
	}
	old := body.slots[slot]
	body.slots[slot] = v
	body.mu.Unlock()

	if old.foreign != nil {
		old.foreign.Release()
	}
	if v.foreign != nil {
		v.foreign.Retain()
	}

	heap.scheduler.ackBarrier(m)
	return nil
}
