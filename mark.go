// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

// markReachable is the shade step used by both the load barrier's slow
// path and root/remembered-set seeding: it sets the mark bit for the body
// at ptr's (page, cell) and, only if this call was the one that set it
// (tie-break: the mark bitmap is the single source of truth, so a body
// marked once is never re-pushed in the same cycle), pushes the body's
// owning Handle onto the mark stack for tracing.
func (h *Heap) markReachable(ptr bodyPtr) {
	page := h.resolvePage(ptr.pageID())
	if page == nil {
		throwInvariant("markReachable: page %d not found", ptr.pageID())
	}
	if page.stateNow() == PageReclaimed {
		throwInvariant("markReachable: page %d already reclaimed", ptr.pageID())
	}
	if !page.mark.trySet(ptr.cell()) {
		return
	}
	body := page.cellAt(ptr.cell())
	if body == nil {
		throwInvariant("markReachable: cell %d empty on page %d", ptr.cell(), ptr.pageID())
	}
	page.liveBytes.Add(int64(bytesForSlots(len(body.slots))))
	if body.handle != nil {
		h.markStackQ.push(body.handle)
	}
}

// IsMarked reports whether handle's current Body is marked live in the
// page it currently resides on. Diagnostic only; it heals the handle
// first so the answer reflects the handle's live location.
func (h *Heap) IsMarked(handle *Handle) bool {
	fixed := h.healHandle(handle)
	page := h.resolvePage(fixed.pageID())
	if page == nil {
		return false
	}
	return page.mark.isSet(fixed.cell())
}

// traceHandle drains one unit of mark work: it resolves handle's current
// Body and marks every Handle reference found in its slots. In minor mode,
// old-generation edges are treated as already-live roots and are not
// traced further — the minor trace stops there, per §4.5's generational
// mode.
func (h *Heap) traceHandle(handle *Handle, minor bool) {
	fixed := h.healHandle(handle)
	if minor && handle.generation() == Old {
		return
	}
	body := h.resolveBody(fixed)

	body.mu.Lock()
	slots := make([]Value, len(body.slots))
	copy(slots, body.slots)
	body.mu.Unlock()

	for _, v := range slots {
		if !v.IsHandle() || v.handle == nil {
			continue
		}
		childFixed := h.healHandle(v.handle)
		h.markReachable(childFixed)
	}
}

// drainMarkStack runs the concurrent marker to a fixpoint: pop until the
// stack is empty, tracing each Handle popped. Mutators enqueue additional
// work concurrently through the load barrier's markReachable call, so the
// caller (generation.go's cycle driver) calls it once more after the
// mark-end handshake to pick up work pushed during the first drain.
func (h *Heap) drainMarkStack(minor bool) {
	for {
		handle := h.markStackQ.pop()
		if handle == nil {
			return
		}
		h.traceHandle(handle, minor)
	}
}

// markFromRoots seeds the mark stack from the Root Set snapshot (and, in
// minor mode, from the Remembered Set of every old page) and drains to a
// fixpoint. This is the entry point for both major and minor mark phases.
func (h *Heap) markFromRoots(minor bool) {
	for _, root := range h.roots.snapshot() {
		fixed := h.healHandle(root)
		h.markReachable(fixed)
	}

	if minor {
		h.seedFromRememberedSets()
	}

	h.drainMarkStack(minor)
}

// seedFromRememberedSets drains every old page's remembered set and marks
// the young-generation referents it names as roots for the minor trace,
// per §4.5 and §8 property P3.
func (h *Heap) seedFromRememberedSets() {
	for _, page := range h.snapshotPages() {
		if page.generation != Old || page.remembered == nil {
			continue
		}
		for _, entry := range page.remembered.drain() {
			body := page.cellAt(entry.cell)
			if body == nil {
				continue
			}
			body.mu.Lock()
			var v Value
			if entry.slot >= 0 && entry.slot < len(body.slots) {
				v = body.slots[entry.slot]
			}
			body.mu.Unlock()
			if v.IsHandle() && v.handle != nil {
				fixed := h.healHandle(v.handle)
				h.markReachable(fixed)
			}
		}
	}
}
