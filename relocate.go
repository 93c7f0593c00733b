// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import "sort"

// selectCandidates returns retired pages of generation gen whose occupancy
// (live_bytes / capacity, as measured by the mark just completed) falls
// below the relocation threshold, oldest-first by retirement order — the
// selection policy spec'd in §4.6.
func (h *Heap) selectCandidates(gen Generation) []*Page {
	var candidates []*Page
	for _, p := range h.snapshotPages() {
		if p.generation != gen || p.stateNow() != PageRetired {
			continue
		}
		if p.occupancy() < h.cfg.RelocationThreshold {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].retiredSeq < candidates[j].retiredSeq
	})
	return candidates
}

// evacuate copies every surviving Body out of each candidate page into a
// fresh page of its target generation, installs a forwarding entry, and
// transitions the source page to relocating. Concurrent mutators observing
// the old address self-heal through the load barrier (barrier.go), which
// consults exactly the forwarding map this populates.
//
// A Body survives if it is marked (collector-reachable) or its Handle's
// host refcount is still above zero: per §3's ownership model, a Handle's
// lifetime is max(host_refcount > 0, collector_reachable), so a
// host-retained Handle that the mark phase never reached (because nothing
// on the heap points to it, only the host) must still be carried forward
// rather than left behind for its source page's eventual reclamation.
func (h *Heap) evacuate(candidates []*Page) {
	for _, src := range candidates {
		src.transition(PageRelocating)
		n := src.cellCount()
		for cell := uint64(0); cell < uint64(n); cell++ {
			body := src.cellAt(cell)
			if body == nil {
				continue
			}
			marked := src.mark.isSet(cell)
			hostLive := body.handle != nil && body.handle.hostRefs.Load() > 0
			if !marked && !hostLive {
				continue
			}
			h.evacuateBody(src, cell, body)
		}
	}
}

// evacuateBody copies one live Body to a new page, possibly promoting it
// to the old generation, publishes the forwarding entry, and repoints the
// Body's Handle at the copy. The slot copy
// is a plain value copy that never touches foreign-reference counts:
// logical ownership of a foreign reference is preserved across a move, so
// retaining/releasing here would double-count against the mutator's own
// store-path adjustments (see DESIGN.md Open Question decision).
func (h *Heap) evacuateBody(src *Page, cell uint64, body *Body) {
	target := src.generation
	age := body.header.age.Load() + 1
	if src.generation == Young && age >= h.cfg.TenureThreshold {
		target = Old
	}

	dstPage, dstCell := h.allocateEvacuationSlot(target, len(body.slots))

	newBody := &Body{handle: body.handle}
	newBody.header.sizeClass = body.header.sizeClass
	newBody.header.age.Store(age)
	newBody.slots = make([]Value, len(body.slots))
	copy(newBody.slots, body.slots) // memcpy-equivalent; no refcount touch

	dstPage.setCell(dstCell, newBody)

	newPtr := packBodyPtr(h.colors.goodNow(), dstPage.id, dstCell)
	src.publishForwarding(cell, newPtr)
	body.header.forward.Store(uint64(newPtr))

	if body.handle != nil {
		body.handle.generationHint.Store(uint32(target))
		body.handle.body.Store(uint64(newPtr))
	}

	dstPage.mark.trySet(dstCell)
	dstPage.liveBytes.Add(int64(bytesForSlots(len(newBody.slots))))
}

// allocateEvacuationSlot bump-allocates space for an evacuated Body in the
// heap's current relocation target page for gen, retiring and replacing
// that target page on overflow exactly like a mutator's allocation path
// (§4.1), but driven by the collector rather than a Mutator.
func (h *Heap) allocateEvacuationSlot(gen Generation, slots int) (*Page, uint64) {
	h.evacMu.Lock()
	defer h.evacMu.Unlock()

	page := h.evacYoungTarget
	if gen == Old {
		page = h.evacOldTarget
	}
	if page == nil {
		page = h.allocatePage(gen)
		h.setEvacTarget(gen, page)
	}

	cell, ok := page.bumpAlloc(slots)
	if !ok {
		page.transition(PageRetired)
		h.enqueueRetired(page)
		page = h.allocatePage(gen)
		h.setEvacTarget(gen, page)
		cell, ok = page.bumpAlloc(slots)
		if !ok {
			throwInvariant("allocateEvacuationSlot: body of %d slots larger than page capacity", slots)
		}
	}
	return page, cell
}

func (h *Heap) setEvacTarget(gen Generation, p *Page) {
	if gen == Old {
		h.evacOldTarget = p
	} else {
		h.evacYoungTarget = p
	}
}
