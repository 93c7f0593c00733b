// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import "sync"

// handleRegistry tracks every live Handle the heap has ever produced so a
// major cycle can notice, for pages it just evacuated, which Handles
// turned out unreachable and invoke the host's destroy callback exactly
// once — spec.md's Design Notes hook for the host's weak-reference
// mechanism.
type handleRegistry struct {
	mu       sync.Mutex
	byHandle map[*Handle][]*WeakHandle
}

func newHandleRegistry() *handleRegistry {
	return &handleRegistry{byHandle: make(map[*Handle][]*WeakHandle)}
}

func (r *handleRegistry) track(h *Handle) {
	r.mu.Lock()
	if _, ok := r.byHandle[h]; !ok {
		r.byHandle[h] = nil
	}
	r.mu.Unlock()
}

func (r *handleRegistry) addWeak(h *Handle, w *WeakHandle) {
	r.mu.Lock()
	r.byHandle[h] = append(r.byHandle[h], w)
	r.mu.Unlock()
}

func (r *handleRegistry) destroy(h *Handle) []*WeakHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws := r.byHandle[h]
	delete(r.byHandle, h)
	return ws
}

func (h *Heap) registerWeak(handle *Handle, w *WeakHandle) {
	h.registry.addWeak(handle, w)
}

// Retain increments handle's host-managed refcount. Call once per new
// owner the host creates for this Handle.
func (h *Handle) Retain() {
	h.hostRefs.Add(1)
}

// Release decrements handle's host-managed refcount. A Handle becomes
// eligible for destruction once its refcount reaches zero and the
// collector independently finds it unreachable — whichever happens last.
func (h *Handle) Release() {
	h.hostRefs.Add(-1)
}

// reapUnreachableIn scans the cells of pages just evacuated (while they
// are still fully intact in the PageRelocating state) for Handles that
// were not marked live this cycle and whose host refcount has already
// dropped to zero, destroying each exactly once. Only called after a major
// cycle, since only a major mark has full-heap liveness information; a
// minor cycle intentionally leaves old-generation liveness untouched.
func (h *Heap) reapUnreachableIn(pages []*Page) {
	for _, p := range pages {
		n := p.cellCount()
		for cell := uint64(0); cell < uint64(n); cell++ {
			if p.mark.isSet(cell) {
				continue
			}
			body := p.cellAt(cell)
			if body == nil || body.handle == nil {
				continue
			}
			handle := body.handle
			if handle.destroyed.Load() {
				continue
			}
			if handle.hostRefs.Load() > 0 {
				continue
			}
			if !handle.destroyed.CompareAndSwap(false, true) {
				continue
			}
			for _, w := range h.registry.destroy(handle) {
				w.notifyDestroyed()
			}
			h.destroyMu.Lock()
			cb := h.onDestroy
			h.destroyMu.Unlock()
			if cb != nil {
				cb(handle.id)
			}
		}
	}
}
