// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import "sync"

// WeakHandle wraps a Handle without contributing to its host refcount. It
// supplements spec.md's Design Notes, which defer weak references entirely
// to the host's own mechanism: zgc's only obligation is to invoke
// OnHandleDestroyed exactly once per Handle. WeakHandle does not go through
// that callback; reapUnreachableIn notifies it directly at the same point
// the callback fires. It is grounded on the original Python
// reference's WeakRef (original_source/tests/test_weakref.py), which reads
// back None once the referent is collected.
type WeakHandle struct {
	mu   sync.Mutex
	ref  *Handle
	dead bool
}

// NewWeak creates a WeakHandle observing handle. It registers itself with
// the Heap so it is notified when handle is destroyed.
func (h *Heap) NewWeak(handle *Handle) *WeakHandle {
	w := &WeakHandle{ref: handle}
	h.registerWeak(handle, w)
	return w
}

// Get returns the observed Handle, or (nil, false) if it has been
// destroyed.
func (w *WeakHandle) Get() (*Handle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		return nil, false
	}
	return w.ref, true
}

func (w *WeakHandle) notifyDestroyed() {
	w.mu.Lock()
	w.dead = true
	w.ref = nil
	w.mu.Unlock()
}
