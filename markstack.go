// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import "sync/atomic"

// markNode is one entry of the mark stack's lock-free linked list. The
// stack does not keep the node slice alive once popped, so nodes are
// returned to a free list rather than left for the Go GC to reclaim, a
// cheap win since mark/trace churns through many of these per cycle.
type markNode struct {
	handle *Handle
	next   atomic.Pointer[markNode]
}

// markStack is a multi-producer, multi-consumer lock-free LIFO work queue
// of Handles pending tracing, grounded directly on the teacher's
// lfstackpush/lfstackpop CAS-retry shape (lfstack.go). The teacher packs
// node pointer and a push counter into a single uintptr because its stack
// predates generics and must avoid calling back into the very allocator it
// is part of; neither constraint applies to a userspace library, so this
// is rewritten over sync/atomic.Pointer[T], keeping the same CAS-retry
// loop shape and the "stack holds no strong reference once popped" idea
// via an explicit free list.
type markStack struct {
	head atomic.Pointer[markNode]
	free atomic.Pointer[markNode]
}

func newMarkStack() *markStack {
	return &markStack{}
}

func (s *markStack) allocNode() *markNode {
	for {
		old := s.free.Load()
		if old == nil {
			return &markNode{}
		}
		if s.free.CompareAndSwap(old, old.next.Load()) {
			old.next.Store(nil)
			return old
		}
	}
}

func (s *markStack) releaseNode(n *markNode) {
	n.handle = nil
	for {
		old := s.free.Load()
		n.next.Store(old)
		if s.free.CompareAndSwap(old, n) {
			return
		}
	}
}

// push enqueues a Handle for tracing.
func (s *markStack) push(h *Handle) {
	n := s.allocNode()
	n.handle = h
	for {
		old := s.head.Load()
		n.next.Store(old)
		if s.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// pop dequeues a Handle, or returns nil if the stack is empty.
func (s *markStack) pop() *Handle {
	for {
		old := s.head.Load()
		if old == nil {
			return nil
		}
		next := old.next.Load()
		if s.head.CompareAndSwap(old, next) {
			h := old.handle
			s.releaseNode(old)
			return h
		}
	}
}

func (s *markStack) empty() bool {
	return s.head.Load() == nil
}
