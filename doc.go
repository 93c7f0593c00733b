// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zgc implements a concurrent, generational, region-based relocating
// garbage collector for a heap of managed objects, independent of any
// embedding scripting runtime.
//
// The design follows ZGC's colored-pointer protocol: a self-healing load
// barrier fixes stale pointers lazily, one at a time, instead of requiring a
// stop-the-world pass over the heap. Concurrent marking and concurrent
// relocation (evacuation) run alongside mutator threads; a young/old
// generational split with a write barrier and per-page remembered sets
// drives cheap minor collections.
//
// The host embedding zgc owns object identity through Handles returned by
// Mutator.NewHandle and is responsible for registering GC roots via
// Heap.AddRoot; zgc does not scan host call stacks.
package zgc
