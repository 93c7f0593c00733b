// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors surfaced to the host across the allocate/load/store/gc
// API boundary. Use errors.Is against these; ErrOOM and
// ErrShutdownInProgress are wrapped with errors.WithStack so they carry a
// stack trace, while ErrInvalidSlot is returned bare.
var (
	// ErrOOM is returned when the heap cannot satisfy an allocation after
	// one synchronous assist cycle.
	ErrOOM = errors.New("zgc: allocation failure (OOM)")

	// ErrInvalidSlot is returned when a slot index is out of range for a
	// Handle's Body.
	ErrInvalidSlot = errors.New("zgc: invalid slot index")

	// ErrShutdownInProgress is returned when an operation is attempted
	// after StopGC has begun tearing down the collector.
	ErrShutdownInProgress = errors.New("zgc: shutdown in progress")
)

// InvariantViolation is a fatal internal error: a forwarding-map lookup
// miss during relocation, a color-decode failure, a double reclaim, or a
// reference to a Handle whose Body lives in a reclaimed page. None of these
// can happen without a bug in the collector or a misuse of the barrier
// protocol, so the core never tries to recover from one gracefully — it
// panics with this value. Nothing in the package recovers the panic.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("zgc: invariant violation: %s", e.Reason)
}

func throwInvariant(reason string, args ...any) {
	panic(&InvariantViolation{Reason: fmt.Sprintf(reason, args...)})
}
