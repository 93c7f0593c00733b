// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// barrierScheduler coordinates phase transitions with mutators via the two
// atomic globals in colorState (phase, currentGoodColor) plus a per-mutator
// ack counter. A phase transition is a point-in-time event: mutators
// observe it through the color check on every barrier and adapt without an
// explicit stop. The scheduler declares a transition complete once every
// registered mutator either has an ack counter past the epoch at which the
// transition happened (it executed a barrier since) or is not currently
// inside a barrier call at all — an idle mutator holds no stale pointer a
// handshake needs to wait on, since its next barrier call reads the new
// phase/color fresh regardless of when it last acked. Waiting on idle
// mutators to call a barrier that may never come is exactly what would
// deadlock the handshake — see register/allAcked below.
type barrierScheduler struct {
	colors *colorState
	epoch  atomic.Uint64

	mu       sync.Mutex
	mutators map[*Mutator]struct{}

	handshakeInterval time.Duration
}

func newBarrierScheduler(colors *colorState, interval time.Duration) *barrierScheduler {
	return &barrierScheduler{
		colors:            colors,
		mutators:          make(map[*Mutator]struct{}),
		handshakeInterval: interval,
	}
}

func (s *barrierScheduler) register(m *Mutator) {
	m.ackEpoch.Store(s.epoch.Load())
	s.mu.Lock()
	s.mutators[m] = struct{}{}
	s.mu.Unlock()
}

func (s *barrierScheduler) unregister(m *Mutator) {
	s.mu.Lock()
	delete(s.mutators, m)
	s.mu.Unlock()
}

// ackBarrier is called by every barrier fast path (see barrier.go) to
// record that this mutator has observed the current epoch.
func (s *barrierScheduler) ackBarrier(m *Mutator) {
	m.ackEpoch.Store(s.epoch.Load())
}

// handshake blocks until every currently registered mutator has either
// acked the epoch bumped by the most recent transition or is currently
// idle (not executing a barrier call). A mutator that is mid-call when the
// handshake starts is waited on, since it may be about to act on a
// pointer read under the old phase; one that is simply not calling a
// barrier at all cannot be holding any such state, so it is treated as
// acked without requiring it to ever make another call.
func (s *barrierScheduler) handshake(ctx context.Context) {
	target := s.epoch.Load()
	for {
		if s.allAcked(target) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.handshakeInterval):
		}
	}
}

func (s *barrierScheduler) allAcked(target uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for m := range s.mutators {
		if m.ackEpoch.Load() >= target {
			continue
		}
		if m.inBarrier.Load() {
			return false
		}
	}
	return true
}

// beginTransition bumps the epoch; callers invoke one of colorState's
// markStart/relocateStart/relocateEnd immediately before this so the new
// phase is visible before mutators are asked to ack it.
func (s *barrierScheduler) beginTransition() {
	s.epoch.Add(1)
}
