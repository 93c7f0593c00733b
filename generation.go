// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type cycleKind uint8

const (
	cycleMinor cycleKind = iota
	cycleMajor
)

type cycleRequest struct {
	kind cycleKind
	done chan struct{}
}

// generationalController drives the background collector loop: wait for a
// trigger, run one mark-relocate-reclaim cycle, repeat. Triggers are heap
// occupancy crossing Config.OccupancyTrigger or an explicit MajorGC/MinorGC
// call; promotion pressure does not trigger a cycle.
type generationalController struct {
	heap      *Heap
	triggerCh chan cycleRequest
	group     *errgroup.Group
	ctx       context.Context
	cancel    context.CancelFunc

	reclaimMu    sync.Mutex
	reclaimQueue []*Page
}

func newGenerationalController(h *Heap) *generationalController {
	return &generationalController{
		heap:      h,
		triggerCh: make(chan cycleRequest, 8),
	}
}

// start launches the background worker thread (as a goroutine supervised
// by an errgroup) plus a periodic occupancy-trigger goroutine. Mirrors the
// teacher runtime's bg mark worker loop (mgc.go's gcBgMarkWorker), rewritten
// over a buffered trigger channel instead of STW scheduling hooks.
func (g *generationalController) start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	grp, gctx := errgroup.WithContext(g.ctx)
	g.group = grp

	grp.Go(func() error {
		return g.consumeLoop(gctx)
	})
	grp.Go(func() error {
		return g.occupancyLoop(gctx)
	})
}

func (g *generationalController) stop() {
	if g.cancel != nil {
		g.cancel()
	}
	if g.group != nil {
		_ = g.group.Wait()
	}
}

func (g *generationalController) consumeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-g.triggerCh:
			g.runCycle(req.kind == cycleMinor)
			close(req.done)
		}
	}
}

func (g *generationalController) occupancyLoop(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if g.heap.occupancy() >= g.heap.cfg.OccupancyTrigger {
				g.requestAsync(cycleMajor)
			}
		}
	}
}

// requestSync enqueues a cycle and blocks until it completes. Used by the
// host-facing MajorGC/MinorGC so a call returning means the cycle actually
// ran, matching the synchronous semantics the scenario tests in spec.md §8
// rely on (e.g. "run major_gc() at least twice").
func (g *generationalController) requestSync(kind cycleKind) {
	if g.ctx == nil {
		// StartGC was never called: there is no background goroutine to
		// drain triggerCh, so run the cycle inline rather than deadlock.
		g.runCycleStandalone(kind == cycleMinor)
		return
	}
	req := cycleRequest{kind: kind, done: make(chan struct{})}
	select {
	case g.triggerCh <- req:
	case <-g.ctx.Done():
		return
	}
	select {
	case <-req.done:
	case <-g.ctx.Done():
	}
}

// runCycleStandalone runs a cycle directly on the caller's goroutine, used
// only when the background collector loop was never started.
func (g *generationalController) runCycleStandalone(minor bool) {
	if g.ctx == nil {
		g.ctx, g.cancel = context.WithCancel(context.Background())
	}
	g.runCycle(minor)
}

func (g *generationalController) requestAsync(kind cycleKind) {
	select {
	case g.triggerCh <- cycleRequest{kind: kind, done: make(chan struct{})}:
	default: // a cycle is already pending; occupancy will be rechecked next tick
	}
}

// runCycle executes exactly the phase sequence spec'd in §4.7: mark start
// (flip color) -> concurrent mark -> mark-end handshake -> relocate start
// (flip color) -> concurrent evacuate -> relocate end -> delayed reclaim.
func (g *generationalController) runCycle(minor bool) {
	h := g.heap
	h.log.Debug().Bool("minor", minor).Msg("gc cycle: mark start")

	h.resetMarkState(minor)
	h.colors.markStart()
	h.scheduler.beginTransition()
	h.scheduler.handshake(g.ctx)

	h.markFromRoots(minor)

	// Mark-end handshake: confirm no mutator is mid-barrier with pending
	// work, then drain once more to catch anything enqueued right at the
	// boundary.
	h.scheduler.beginTransition()
	h.scheduler.handshake(g.ctx)
	h.drainMarkStack(minor)

	h.log.Debug().Msg("gc cycle: relocate start")
	h.colors.relocateStart()
	h.scheduler.beginTransition()
	h.scheduler.handshake(g.ctx)

	candidates := h.selectCandidates(Young)
	if !minor {
		candidates = append(candidates, h.selectCandidates(Old)...)
	}
	h.evacuate(candidates)
	if !minor {
		h.reapUnreachableIn(candidates)
	}

	h.colors.relocateEnd()
	h.scheduler.beginTransition()
	h.scheduler.handshake(g.ctx)

	g.enqueueReclaim(candidates)
	g.processReclaimQueue()
	h.log.Debug().Int("relocated_pages", len(candidates)).Msg("gc cycle: done")
}

func (g *generationalController) enqueueReclaim(pages []*Page) {
	g.reclaimMu.Lock()
	defer g.reclaimMu.Unlock()
	for _, p := range pages {
		p.cyclesSincePublished = 0
		g.reclaimQueue = append(g.reclaimQueue, p)
	}
}

// processReclaimQueue advances every pending relocated page's cycle
// counter and reclaims those that have survived Config.ReclamationDelayCycles
// full cycles since their forwarding map was published — the safe default
// from spec.md's Design Notes Open Question.
func (g *generationalController) processReclaimQueue() {
	g.reclaimMu.Lock()
	defer g.reclaimMu.Unlock()
	remaining := g.reclaimQueue[:0]
	for _, p := range g.reclaimQueue {
		p.cyclesSincePublished++
		if p.cyclesSincePublished >= g.heap.cfg.ReclamationDelayCycles {
			g.heap.reclaimPage(p)
		} else {
			remaining = append(remaining, p)
		}
	}
	g.reclaimQueue = remaining
}
