// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Heap owns every Page and drives the generational controller, the phase
// scheduler, the root set, and the page table mutators and the collector
// resolve addresses through. There is exactly one Heap per embedding host.
type Heap struct {
	cfg Config
	log zerolog.Logger

	colors     *colorState
	scheduler  *barrierScheduler
	collector  *generationalController
	roots      *rootSet
	markStackQ *markStack
	registry   *handleRegistry

	pagesMu    sync.RWMutex
	pageTable  []*Page
	retiredSeq atomic.Uint64

	evacMu          sync.Mutex
	evacYoungTarget *Page
	evacOldTarget   *Page

	handleSeq atomic.Uint64

	destroyMu  sync.Mutex
	onDestroy  func(id uint64)

	mutatorsMu sync.Mutex
	mutators   []*Mutator

	ctx       context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	shutdown  atomic.Bool
}

// New creates a Heap with the given configuration and logger, applying any
// functional Options over the defaults.
func New(logger zerolog.Logger, opts ...Option) *Heap {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	h := &Heap{
		cfg:        cfg,
		log:        logger,
		colors:     newColorState(),
		roots:      newRootSet(),
		markStackQ: newMarkStack(),
		registry:   newHandleRegistry(),
	}
	h.scheduler = newBarrierScheduler(h.colors, cfg.HandshakeInterval)
	h.collector = newGenerationalController(h)
	return h
}

// StartGC launches the background collector goroutine and the occupancy
// trigger loop. Safe to call once; a second call is a no-op.
func (h *Heap) StartGC() {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.collector.start(h.ctx)
	h.log.Info().Msg("zgc: collector started")
}

// StopGC drains the in-flight cycle (if any) and stops the background
// thread. After StopGC, Allocate/NewHandle return ErrShutdownInProgress.
func (h *Heap) StopGC() {
	if !h.shutdown.CompareAndSwap(false, true) {
		return
	}
	h.collector.stop()
	h.log.Info().Msg("zgc: collector stopped")
}

// MajorGC runs one whole-heap collection cycle synchronously: both
// generations are marked and evacuation candidates are selected from both.
func (h *Heap) MajorGC() {
	h.collector.requestSync(cycleMajor)
}

// MinorGC runs one young-generation-only collection cycle synchronously:
// marking seeds from the Root Set and every old page's Remembered Set, and
// stops tracing at old-generation edges.
func (h *Heap) MinorGC() {
	h.collector.requestSync(cycleMinor)
}

// AddRoot registers handle in the Root Set; it is treated as live every
// cycle until explicitly removed.
func (h *Heap) AddRoot(handle *Handle) {
	h.roots.add(handle)
}

// RemoveRoot unregisters handle from the Root Set.
func (h *Heap) RemoveRoot(handle *Handle) {
	h.roots.remove(handle)
}

// GetBodyAddress returns handle's current body pointer without running the
// load barrier — a raw diagnostic read, deliberately not self-healing, so
// tests and tooling can observe a stale address before and after a cycle
// (see SPEC_FULL.md §3 supplement).
func (h *Heap) GetBodyAddress(handle *Handle) BodyAddr {
	return BodyAddr(handle.bodyPtr())
}

// OnHandleDestroyed registers the host callback invoked exactly once when a
// Handle's host refcount and collector reachability both reach zero — the
// hook the host's own weak-reference mechanism is built on, per spec.md's
// Design Notes.
func (h *Heap) OnHandleDestroyed(fn func(id uint64)) {
	h.destroyMu.Lock()
	h.onDestroy = fn
	h.destroyMu.Unlock()
}

// BodyAddr is the host-visible tagged pointer returned by GetBodyAddress:
// bits 63..60 color, bits 59..0 address, bit-exact with the interface spec.
type BodyAddr uint64

func (a BodyAddr) Color() Color   { return bodyPtr(a).color() }
func (a BodyAddr) raw() bodyPtr   { return bodyPtr(a) }

// --- page table -------------------------------------------------------

func (h *Heap) allocatePage(gen Generation) *Page {
	h.pagesMu.Lock()
	defer h.pagesMu.Unlock()
	id := uint32(len(h.pageTable))
	p := newPage(id, gen, h.cfg.PageSize)
	h.pageTable = append(h.pageTable, p)
	return p
}

func (h *Heap) resolvePage(id uint32) *Page {
	h.pagesMu.RLock()
	defer h.pagesMu.RUnlock()
	if int(id) >= len(h.pageTable) {
		return nil
	}
	return h.pageTable[id]
}

func (h *Heap) snapshotPages() []*Page {
	h.pagesMu.RLock()
	defer h.pagesMu.RUnlock()
	out := make([]*Page, len(h.pageTable))
	copy(out, h.pageTable)
	return out
}

func (h *Heap) enqueueRetired(p *Page) {
	p.retiredSeq = h.retiredSeq.Add(1)
}

func (h *Heap) reclaimPage(p *Page) {
	p.transition(PageReclaimed)
	p.cellsMu.Lock()
	p.cells = nil
	p.cellsMu.Unlock()
	p.fwdMu.Lock()
	p.forwarding = nil
	p.fwdMu.Unlock()
	h.log.Debug().Uint32("page", p.id).Msg("zgc: page reclaimed")
}

func (h *Heap) resetMarkState(minor bool) {
	for _, p := range h.snapshotPages() {
		if p.stateNow() == PageReclaimed {
			continue
		}
		if minor && p.generation == Old {
			continue
		}
		p.mark.clear()
		p.liveBytes.Store(0)
	}
}

func (h *Heap) occupancy() float64 {
	pages := h.snapshotPages()
	if len(pages) == 0 {
		return 0
	}
	var used, total int64
	for _, p := range pages {
		if p.stateNow() == PageReclaimed {
			continue
		}
		used += p.bumpBytes.Load()
		total += int64(p.capacity)
	}
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total)
}

// --- mutators -----------------------------------------------------------

// Mutator is a host-owned allocation context: one per host thread. It owns
// a thread-local active young page so bump allocation is wait-free per
// caller, matching §4.1's guarantee; metadata transitions on page overflow
// are serialized by the page's own transition lock, not by the mutator.
type Mutator struct {
	heap        *Heap
	id          uint64
	activeMu    sync.Mutex
	activeYoung *Page
	ackEpoch    atomic.Uint64
	inBarrier   atomic.Bool
}

// NewMutator creates a new allocation context and registers it with the
// barrier scheduler's handshake tracking.
func (h *Heap) NewMutator() *Mutator {
	m := &Mutator{heap: h, id: h.handleSeq.Add(1)}
	h.scheduler.register(m)
	h.mutatorsMu.Lock()
	h.mutators = append(h.mutators, m)
	h.mutatorsMu.Unlock()
	return m
}

// Close unregisters m from the scheduler's handshake tracking. Host
// threads that exit should call this so the scheduler never waits on a
// dead mutator's ack counter.
func (m *Mutator) Close() {
	m.heap.scheduler.unregister(m)
}

// Allocate implements the host-facing allocate(size_bytes) operation: it
// rounds size up to 8-byte alignment, bump-allocates a raw Body of that
// size in the mutator's active young page, retiring and replacing that
// page on overflow, and tags the returned address with the current good
// color. It never blocks on collector work; if the active page truly has
// no room even after a fresh page, it requests a synchronous allocation
// assist before failing.
func (m *Mutator) Allocate(sizeBytes int) (BodyAddr, error) {
	if m.heap.shutdown.Load() {
		return 0, errors.WithStack(ErrShutdownInProgress)
	}
	slots := (sizeBytes + 7) / 8
	page, cell, err := m.allocateBody(slots)
	if err != nil {
		return 0, err
	}
	page.setCell(cell, &Body{slots: make([]Value, slots)})
	return BodyAddr(packBodyPtr(m.heap.colors.goodNow(), page.id, cell)), nil
}

// NewHandle allocates a Body with initialSlots slots and wraps it in a new
// Handle — the host-facing Object.new() operation.
func (m *Mutator) NewHandle(initialSlots int) (*Handle, error) {
	if m.heap.shutdown.Load() {
		return nil, errors.WithStack(ErrShutdownInProgress)
	}
	page, cell, err := m.allocateBody(initialSlots)
	if err != nil {
		return nil, err
	}
	h := &Handle{id: m.heap.handleSeq.Add(1)}
	h.hostRefs.Store(1)
	h.generationHint.Store(uint32(Young))
	ptr := packBodyPtr(m.heap.colors.goodNow(), page.id, cell)
	h.body.Store(uint64(ptr))

	body := &Body{handle: h, slots: make([]Value, initialSlots)}
	page.setCell(cell, body)
	m.heap.registry.track(h)
	return h, nil
}

func (m *Mutator) activePage() *Page {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	if m.activeYoung == nil || m.activeYoung.stateNow() != PageActive {
		m.activeYoung = m.heap.allocatePage(Young)
	}
	return m.activeYoung
}

func (m *Mutator) retireActivePage() {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	if m.activeYoung != nil {
		m.activeYoung.transition(PageRetired)
		m.heap.enqueueRetired(m.activeYoung)
	}
	m.activeYoung = m.heap.allocatePage(Young)
}

// allocateBody bump-allocates a cell for a Body with n slots, retiring and
// replacing the mutator's active page on overflow. If even a fresh page
// cannot fit n slots (oversized allocation) it triggers a synchronous
// young allocation assist (a major GC to reclaim space) and retries once
// before surfacing ErrOOM.
func (m *Mutator) allocateBody(n int) (*Page, uint64, error) {
	page := m.activePage()
	cell, ok := page.bumpAlloc(n)
	if !ok {
		m.retireActivePage()
		page = m.activePage()
		cell, ok = page.bumpAlloc(n)
	}
	if !ok {
		m.heap.MajorGC()
		m.retireActivePage()
		page = m.activePage()
		cell, ok = page.bumpAlloc(n)
		if !ok {
			return nil, 0, errors.WithStack(ErrOOM)
		}
	}
	return page, cell, nil
}
