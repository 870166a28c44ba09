package objalloc

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/joshuapare/gcalloc/heap/page"
	"github.com/joshuapare/gcalloc/internal/invariant"
	"github.com/joshuapare/gcalloc/internal/logger"
)

// PageSource provides pages to an Allocator. page.Allocator implements it.
type PageSource interface {
	AllocPage(req page.Request) (*page.Page, error)
	UndoAllocPage(p *page.Page)
	PageAt(addr page.Offset) *page.Page
}

// granular is implemented by page sources with a fixed page alignment.
type granular interface {
	Granule() uint64
}

// PauseChecker reports whether all allocating goroutines are stopped.
type PauseChecker interface {
	Paused() bool
}

// sharedPage is an installable page pointer on its own cache line.
type sharedPage struct {
	p atomic.Pointer[page.Page]
	_ cpu.CacheLinePad
}

// counter holds one worker's accounting on its own cache line.
type counter struct {
	used   atomic.Uint64
	undone atomic.Uint64
	_      cpu.CacheLinePad
}

// Allocator is a size-class object allocator for one age.
type Allocator struct {
	cfg    Config
	age    page.Age
	source PageSource
	pause  PauseChecker

	small    []sharedPage
	medium   sharedPage
	mediumMu *Serializer
	counters []counter

	installRaces  atomic.Uint64
	undoSucceeded atomic.Uint64
	undoFailed    atomic.Uint64

	// onInstall, if set, runs after a small page was allocated and its first
	// object carved out, right before the page is published. Test hook.
	onInstall func(*page.Page)
}

// Stats is a snapshot of Allocator counters.
type Stats struct {
	Used          uint64 // Σused − Σundone, clamped at zero
	Allocated     uint64 // Σused
	Undone        uint64 // Σundone
	InstallRaces  uint64 // small page installs lost to another worker
	MediumTickets uint64 // retired medium page generations
	MediumWaits   uint64 // requesters that waited for a medium page
	UndoSucceeded uint64
	UndoFailed    uint64
}

// New creates an allocator for objects of the given age.
func New(cfg Config, age page.Age, source PageSource, pause PauseChecker) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil || pause == nil {
		return nil, errors.New("objalloc: page source and pause checker are required")
	}
	if g, ok := source.(granular); ok && cfg.Granule%g.Granule() != 0 {
		return nil, fmt.Errorf("objalloc: granule %d is not a multiple of the page source granule %d",
			cfg.Granule, g.Granule())
	}

	nsmall := 1
	if cfg.PerWorkerSmallPages {
		nsmall = cfg.Workers
	}
	return &Allocator{
		cfg:      cfg,
		age:      age,
		source:   source,
		pause:    pause,
		small:    make([]sharedPage, nsmall),
		mediumMu: NewSerializer(),
		counters: make([]counter, cfg.Workers),
	}, nil
}

// Config returns the allocator configuration.
func (a *Allocator) Config() Config { return a.cfg }

// Age returns the age of the pages this allocator fills.
func (a *Allocator) Age() page.Age { return a.age }

// Alloc allocates size bytes on behalf of worker.
func (a *Allocator) Alloc(worker int, size uint64, flags page.Flags) (page.Offset, error) {
	a.checkWorker(worker)
	if size == 0 {
		return 0, ErrBadSize
	}

	switch {
	case size <= a.cfg.SmallObjectLimit:
		return a.allocSmall(worker, size, flags)
	case size <= a.cfg.MediumObjectLimit:
		return a.allocMedium(worker, size, flags)
	default:
		return a.allocLarge(worker, size, flags)
	}
}

// AllocForRelocation allocates without blocking on the page source.
func (a *Allocator) AllocForRelocation(worker int, size uint64) (page.Offset, error) {
	return a.Alloc(worker, size, page.FlagNonBlocking|page.FlagRelocation)
}

// UndoForRelocation gives back an object allocated with AllocForRelocation.
// A large page is returned to the source. Otherwise the bytes are returned
// to their page if nothing was allocated after them. Failure is only counted.
func (a *Allocator) UndoForRelocation(worker int, addr page.Offset, size uint64) {
	a.checkWorker(worker)

	p := a.source.PageAt(addr)
	if p == nil {
		a.undoFailed.Add(1)
		logger.Warn("undo of unmapped address", "addr", addr, "size", size)
		return
	}

	if p.IsLarge() {
		a.undoPage(worker, p)
		a.undoSucceeded.Add(1)
		return
	}

	if p.UndoAllocObjectAtomic(addr, size) {
		a.undoSucceeded.Add(1)
		return
	}
	a.undoFailed.Add(1)
	if logger.TraceAlloc {
		logger.Debug("object undo failed", "addr", addr, "size", size, "page", p.String())
	}
}

// Used returns the page bytes allocated and not undone. The value is exact
// only while the world is paused.
func (a *Allocator) Used() uint64 {
	var used, undone uint64
	for i := range a.counters {
		used += a.counters[i].used.Load()
		undone += a.counters[i].undone.Load()
	}
	if undone > used {
		return 0
	}
	return used - undone
}

// Remaining returns the bytes left in worker's shared small page.
func (a *Allocator) Remaining(worker int) uint64 {
	a.checkWorker(worker)
	if p := a.smallSlot(worker).p.Load(); p != nil {
		return p.Remaining()
	}
	return 0
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	var used, undone uint64
	for i := range a.counters {
		used += a.counters[i].used.Load()
		undone += a.counters[i].undone.Load()
	}
	s := Stats{
		Allocated:     used,
		Undone:        undone,
		InstallRaces:  a.installRaces.Load(),
		MediumTickets: a.mediumMu.Ticket(),
		MediumWaits:   a.mediumMu.Waits(),
		UndoSucceeded: a.undoSucceeded.Load(),
		UndoFailed:    a.undoFailed.Load(),
	}
	if used > undone {
		s.Used = used - undone
	}
	return s
}

// RetireAll drops all shared pages and zeroes the counters. The world must
// be paused.
func (a *Allocator) RetireAll() {
	invariant.Guarantee(a.pause.Paused(), "objalloc: RetireAll outside of a pause")
	invariant.Guarantee(!a.mediumMu.Claimed(), "objalloc: RetireAll during medium page allocation")

	for i := range a.small {
		a.small[i].p.Store(nil)
	}
	a.medium.p.Store(nil)
	for i := range a.counters {
		a.counters[i].used.Store(0)
		a.counters[i].undone.Store(0)
	}
	logger.Debug("shared pages retired", "age", a.age.String())
}

func (a *Allocator) checkWorker(worker int) {
	invariant.Guarantee(worker >= 0 && worker < len(a.counters),
		"objalloc: worker %d out of range [0,%d)", worker, len(a.counters))
}

func (a *Allocator) smallSlot(worker int) *sharedPage {
	if a.cfg.PerWorkerSmallPages {
		return &a.small[worker]
	}
	return &a.small[0]
}

func (a *Allocator) allocPage(worker int, typ page.Type, size uint64, flags page.Flags) (*page.Page, error) {
	p, err := a.source.AllocPage(page.Request{Type: typ, Size: size, Flags: flags, Age: a.age})
	if err != nil {
		switch {
		case errors.Is(err, page.ErrStalled):
			return nil, fmt.Errorf("%w: %s page of %d bytes", ErrStalled, typ, size)
		case errors.Is(err, page.ErrOutOfMemory):
			return nil, fmt.Errorf("%w: %s page of %d bytes", ErrOutOfMemory, typ, size)
		case errors.Is(err, page.ErrBadSize):
			return nil, fmt.Errorf("%w: %s page of %d bytes: %w", ErrBadSize, typ, size, err)
		}
		return nil, err
	}
	a.counters[worker].used.Add(p.Size())
	return p, nil
}

func (a *Allocator) undoPage(worker int, p *page.Page) {
	a.counters[worker].undone.Add(p.Size())
	a.source.UndoAllocPage(p)
}

func (a *Allocator) allocLarge(worker int, size uint64, flags page.Flags) (page.Offset, error) {
	p, err := a.allocPage(worker, page.TypeLarge, page.AlignUp(size, a.cfg.Granule), flags)
	if err != nil {
		return 0, err
	}
	addr, ok := p.AllocObject(size)
	invariant.Assert(ok, "objalloc: %d bytes do not fit %s", size, p)
	return addr, nil
}

func (a *Allocator) allocSmall(worker int, size uint64, flags page.Flags) (page.Offset, error) {
	slot := a.smallSlot(worker)

	cur := slot.p.Load()
	if cur != nil {
		if addr, ok := cur.AllocObjectAtomic(size); ok {
			return addr, nil
		}
	}

	fresh, err := a.allocPage(worker, page.TypeSmall, a.cfg.SmallPageSize, flags)
	if err != nil {
		return 0, err
	}
	addr, ok := fresh.AllocObject(size)
	invariant.Assert(ok, "objalloc: %d bytes do not fit %s", size, fresh)

	if a.onInstall != nil {
		a.onInstall(fresh)
	}

	for {
		if slot.p.CompareAndSwap(cur, fresh) {
			if logger.TraceAlloc {
				logger.Debug("small page installed", "worker", worker, "page", fresh.String())
			}
			return addr, nil
		}

		// Another worker installed a page first. Use it if it has room.
		a.installRaces.Add(1)
		cur = slot.p.Load()
		if cur == nil {
			continue
		}
		if prevAddr, ok := cur.AllocObjectAtomic(size); ok {
			a.undoPage(worker, fresh)
			return prevAddr, nil
		}
	}
}

func (a *Allocator) allocMedium(worker int, size uint64, flags page.Flags) (page.Offset, error) {
	for {
		cur := a.medium.p.Load()
		if cur != nil {
			if addr, ok := cur.AllocObjectAtomic(size); ok {
				return addr, nil
			}
		}

		t, claimed := a.mediumMu.TryClaim()
		if !claimed {
			if a.mediumMu.Wait(t) == Stalled {
				return 0, fmt.Errorf("%w: waiting for medium page", ErrStalled)
			}
			continue
		}

		// Another claimant may have installed a page between the failed
		// allocation and the claim.
		if a.medium.p.Load() != cur {
			a.mediumMu.Abort()
			continue
		}

		fresh, err := a.allocPage(worker, page.TypeMedium, a.cfg.MediumPageSize, flags)
		if err != nil {
			if errors.Is(err, ErrStalled) {
				a.mediumMu.Stall()
			} else {
				a.mediumMu.Abort()
			}
			return 0, err
		}

		addr, ok := fresh.AllocObject(size)
		invariant.Assert(ok, "objalloc: %d bytes do not fit %s", size, fresh)
		a.medium.p.Store(fresh)
		a.mediumMu.Install()
		if logger.TraceAlloc {
			logger.Debug("medium page installed", "worker", worker, "page", fresh.String(),
				"ticket", t.Seq())
		}
		return addr, nil
	}
}
