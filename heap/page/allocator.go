package page

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshuapare/gcalloc/heap/extent"
	"github.com/joshuapare/gcalloc/internal/invariant"
	"github.com/joshuapare/gcalloc/internal/logger"
)

// Config configures the managed address space.
type Config struct {
	Base     Offset // first managed address, granule-aligned
	Capacity uint64 // managed bytes, a multiple of Granule
	Granule  uint64 // page alignment and page table resolution, a power of two

	// StallTimeout bounds how long a blocking request waits for memory to be
	// released before failing with ErrStalled.
	StallTimeout time.Duration
}

// DefaultConfig manages 1 GiB in 2 MiB granules.
var DefaultConfig = Config{
	Base:         0,
	Capacity:     1 << 30,
	Granule:      2 << 20,
	StallTimeout: 100 * time.Millisecond,
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.Granule == 0 || c.Granule&(c.Granule-1) != 0 {
		return fmt.Errorf("page: granule %d is not a power of two", c.Granule)
	}
	if c.Capacity == 0 || c.Capacity%c.Granule != 0 {
		return fmt.Errorf("page: capacity %d is not a positive multiple of granule %d", c.Capacity, c.Granule)
	}
	if c.Base%c.Granule != 0 {
		return fmt.Errorf("page: base %#x is not granule-aligned", c.Base)
	}
	if c.StallTimeout < 0 {
		return fmt.Errorf("page: negative stall timeout %v", c.StallTimeout)
	}
	return nil
}

// Request describes a page allocation.
type Request struct {
	Type  Type
	Size  uint64
	Flags Flags
	Age   Age
}

// Allocator is a page source over an extent-managed address space.
type Allocator struct {
	cfg   Config
	space *extent.Manager
	table []atomic.Pointer[Page] // one slot per granule

	// released is closed and replaced whenever address space is returned.
	releaseMu sync.Mutex
	released  chan struct{}

	stats allocatorStats
}

type allocatorStats struct {
	pagesAllocated atomic.Int64
	pagesUndone    atomic.Int64
	pagesFreed     atomic.Int64
	stalls         atomic.Int64
	bytesInUse     atomic.Int64
	extents        atomic.Int64
}

// Stats is a snapshot of Allocator counters.
type Stats struct {
	PagesAllocated int64
	PagesUndone    int64
	PagesFreed     int64
	Stalls         int64
	BytesInUse     int64
	Extents        int64 // free extents in the address space
}

// extentCounter tracks the number of live free extents.
type extentCounter struct {
	extent.NopObserver
	n *atomic.Int64
}

func (c extentCounter) Create(e *extent.Extent) {
	c.n.Add(1)
	if logger.TraceAlloc {
		logger.Debug("extent created", "start", e.Start(), "size", e.Size())
	}
}

func (c extentCounter) Destroy(e *extent.Extent) {
	c.n.Add(-1)
	if logger.TraceAlloc {
		logger.Debug("extent destroyed", "start", e.Start(), "size", e.Size())
	}
}

// NewAllocator creates a page source with the whole address space free.
func NewAllocator(cfg Config) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Allocator{
		cfg:      cfg,
		table:    make([]atomic.Pointer[Page], cfg.Capacity/cfg.Granule),
		released: make(chan struct{}),
	}
	a.space = extent.NewManager(extentCounter{n: &a.stats.extents})
	a.space.Free(cfg.Base, cfg.Capacity)
	return a, nil
}

// Config returns the allocator configuration.
func (a *Allocator) Config() Config { return a.cfg }

// Granule returns the page alignment.
func (a *Allocator) Granule() uint64 { return a.cfg.Granule }

// Space returns the extent manager backing the allocator.
func (a *Allocator) Space() *extent.Manager { return a.space }

func (a *Allocator) allocSpace(typ Type, size uint64) (Offset, bool) {
	if typ == TypeSmall {
		return a.space.AllocLow(size)
	}
	return a.space.AllocHigh(size)
}

// AllocPage allocates a page for req.
func (a *Allocator) AllocPage(req Request) (*Page, error) {
	if req.Size == 0 || req.Size%a.cfg.Granule != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, req.Size)
	}

	var deadline *time.Timer
	defer func() {
		if deadline != nil {
			deadline.Stop()
		}
	}()

	for {
		// Observe the release channel before trying so a release between the
		// attempt and the wait is not missed.
		a.releaseMu.Lock()
		released := a.released
		a.releaseMu.Unlock()

		if start, ok := a.allocSpace(req.Type, req.Size); ok {
			p := New(req.Type, req.Age, start, req.Size)
			a.install(p)
			a.stats.pagesAllocated.Add(1)
			a.stats.bytesInUse.Add(int64(req.Size))
			if logger.TraceAlloc {
				logger.Debug("page allocated", "page", p.String(), "age", req.Age.String())
			}
			return p, nil
		}

		if req.Flags.NonBlocking() {
			return nil, ErrOutOfMemory
		}

		if deadline == nil {
			deadline = time.NewTimer(a.cfg.StallTimeout)
		}
		select {
		case <-released:
		case <-deadline.C:
			a.stats.stalls.Add(1)
			logger.Warn("page allocation stalled", "type", req.Type.String(), "size", req.Size,
				"timeout", a.cfg.StallTimeout)
			return nil, ErrStalled
		}
	}
}

// UndoAllocPage returns a page that was never used.
func (a *Allocator) UndoAllocPage(p *Page) {
	a.stats.pagesUndone.Add(1)
	a.release(p)
}

// FreePage returns a page whose objects are all dead.
func (a *Allocator) FreePage(p *Page) {
	a.stats.pagesFreed.Add(1)
	a.release(p)
}

// PageAt returns the page containing addr, or nil.
func (a *Allocator) PageAt(addr Offset) *Page {
	if addr < a.cfg.Base {
		return nil
	}
	i := (addr - a.cfg.Base) / a.cfg.Granule
	if i >= uint64(len(a.table)) {
		return nil
	}
	return a.table[i].Load()
}

// Pages returns the allocated pages in address order.
func (a *Allocator) Pages() []*Page {
	var pages []*Page
	for i := range a.table {
		p := a.table[i].Load()
		if p != nil && (len(pages) == 0 || pages[len(pages)-1] != p) {
			pages = append(pages, p)
		}
	}
	return pages
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		PagesAllocated: a.stats.pagesAllocated.Load(),
		PagesUndone:    a.stats.pagesUndone.Load(),
		PagesFreed:     a.stats.pagesFreed.Load(),
		Stalls:         a.stats.stalls.Load(),
		BytesInUse:     a.stats.bytesInUse.Load(),
		Extents:        a.stats.extents.Load(),
	}
}

func (a *Allocator) slots(p *Page) (first, last uint64) {
	first = (p.start - a.cfg.Base) / a.cfg.Granule
	return first, first + p.size/a.cfg.Granule
}

func (a *Allocator) install(p *Page) {
	first, last := a.slots(p)
	for i := first; i < last; i++ {
		invariant.Assert(a.table[i].Load() == nil, "page: granule %d already mapped for %s", i, p)
		a.table[i].Store(p)
	}
}

func (a *Allocator) release(p *Page) {
	first, last := a.slots(p)
	for i := first; i < last; i++ {
		invariant.Assert(a.table[i].Load() == p, "page: granule %d not mapped to %s", i, p)
		a.table[i].Store(nil)
	}

	a.space.Free(p.start, p.size)
	a.stats.bytesInUse.Add(-int64(p.size))

	a.releaseMu.Lock()
	close(a.released)
	a.released = make(chan struct{})
	a.releaseMu.Unlock()
}
