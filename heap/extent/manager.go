package extent

import (
	"sort"
	"strings"
	"sync"

	"github.com/joshuapare/gcalloc/internal/invariant"
)

// Manager is an address-ordered free list of extents.
type Manager struct {
	mu       sync.Mutex
	freelist []*Extent // ascending by start, never adjacent
	observer Observer
	stats    Stats
}

// Stats holds counters of Manager operations.
type Stats struct {
	AllocCalls       int // AllocLow, AllocLowAtMost and AllocHigh calls
	AllocFailures    int // allocations that found no space
	FreeCalls        int
	Splits           int // allocations that shrank an extent instead of removing it
	CoalesceForward  int // frees merged into the following extent
	CoalesceBackward int // frees merged into the preceding extent
}

// NewManager creates an empty Manager. A nil observer installs NopObserver.
func NewManager(observer Observer) *Manager {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Manager{observer: observer}
}

// SetObserver replaces the lifecycle observer. A nil observer installs NopObserver.
func (m *Manager) SetObserver(observer Observer) {
	if observer == nil {
		observer = NopObserver{}
	}
	m.mu.Lock()
	m.observer = observer
	m.mu.Unlock()
}

func (m *Manager) create(start Offset, size uint64) *Extent {
	e := &Extent{start: start, size: size}
	m.observer.Create(e)
	return e
}

func (m *Manager) destroy(e *Extent) {
	m.observer.Destroy(e)
}

func (m *Manager) shrinkFromFront(e *Extent, size uint64) {
	m.observer.ShrinkFront(e, size)
	e.shrinkFromFront(size)
}

func (m *Manager) shrinkFromBack(e *Extent, size uint64) {
	m.observer.ShrinkBack(e, size)
	e.shrinkFromBack(size)
}

func (m *Manager) growFromFront(e *Extent, size uint64) {
	m.observer.GrowFront(e, size)
	e.growFromFront(size)
}

func (m *Manager) growFromBack(e *Extent, size uint64) {
	m.observer.GrowBack(e, size)
	e.growFromBack(size)
}

func (m *Manager) removeAt(i int) {
	copy(m.freelist[i:], m.freelist[i+1:])
	m.freelist[len(m.freelist)-1] = nil
	m.freelist = m.freelist[:len(m.freelist)-1]
}

func (m *Manager) insertAt(i int, e *Extent) {
	m.freelist = append(m.freelist, nil)
	copy(m.freelist[i+1:], m.freelist[i:])
	m.freelist[i] = e
}

// IsContiguous reports whether the free space is exactly one extent.
func (m *Manager) IsContiguous() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.freelist) == 1
}

// PeekLow returns the lowest free address without allocating it.
func (m *Manager) PeekLow() (Offset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.freelist) == 0 {
		return NoOffset, false
	}
	return m.freelist[0].start, true
}

// AllocLow allocates size bytes from the first extent, in ascending order,
// that can hold them.
func (m *Manager) AllocLow(size uint64) (Offset, bool) {
	invariant.Assert(size > 0, "extent: zero-sized allocation")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.AllocCalls++

	for i, e := range m.freelist {
		if e.size < size {
			continue
		}
		start := e.start
		if e.size == size {
			m.removeAt(i)
			m.destroy(e)
		} else {
			m.stats.Splits++
			m.shrinkFromFront(e, size)
		}
		return start, true
	}

	m.stats.AllocFailures++
	return NoOffset, false
}

// AllocLowAtMost allocates up to max bytes from the lowest extent, whatever
// its size. It returns the start and the number of bytes actually allocated.
func (m *Manager) AllocLowAtMost(max uint64) (Offset, uint64, bool) {
	invariant.Assert(max > 0, "extent: zero-sized allocation")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.AllocCalls++

	if len(m.freelist) == 0 {
		m.stats.AllocFailures++
		return NoOffset, 0, false
	}

	e := m.freelist[0]
	start := e.start
	if e.size <= max {
		allocated := e.size
		m.removeAt(0)
		m.destroy(e)
		return start, allocated, true
	}

	m.stats.Splits++
	m.shrinkFromFront(e, max)
	return start, max, true
}

// AllocHigh allocates size bytes from the first extent, in descending order,
// that can hold them. The allocation is taken from the back of that extent.
func (m *Manager) AllocHigh(size uint64) (Offset, bool) {
	invariant.Assert(size > 0, "extent: zero-sized allocation")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.AllocCalls++

	for i := len(m.freelist) - 1; i >= 0; i-- {
		e := m.freelist[i]
		if e.size < size {
			continue
		}
		if e.size == size {
			start := e.start
			m.removeAt(i)
			m.destroy(e)
			return start, true
		}
		m.stats.Splits++
		m.shrinkFromBack(e, size)
		return e.End(), true
	}

	m.stats.AllocFailures++
	return NoOffset, false
}

// Free returns [start, start+size) to the free list, merging it with the
// preceding and following extents when they are adjacent.
func (m *Manager) Free(start Offset, size uint64) {
	invariant.Assert(start != NoOffset, "extent: free of invalid address")
	invariant.Assert(size > 0, "extent: zero-sized free at %#x", start)
	invariant.Assert(size <= NoOffset-start, "extent: free %#x+%d overflows", start, size)
	end := start + size

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.FreeCalls++

	// i is the first extent starting above start.
	i := sort.Search(len(m.freelist), func(i int) bool {
		return m.freelist[i].start > start
	})

	var prev, next *Extent
	if i > 0 {
		prev = m.freelist[i-1]
		invariant.Assert(prev.End() <= start, "extent: free %#x+%d overlaps %s", start, size, prev)
	}
	if i < len(m.freelist) {
		next = m.freelist[i]
		invariant.Assert(end <= next.start, "extent: free %#x+%d overlaps %s", start, size, next)
	}

	mergePrev := prev != nil && prev.End() == start
	mergeNext := next != nil && next.start == end

	switch {
	case mergePrev && mergeNext:
		m.stats.CoalesceBackward++
		m.stats.CoalesceForward++
		m.growFromBack(prev, size+next.size)
		m.removeAt(i)
		m.destroy(next)
	case mergePrev:
		m.stats.CoalesceBackward++
		m.growFromBack(prev, size)
	case mergeNext:
		m.stats.CoalesceForward++
		m.growFromFront(next, size)
	default:
		m.insertAt(i, m.create(start, size))
	}
}

// Len returns the number of extents.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.freelist)
}

// FreeBytes returns the total size of all extents.
func (m *Manager) FreeBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total uint64
	for _, e := range m.freelist {
		total += e.size
	}
	return total
}

// Extents returns a copy of the free list in ascending order.
func (m *Manager) Extents() []Extent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Extent, len(m.freelist))
	for i, e := range m.freelist {
		out[i] = *e
	}
	return out
}

// Stats returns a snapshot of the operation counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sb strings.Builder
	sb.WriteByte('{')
	for i, e := range m.freelist {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(e.String())
	}
	sb.WriteByte('}')
	return sb.String()
}
