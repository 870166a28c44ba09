package page

import (
	"fmt"
	"sync/atomic"
)

// Offset is an address within the managed address space.
type Offset = uint64

// ObjectAlignment is the alignment of every object allocated in a page.
const ObjectAlignment = 8

// Type is the size class of a page.
type Type uint8

const (
	TypeSmall Type = iota
	TypeMedium
	TypeLarge
)

func (t Type) String() string {
	switch t {
	case TypeSmall:
		return "small"
	case TypeMedium:
		return "medium"
	case TypeLarge:
		return "large"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Age is the generation a page allocates for.
type Age uint8

const (
	AgeEden Age = iota
	AgeSurvivor
	AgeOld
)

func (a Age) String() string {
	switch a {
	case AgeEden:
		return "eden"
	case AgeSurvivor:
		return "survivor"
	case AgeOld:
		return "old"
	}
	return fmt.Sprintf("Age(%d)", uint8(a))
}

// Flags modify an allocation request.
type Flags uint8

const (
	// FlagNonBlocking fails at once instead of waiting for memory.
	FlagNonBlocking Flags = 1 << iota
	// FlagRelocation marks an allocation made on behalf of object relocation.
	FlagRelocation
)

// NonBlocking reports whether FlagNonBlocking is set.
func (f Flags) NonBlocking() bool { return f&FlagNonBlocking != 0 }

// Relocation reports whether FlagRelocation is set.
func (f Flags) Relocation() bool { return f&FlagRelocation != 0 }

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// Page is an address range [Start, Start+Size) with a bump pointer.
type Page struct {
	typ   Type
	age   Age
	start Offset
	size  uint64
	top   atomic.Uint64
}

// New creates a page over [start, start+size) with nothing allocated.
func New(typ Type, age Age, start Offset, size uint64) *Page {
	p := &Page{typ: typ, age: age, start: start, size: size}
	p.top.Store(start)
	return p
}

func (p *Page) Type() Type     { return p.typ }
func (p *Page) Age() Age       { return p.age }
func (p *Page) Start() Offset  { return p.start }
func (p *Page) Size() uint64   { return p.size }
func (p *Page) End() Offset    { return p.start + p.size }
func (p *Page) IsLarge() bool  { return p.typ == TypeLarge }
func (p *Page) Top() Offset    { return p.top.Load() }
func (p *Page) Used() uint64   { return p.top.Load() - p.start }
func (p *Page) IsEmpty() bool  { return p.top.Load() == p.start }
func (p *Page) String() string { return fmt.Sprintf("%s page [%#x-%#x)", p.typ, p.start, p.End()) }

// Remaining returns the bytes left above the bump pointer.
func (p *Page) Remaining() uint64 {
	return p.End() - p.top.Load()
}

// Contains reports whether addr lies in the page.
func (p *Page) Contains(addr Offset) bool {
	return addr >= p.start && addr < p.End()
}

// AllocObject bump-allocates size bytes. It is only safe while the page is
// private to the caller, before it is published.
func (p *Page) AllocObject(size uint64) (Offset, bool) {
	aligned := AlignUp(size, ObjectAlignment)
	addr := p.top.Load()
	if aligned > p.End()-addr {
		return 0, false
	}
	p.top.Store(addr + aligned)
	return addr, true
}

// AllocObjectAtomic bump-allocates size bytes from a shared page.
func (p *Page) AllocObjectAtomic(size uint64) (Offset, bool) {
	aligned := AlignUp(size, ObjectAlignment)
	for {
		addr := p.top.Load()
		if aligned > p.End()-addr {
			return 0, false
		}
		if p.top.CompareAndSwap(addr, addr+aligned) {
			return addr, true
		}
	}
}

// UndoAllocObjectAtomic gives back the object at addr if it is still the last
// one allocated. It reports whether the bytes were returned.
func (p *Page) UndoAllocObjectAtomic(addr Offset, size uint64) bool {
	aligned := AlignUp(size, ObjectAlignment)
	for {
		top := p.top.Load()
		if top != addr+aligned {
			return false
		}
		if p.top.CompareAndSwap(top, addr) {
			return true
		}
	}
}
