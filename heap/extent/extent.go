package extent

import (
	"fmt"
	"math"
)

// Offset is an address within the managed address space.
type Offset = uint64

// NoOffset is returned when no address could be allocated.
const NoOffset Offset = math.MaxUint64

// Extent is a contiguous free address range [Start, End).
type Extent struct {
	start Offset
	size  uint64
}

// Start returns the first address of the extent.
func (e *Extent) Start() Offset { return e.start }

// Size returns the extent length in bytes.
func (e *Extent) Size() uint64 { return e.size }

// End returns the first address past the extent.
func (e *Extent) End() Offset { return e.start + e.size }

func (e *Extent) String() string {
	return fmt.Sprintf("[%#x-%#x)", e.start, e.End())
}

func (e *Extent) shrinkFromFront(size uint64) {
	e.start += size
	e.size -= size
}

func (e *Extent) shrinkFromBack(size uint64) {
	e.size -= size
}

func (e *Extent) growFromFront(size uint64) {
	e.start -= size
	e.size += size
}

func (e *Extent) growFromBack(size uint64) {
	e.size += size
}

// Observer receives extent lifecycle notifications. Each hook is called
// immediately before the corresponding change is applied.
type Observer interface {
	Create(e *Extent)
	Destroy(e *Extent)
	ShrinkFront(e *Extent, size uint64)
	ShrinkBack(e *Extent, size uint64)
	GrowFront(e *Extent, size uint64)
	GrowBack(e *Extent, size uint64)
}

// NopObserver ignores all notifications. Embed it to implement a subset of hooks.
type NopObserver struct{}

func (NopObserver) Create(*Extent)              {}
func (NopObserver) Destroy(*Extent)             {}
func (NopObserver) ShrinkFront(*Extent, uint64) {}
func (NopObserver) ShrinkBack(*Extent, uint64)  {}
func (NopObserver) GrowFront(*Extent, uint64)   {}
func (NopObserver) GrowBack(*Extent, uint64)    {}
