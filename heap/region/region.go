package region

// Handle addresses a region in a Table. Handles are region indexes.
type Handle int32

// NoHandle marks an empty link.
const NoHandle Handle = -1

// SetID identifies the set holding a region.
type SetID uint32

// NoSet is the containing set of a region that belongs to no set.
const NoSet SetID = 0

// Region is a fixed-size chunk of heap address space.
type Region struct {
	index    uint32
	capacity uint64
	node     uint32
	used     uint64
	free     bool

	set        SetID
	next, prev Handle
}

// Index returns the region's position in the heap.
func (r *Region) Index() uint32 { return r.index }

// Capacity returns the region size in bytes.
func (r *Region) Capacity() uint64 { return r.capacity }

// Node returns the NUMA node the region's memory is bound to.
func (r *Region) Node() uint32 { return r.node }

// Used returns the number of allocated bytes in the region.
func (r *Region) Used() uint64 { return r.used }

// IsFree reports whether the region is typed free.
func (r *Region) IsFree() bool { return r.free }

// IsEmpty reports whether the region holds no allocated bytes.
func (r *Region) IsEmpty() bool { return r.used == 0 }

// ContainingSet returns the id of the set holding the region, or NoSet.
func (r *Region) ContainingSet() SetID { return r.set }

// Topology describes the NUMA layout used for per-node accounting.
type Topology interface {
	Enabled() bool
	ActiveNodes() int
	MaxSearchDepth() int
}

type noTopology struct{}

func (noTopology) Enabled() bool       { return false }
func (noTopology) ActiveNodes() int    { return 1 }
func (noTopology) MaxSearchDepth() int { return 0 }
