package region

import (
	"fmt"

	"github.com/joshuapare/gcalloc/internal/invariant"
)

// Table is the arena of all regions in the heap.
type Table struct {
	regions  []Region
	topology Topology
	nextSet  SetID

	unrealisticallyLongLength uint32
	longLengthSet             bool

	// verifyOptional enables list verification around every bulk operation.
	verifyOptional bool
}

// NewTable creates count free, empty regions of the given capacity. Regions are
// spread round-robin over the active nodes of topology. A nil topology disables
// NUMA accounting.
func NewTable(count int, capacity uint64, topology Topology) *Table {
	if topology == nil {
		topology = noTopology{}
	}
	t := &Table{
		regions:                   make([]Region, count),
		topology:                  topology,
		unrealisticallyLongLength: uint32(count) + 1,
	}

	nodes := 1
	if topology.Enabled() && topology.ActiveNodes() > 0 {
		nodes = topology.ActiveNodes()
	}
	for i := range t.regions {
		t.regions[i] = Region{
			index:    uint32(i),
			capacity: capacity,
			node:     uint32(i % nodes),
			free:     true,
			next:     NoHandle,
			prev:     NoHandle,
		}
	}
	return t
}

// Len returns the number of regions in the table.
func (t *Table) Len() int { return len(t.regions) }

// Topology returns the NUMA topology the table was built with.
func (t *Table) Topology() Topology { return t.topology }

// Region returns the region for h.
func (t *Table) Region(h Handle) *Region {
	invariant.Assert(h >= 0 && int(h) < len(t.regions), "region: handle %d out of range", h)
	return &t.regions[h]
}

// SetNode binds region h to a NUMA node. The region must not be in a set.
func (t *Table) SetNode(h Handle, node uint32) {
	r := t.Region(h)
	invariant.Assert(r.set == NoSet, "region: set node of region %d while in set %d", h, r.set)
	r.node = node
}

// MarkUsed types region h as in use with the given allocated byte count.
func (t *Table) MarkUsed(h Handle, used uint64) {
	r := t.Region(h)
	invariant.Assert(used <= r.capacity, "region: used %d exceeds capacity %d", used, r.capacity)
	r.free = false
	r.used = used
}

// MarkFree types region h as free and empty.
func (t *Table) MarkFree(h Handle) {
	r := t.Region(h)
	r.free = true
	r.used = 0
}

// SetUnrealisticallyLongLength sets the length at which list verification
// assumes a cycle. It may be set only once.
func (t *Table) SetUnrealisticallyLongLength(n uint32) {
	invariant.Guarantee(!t.longLengthSet, "region: unrealistically long length should only be set once")
	t.unrealisticallyLongLength = n
	t.longLengthSet = true
}

// SetVerifyOptional enables verification of every list around bulk operations.
// It has effect only in diagnostic builds.
func (t *Table) SetVerifyOptional(enabled bool) {
	t.verifyOptional = enabled
}

func (t *Table) newSetID() SetID {
	t.nextSet++
	invariant.Guarantee(t.nextSet != NoSet, "region: set id overflow")
	return t.nextSet
}

func (t *Table) String() string {
	return fmt.Sprintf("Table{regions: %d, numa: %v}", len(t.regions), t.topology.Enabled())
}
