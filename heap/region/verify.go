package region

import (
	"github.com/joshuapare/gcalloc/internal/invariant"
	"github.com/joshuapare/gcalloc/internal/logger"
)

// verifyRegion checks that h belongs to fl and has the expected type.
func (fl *FreeList) verifyRegion(h Handle) {
	if !invariant.Enabled {
		return
	}
	r := fl.region(h)
	invariant.Assert(r.set == fl.id, "region: inconsistent containing set for %d", r.index)
	invariant.Assert(fl.checker.IsCorrectType(r), "region: wrong type of region %d for set %s (%s)",
		r.index, fl.name, fl.checker.Description())
	invariant.Assert(!r.IsFree() || r.IsEmpty(), "region: free region %d is not empty for set %s", r.index, fl.name)
	invariant.Assert(!r.IsEmpty() || r.IsFree(), "region: empty region %d is not free for set %s", r.index, fl.name)
}

// verifyOptional runs Verify when the table asks for it in diagnostic builds.
func (fl *FreeList) verifyOptional() {
	if invariant.Enabled && fl.table.verifyOptional {
		fl.Verify()
	}
}

// Verify walks the list and checks ordering, links, length and the
// unrealistically-long bound. Any failure is fatal.
func (fl *FreeList) Verify() {
	// Verification observes the same ownership protocol as mutation, otherwise
	// the list may change underneath the walk.
	fl.mt.Check()

	fl.verifyStart()
	fl.verifyList()
	fl.verifyEnd()
}

func (fl *FreeList) verifyStart() {
	invariant.Guarantee(!fl.verifyInProgress, "region: verification of %s already in progress", fl.name)
	invariant.Guarantee((fl.IsEmpty() && fl.head == NoHandle) || (!fl.IsEmpty() && fl.head != NoHandle),
		"region: %s emptiness and length disagree", fl.name)
	fl.verifyInProgress = true
}

func (fl *FreeList) verifyEnd() {
	invariant.Guarantee(fl.verifyInProgress, "region: verification of %s should be in progress", fl.name)
	fl.verifyInProgress = false
}

func (fl *FreeList) verifyList() {
	var (
		count     uint32
		capacity  uint64
		lastIndex uint32
		prev      = NoHandle
		perNode   []uint32
	)
	if fl.nodes != nil {
		perNode = make([]uint32, len(fl.nodes.lengthOfNode))
	}

	limit := fl.table.unrealisticallyLongLength
	for h := fl.head; h != NoHandle; h = fl.region(h).next {
		r := fl.region(h)
		fl.verifyRegion(h)

		count++
		invariant.Guarantee(count < limit,
			"[%s] the calculated length: %d seems very long, is there maybe a cycle? curr: %d length: %d",
			fl.name, count, h, fl.length)

		invariant.Guarantee(r.prev == prev, "[%s] broken back link at region %d", fl.name, r.index)
		invariant.Guarantee(r.index == 0 || r.index > lastIndex, "[%s] list should be sorted", fl.name)
		lastIndex = r.index
		prev = h

		capacity += r.capacity
		if perNode != nil && int(r.node) < len(perNode) {
			perNode[r.node]++
		}
	}

	invariant.Guarantee(fl.tail == prev, "[%s] tail %d does not end the walk at %d", fl.name, fl.tail, prev)
	invariant.Guarantee(fl.length == count, "%s count mismatch. Expected %d, actual %d.", fl.name, fl.length, count)
	for node, n := range perNode {
		invariant.Guarantee(fl.nodes.lengthOfNode[node] == n,
			"%s node %d count mismatch. Expected %d, actual %d.", fl.name, node, fl.nodes.lengthOfNode[node], n)
	}

	logger.Debug("verified region list", "set", fl.name, "length", count, "capacity", capacity)
}
