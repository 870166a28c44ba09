package region

import (
	"github.com/joshuapare/gcalloc/internal/invariant"
)

// FreeList is an index-ordered list of free regions.
type FreeList struct {
	name    string
	table   *Table
	id      SetID
	checker Checker
	mt      MTSafety

	head, tail Handle
	last       Handle // most recent AddOrdered insertion, a search hint
	length     uint32

	nodes *nodeInfo // nil unless the topology is enabled

	verifyInProgress bool
}

// nodeInfo holds the per-node lengths of a list.
type nodeInfo struct {
	lengthOfNode []uint32
}

func newNodeInfo(numNodes int) *nodeInfo {
	return &nodeInfo{lengthOfNode: make([]uint32, numNodes)}
}

func (n *nodeInfo) increase(node uint32) {
	if int(node) < len(n.lengthOfNode) {
		n.lengthOfNode[node]++
	}
}

func (n *nodeInfo) decrease(node uint32) {
	if int(node) < len(n.lengthOfNode) {
		invariant.Assert(n.lengthOfNode[node] > 0,
			"region: length %d of node %d should be greater than zero", n.lengthOfNode[node], node)
		n.lengthOfNode[node]--
	}
}

func (n *nodeInfo) add(other *nodeInfo) {
	for i := range n.lengthOfNode {
		n.lengthOfNode[i] += other.lengthOfNode[i]
	}
}

func (n *nodeInfo) clear() {
	clear(n.lengthOfNode)
}

// NewFreeList creates an empty list over table. A nil checker installs
// FreeChecker and a nil mt installs NopSafety.
func NewFreeList(name string, table *Table, checker Checker, mt MTSafety) *FreeList {
	if checker == nil {
		checker = FreeChecker{}
	}
	if mt == nil {
		mt = NopSafety{}
	}
	fl := &FreeList{
		name:    name,
		table:   table,
		id:      table.newSetID(),
		checker: checker,
		mt:      mt,
		head:    NoHandle,
		tail:    NoHandle,
		last:    NoHandle,
	}
	if topo := table.topology; topo.Enabled() {
		fl.nodes = newNodeInfo(topo.ActiveNodes())
	}
	fl.clear()
	return fl
}

// Name returns the list name.
func (fl *FreeList) Name() string { return fl.name }

// ID returns the set id regions in this list carry.
func (fl *FreeList) ID() SetID { return fl.id }

// Length returns the number of regions in the list.
func (fl *FreeList) Length() uint32 { return fl.length }

// IsEmpty reports whether the list holds no regions.
func (fl *FreeList) IsEmpty() bool { return fl.length == 0 }

// NodeLength returns the number of regions on node, or 0 without NUMA.
func (fl *FreeList) NodeLength(node uint32) uint32 {
	if fl.nodes == nil || int(node) >= len(fl.nodes.lengthOfNode) {
		return 0
	}
	return fl.nodes.lengthOfNode[node]
}

// Head returns the first region, or NoHandle.
func (fl *FreeList) Head() Handle { return fl.head }

// Tail returns the last region, or NoHandle.
func (fl *FreeList) Tail() Handle { return fl.tail }

// Next returns the region after h in the list, or NoHandle.
func (fl *FreeList) Next(h Handle) Handle { return fl.table.regions[h].next }

// Contains reports whether h is in this list.
func (fl *FreeList) Contains(h Handle) bool {
	return fl.table.Region(h).set == fl.id
}

// Handles returns the list contents in order.
func (fl *FreeList) Handles() []Handle {
	out := make([]Handle, 0, fl.length)
	for h := fl.head; h != NoHandle; h = fl.table.regions[h].next {
		out = append(out, h)
	}
	return out
}

func (fl *FreeList) region(h Handle) *Region {
	return &fl.table.regions[h]
}

func (fl *FreeList) increaseLength(node uint32) {
	if fl.nodes != nil {
		fl.nodes.increase(node)
	}
}

func (fl *FreeList) decreaseLength(node uint32) {
	if fl.nodes != nil {
		fl.nodes.decrease(node)
	}
}

// add takes membership of h. The caller links it.
func (fl *FreeList) add(h Handle) {
	fl.mt.Check()
	r := fl.table.Region(h)
	invariant.Assert(r.set == NoSet, "region: %d should not already have a containing set", h)
	invariant.Assert(r.next == NoHandle && r.prev == NoHandle, "region: %d should not already be linked", h)

	fl.length++
	r.set = fl.id
	fl.verifyRegion(h)
}

// remove drops membership of h. The caller has unlinked it.
func (fl *FreeList) remove(h Handle) {
	fl.mt.Check()
	fl.verifyRegion(h)
	r := fl.region(h)
	invariant.Assert(r.next == NoHandle && r.prev == NoHandle, "region: %d should already be unlinked", h)

	r.set = NoSet
	invariant.Assert(fl.length > 0, "region: remove from empty list %s", fl.name)
	fl.length--
}

// linkBefore links h in front of pos, or at the tail when pos is NoHandle.
func (fl *FreeList) linkBefore(pos, h Handle) {
	r := fl.region(h)
	if pos == NoHandle {
		r.prev = fl.tail
		if fl.tail != NoHandle {
			fl.region(fl.tail).next = h
		} else {
			fl.head = h
		}
		fl.tail = h
		return
	}

	p := fl.region(pos)
	r.next = pos
	r.prev = p.prev
	if p.prev != NoHandle {
		fl.region(p.prev).next = h
	} else {
		fl.head = h
	}
	p.prev = h
}

func (fl *FreeList) unlink(h Handle) {
	r := fl.region(h)
	if r.prev != NoHandle {
		fl.region(r.prev).next = r.next
	} else {
		fl.head = r.next
	}
	if r.next != NoHandle {
		fl.region(r.next).prev = r.prev
	} else {
		fl.tail = r.prev
	}
	r.next, r.prev = NoHandle, NoHandle
	if fl.last == h {
		fl.last = NoHandle
	}
}

// AddToTail appends h. The caller guarantees h sorts after every region in the list.
func (fl *FreeList) AddToTail(h Handle) {
	invariant.Assert((fl.length == 0 && fl.head == NoHandle) ||
		(fl.length > 0 && fl.tail != NoHandle && fl.region(fl.tail).index < fl.table.Region(h).index),
		"region: add to tail of %s breaks ordering", fl.name)

	fl.add(h)
	fl.linkBefore(NoHandle, h)
	fl.increaseLength(fl.region(h).node)
}

// AddOrdered inserts h keeping ascending index order.
func (fl *FreeList) AddOrdered(h Handle) {
	invariant.Assert((fl.length == 0 && fl.head == NoHandle) || (fl.length > 0 && fl.head != NoHandle),
		"region: list %s length and links disagree", fl.name)

	fl.add(h)
	idx := fl.region(h).index

	if fl.head == NoHandle {
		fl.linkBefore(NoHandle, h)
	} else {
		pos := fl.head
		if fl.last != NoHandle && fl.region(fl.last).index < idx {
			pos = fl.last
		}

		// Find the first entry with an index larger than the one to insert.
		for pos != NoHandle && fl.region(pos).index < idx {
			pos = fl.region(pos).next
		}
		fl.linkBefore(pos, h)
	}
	fl.last = h

	fl.increaseLength(fl.region(h).node)
}

// RemoveRegion removes the head or tail region. It returns false when empty.
func (fl *FreeList) RemoveRegion(fromHead bool) (Handle, bool) {
	fl.mt.Check()
	fl.verifyOptional()

	if fl.IsEmpty() {
		return NoHandle, false
	}

	h := fl.tail
	if fromHead {
		h = fl.head
	}
	fl.unlink(h)
	fl.remove(h)
	fl.decreaseLength(fl.region(h).node)
	return h, true
}

// Remove unlinks h from anywhere in the list.
func (fl *FreeList) Remove(h Handle) {
	fl.mt.Check()
	invariant.Assert(fl.table.Region(h).set == fl.id,
		"region: %d is in set %d, not %s", h, fl.table.Region(h).set, fl.name)

	fl.unlink(h)
	fl.remove(h)
	fl.decreaseLength(fl.region(h).node)
}

// RemoveWithNodeIndex searches at most the topology's MaxSearchDepth entries,
// from the head or the tail, for a region on node and removes it.
func (fl *FreeList) RemoveWithNodeIndex(fromHead bool, node uint32) (Handle, bool) {
	invariant.Assert(fl.nodes != nil, "region: node search on %s without NUMA", fl.name)
	fl.mt.Check()

	maxDepth := fl.table.topology.MaxSearchDepth()

	pos := fl.tail
	if fromHead {
		pos = fl.head
	}
	for depth := 0; pos != NoHandle && depth < maxDepth; depth++ {
		r := fl.region(pos)
		if r.node == node {
			fl.unlink(pos)
			fl.decreaseLength(node)
			fl.remove(pos)
			return pos, true
		}
		if fromHead {
			pos = r.next
		} else {
			pos = r.prev
		}
	}
	return NoHandle, false
}

// RemoveStartingAt removes num consecutive regions beginning with first.
// Fewer than num remaining regions is fatal.
func (fl *FreeList) RemoveStartingAt(first Handle, num uint32) {
	fl.mt.Check()
	invariant.Assert(num >= 1, "region: remove of zero regions")
	invariant.Assert(!fl.IsEmpty(), "region: remove from empty list %s", fl.name)
	invariant.Assert(fl.length >= num, "region: remove %d regions from %s of length %d", num, fl.name, fl.length)
	invariant.Assert(fl.table.Region(first).set == fl.id, "region: %d is not in %s", first, fl.name)

	fl.verifyOptional()
	oldLength := fl.length

	curr := first
	var count uint32
	for ; count < num; count++ {
		invariant.Guarantee(curr != NoHandle,
			"[%s] ran out of regions after %d of %d", fl.name, count, num)
		fl.verifyRegion(curr)
		next := fl.region(curr).next
		fl.unlink(curr)
		fl.remove(curr)
		fl.decreaseLength(fl.region(curr).node)
		curr = next
	}

	invariant.Assert(fl.length+num == oldLength,
		"[%s] new length should be consistent: new length %d old length %d num regions %d",
		fl.name, fl.length, oldLength, num)

	fl.verifyOptional()
}

// addListCommonStart moves membership of every region in from to fl.
func (fl *FreeList) addListCommonStart(from *FreeList) {
	fl.mt.Check()
	from.mt.Check()
	invariant.Assert(fl.table == from.table, "region: lists %s and %s use different tables", fl.name, from.name)
	fl.verifyOptional()
	from.verifyOptional()

	if from.IsEmpty() {
		return
	}

	if fl.nodes != nil && from.nodes != nil {
		fl.nodes.add(from.nodes)
	}

	for h := from.head; h != NoHandle; h = fl.region(h).next {
		fl.region(h).set = fl.id
	}
}

func (fl *FreeList) addListCommonEnd(from *FreeList) {
	fl.length += from.length
	from.head, from.tail = NoHandle, NoHandle
	from.clear()

	fl.verifyOptional()
	from.verifyOptional()
}

// AppendOrdered moves every region of from to the end of fl. Every region in
// from must sort after every region in fl.
func (fl *FreeList) AppendOrdered(from *FreeList) {
	fl.addListCommonStart(from)
	if from.IsEmpty() {
		return
	}
	invariant.Assert(fl.tail == NoHandle || fl.region(fl.tail).index < fl.region(from.head).index,
		"region: append of %s to %s breaks ordering", from.name, fl.name)

	if fl.tail == NoHandle {
		fl.head = from.head
	} else {
		fl.region(fl.tail).next = from.head
		fl.region(from.head).prev = fl.tail
	}
	fl.tail = from.tail

	fl.addListCommonEnd(from)
}

// AddOrderedList merges every region of from into fl by index.
func (fl *FreeList) AddOrderedList(from *FreeList) {
	fl.addListCommonStart(from)
	if from.IsEmpty() {
		return
	}

	if fl.IsEmpty() {
		invariant.Assert(fl.length == 0 && fl.head == NoHandle, "region: list %s length and links disagree", fl.name)
		fl.head, fl.tail = from.head, from.tail
	} else {
		to := fl.head
		for src := from.head; src != NoHandle; {
			idx := fl.region(src).index
			for to != NoHandle && fl.region(to).index < idx {
				to = fl.region(to).next
			}

			if to == NoHandle {
				// End of fl: splice the rest of from.
				fl.region(fl.tail).next = src
				fl.region(src).prev = fl.tail
				fl.tail = from.tail
				break
			}

			next := fl.region(src).next
			r := fl.region(src)
			r.next, r.prev = NoHandle, NoHandle
			fl.linkBefore(to, src)
			src = next
		}
	}

	fl.addListCommonEnd(from)
}

// RemoveAll empties the list, releasing every region from the set.
func (fl *FreeList) RemoveAll() {
	fl.mt.Check()
	fl.verifyOptional()

	for h := fl.head; h != NoHandle; {
		r := fl.region(h)
		next := r.next
		r.next, r.prev = NoHandle, NoHandle
		r.set = NoSet
		fl.decreaseLength(r.node)
		h = next
	}
	fl.head, fl.tail = NoHandle, NoHandle
	fl.clear()

	fl.verifyOptional()
}

// Abandon drops the list contents without per-node accounting. The regions
// are released from the set.
func (fl *FreeList) Abandon() {
	fl.mt.Check()

	for h := fl.head; h != NoHandle; {
		r := fl.region(h)
		next := r.next
		r.next, r.prev = NoHandle, NoHandle
		r.set = NoSet
		h = next
	}
	fl.head, fl.tail = NoHandle, NoHandle
	fl.clear()

	fl.verifyOptional()
}

func (fl *FreeList) clear() {
	invariant.Assert(fl.head == NoHandle && fl.tail == NoHandle, "region: should be no elements in %s", fl.name)
	fl.length = 0
	fl.last = NoHandle
	if fl.nodes != nil {
		fl.nodes.clear()
	}
}
