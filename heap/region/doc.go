// Package region tracks completely free heap regions for a region-based collector.
//
// # Overview
//
// Regions live in a fixed arena (Table) and are addressed by Handle. A
// FreeList links regions through handle fields stored in the arena, so a
// region can be moved between lists without allocation. Each region records
// the id of the set that currently holds it, which makes membership checks
// O(1) and lets diagnostic builds catch regions that are added twice or
// removed from the wrong list.
//
// # Ordering
//
// A FreeList is kept in ascending region index order:
//
//   - AddOrdered inserts in order, starting from a cached hint when possible
//   - AddToTail appends in O(1); the caller guarantees the order
//   - AddOrderedList merges another list by index
//   - AppendOrdered concatenates another list whose regions all sort after
//
// # NUMA
//
// When the table's Topology is enabled, every list keeps a per-node length
// and RemoveWithNodeIndex searches a bounded number of entries from either
// end for a region on the requested node.
//
// # Thread Safety
//
// A FreeList has no lock. Exclusive access comes from the collector phase
// that owns the list; every method starts with an MTSafety check that
// asserts the caller is that owner.
package region
