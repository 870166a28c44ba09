// Package extent tracks free address space as an ordered list of extents.
//
// # Overview
//
// A Manager owns a set of disjoint extents kept in ascending start order.
// Adjacent extents are always merged, so no two extents in a Manager ever
// touch. Space is handed out first-fit from either end of the address range:
//
//   - AllocLow(size): first extent (ascending) large enough, shrunk from its front
//   - AllocLowAtMost(max): the lowest extent, consumed up to max bytes
//   - AllocHigh(size): first extent (descending) large enough, shrunk from its back
//   - Free(start, size): coalescing insert
//
// # Observers
//
// An Observer sees every lifecycle step of every extent (create, destroy,
// shrink and grow at either end). Hooks run under the Manager lock,
// immediately before the extent is changed, so an observer always sees the
// extent in the state it had before the step.
//
// # Out of Space
//
// Allocation never panics when space is exhausted. It returns NoOffset and
// false and leaves the decision to retry, stall or fail to the caller.
//
// # Thread Safety
//
// Every exported method takes the Manager's single mutex for the duration of
// the call. Observers must not call back into the Manager.
package extent
