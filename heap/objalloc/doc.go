// Package objalloc routes object allocations to small, medium and large pages.
//
// # Size Classes
//
//   - size <= SmallObjectLimit: bump-allocated from a shared small page, one
//     per worker or one for all workers. A worker that exhausts the page
//     fetches a replacement itself and races to install it with a
//     compare-and-swap; the loser allocates in the winner's page and gives
//     its own page back.
//   - size <= MediumObjectLimit: bump-allocated from the single shared medium
//     page. Replacements go through a Serializer so that only one goroutine
//     at a time waits on the page source; the others wait for its ticket and
//     retry.
//   - larger: a dedicated large page rounded up to the granule.
//
// # Accounting
//
// Every worker owns a cache-line padded pair of used and undone counters,
// measured in page bytes. Used sums all of them and is exact only while the
// world is paused.
//
// # Retiring
//
// RetireAll drops every shared page and zeroes the counters. It must only
// be called while the PauseChecker reports a global pause.
package objalloc
