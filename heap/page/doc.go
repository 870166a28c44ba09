// Package page provides allocation pages and the page source that carves them
// out of a managed address space.
//
// A Page is a granule-aligned address range from which objects are
// bump-allocated. Pages come in three types:
//
//   - Small: one granule, shared by many allocating goroutines
//   - Medium: a fixed multi-granule page, shared and installed under a serializer
//   - Large: sized to a single object, never shared
//
// Allocator hands out pages from an extent.Manager. Small pages are taken
// from low addresses and medium and large pages from high addresses, which
// keeps the long-lived large ranges away from the churn of small pages. A
// granule-indexed page table resolves any address back to its page without
// locking.
//
// # Blocking and Stalls
//
// A blocking request that finds no space waits for pages to be released. If
// nothing is released within Config.StallTimeout the request fails with
// ErrStalled. Non-blocking requests fail with ErrOutOfMemory at once.
package page
