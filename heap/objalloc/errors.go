package objalloc

import "errors"

var (
	// ErrOutOfMemory indicates that no page could be allocated for the object.
	ErrOutOfMemory = errors.New("objalloc: out of memory")

	// ErrStalled indicates that the page allocation stalled, either in this
	// goroutine or in the goroutine it waited for.
	ErrStalled = errors.New("objalloc: allocation stalled")

	// ErrBadSize indicates a zero-sized object request or a page size the
	// page source does not accept.
	ErrBadSize = errors.New("objalloc: object size must be positive")
)
