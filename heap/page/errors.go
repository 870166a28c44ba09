package page

import "errors"

var (
	// ErrOutOfMemory indicates that no address range large enough was free.
	ErrOutOfMemory = errors.New("page: out of address space")

	// ErrStalled indicates that a blocking request waited the full stall timeout
	// without any memory being released.
	ErrStalled = errors.New("page: allocation stalled")

	// ErrBadSize indicates a page size that is zero or not granule-aligned.
	ErrBadSize = errors.New("page: size must be a positive multiple of the granule")
)
