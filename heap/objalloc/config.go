package objalloc

import (
	"fmt"

	"github.com/joshuapare/gcalloc/internal/numa"
)

// Config defines the page sizes and size-class limits of an Allocator.
type Config struct {
	// Name for this configuration (for reports)
	Name string

	SmallPageSize  uint64 // one granule
	MediumPageSize uint64 // multiple granules

	// Objects up to SmallObjectLimit go to small pages, up to
	// MediumObjectLimit to the shared medium page, and larger ones to a
	// dedicated large page.
	SmallObjectLimit  uint64
	MediumObjectLimit uint64

	// Granule rounds large page sizes. It must be a multiple of the page
	// source granule.
	Granule uint64

	// Workers is the number of per-worker counter slots.
	Workers int

	// PerWorkerSmallPages gives every worker its own shared small page
	// instead of one page shared by all.
	PerWorkerSmallPages bool
}

// Predefined configurations.
var (
	// StandardConfig: 2M small pages, 32M medium pages, 1/8 page object limits.
	StandardConfig = Config{
		Name:                "Standard",
		SmallPageSize:       2 << 20,
		MediumPageSize:      32 << 20,
		SmallObjectLimit:    256 << 10,
		MediumObjectLimit:   4 << 20,
		Granule:             2 << 20,
		Workers:             numa.UsableCPUs(),
		PerWorkerSmallPages: true,
	}

	// CompactConfig: 64K granules for small heaps, simulations and tests.
	CompactConfig = Config{
		Name:                "Compact",
		SmallPageSize:       64 << 10,
		MediumPageSize:      1 << 20,
		SmallObjectLimit:    8 << 10,
		MediumObjectLimit:   128 << 10,
		Granule:             64 << 10,
		Workers:             4,
		PerWorkerSmallPages: true,
	}

	// Default configuration (used if none specified).
	DefaultConfig = StandardConfig
)

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.Granule == 0 || c.Granule&(c.Granule-1) != 0 {
		return fmt.Errorf("objalloc: granule %d is not a power of two", c.Granule)
	}
	if c.SmallPageSize == 0 || c.SmallPageSize%c.Granule != 0 {
		return fmt.Errorf("objalloc: small page size %d is not a multiple of granule %d", c.SmallPageSize, c.Granule)
	}
	if c.MediumPageSize <= c.SmallPageSize || c.MediumPageSize%c.Granule != 0 {
		return fmt.Errorf("objalloc: medium page size %d must be a granule multiple above the small page size",
			c.MediumPageSize)
	}
	if c.SmallObjectLimit == 0 || c.SmallObjectLimit > c.SmallPageSize {
		return fmt.Errorf("objalloc: small object limit %d must fit a small page", c.SmallObjectLimit)
	}
	if c.MediumObjectLimit <= c.SmallObjectLimit || c.MediumObjectLimit > c.MediumPageSize {
		return fmt.Errorf("objalloc: medium object limit %d must lie between the small limit and the medium page size",
			c.MediumObjectLimit)
	}
	if c.Workers < 1 {
		return fmt.Errorf("objalloc: workers %d < 1", c.Workers)
	}
	return nil
}
