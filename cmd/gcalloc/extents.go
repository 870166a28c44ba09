package main

import (
	"fmt"
	"math/rand"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/gcalloc/heap/extent"
	"github.com/joshuapare/gcalloc/internal/report"
)

var (
	extHeap    string
	extGranule string
	extOps     int
	extSeed    int64
	extShow    bool
)

func init() {
	cmd := newExtentsCmd()
	cmd.Flags().StringVar(&extHeap, "heap", "16MiB", "Address space size")
	cmd.Flags().StringVar(&extGranule, "granule", "64KiB", "Allocation unit")
	cmd.Flags().IntVar(&extOps, "ops", 1000, "Allocate and free operations")
	cmd.Flags().Int64Var(&extSeed, "seed", 1, "Random seed")
	cmd.Flags().BoolVar(&extShow, "show", false, "List the remaining free extents")
	rootCmd.AddCommand(cmd)
}

func newExtentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extents",
		Short: "Churn an extent free list and report fragmentation",
		Long: `The extents command frees a whole address space into an extent free
list, then runs a seeded mix of low, high and bounded allocations and frees
against it, and reports how the free space is split up.

Example:
  gcalloc extents
  gcalloc extents --heap 1GiB --granule 2MiB --ops 100000
  gcalloc extents --show`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtents(cmd)
		},
	}
}

// lifecycle counts extent lifecycle events.
type lifecycle struct {
	created, destroyed, shrunk, grown uint64
}

func (l *lifecycle) Create(*extent.Extent)              { l.created++ }
func (l *lifecycle) Destroy(*extent.Extent)             { l.destroyed++ }
func (l *lifecycle) ShrinkFront(*extent.Extent, uint64) { l.shrunk++ }
func (l *lifecycle) ShrinkBack(*extent.Extent, uint64)  { l.shrunk++ }
func (l *lifecycle) GrowFront(*extent.Extent, uint64)   { l.grown++ }
func (l *lifecycle) GrowBack(*extent.Extent, uint64)    { l.grown++ }

type liveRange struct {
	start extent.Offset
	size  uint64
}

func runExtents(cmd *cobra.Command) error {
	heapSize, err := humanize.ParseBytes(extHeap)
	if err != nil {
		return fmt.Errorf("invalid --heap: %w", err)
	}
	granule, err := humanize.ParseBytes(extGranule)
	if err != nil {
		return fmt.Errorf("invalid --granule: %w", err)
	}
	if granule == 0 || heapSize < granule {
		return fmt.Errorf("heap of %s must hold at least one granule of %s",
			humanize.IBytes(heapSize), humanize.IBytes(granule))
	}
	granules := heapSize / granule

	events := &lifecycle{}
	m := extent.NewManager(events)
	m.Free(0, granules*granule)

	rng := rand.New(rand.NewSource(extSeed))
	var live []liveRange
	var failed int

	for i := 0; i < extOps; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(live))
			m.Free(live[j].start, live[j].size)
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}

		size := granule * uint64(1+rng.Intn(8))
		var (
			start extent.Offset
			ok    bool
		)
		switch rng.Intn(3) {
		case 0:
			start, ok = m.AllocLow(size)
		case 1:
			start, ok = m.AllocHigh(size)
		default:
			start, size, ok = m.AllocLowAtMost(size)
		}
		if !ok {
			failed++
			continue
		}
		live = append(live, liveRange{start, size})
	}

	if extShow {
		fmt.Fprintln(output(cmd), m.String())
	}

	var largest uint64
	for _, e := range m.Extents() {
		largest = max(largest, e.Size())
	}
	free := m.FreeBytes()
	st := m.Stats()

	r := report.New("Extent free list")
	r.Section("Space").
		Add("Address space", report.Bytes(granules*granule)).
		Add("Free", report.Bytes(free)).
		Add("Largest free extent", report.Bytes(largest)).
		Add("Free extents", m.Len()).
		Add("Contiguous", m.IsContiguous()).
		Add("Live ranges", len(live))
	if free > 0 {
		r.Section("Fragmentation").Add("Outside largest %", report.Percent(free-largest, free))
	}
	r.Section("Operations").
		Add("Alloc calls", st.AllocCalls).
		Add("Alloc failures", st.AllocFailures).
		Add("Workload failures", failed).
		Add("Free calls", st.FreeCalls).
		Add("Splits", st.Splits).
		Add("Coalesced forward", st.CoalesceForward).
		Add("Coalesced backward", st.CoalesceBackward)
	r.Section("Lifecycle").
		Add("Created", events.created).
		Add("Destroyed", events.destroyed).
		Add("Shrunk", events.shrunk).
		Add("Grown", events.grown)

	return writeReport(cmd, r)
}
