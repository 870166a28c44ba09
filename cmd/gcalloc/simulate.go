package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/gcalloc/heap/objalloc"
	"github.com/joshuapare/gcalloc/heap/page"
	"github.com/joshuapare/gcalloc/internal/logger"
	"github.com/joshuapare/gcalloc/internal/report"
	"github.com/joshuapare/gcalloc/internal/safepoint"
)

// maxAttempts bounds the collections one allocation may wait for.
const maxAttempts = 100

var (
	simPreset       string
	simWorkers      int
	simOps          int
	simHeap         string
	simSeed         int64
	simStall        time.Duration
	simRelocateRate float64
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().StringVar(&simPreset, "preset", "compact", "Allocator configuration (compact, standard)")
	cmd.Flags().IntVar(&simWorkers, "workers", 0, "Allocating workers (0 = preset default)")
	cmd.Flags().IntVar(&simOps, "ops", 10000, "Allocations per worker")
	cmd.Flags().StringVar(&simHeap, "heap", "64MiB", "Managed heap size")
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "Random seed")
	cmd.Flags().DurationVar(&simStall, "stall", 20*time.Millisecond, "How long a blocking page request waits before it stalls")
	cmd.Flags().Float64Var(&simRelocateRate, "relocate-rate", 0.05, "Fraction of allocations made and undone on the relocation path")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run concurrent workers against the object allocator",
		Long: `The simulate command starts one goroutine per worker, each allocating a
seeded mix of small, medium and large objects. When the heap runs out a
collector pauses every worker, retires the shared pages and frees all pages,
then the workers retry.

Example:
  gcalloc simulate
  gcalloc simulate --workers 8 --heap 16MiB --ops 50000
  gcalloc simulate --preset standard --heap 1GiB --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd)
		},
	}
}

func presetConfig(name string) (objalloc.Config, error) {
	switch strings.ToLower(name) {
	case "compact":
		return objalloc.CompactConfig, nil
	case "standard", "default":
		return objalloc.StandardConfig, nil
	}
	return objalloc.Config{}, fmt.Errorf("unknown preset %q", name)
}

// simulation is one run of the simulate command.
type simulation struct {
	cfg    objalloc.Config
	source *page.Allocator
	alloc  *objalloc.Allocator
	sync   *safepoint.Sync

	collect   chan struct{}
	cycleMu   sync.Mutex
	cycleDone chan struct{}

	objects   atomic.Uint64
	bytes     atomic.Uint64
	relocated atomic.Uint64
	failures  atomic.Uint64
	cycles    atomic.Uint64
}

func runSimulate(cmd *cobra.Command) error {
	cfg, err := presetConfig(simPreset)
	if err != nil {
		return err
	}
	if simWorkers > 0 {
		cfg.Workers = simWorkers
	}
	if simOps < 0 {
		return fmt.Errorf("--ops must not be negative")
	}
	if simRelocateRate < 0 || simRelocateRate > 1 {
		return fmt.Errorf("--relocate-rate %v out of [0,1]", simRelocateRate)
	}

	heapSize, err := humanize.ParseBytes(simHeap)
	if err != nil {
		return fmt.Errorf("invalid --heap: %w", err)
	}
	heapSize = page.AlignUp(heapSize, cfg.Granule)
	if heapSize < cfg.MediumPageSize+cfg.SmallPageSize*uint64(cfg.Workers) {
		return fmt.Errorf("heap of %s cannot hold a medium page and one small page per worker",
			humanize.IBytes(heapSize))
	}

	src, err := page.NewAllocator(page.Config{
		Base:         cfg.Granule,
		Capacity:     heapSize,
		Granule:      cfg.Granule,
		StallTimeout: simStall,
	})
	if err != nil {
		return err
	}

	sp := &safepoint.Sync{}
	alloc, err := objalloc.New(cfg, page.AgeEden, src, sp)
	if err != nil {
		return err
	}

	s := &simulation{
		cfg:       cfg,
		source:    src,
		alloc:     alloc,
		sync:      sp,
		collect:   make(chan struct{}, 1),
		cycleDone: make(chan struct{}),
	}

	printVerbose(cmd, "Simulating %d workers x %d allocations on a %s heap (%s preset)\n",
		cfg.Workers, simOps, humanize.IBytes(heapSize), cfg.Name)
	logger.Info("simulation started", "workers", cfg.Workers, "ops", simOps, "heap", heapSize, "seed", simSeed)

	start := time.Now()
	if err := s.run(cmd.Context()); err != nil {
		return err
	}
	elapsed := time.Since(start)

	return writeReport(cmd, s.report(heapSize, elapsed))
}

func (s *simulation) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var collector errgroup.Group
	collector.Go(func() error {
		s.collector(ctx)
		return nil
	})

	workers, wctx := errgroup.WithContext(ctx)
	for w := 0; w < s.cfg.Workers; w++ {
		workers.Go(func() error {
			return s.mutator(wctx, w)
		})
	}

	err := workers.Wait()
	cancel()
	_ = collector.Wait()
	return err
}

// collector runs a full collection for every request until ctx ends.
func (s *simulation) collector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.collect:
		}

		s.sync.Begin()
		s.alloc.RetireAll()
		pages := s.source.Pages()
		for _, p := range pages {
			s.source.FreePage(p)
		}
		s.sync.End()

		n := s.cycles.Add(1)
		logger.Debug("collection finished", "cycle", n, "pages", len(pages))

		s.cycleMu.Lock()
		close(s.cycleDone)
		s.cycleDone = make(chan struct{})
		s.cycleMu.Unlock()
	}
}

// requestCollection asks for a collection and returns a channel closed when
// one has finished.
func (s *simulation) requestCollection() <-chan struct{} {
	s.cycleMu.Lock()
	done := s.cycleDone
	s.cycleMu.Unlock()

	select {
	case s.collect <- struct{}{}:
	default:
	}
	return done
}

func (s *simulation) mutator(ctx context.Context, worker int) error {
	rng := rand.New(rand.NewSource(simSeed + int64(worker)))

	for i := 0; i < simOps; i++ {
		size := s.objectSize(rng)
		relocate := rng.Float64() < simRelocateRate

		for attempt := 0; ; attempt++ {
			err := s.allocOnce(worker, size, relocate)
			if err == nil {
				break
			}
			if !errors.Is(err, objalloc.ErrOutOfMemory) && !errors.Is(err, objalloc.ErrStalled) {
				return fmt.Errorf("worker %d: %w", worker, err)
			}
			s.failures.Add(1)
			if attempt >= maxAttempts {
				return fmt.Errorf("worker %d: %w after %d collections", worker, err, attempt)
			}

			select {
			case <-s.requestCollection():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (s *simulation) allocOnce(worker int, size uint64, relocate bool) error {
	s.sync.Enter()
	defer s.sync.Leave()

	if relocate {
		addr, err := s.alloc.AllocForRelocation(worker, size)
		if err != nil {
			return err
		}
		s.alloc.UndoForRelocation(worker, addr, size)
		s.relocated.Add(1)
		return nil
	}

	if _, err := s.alloc.Alloc(worker, size, 0); err != nil {
		return err
	}
	s.objects.Add(1)
	s.bytes.Add(size)
	return nil
}

// objectSize draws from a mix of 90% small, 9% medium and 1% large objects.
func (s *simulation) objectSize(rng *rand.Rand) uint64 {
	small, medium := s.cfg.SmallObjectLimit, s.cfg.MediumObjectLimit
	switch r := rng.Intn(100); {
	case r < 90:
		return 8 + uint64(rng.Int63n(int64(small-8)))
	case r < 99:
		return small + 1 + uint64(rng.Int63n(int64(medium-small)))
	default:
		return medium + 1 + uint64(rng.Int63n(int64(2*medium)))
	}
}

func (s *simulation) report(heapSize uint64, elapsed time.Duration) *report.Report {
	st := s.alloc.Stats()
	ps := s.source.Stats()

	r := report.New("Allocation simulation")
	r.Section("Configuration").
		Add("Preset", s.cfg.Name).
		Add("Workers", s.cfg.Workers).
		Add("Heap", report.Bytes(heapSize)).
		Add("Granule", report.Bytes(s.cfg.Granule)).
		Add("Seed", simSeed)

	objects := s.objects.Load()
	r.Section("Workload").
		Add("Objects", objects).
		Add("Object bytes", report.Bytes(s.bytes.Load())).
		Add("Relocations undone", s.relocated.Load()).
		Add("Failed attempts", s.failures.Load()).
		Add("Collections", s.cycles.Load()).
		Add("Elapsed", elapsed.Round(time.Millisecond).String())

	r.Section("Object allocator").
		Add("Used", report.Bytes(st.Used)).
		Add("Allocated", report.Bytes(st.Allocated)).
		Add("Undone", report.Bytes(st.Undone)).
		Add("Install races", st.InstallRaces).
		Add("Medium tickets", st.MediumTickets).
		Add("Medium waits", st.MediumWaits).
		Add("Undo succeeded", st.UndoSucceeded).
		Add("Undo failed", st.UndoFailed)

	r.Section("Page source").
		Add("Pages allocated", ps.PagesAllocated).
		Add("Pages undone", ps.PagesUndone).
		Add("Pages freed", ps.PagesFreed).
		Add("Stalls", ps.Stalls).
		Add("In use", report.Bytes(uint64(ps.BytesInUse))).
		Add("Heap used %", report.Percent(uint64(ps.BytesInUse), heapSize)).
		Add("Free extents", ps.Extents)

	return r
}
