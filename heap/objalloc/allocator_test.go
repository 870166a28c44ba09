package objalloc

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/gcalloc/heap/page"
	"github.com/joshuapare/gcalloc/internal/safepoint"
)

const testGranule = 64 << 10

type fixture struct {
	alloc  *Allocator
	source *page.Allocator
	sync   *safepoint.Sync
}

func newFixture(t testing.TB, granules int, mutate func(*Config)) fixture {
	t.Helper()
	src, err := page.NewAllocator(page.Config{
		Base:         1 << 30,
		Capacity:     uint64(granules) * testGranule,
		Granule:      testGranule,
		StallTimeout: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	cfg := CompactConfig
	if mutate != nil {
		mutate(&cfg)
	}
	sp := &safepoint.Sync{}
	a, err := New(cfg, page.AgeEden, src, sp)
	require.NoError(t, err)
	return fixture{alloc: a, source: src, sync: sp}
}

type span struct{ start, end uint64 }

func requireDisjoint(t *testing.T, spans []span) {
	t.Helper()
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		require.LessOrEqual(t, spans[i-1].end, spans[i].start,
			"objects [%#x-%#x) and [%#x-%#x) overlap",
			spans[i-1].start, spans[i-1].end, spans[i].start, spans[i].end)
	}
}

func Test_ConfigPresetsValidate(t *testing.T) {
	require.NoError(t, CompactConfig.Validate())

	cfg := StandardConfig
	cfg.Workers = 4
	require.NoError(t, cfg.Validate())

	bad := []func(*Config){
		func(c *Config) { c.Granule = 3000 },
		func(c *Config) { c.SmallPageSize = c.Granule + 1 },
		func(c *Config) { c.MediumPageSize = c.SmallPageSize },
		func(c *Config) { c.SmallObjectLimit = c.SmallPageSize + 1 },
		func(c *Config) { c.MediumObjectLimit = c.SmallObjectLimit },
		func(c *Config) { c.Workers = 0 },
	}
	for i, mutate := range bad {
		c := CompactConfig
		mutate(&c)
		require.Error(t, c.Validate(), "case %d", i)
	}
}

func Test_NewRequiresCollaborators(t *testing.T) {
	_, err := New(CompactConfig, page.AgeEden, nil, &safepoint.Sync{})
	require.Error(t, err)
}

func Test_AllocRoutesBySize(t *testing.T) {
	f := newFixture(t, 64, nil)

	cases := []struct {
		size     uint64
		typ      page.Type
		pageSize uint64
	}{
		{size: 24, typ: page.TypeSmall, pageSize: CompactConfig.SmallPageSize},
		{size: CompactConfig.SmallObjectLimit, typ: page.TypeSmall, pageSize: CompactConfig.SmallPageSize},
		{size: CompactConfig.SmallObjectLimit + 1, typ: page.TypeMedium, pageSize: CompactConfig.MediumPageSize},
		{size: CompactConfig.MediumObjectLimit, typ: page.TypeMedium, pageSize: CompactConfig.MediumPageSize},
		{size: CompactConfig.MediumObjectLimit + 1, typ: page.TypeLarge, pageSize: 3 * testGranule},
	}
	for _, tc := range cases {
		addr, err := f.alloc.Alloc(0, tc.size, 0)
		require.NoError(t, err)

		p := f.source.PageAt(addr)
		require.NotNil(t, p)
		require.Equal(t, tc.typ, p.Type(), "size %d", tc.size)
		require.Equal(t, tc.pageSize, p.Size(), "size %d", tc.size)
		require.Equal(t, page.AgeEden, p.Age())
	}
}

func Test_AllocZeroSize(t *testing.T) {
	f := newFixture(t, 8, nil)
	_, err := f.alloc.Alloc(0, 0, 0)
	require.ErrorIs(t, err, ErrBadSize)
}

func Test_AllocWorkerOutOfRangePanics(t *testing.T) {
	f := newFixture(t, 8, nil)
	require.Panics(t, func() { _, _ = f.alloc.Alloc(CompactConfig.Workers, 8, 0) })
	require.Panics(t, func() { _, _ = f.alloc.Alloc(-1, 8, 0) })
}

func Test_SmallAllocsBumpInSharedPage(t *testing.T) {
	f := newFixture(t, 8, nil)

	a1, err := f.alloc.Alloc(0, 20, 0)
	require.NoError(t, err)
	a2, err := f.alloc.Alloc(0, 20, 0)
	require.NoError(t, err)

	require.Equal(t, a1+24, a2)
	require.Equal(t, CompactConfig.SmallPageSize-48, f.alloc.Remaining(0))
	require.Zero(t, f.alloc.Remaining(1))
}

func Test_SmallPagesPerWorker(t *testing.T) {
	f := newFixture(t, 8, nil)
	a0, err := f.alloc.Alloc(0, 64, 0)
	require.NoError(t, err)
	a1, err := f.alloc.Alloc(1, 64, 0)
	require.NoError(t, err)
	require.NotSame(t, f.source.PageAt(a0), f.source.PageAt(a1))

	shared := newFixture(t, 8, func(c *Config) { c.PerWorkerSmallPages = false })
	b0, err := shared.alloc.Alloc(0, 64, 0)
	require.NoError(t, err)
	b1, err := shared.alloc.Alloc(1, 64, 0)
	require.NoError(t, err)
	require.Same(t, shared.source.PageAt(b0), shared.source.PageAt(b1))
	require.Equal(t, shared.alloc.Remaining(0), shared.alloc.Remaining(1))
}

func Test_SmallPageReplacedWhenFull(t *testing.T) {
	f := newFixture(t, 8, nil)
	size := CompactConfig.SmallObjectLimit
	perPage := int(CompactConfig.SmallPageSize / size)

	var first *page.Page
	for i := 0; i < perPage; i++ {
		addr, err := f.alloc.Alloc(0, size, 0)
		require.NoError(t, err)
		if first == nil {
			first = f.source.PageAt(addr)
		}
	}
	require.Zero(t, first.Remaining())

	addr, err := f.alloc.Alloc(0, size, 0)
	require.NoError(t, err)
	require.NotSame(t, first, f.source.PageAt(addr))
	require.Equal(t, 2*CompactConfig.SmallPageSize, f.alloc.Used())
}

func Test_ConcurrentSmallAllocsDoNotOverlap(t *testing.T) {
	f := newFixture(t, 2048, func(c *Config) { c.PerWorkerSmallPages = false })

	// Delay publication so that competing workers fetch their own pages.
	f.alloc.onInstall = func(*page.Page) { time.Sleep(200 * time.Microsecond) }

	const (
		goroutines = 8
		perG       = 300
	)
	results := make([][]span, goroutines)

	var g errgroup.Group
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(i)))
			for j := 0; j < perG; j++ {
				size := uint64(8 + rng.Intn(int(CompactConfig.SmallObjectLimit)-8))
				addr, err := f.alloc.Alloc(i%CompactConfig.Workers, size, 0)
				if err != nil {
					return err
				}
				results[i] = append(results[i], span{addr, addr + size})
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var all []span
	for _, r := range results {
		all = append(all, r...)
	}
	require.Len(t, all, goroutines*perG)
	requireDisjoint(t, all)

	// Lost install races gave their pages back.
	s := f.alloc.Stats()
	require.Equal(t, s.Allocated-s.Undone, f.alloc.Used())
	require.Equal(t, int64(s.Used), f.source.Stats().BytesInUse)
}

func Test_ConcurrentMediumAllocsDoNotOverlap(t *testing.T) {
	f := newFixture(t, 2048, nil)

	const (
		goroutines = 8
		perG       = 60
	)
	minSize := CompactConfig.SmallObjectLimit + 1
	results := make([][]span, goroutines)

	var g errgroup.Group
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(100 + i)))
			for j := 0; j < perG; j++ {
				size := minSize + uint64(rng.Int63n(int64(CompactConfig.MediumObjectLimit-minSize)))
				addr, err := f.alloc.Alloc(i%CompactConfig.Workers, size, 0)
				if err != nil {
					return err
				}
				results[i] = append(results[i], span{addr, addr + size})
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var all []span
	for _, r := range results {
		all = append(all, r...)
	}
	requireDisjoint(t, all)

	s := f.alloc.Stats()
	pages := s.Allocated / CompactConfig.MediumPageSize
	require.Zero(t, s.Allocated%CompactConfig.MediumPageSize)
	require.LessOrEqual(t, pages, s.MediumTickets)
	require.Zero(t, s.Undone)
}

func Test_MediumStallReachesWaiters(t *testing.T) {
	src := &stallingSource{release: make(chan struct{})}
	a, err := New(CompactConfig, page.AgeEden, src, &safepoint.Sync{})
	require.NoError(t, err)

	size := CompactConfig.SmallObjectLimit * 2
	errs := make(chan error, 2)
	go func() {
		_, err := a.Alloc(0, size, 0)
		errs <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, 5*time.Second, time.Millisecond)

	go func() {
		_, err := a.Alloc(1, size, 0)
		errs <- err
	}()
	require.Eventually(t, func() bool { return a.Stats().MediumWaits == 1 }, 5*time.Second, time.Millisecond)

	close(src.release)
	require.ErrorIs(t, <-errs, ErrStalled)
	require.ErrorIs(t, <-errs, ErrStalled)
	require.Equal(t, int32(1), src.calls.Load(), "the waiter must not fetch a page itself")
}

func Test_MediumOutOfMemoryReleasesClaim(t *testing.T) {
	// Room for exactly one small page and no medium page.
	f := newFixture(t, 1, nil)

	_, err := f.alloc.AllocForRelocation(0, CompactConfig.SmallObjectLimit+1)
	require.ErrorIs(t, err, ErrOutOfMemory)
	require.False(t, f.alloc.mediumMu.Claimed())

	_, err = f.alloc.AllocForRelocation(0, 8)
	require.NoError(t, err)
}

func Test_LargeAllocErrors(t *testing.T) {
	f := newFixture(t, 2, nil)
	size := uint64(3 * testGranule)

	_, err := f.alloc.AllocForRelocation(0, size)
	require.ErrorIs(t, err, ErrOutOfMemory)
	require.False(t, errors.Is(err, ErrStalled))

	_, err = f.alloc.Alloc(0, size, 0)
	require.ErrorIs(t, err, ErrStalled)
	require.Zero(t, f.alloc.Used())
}

func Test_UsedIsAllocatedMinusUndone(t *testing.T) {
	f := newFixture(t, 512, nil)
	rng := rand.New(rand.NewSource(7))

	var allocated, undone uint64
	for i := 0; i < 40; i++ {
		size := CompactConfig.MediumObjectLimit + 1 + uint64(rng.Intn(4*testGranule))
		worker := i % CompactConfig.Workers
		addr, err := f.alloc.AllocForRelocation(worker, size)
		require.NoError(t, err)

		pageSize := page.AlignUp(size, testGranule)
		allocated += pageSize
		if i%3 == 0 {
			f.alloc.UndoForRelocation(worker, addr, size)
			undone += pageSize
		}
	}

	require.Equal(t, allocated-undone, f.alloc.Used())
	s := f.alloc.Stats()
	require.Equal(t, allocated, s.Allocated)
	require.Equal(t, undone, s.Undone)
	require.Equal(t, int64(allocated-undone), f.source.Stats().BytesInUse)
}

func Test_UndoForRelocationObjects(t *testing.T) {
	f := newFixture(t, 8, nil)

	a1, err := f.alloc.AllocForRelocation(0, 40)
	require.NoError(t, err)
	a2, err := f.alloc.AllocForRelocation(0, 40)
	require.NoError(t, err)

	// a1 is not the last object.
	f.alloc.UndoForRelocation(0, a1, 40)
	f.alloc.UndoForRelocation(0, a2, 40)
	f.alloc.UndoForRelocation(0, a1, 40)

	s := f.alloc.Stats()
	require.Equal(t, uint64(2), s.UndoSucceeded)
	require.Equal(t, uint64(1), s.UndoFailed)
	require.Equal(t, CompactConfig.SmallPageSize, f.alloc.Remaining(0))

	// Unmapped addresses only count as failures.
	f.alloc.UndoForRelocation(0, 1, 8)
	require.Equal(t, uint64(2), f.alloc.Stats().UndoFailed)
}

func Test_RetireAllRequiresPause(t *testing.T) {
	f := newFixture(t, 64, nil)

	_, err := f.alloc.Alloc(0, 64, 0)
	require.NoError(t, err)
	_, err = f.alloc.Alloc(0, CompactConfig.MediumObjectLimit, 0)
	require.NoError(t, err)

	require.Panics(t, f.alloc.RetireAll)

	f.sync.Begin()
	f.alloc.RetireAll()
	f.sync.End()

	require.Zero(t, f.alloc.Used())
	require.Zero(t, f.alloc.Remaining(0))
	require.Nil(t, f.alloc.medium.p.Load())

	// Allocation starts over on fresh pages.
	_, err = f.alloc.Alloc(0, 64, 0)
	require.NoError(t, err)
	require.Equal(t, CompactConfig.SmallPageSize, f.alloc.Used())
}

func Test_MediumAbortWakesWaiter(t *testing.T) {
	src := &failOnceSource{release: make(chan struct{})}
	a, err := New(CompactConfig, page.AgeEden, src, &safepoint.Sync{})
	require.NoError(t, err)

	size := CompactConfig.SmallObjectLimit * 2
	claimant := make(chan error, 1)
	go func() {
		_, err := a.Alloc(0, size, 0)
		claimant <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, 5*time.Second, time.Millisecond)

	waiter := make(chan error, 1)
	go func() {
		_, err := a.Alloc(1, size, 0)
		waiter <- err
	}()
	require.Eventually(t, func() bool { return a.Stats().MediumWaits == 1 }, 5*time.Second, time.Millisecond)

	close(src.release)
	require.ErrorIs(t, <-claimant, ErrOutOfMemory)

	// The aborted generation wakes the waiter, which claims and fetches its own page.
	require.NoError(t, <-waiter)
	require.Equal(t, int32(2), src.calls.Load())
	require.Equal(t, uint64(2), a.Stats().MediumTickets)
	require.False(t, a.mediumMu.Claimed())
}

func Test_NewRejectsMismatchedGranule(t *testing.T) {
	src, err := page.NewAllocator(page.Config{
		Base:     1 << 30,
		Capacity: 64 * 128 << 10,
		Granule:  128 << 10,
	})
	require.NoError(t, err)

	_, err = New(CompactConfig, page.AgeEden, src, &safepoint.Sync{})
	require.ErrorContains(t, err, "not a multiple of the page source granule")

	cfg := CompactConfig
	cfg.Granule = 128 << 10
	cfg.SmallPageSize = 128 << 10
	cfg.MediumPageSize = 1 << 20
	_, err = New(cfg, page.AgeEden, src, &safepoint.Sync{})
	require.NoError(t, err)
}

func Test_RejectedPageSizeIsBadSize(t *testing.T) {
	a, err := New(CompactConfig, page.AgeEden, rejectingSource{}, &safepoint.Sync{})
	require.NoError(t, err)

	for _, size := range []uint64{8, CompactConfig.SmallObjectLimit + 1, CompactConfig.MediumObjectLimit + 1} {
		_, err := a.Alloc(0, size, 0)
		require.ErrorIs(t, err, ErrBadSize, "size %d", size)
		require.ErrorIs(t, err, page.ErrBadSize, "size %d", size)
	}
	require.False(t, a.mediumMu.Claimed())
	require.Zero(t, a.Used())
}

// failOnceSource blocks its first request until release and fails it, then
// serves pages from a fixed range.
type failOnceSource struct {
	release chan struct{}
	calls   atomic.Int32
}

func (s *failOnceSource) AllocPage(req page.Request) (*page.Page, error) {
	if s.calls.Add(1) == 1 {
		<-s.release
		return nil, page.ErrOutOfMemory
	}
	return page.New(req.Type, req.Age, 1<<30, req.Size), nil
}

func (s *failOnceSource) UndoAllocPage(*page.Page) {}

func (s *failOnceSource) PageAt(page.Offset) *page.Page { return nil }

// rejectingSource refuses every page size.
type rejectingSource struct{}

func (rejectingSource) AllocPage(req page.Request) (*page.Page, error) {
	return nil, fmt.Errorf("%w: %d", page.ErrBadSize, req.Size)
}

func (rejectingSource) UndoAllocPage(*page.Page) {}

func (rejectingSource) PageAt(page.Offset) *page.Page { return nil }

type stallingSource struct {
	release chan struct{}
	calls   atomic.Int32
}

func (s *stallingSource) AllocPage(page.Request) (*page.Page, error) {
	s.calls.Add(1)
	<-s.release
	return nil, page.ErrStalled
}

func (s *stallingSource) UndoAllocPage(*page.Page) {}

func (s *stallingSource) PageAt(page.Offset) *page.Page { return nil }

func Benchmark_AllocSmall(b *testing.B) {
	f := newFixture(b, 4096, nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.alloc.Alloc(0, 48, 0); err != nil {
			b.StopTimer()
			f = newFixture(b, 4096, nil)
			b.StartTimer()
		}
	}
}
