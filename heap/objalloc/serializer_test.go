package objalloc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_SerializerOneClaimantPerTicket(t *testing.T) {
	const n = 32
	s := NewSerializer()

	var (
		claims    atomic.Int32
		completed atomic.Int32
		release   = make(chan struct{})
		start     = make(chan struct{})
		wg        sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			tk, ok := s.TryClaim()
			if ok {
				claims.Add(1)
				<-release
				s.Install()
				return
			}
			if s.Wait(tk) == Completed {
				completed.Add(1)
			}
		}()
	}

	close(start)
	require.Eventually(t, func() bool { return s.Waits() == n-1 }, 5*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), claims.Load())
	require.Equal(t, int32(n-1), completed.Load())
	require.Equal(t, uint64(1), s.Ticket())
	require.False(t, s.Claimed())
}

func Test_SerializerWaitAfterRetire(t *testing.T) {
	s := NewSerializer()

	_, ok := s.TryClaim()
	require.True(t, ok)

	late, ok := s.TryClaim()
	require.False(t, ok)
	require.Equal(t, uint64(0), late.Seq())

	s.Install()

	// The ticket has moved past late, so Wait must not block.
	done := make(chan Outcome, 1)
	go func() { done <- s.Wait(late) }()
	select {
	case out := <-done:
		require.Equal(t, Completed, out)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait blocked on a retired ticket")
	}

	require.Equal(t, Claimed, s.ClaimOrWait())
	s.Abort()
	require.Equal(t, uint64(2), s.Ticket())
}

func Test_SerializerStallReachesWaiters(t *testing.T) {
	s := NewSerializer()
	require.Equal(t, Claimed, s.ClaimOrWait())

	outcomes := make(chan Outcome, 4)
	for i := 0; i < cap(outcomes); i++ {
		go func() { outcomes <- s.ClaimOrWait() }()
	}
	require.Eventually(t, func() bool { return s.Waits() == 4 }, 5*time.Second, time.Millisecond)

	s.Stall()
	for i := 0; i < cap(outcomes); i++ {
		require.Equal(t, Stalled, <-outcomes)
	}

	// The next generation starts clean.
	require.Equal(t, Claimed, s.ClaimOrWait())
	s.Install()
}

func Test_SerializerRetireWithoutClaimPanics(t *testing.T) {
	s := NewSerializer()
	require.Panics(t, s.Install)
	require.Panics(t, s.Abort)
	require.Panics(t, s.Stall)
}

func Test_SerializerManyGenerations(t *testing.T) {
	const (
		workers = 8
		rounds  = 200
	)
	s := NewSerializer()

	var (
		inside atomic.Int32
		claims atomic.Int32
		wg     sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				if s.ClaimOrWait() != Claimed {
					continue
				}
				if inside.Add(1) != 1 {
					panic("two claimants at once")
				}
				claims.Add(1)
				inside.Add(-1)
				s.Install()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(claims.Load()), s.Ticket())
	require.False(t, s.Claimed())
}

func Test_OutcomeString(t *testing.T) {
	require.Equal(t, "claimed", Claimed.String())
	require.Equal(t, "completed", Completed.String())
	require.Equal(t, "stalled", Stalled.String())
	require.Equal(t, "Outcome(9)", Outcome(9).String())
}
