package objalloc

import (
	"fmt"
	"sync"

	"github.com/joshuapare/gcalloc/internal/invariant"
)

// Outcome is the result of claiming or waiting on a Serializer.
type Outcome uint8

const (
	// Claimed: the caller must allocate the page and then call Install, Abort or Stall.
	Claimed Outcome = iota
	// Completed: the claimant finished; retry the allocation.
	Completed
	// Stalled: the claimant's page allocation stalled; propagate the stall.
	Stalled
)

func (o Outcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case Completed:
		return "completed"
	case Stalled:
		return "stalled"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// generation is one claim lifetime. outcome is written before done is closed.
type generation struct {
	done    chan struct{}
	outcome Outcome
}

func newGeneration() *generation {
	return &generation{done: make(chan struct{})}
}

// Ticket identifies the generation a caller arrived in.
type Ticket struct {
	seq uint64
	gen *generation
}

// Seq returns the ticket number.
func (t Ticket) Seq() uint64 { return t.seq }

// Serializer lets one goroutine at a time allocate a replacement page while
// every other requester waits for that allocation to be retired.
//
// Each waiter blocks on the channel of its own generation, which is closed
// when the generation retires, so a wake-up never contends on the
// serializer's mutex.
type Serializer struct {
	mu      sync.Mutex
	claimed bool
	ticket  uint64 // number of retired generations
	gen     *generation
	waits   uint64
}

// NewSerializer creates an idle serializer at ticket 0.
func NewSerializer() *Serializer {
	return &Serializer{gen: newGeneration()}
}

// TryClaim claims the current generation if nobody holds it. Otherwise it
// returns the ticket to pass to Wait.
func (s *Serializer) TryClaim() (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Ticket{seq: s.ticket, gen: s.gen}
	if !s.claimed {
		s.claimed = true
		return t, true
	}
	s.waits++
	return t, false
}

// Wait blocks until the generation of t retires and returns how it ended.
// It returns at once if the serializer's ticket is already past t.
func (s *Serializer) Wait(t Ticket) Outcome {
	s.mu.Lock()
	if s.ticket > t.seq {
		s.mu.Unlock()
		return t.gen.outcome
	}
	s.mu.Unlock()

	<-t.gen.done
	return t.gen.outcome
}

// ClaimOrWait claims the serializer or waits for the current claimant.
func (s *Serializer) ClaimOrWait() Outcome {
	t, ok := s.TryClaim()
	if ok {
		return Claimed
	}
	return s.Wait(t)
}

// Install retires the claim after a page was installed.
func (s *Serializer) Install() { s.retire(Completed) }

// Abort retires the claim after the page allocation failed or was unnecessary.
func (s *Serializer) Abort() { s.retire(Completed) }

// Stall retires the claim after the page allocation stalled. Waiters of this
// generation observe Stalled.
func (s *Serializer) Stall() { s.retire(Stalled) }

func (s *Serializer) retire(outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invariant.Guarantee(s.claimed, "objalloc: retire of unclaimed serializer")

	g := s.gen
	g.outcome = outcome
	s.claimed = false
	s.ticket++
	s.gen = newGeneration()
	close(g.done)
}

// Ticket returns the number of retired generations.
func (s *Serializer) Ticket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticket
}

// Waits returns how many requesters found the serializer claimed.
func (s *Serializer) Waits() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waits
}

// Claimed reports whether a claimant currently holds the serializer.
func (s *Serializer) Claimed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimed
}
