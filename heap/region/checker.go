package region

import (
	"sync/atomic"

	"github.com/joshuapare/gcalloc/internal/invariant"
)

// Checker validates that a region has the type a set expects.
type Checker interface {
	IsCorrectType(r *Region) bool
	Description() string
}

// FreeChecker accepts only regions typed free.
type FreeChecker struct{}

func (FreeChecker) IsCorrectType(r *Region) bool { return r.IsFree() }
func (FreeChecker) Description() string          { return "Free Regions" }

// MTSafety asserts that the caller may touch a set. It is a check, not a lock.
type MTSafety interface {
	Check()
}

// NopSafety performs no check.
type NopSafety struct{}

func (NopSafety) Check() {}

// Phase is an MTSafety that passes only while a collector phase owns the set.
type Phase struct {
	name   string
	active atomic.Bool
}

// NewPhase creates an inactive phase.
func NewPhase(name string) *Phase {
	return &Phase{name: name}
}

// Enter marks the phase active. Entering an active phase is fatal.
func (p *Phase) Enter() {
	invariant.Guarantee(p.active.CompareAndSwap(false, true), "region: phase %s entered twice", p.name)
}

// Exit marks the phase inactive.
func (p *Phase) Exit() {
	invariant.Guarantee(p.active.CompareAndSwap(true, false), "region: phase %s exited while inactive", p.name)
}

// Active reports whether the phase is active.
func (p *Phase) Active() bool { return p.active.Load() }

func (p *Phase) Check() {
	invariant.Assert(p.active.Load(), "region: set accessed outside phase %s", p.name)
}
