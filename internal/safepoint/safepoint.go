// Package safepoint provides a global pause shared by allocating goroutines
// and the goroutine that needs the world stopped.
//
// Allocating goroutines bracket their work with Enter and Leave. Begin waits
// for every such bracket to finish and blocks new ones until End. While
// paused, Paused reports true.
package safepoint

import (
	"sync"
	"sync/atomic"
)

// Sync is a global pause.
type Sync struct {
	mu     sync.RWMutex
	paused atomic.Bool
}

// Enter marks the start of mutator work. It blocks while the world is paused.
func (s *Sync) Enter() { s.mu.RLock() }

// Leave marks the end of mutator work.
func (s *Sync) Leave() { s.mu.RUnlock() }

// Begin stops the world: it waits for all mutator work to leave.
func (s *Sync) Begin() {
	s.mu.Lock()
	s.paused.Store(true)
}

// End resumes the world.
func (s *Sync) End() {
	s.paused.Store(false)
	s.mu.Unlock()
}

// Paused reports whether the world is stopped.
func (s *Sync) Paused() bool { return s.paused.Load() }
