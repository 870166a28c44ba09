// Package invariant provides fatal consistency checks for internal data structures.
//
// Assert checks are diagnostic: they run in the default build and compile to
// nothing when the module is built with the "release" tag. Guarantee checks run
// in every build.
//
// A failed check panics with a *Violation. These checks guard internal
// invariants that no caller input can reach, so a failure means the allocator
// state is corrupt and continuing is unsafe.
package invariant

import "fmt"

// Violation describes a failed invariant check.
type Violation struct {
	Msg string
}

func (v *Violation) Error() string {
	return "invariant violated: " + v.Msg
}

// Assert panics with a Violation when cond is false. It is a no-op in release builds.
func Assert(cond bool, format string, args ...any) {
	if Enabled && !cond {
		panic(&Violation{Msg: fmt.Sprintf(format, args...)})
	}
}

// Guarantee panics with a Violation when cond is false, in every build.
func Guarantee(cond bool, format string, args ...any) {
	if !cond {
		panic(&Violation{Msg: fmt.Sprintf(format, args...)})
	}
}
