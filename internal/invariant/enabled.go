//go:build !release

package invariant

// Enabled reports whether diagnostic assertions are compiled in.
const Enabled = true
