//go:build !linux

package numa

import "runtime"

// Detect returns a single-node topology on platforms without sysfs.
func Detect() Static {
	return Static{Nodes: 1}
}

// UsableCPUs returns the number of logical CPUs.
func UsableCPUs() int {
	return runtime.NumCPU()
}
