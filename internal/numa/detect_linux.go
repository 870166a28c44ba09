//go:build linux

package numa

import (
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

const nodeOnlinePath = "/sys/devices/system/node/online"

// Detect reads the online node list from sysfs. It falls back to a single
// node when the list is unavailable.
func Detect() Static {
	data, err := os.ReadFile(nodeOnlinePath)
	if err != nil {
		return Static{Nodes: 1}
	}
	n, err := parseNodeList(string(data))
	if err != nil {
		return Static{Nodes: 1}
	}
	return Static{Nodes: n}
}

// UsableCPUs returns the number of CPUs in the process affinity mask.
func UsableCPUs() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return runtime.NumCPU()
	}
	if n := set.Count(); n > 0 {
		return n
	}
	return runtime.NumCPU()
}
