// Package numa describes the NUMA and CPU layout of the host.
package numa

import (
	"fmt"
	"strconv"
	"strings"
)

// searchDepthPerNode scales the bounded free-list search with the node count.
const searchDepthPerNode = 3

// Static is a fixed topology.
type Static struct {
	Nodes       int // active nodes; NUMA is enabled when > 1
	SearchDepth int // 0 selects searchDepthPerNode * Nodes
}

// Enabled reports whether more than one node is active.
func (s Static) Enabled() bool { return s.Nodes > 1 }

// ActiveNodes returns the number of active nodes, at least 1.
func (s Static) ActiveNodes() int {
	if s.Nodes < 1 {
		return 1
	}
	return s.Nodes
}

// MaxSearchDepth returns how many list entries a node-affine search may visit.
func (s Static) MaxSearchDepth() int {
	if s.SearchDepth > 0 {
		return s.SearchDepth
	}
	return searchDepthPerNode * s.ActiveNodes()
}

func (s Static) String() string {
	return fmt.Sprintf("numa{nodes: %d, depth: %d}", s.ActiveNodes(), s.MaxSearchDepth())
}

// parseNodeList counts the ids in a kernel list such as "0-3,5".
func parseNodeList(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("numa: empty node list")
	}

	count := 0
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return 0, fmt.Errorf("numa: bad node list %q: %w", s, err)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil {
				return 0, fmt.Errorf("numa: bad node list %q: %w", s, err)
			}
		}
		if last < first {
			return 0, fmt.Errorf("numa: bad node range %q", part)
		}
		count += last - first + 1
	}
	return count, nil
}
