package main

import (
	"fmt"
	"math/rand"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/gcalloc/heap/region"
	"github.com/joshuapare/gcalloc/internal/numa"
	"github.com/joshuapare/gcalloc/internal/report"
)

var (
	regCount    int
	regCapacity string
	regNodes    int
	regRun      int
	regSeed     int64
	regContents bool
)

func init() {
	cmd := newRegionsCmd()
	cmd.Flags().IntVar(&regCount, "count", 64, "Regions in the heap")
	cmd.Flags().StringVar(&regCapacity, "capacity", "1MiB", "Region size")
	cmd.Flags().IntVar(&regNodes, "nodes", 0, "NUMA nodes (0 = detect from the host)")
	cmd.Flags().IntVar(&regRun, "run", 4, "Contiguous regions to take from the head of the list")
	cmd.Flags().Int64Var(&regSeed, "seed", 1, "Random seed")
	cmd.Flags().BoolVar(&regContents, "contents", false, "List every region in the free list")
	rootCmd.AddCommand(cmd)
}

func newRegionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "Build a NUMA-aware free region list and print it",
		Long: `The regions command builds a region table, frees every region into two
lists in random order, merges them by index, takes a contiguous run and one
region per node back out, returns them, and verifies and prints the list
after each step.

Example:
  gcalloc regions
  gcalloc regions --count 1024 --nodes 4 --run 16
  gcalloc regions --contents`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegions(cmd)
		},
	}
}

func runRegions(cmd *cobra.Command) error {
	capacity, err := humanize.ParseBytes(regCapacity)
	if err != nil {
		return fmt.Errorf("invalid --capacity: %w", err)
	}
	if regCount < 1 {
		return fmt.Errorf("--count must be positive")
	}
	if regRun < 0 || regRun > regCount {
		return fmt.Errorf("--run %d out of [0,%d]", regRun, regCount)
	}

	topo := numa.Detect()
	if regNodes > 0 {
		topo = numa.Static{Nodes: regNodes}
	}
	printVerbose(cmd, "Topology: %s\n", topo)

	table := region.NewTable(regCount, capacity, topo)
	cleanup := region.NewPhase("cleanup")
	cleanup.Enter()
	defer cleanup.Exit()

	free := region.NewFreeList("Free list", table, region.FreeChecker{}, cleanup)
	reclaimed := region.NewFreeList("Reclaimed", table, region.FreeChecker{}, cleanup)

	rng := rand.New(rand.NewSource(regSeed))
	for i, idx := range rng.Perm(regCount) {
		if i%2 == 0 {
			free.AddOrdered(region.Handle(idx))
		} else {
			reclaimed.AddOrdered(region.Handle(idx))
		}
	}
	free.AddOrderedList(reclaimed)
	free.Verify()

	// Take a run from the head and one region per node, as an allocation would.
	var taken []region.Handle
	if regRun > 0 {
		for h := free.Head(); h != region.NoHandle && len(taken) < regRun; h = free.Next(h) {
			taken = append(taken, h)
		}
		free.RemoveStartingAt(taken[0], uint32(regRun))
	}
	var nodeMisses int
	if topo.Enabled() {
		for node := 0; node < topo.ActiveNodes(); node++ {
			if h, ok := free.RemoveWithNodeIndex(true, uint32(node)); ok {
				taken = append(taken, h)
			} else {
				nodeMisses++
			}
		}
	}
	for _, h := range taken {
		table.MarkUsed(h, capacity/2)
	}
	free.Verify()
	lengthAfterTake := free.Length()

	// Return the taken regions through a scratch list.
	returned := region.NewFreeList("Returned", table, region.FreeChecker{}, cleanup)
	for _, h := range taken {
		table.MarkFree(h)
		returned.AddOrdered(h)
	}
	free.AddOrderedList(returned)
	free.Verify()

	if !jsonOut {
		free.Print(output(cmd), regContents)
	}

	r := report.New("Free region list")
	r.Section("Table").
		Add("Regions", table.Len()).
		Add("Region size", report.Bytes(capacity)).
		Add("NUMA nodes", topo.ActiveNodes()).
		Add("Search depth", topo.MaxSearchDepth())
	r.Section("Workload").
		Add("Taken", len(taken)).
		Add("Length after take", lengthAfterTake).
		Add("Node searches missed", nodeMisses).
		Add("Final length", free.Length())
	if topo.Enabled() {
		nodes := r.Section("Nodes")
		for node := 0; node < topo.ActiveNodes(); node++ {
			nodes.Add(fmt.Sprintf("Node %d", node), free.NodeLength(uint32(node)))
		}
	}
	return writeReport(cmd, r)
}
