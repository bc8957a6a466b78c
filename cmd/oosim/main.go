// Package main provides the entry point for OOSim.
// OOSim is a trace-driven microarchitecture simulator focused on branch
// prediction, spatial prefetching, and cache replacement.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/oosim/branch"
	"github.com/sarchlab/oosim/branch/bimodal"
	"github.com/sarchlab/oosim/branch/bullseye"
	"github.com/sarchlab/oosim/branch/mpp"
	"github.com/sarchlab/oosim/branch/tagescl"
	"github.com/sarchlab/oosim/prefetch/gaze"
	"github.com/sarchlab/oosim/replacement"
	"github.com/sarchlab/oosim/replacement/ipv"
	"github.com/sarchlab/oosim/replacement/mockingjay"
	"github.com/sarchlab/oosim/timing/cache"
)

var (
	predictorName   = flag.String("predictor", "tage-sc-l", "Branch predictor: bimodal, tage-sc-l, bullseye, mpp")
	replacementName = flag.String("replacement", "ipv", "Replacement policy: ipv, mockingjay")
	prefetcherName  = flag.String("prefetcher", "gaze", "Prefetcher: gaze, none")
	tracePath       = flag.String("trace", "", "Path to a trace file (synthetic workload if empty)")
	numBranches     = flag.Int("branches", 1000000, "Synthetic workload: number of branches")
	numAccesses     = flag.Int("accesses", 1000000, "Synthetic workload: number of memory accesses")
	verbose         = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	runID := xid.New()
	if *verbose {
		fmt.Printf("OOSim run %s\n", runID)
	}

	predictor, err := makePredictor(*predictorName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}
	predictor.Initialize()

	llc, err := makeCache(*replacementName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}

	if *prefetcherName == "gaze" {
		pf := gaze.New(llc)
		pf.Initialize()
		llc.AttachPrefetcher(pf)
		atexit.Register(pf.FinalStats)
	}

	atexit.Register(predictor.FinalStats)

	var stats runStats
	if *tracePath != "" {
		stats, err = runTrace(*tracePath, predictor, llc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			atexit.Exit(1)
		}
	} else {
		stats = runSynthetic(predictor, llc, *numBranches, *numAccesses)
	}

	printReport(runID.String(), stats, llc.Stats())
	atexit.Exit(0)
}

func makePredictor(name string) (branch.Predictor, error) {
	switch name {
	case "bimodal":
		return bimodal.New(bimodal.DefaultConfig()), nil
	case "tage-sc-l":
		return tagescl.NewModule(), nil
	case "bullseye":
		return bullseye.New(), nil
	case "mpp":
		return mpp.New(), nil
	}
	return nil, fmt.Errorf("unknown predictor %q", name)
}

func makeCache(policyName string) (*cache.Cache, error) {
	config := cache.DefaultLLCConfig()
	numSets := config.Size / (config.Associativity * config.BlockSize)

	var policy replacement.Policy
	switch policyName {
	case "ipv":
		// Configured from the environment when set; the SRRIP-like
		// vectors are the fallback.
		if _, _, err := replacement.IPVFromEnv(config.Name); err == nil {
			p, err := ipv.NewFromEnv(config.Name, numSets, config.Associativity)
			if err != nil {
				return nil, err
			}
			policy = p
		} else {
			p, err := ipv.New(config.Name, numSets, config.Associativity,
				[]uint32{0, 0, 1, 2}, []uint32{0, 1, 2, 2})
			if err != nil {
				return nil, err
			}
			policy = p
		}
	case "mockingjay":
		policy = mockingjay.New(numSets, config.Associativity, 1)
	default:
		return nil, fmt.Errorf("unknown replacement policy %q", policyName)
	}

	atexit.Register(policy.FinalStats)
	return cache.New(config, cache.NewSparseMemory(), policy), nil
}

func printReport(runID string, stats runStats, cacheStats cache.Statistics) {
	header := color.New(color.FgCyan, color.Bold)
	header.Println("\n======== OOSim Report ========")
	fmt.Printf("run = %s\n", runID)

	fmt.Printf("branches = %d\n", stats.branches)
	if stats.branches > 0 {
		accuracy := float64(stats.correct) / float64(stats.branches) * 100
		mpki := float64(stats.branches-stats.correct) / float64(stats.branches) * 1000
		fmt.Printf("accuracy = %.3f%%\n", accuracy)
		fmt.Printf("mispredictions per 1000 branches = %.3f\n", mpki)
	}

	fmt.Printf("cache reads = %d\n", cacheStats.Reads)
	fmt.Printf("cache writes = %d\n", cacheStats.Writes)
	total := cacheStats.Hits + cacheStats.Misses
	if total > 0 {
		fmt.Printf("cache hit rate = %.3f%%\n",
			float64(cacheStats.Hits)/float64(total)*100)
	}
	fmt.Printf("prefetches issued = %d\n", cacheStats.Prefetches)
	fmt.Printf("prefetch hits = %d\n", cacheStats.PrefetchHits)

	good := color.New(color.FgGreen)
	good.Println("======== End of Report ========")
}
