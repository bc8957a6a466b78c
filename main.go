// Package main provides the entry point for OOSim.
// OOSim is a trace-driven microarchitecture simulator focused on branch
// prediction, spatial prefetching, and cache replacement, built on the
// Akita cache components.
//
// For the full CLI, use: go run ./cmd/oosim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("OOSim - Microarchitecture Simulator")
	fmt.Println("Branch prediction, spatial prefetching, cache replacement")
	fmt.Println("")
	fmt.Println("Usage: oosim [options]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -predictor    Branch predictor (bimodal, tage-sc-l, bullseye, mpp)")
	fmt.Println("  -replacement  Replacement policy (ipv, mockingjay)")
	fmt.Println("  -prefetcher   Prefetcher (gaze, none)")
	fmt.Println("  -trace        Path to a trace file")
	fmt.Println("  -v            Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/oosim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/oosim' instead.")
	}
}
