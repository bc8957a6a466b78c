// Package prefetch defines the prefetcher module interface and the view
// of the host cache the emitters consult for back-pressure.
package prefetch

import "github.com/sarchlab/oosim/access"

// Host is the surface a prefetcher sees of its cache: queue occupancies
// for back-pressure and the prefetch issue callback.
type Host interface {
	// PQOccupancy returns the current prefetch queue occupancy.
	PQOccupancy() int
	// PQSize returns the prefetch queue capacity.
	PQSize() int
	// MSHROccupancy returns the current MSHR occupancy.
	MSHROccupancy() int
	// MSHRSize returns the MSHR capacity.
	MSHRSize() int

	// PrefetchLine issues a prefetch for the line holding addr. It
	// returns false when the request could not be accepted.
	PrefetchLine(addr uint64, fillThisLevel bool, metadata uint32) bool
}

// Prefetcher is the module interface the host cache drives.
type Prefetcher interface {
	// Initialize prepares the prefetcher before the first access.
	Initialize()

	// CacheOperate is called on every demand access. It may issue
	// prefetches through the host and returns the metadata to carry on
	// the access.
	CacheOperate(addr, ip uint64, cacheHit bool, usefulPrefetch bool,
		accessType access.Type, metadataIn uint32) uint32

	// CacheFill is called when a fill completes, with the victim's
	// address.
	CacheFill(addr uint64, set, way int, prefetch bool,
		evictedAddr uint64, metadataIn uint32) uint32

	// CycleOperate is called once per cycle.
	CycleOperate()

	// BranchOperate is called on branch outcomes.
	BranchOperate(ip uint64, branchType byte, target uint64)

	// FinalStats prints the prefetcher's end-of-run report.
	FinalStats()
}
