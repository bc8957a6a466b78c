// Package cache provides demand cache modeling using Akita cache
// components, with pluggable replacement policies and an attached
// spatial prefetcher.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/oosim/access"
	"github.com/sarchlab/oosim/prefetch"
	"github.com/sarchlab/oosim/replacement"
)

// Config holds cache configuration parameters.
type Config struct {
	// Name identifies the cache level (L1D, L2C, LLC, ...); replacement
	// policies configured from the environment key off it.
	Name string
	// Size in bytes
	Size int
	// Associativity (number of ways)
	Associativity int
	// BlockSize in bytes (cache line size)
	BlockSize int
	// HitLatency in cycles
	HitLatency uint64
	// MissLatency in cycles (includes memory access time)
	MissLatency uint64
	// PQSize is the prefetch queue capacity.
	PQSize int
	// MSHRSize is the miss status holding register capacity.
	MSHRSize int
}

// DefaultLLCConfig returns the configuration the driver uses for the
// last-level cache: 2MB, 16-way, 64B lines.
func DefaultLLCConfig() Config {
	return Config{
		Name:          "LLC",
		Size:          2 * 1024 * 1024,
		Associativity: 16,
		BlockSize:     64,
		HitLatency:    30,
		MissLatency:   150,
		PQSize:        16,
		MSHRSize:      32,
	}
}

// DefaultL1DConfig returns the configuration the driver uses for the L1
// data cache: 48KB, 12-way, 64B lines.
func DefaultL1DConfig() Config {
	return Config{
		Name:          "cpu0_L1D",
		Size:          48 * 1024,
		Associativity: 12,
		BlockSize:     64,
		HitLatency:    4,
		MissLatency:   30,
		PQSize:        8,
		MSHRSize:      16,
	}
}

// AccessResult contains the result of a cache access.
type AccessResult struct {
	// Hit indicates whether the access was a cache hit.
	Hit bool
	// Latency is the number of cycles this access takes.
	Latency uint64
	// Data is the data read (for load operations).
	Data uint64
	// Evicted is true if a valid block was evicted.
	Evicted bool
	// EvictedAddr is the address of the evicted block (if Evicted is true).
	EvictedAddr uint64
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads         uint64
	Writes        uint64
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Writebacks    uint64
	Prefetches    uint64
	PrefetchDrops uint64
	PrefetchHits  uint64
	PrefetchFills uint64
}

// BackingStore interface for the next level in the memory hierarchy.
type BackingStore interface {
	// Read fetches data from the backing store.
	Read(addr uint64, size int) []byte
	// Write stores data to the backing store.
	Write(addr uint64, data []byte)
}

// Cache represents a demand cache using Akita cache components, driving
// a replacement policy on every access and an optional prefetcher on
// every demand load.
type Cache struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	// Victim selection adapter bridging the directory to the policy.
	finder *policyVictimFinder

	policy     replacement.Policy
	prefetcher prefetch.Prefetcher

	// Data storage - indexed by (setID * associativity + wayID)
	dataStore [][]byte

	// Prefetch queue and MSHR occupancy model.
	pq   []prefetchRequest
	mshr []uint64

	backing BackingStore

	// Marks lines filled by prefetch and not yet demanded.
	prefetched map[uint64]bool

	stats Statistics
}

type prefetchRequest struct {
	addr          uint64
	fillThisLevel bool
	metadata      uint32
}

// New creates a cache with the given configuration and replacement
// policy. The policy receives every victim search and state update.
func New(config Config, backing BackingStore, policy replacement.Policy) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	totalBlocks := numSets * config.Associativity

	dataStore := make([][]byte, totalBlocks)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.BlockSize)
	}

	finder := &policyVictimFinder{policy: policy}
	c := &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			finder,
		),
		finder:     finder,
		policy:     policy,
		backing:    backing,
		dataStore:  dataStore,
		prefetched: make(map[uint64]bool),
	}
	return c
}

// AttachPrefetcher wires a prefetcher into the cache's demand path.
func (c *Cache) AttachPrefetcher(p prefetch.Prefetcher) {
	c.prefetcher = p
}

// Config returns the cache configuration.
func (c *Cache) Config() Config { return c.config }

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics { return c.stats }

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() { c.stats = Statistics{} }

// blockIndex computes the index into dataStore for a block.
func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) blockAddr(addr uint64) uint64 {
	return addr / uint64(c.config.BlockSize) * uint64(c.config.BlockSize)
}

// PQOccupancy returns the prefetch queue occupancy.
func (c *Cache) PQOccupancy() int { return len(c.pq) }

// PQSize returns the prefetch queue capacity.
func (c *Cache) PQSize() int { return c.config.PQSize }

// MSHROccupancy returns the miss status holding register occupancy.
func (c *Cache) MSHROccupancy() int { return len(c.mshr) }

// MSHRSize returns the miss status holding register capacity.
func (c *Cache) MSHRSize() int { return c.config.MSHRSize }

// PrefetchLine accepts a prefetch request into the queue. It reports
// false when the queue is full; the emitter retries later.
func (c *Cache) PrefetchLine(addr uint64, fillThisLevel bool, metadata uint32) bool {
	if len(c.pq) >= c.config.PQSize {
		c.stats.PrefetchDrops++
		return false
	}
	c.pq = append(c.pq, prefetchRequest{addr, fillThisLevel, metadata})
	return true
}

// Read performs a demand read.
func (c *Cache) Read(cpu int, instrID uint64, addr uint64, size int, ip uint64) AccessResult {
	c.stats.Reads++
	result := c.demandAccess(cpu, instrID, addr, size, ip, access.Load, false, 0)
	c.drain()
	return result
}

// Write performs a demand write with write-allocate.
func (c *Cache) Write(cpu int, instrID uint64, addr uint64, size int, data uint64, ip uint64) AccessResult {
	c.stats.Writes++
	result := c.demandAccess(cpu, instrID, addr, size, ip, access.Write, true, data)
	c.drain()
	return result
}

func (c *Cache) demandAccess(cpu int, instrID uint64, addr uint64, size int, ip uint64,
	typ access.Type, isWrite bool, writeData uint64) AccessResult {

	blockAddr := c.blockAddr(addr)
	block := c.directory.Lookup(0, blockAddr)

	if block != nil && block.IsValid {
		c.stats.Hits++
		wasPrefetched := c.prefetched[blockAddr]
		if wasPrefetched {
			c.stats.PrefetchHits++
			delete(c.prefetched, blockAddr)
		}
		c.directory.Visit(block)
		c.policy.UpdateState(cpu, block.SetID, block.WayID, addr, ip, 0, typ, true)
		if c.prefetcher != nil {
			c.prefetcher.CacheOperate(addr, ip, true, wasPrefetched, typ, 0)
		}

		offset := addr % uint64(c.config.BlockSize)
		blockData := c.dataStore[c.blockIndex(block)]
		result := AccessResult{Hit: true, Latency: c.config.HitLatency}
		if isWrite {
			storeData(blockData, offset, size, writeData)
			block.IsDirty = true
		} else {
			result.Data = extractData(blockData, offset, size)
		}
		return result
	}

	c.stats.Misses++
	result := c.fill(cpu, instrID, addr, size, ip, typ, isWrite, writeData)
	if c.prefetcher != nil {
		c.prefetcher.CacheOperate(addr, ip, false, false, typ, 0)
	}
	return result
}

// fill handles a miss: the policy picks a victim, the line is fetched
// from the backing store, and the policy sees the insertion.
func (c *Cache) fill(cpu int, instrID uint64, addr uint64, size int, ip uint64,
	typ access.Type, isWrite bool, writeData uint64) AccessResult {

	result := AccessResult{Hit: false, Latency: c.config.MissLatency}
	blockAddr := c.blockAddr(addr)

	c.trackMiss(blockAddr)

	c.finder.setContext(cpu, instrID, ip, addr, typ)
	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return result
	}

	victimData := c.dataStore[c.blockIndex(victim)]
	var evictedAddr uint64

	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag
		evictedAddr = victim.Tag
		delete(c.prefetched, victim.Tag)

		// Writeback if dirty
		if victim.IsDirty && c.backing != nil {
			c.stats.Writebacks++
			c.backing.Write(victim.Tag, victimData)
		}
	}

	if c.backing != nil {
		copy(victimData, c.backing.Read(blockAddr, c.config.BlockSize))
	} else {
		for i := range victimData {
			victimData[i] = 0
		}
	}

	// Update block metadata - store block-aligned address as tag
	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = false

	c.policy.UpdateState(cpu, victim.SetID, victim.WayID, addr, ip, evictedAddr, typ, false)

	if isWrite {
		offset := addr % uint64(c.config.BlockSize)
		storeData(victimData, offset, size, writeData)
		victim.IsDirty = true
	} else {
		offset := addr % uint64(c.config.BlockSize)
		result.Data = extractData(victimData, offset, size)
	}

	c.directory.Visit(victim)

	if c.prefetcher != nil {
		c.prefetcher.CacheFill(blockAddr, victim.SetID, victim.WayID,
			typ == access.Prefetch, evictedAddr, 0)
	}

	return result
}

// trackMiss records an outstanding miss in the MSHR model.
func (c *Cache) trackMiss(blockAddr uint64) {
	if len(c.mshr) < c.config.MSHRSize {
		c.mshr = append(c.mshr, blockAddr)
	}
}

// drain retires queued prefetches and outstanding misses. The model is
// not cycle-accurate; a fixed number of requests completes per demand
// access, which is what gives the emitter real back-pressure.
func (c *Cache) drain() {
	const perAccess = 2

	for i := 0; i < perAccess && len(c.pq) > 0; i++ {
		req := c.pq[0]
		c.pq = c.pq[1:]
		c.prefetchFill(req)
	}
	for i := 0; i < perAccess && len(c.mshr) > 0; i++ {
		c.mshr = c.mshr[1:]
	}
}

// prefetchFill brings a prefetched line into the cache.
func (c *Cache) prefetchFill(req prefetchRequest) {
	c.stats.Prefetches++
	blockAddr := c.blockAddr(req.addr)

	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		return
	}
	if !req.fillThisLevel {
		// The line targets a lower level only; the miss traffic is
		// modelled but this cache is not filled.
		return
	}

	c.stats.PrefetchFills++
	c.fill(0, 0, req.addr, 0, 0, access.Prefetch, false, 0)
	c.prefetched[blockAddr] = true
}

// Invalidate marks a cache line as invalid.
func (c *Cache) Invalidate(addr uint64) {
	blockAddr := c.blockAddr(addr)
	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
		delete(c.prefetched, blockAddr)
	}
}

// Flush writes back all dirty blocks and invalidates them.
func (c *Cache) Flush() {
	sets := c.directory.GetSets()
	for _, set := range sets {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty && c.backing != nil {
				// Tag stores block-aligned address directly
				blockData := c.dataStore[c.blockIndex(block)]
				c.backing.Write(block.Tag, blockData)
				c.stats.Writebacks++
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
	c.prefetched = make(map[uint64]bool)
}

// Reset invalidates all cache lines without writeback and resets the
// replacement policy.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.policy.Initialize()
	c.stats = Statistics{}
	c.pq = nil
	c.mshr = nil
	c.prefetched = make(map[uint64]bool)
}

// extractData extracts a value of the given size from a byte slice.
func extractData(data []byte, offset uint64, size int) uint64 {
	if data == nil || int(offset)+size > len(data) {
		return 0
	}

	var result uint64
	for i := 0; i < size; i++ {
		result |= uint64(data[int(offset)+i]) << (i * 8)
	}
	return result
}

// storeData stores a value of the given size into a byte slice.
func storeData(data []byte, offset uint64, size int, value uint64) {
	if data == nil || int(offset)+size > len(data) {
		return
	}

	for i := 0; i < size; i++ {
		data[int(offset)+i] = byte(value >> (i * 8))
	}
}
