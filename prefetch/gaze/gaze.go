// Package gaze implements a spatial prefetcher that learns per-region
// access patterns with their internal temporal order. Four cooperating
// tables drive it: a Filter Table sees the first touch of a region, an
// Accumulate Table records the pattern of an active region, a Pattern
// Table stores learned patterns keyed by the first two offsets, and a
// Prefetch Buffer walks a matched pattern and emits prefetches under
// queue back-pressure.
package gaze

import (
	"fmt"

	"github.com/sarchlab/oosim/access"
	"github.com/sarchlab/oosim/prefetch"
)

// Geometry and tuning constants.
const (
	RegionSize    = 4 * 1024
	BlockSize     = 64
	log2Region    = 12
	log2Block     = 6
	NumBlocks     = RegionSize / BlockSize
	regionOffMask = NumBlocks - 1

	ftSize = 64
	ftWays = 8
	atSize = 64
	atWays = 8
	ptWays = 4
	ptSize = ptWays * NumBlocks
	pbSize = 32
	pbWays = 8

	stridePFLookahead = 2
	stridePFDegree    = 4

	fillL1 = 1
	fillL2 = 2
)

func regionNum(blockNum uint64) uint64 { return blockNum >> (log2Region - log2Block) }

func regionOffset(blockNum uint64) uint64 { return blockNum & regionOffMask }

// filterData tracks the trigger access of a region not yet active.
type filterData struct {
	triggerOffset uint64
	pc            uint64
}

// accumulateData records the pattern being observed for an active
// region.
type accumulateData struct {
	triggerOffset uint64
	secondOffset  uint64
	pc            uint64
	missedInPT    bool
	pattern       []bool
	order         []int

	lastStride int
	lastOffset uint64

	con bool

	timestamp int
}

// patternData is one learned pattern: per-offset fill levels and the
// training PC.
type patternData struct {
	pattern []int
	pc      uint64
	con     bool
}

// bufferData is one pending prefetch walk.
type bufferData struct {
	pattern  []int
	trigger  uint64
	second   uint64
	metadata []uint32
}

// filterTable keys regions by their folded region number, SRRIP recency.
type filterTable struct {
	*srripTable[filterData]
}

func newFilterTable(size, ways int) filterTable {
	return filterTable{newSRRIPTable[filterData](size, ways)}
}

func (t filterTable) key(region uint64) uint64 {
	return hashIndex(region&((1<<37)-1), t.indexLen)
}

func (t filterTable) lookup(region uint64) *tableEntry[filterData] {
	key := t.key(region)
	entry := t.find(key)
	if entry == nil {
		return nil
	}
	t.rpPromote(key)
	return entry
}

func (t filterTable) add(region, triggerOffset, pc uint64) {
	key := t.key(region)
	t.insert(key, filterData{triggerOffset: triggerOffset, pc: pc})
	t.rpInsert(key)
}

func (t filterTable) remove(region uint64) {
	t.erase(t.key(region))
}

// accumulateTable keys regions like the filter table, LRU recency.
type accumulateTable struct {
	*lruTable[accumulateData]
	stridePrefetch bool
}

func newAccumulateTable(size, ways int) *accumulateTable {
	return &accumulateTable{lruTable: newLRUTable[accumulateData](size, ways)}
}

func (t *accumulateTable) key(region uint64) uint64 {
	return hashIndex(region&((1<<37)-1), t.indexLen)
}

// setPattern extends the observed pattern of an active region at
// offset. A repeated stride on a pattern-miss or streaming region arms
// the stride prefetcher.
func (t *accumulateTable) setPattern(region, offset uint64) *tableEntry[accumulateData] {
	key := t.key(region)
	entry := t.find(key)
	if entry == nil {
		return nil
	}
	d := &entry.data
	if !d.pattern[offset] {
		d.timestamp++
		stride := int(offset) - int(d.lastOffset)
		if d.missedInPT || d.con {
			t.stridePrefetch = stride == d.lastStride
		}
		d.order[offset] = d.timestamp
		d.pattern[offset] = true
		d.lastOffset = offset
		d.lastStride = stride
	}
	t.rpPromote(key)
	return entry
}

// add activates a region with its first two offsets. The returned entry
// is a capacity victim to spill into the pattern table, if valid.
func (t *accumulateTable) add(region, triggerOffset, secondOffset, pc uint64,
	missedInPT, con bool) tableEntry[accumulateData] {

	key := t.key(region)
	pattern := make([]bool, NumBlocks)
	order := make([]int, NumBlocks)
	pattern[triggerOffset] = true
	pattern[secondOffset] = true
	order[triggerOffset] = 1
	order[secondOffset] = 2

	old := t.insert(key, accumulateData{
		triggerOffset: triggerOffset,
		secondOffset:  secondOffset,
		pc:            pc,
		missedInPT:    missedInPT,
		pattern:       pattern,
		order:         order,
		lastStride:    int(secondOffset) - int(triggerOffset),
		lastOffset:    secondOffset,
		con:           con,
		timestamp:     2,
	})
	t.rpInsert(key)
	return old
}

func (t *accumulateTable) remove(region uint64) (tableEntry[accumulateData], bool) {
	return t.erase(t.key(region))
}

// patternTable stores learned patterns keyed by (trigger, second). The
// spatial-streaming case (trigger 0, second 1) is handled by a global
// confidence counter and a short deque of streaming PCs instead of
// table entries.
type patternTable struct {
	*lruTable[patternData]

	conPC      []uint64
	conCounter int
}

func newPatternTable(size, ways int) *patternTable {
	return &patternTable{lruTable: newLRUTable[patternData](size, ways)}
}

func (t *patternTable) key(trigger, second uint64) uint64 {
	return (second << t.indexLen) | trigger
}

// learn stores an evicted accumulation pattern. All-set streaming
// patterns raise the streaming confidence and remember the PC; partial
// ones decay it.
func (t *patternTable) learn(trigger, second, pc uint64, pattern []bool) {
	allSet := true
	for _, b := range pattern {
		if !b {
			allSet = false
			break
		}
	}

	if trigger != 0 || second != 1 { // not spatial streaming
		key := t.key(trigger, second)
		ints := make([]int, NumBlocks)
		for i, b := range pattern {
			if b {
				ints[i] = fillL1
			}
		}
		t.insert(key, patternData{pattern: ints, pc: pc})
		t.rpInsert(key)
		return
	}

	if allSet {
		if t.conCounter < 8 {
			t.conCounter++
		}
		hashedPC := pcHashIndex(pc, 8, log2Block)
		found := false
		for _, x := range t.conPC {
			if x == hashedPC {
				found = true
				break
			}
		}
		if !found {
			if len(t.conPC) == 8 {
				t.conPC = t.conPC[:7]
			}
			t.conPC = append([]uint64{hashedPC}, t.conPC...)
		}
	} else {
		if t.conCounter > 2 {
			t.conCounter >>= 1
		} else if t.conCounter > 0 {
			t.conCounter--
		}
	}
}

// lookup finds the pattern for a region's first two offsets. The
// streaming case synthesizes a pattern from the confidence state: a
// saturated counter or a remembered PC maps the first quarter of the
// region to an L1 fill and the rest to L2; a merely warm counter maps
// only the first quarter to L2.
func (t *patternTable) lookup(trigger, second, pc uint64) *patternData {
	if trigger != 0 || second != 1 { // not spatial streaming
		entry := t.find(t.key(trigger, second))
		if entry == nil {
			return nil
		}
		return &entry.data
	}

	hashedPC := pcHashIndex(pc, 8, log2Block)
	remembered := false
	for _, x := range t.conPC {
		if x == hashedPC {
			remembered = true
			break
		}
	}

	if t.conCounter == 8 || remembered {
		ret := &patternData{pattern: make([]int, NumBlocks), con: true}
		for i := 0; i < NumBlocks/4; i++ {
			ret.pattern[i] = fillL1
		}
		for i := NumBlocks / 4; i < NumBlocks; i++ {
			ret.pattern[i] = fillL2
		}
		return ret
	}
	if t.conCounter > 2 {
		ret := &patternData{pattern: make([]int, NumBlocks), con: true}
		for i := 0; i < NumBlocks/4; i++ {
			ret.pattern[i] = fillL2
		}
		return ret
	}
	return nil
}

// prefetchBuffer holds matched patterns until their prefetches have been
// issued.
type prefetchBuffer struct {
	*lruTable[bufferData]
}

func newPrefetchBuffer(size, ways int) prefetchBuffer {
	return prefetchBuffer{newLRUTable[bufferData](size, ways)}
}

func (t prefetchBuffer) add(region uint64, pattern []int, trigger, second uint64, pfMetadata uint32) {
	key := region
	if pfMetadata&3 == 0 || pfMetadata&3 == 3 { // stride & promote
		entry := t.find(key)
		if entry == nil {
			meta := make([]uint32, NumBlocks)
			for i := range meta {
				meta[i] = pfMetadata
			}
			t.insert(key, bufferData{
				pattern:  append([]int(nil), pattern...),
				trigger:  trigger,
				second:   trigger,
				metadata: meta,
			})
			t.rpInsert(key)
			return
		}
		for i := 0; i < NumBlocks; i++ {
			if pattern[i] == fillL1 {
				if entry.data.pattern[i] != fillL1 && entry.data.metadata[i] == 2 {
					entry.data.metadata[i] = 3
				}
				entry.data.pattern[i] = fillL1
			}
		}
		t.rpPromote(key)
		return
	}

	meta := make([]uint32, NumBlocks)
	for i := range meta {
		meta[i] = pfMetadata
	}
	t.insert(key, bufferData{
		pattern:  append([]int(nil), pattern...),
		trigger:  trigger,
		second:   second,
		metadata: meta,
	})
	t.rpInsert(key)
}

// emit walks the region's pattern in rotated order from the accessed
// offset, issuing a prefetch for every live position except the two
// seeds. When the prefetch queue or MSHR would overflow it returns
// without erasing the entry so the walk resumes on the next access.
func (t prefetchBuffer) emit(host prefetch.Host, blockNum uint64) {
	offset := regionOffset(blockNum)
	region := regionNum(blockNum)
	entry := t.find(region)
	if entry == nil {
		return
	}
	t.rpPromote(region)

	pattern := entry.data.pattern
	trigger := entry.data.trigger
	second := entry.data.second

	pattern[offset] = 0
	for i := uint64(1); i < NumBlocks; i++ {
		pfOffset := (offset + i) % NumBlocks
		if pfOffset == trigger || pfOffset == second || pattern[pfOffset] == 0 {
			continue
		}

		if host.PQOccupancy()+host.MSHROccupancy() >= host.MSHRSize()-1 ||
			host.PQOccupancy() >= host.PQSize() {
			// Back-pressure: retry on the next access.
			return
		}

		pfAddr := (region << log2Region) + (pfOffset << log2Block)
		meta := entry.data.metadata[pfOffset]
		meta = addSourceLevel(meta, 1)
		if pattern[pfOffset] == fillL1 {
			meta = addDestLevel(meta, 1)
		} else {
			meta = addDestLevel(meta, 2)
		}

		fillThisLevel := pattern[pfOffset] == fillL1
		if host.PrefetchLine(pfAddr, fillThisLevel, meta) {
			pattern[pfOffset] = 0
		}
	}
	for i := uint64(0); i < NumBlocks; i++ {
		if i != trigger && i != second && pattern[i] != 0 {
			// A rejected line keeps its bit and the entry for a later walk.
			return
		}
	}
	t.erase(region)
}

func addDestLevel(meta uint32, level uint32) uint32 { return meta | level<<30 }

func addSourceLevel(meta uint32, level uint32) uint32 { return meta | level<<28 }

// Stats counts prefetcher activity.
type Stats struct {
	Accesses         uint64
	PatternsLearned  uint64
	PatternHits      uint64
	StrideBursts     uint64
	IssuedPrefetches uint64
}

// Prefetcher is the spatial prefetcher module.
type Prefetcher struct {
	host prefetch.Host

	ft filterTable
	at *accumulateTable
	pt *patternTable
	pb prefetchBuffer

	stats Stats
}

// New creates an initialized prefetcher attached to its host cache.
func New(host prefetch.Host) *Prefetcher {
	return &Prefetcher{
		host: host,
		ft:   newFilterTable(ftSize, ftWays),
		at:   newAccumulateTable(atSize, atWays),
		pt:   newPatternTable(ptSize, ptWays),
		pb:   newPrefetchBuffer(pbSize, pbWays),
	}
}

// Initialize prepares the prefetcher before the first access.
func (p *Prefetcher) Initialize() {}

// CacheOperate observes one demand access and may issue prefetches.
func (p *Prefetcher) CacheOperate(addr, ip uint64, cacheHit bool, usefulPrefetch bool,
	accessType access.Type, metadataIn uint32) uint32 {

	if accessType != access.Load {
		return metadataIn
	}

	blockNum := addr >> log2Block
	p.stats.Accesses++

	p.observe(blockNum, ip)
	p.emit(blockNum)

	return metadataIn
}

// observe advances the table state for one access.
func (p *Prefetcher) observe(blockNum, pc uint64) {
	region := regionNum(blockNum)
	offset := regionOffset(blockNum)

	if atEntry := p.at.setPattern(region, offset); atEntry != nil {
		if p.at.stridePrefetch {
			d := &atEntry.data
			stride := d.lastStride
			beginOffset := int(d.lastOffset)
			d.lastOffset = 0
			d.lastStride = 0

			pattern := make([]int, NumBlocks)
			for i := 1; i <= stridePFDegree; i++ {
				target := beginOffset + (i+stridePFLookahead)*stride
				if target >= 0 && target < NumBlocks && !d.pattern[target] {
					pattern[target] = fillL1
				}
			}
			if d.missedInPT {
				p.pb.add(region, pattern, uint64(beginOffset), uint64(beginOffset), 0)
			} else if d.con {
				p.pb.add(region, pattern, uint64(beginOffset), uint64(beginOffset), 3)
			}
			p.at.stridePrefetch = false
			p.stats.StrideBursts++
		}
		return
	}

	entry := p.ft.lookup(region)
	if entry == nil {
		p.ft.add(region, offset, pc)
		return
	}
	if entry.data.triggerOffset == offset {
		return
	}

	// Second touch of the region: look for a learned pattern and
	// activate accumulation.
	trigger := entry.data.triggerOffset
	triggerPC := entry.data.pc

	ptData := p.pt.lookup(trigger, offset, pc)
	patternEmpty := ptData == nil
	if !patternEmpty {
		live := 0
		for _, v := range ptData.pattern {
			if v != 0 {
				live++
			}
		}
		patternEmpty = live == 2
	}

	if !patternEmpty {
		pfMetadata := uint32(1)
		if ptData.con {
			pfMetadata = 2
		}
		p.pb.add(region, ptData.pattern, trigger, offset, pfMetadata)
		p.stats.PatternHits++
	}

	con := !patternEmpty && ptData.con
	atVictim := p.at.add(region, trigger, offset, triggerPC, patternEmpty, con)
	p.ft.remove(region)
	if atVictim.valid {
		p.learnPattern(atVictim.data)
	}
}

// learnPattern spills an evicted accumulation into the pattern table.
func (p *Prefetcher) learnPattern(d accumulateData) {
	p.pt.learn(d.triggerOffset, d.secondOffset, d.pc, d.pattern)
	p.stats.PatternsLearned++
}

// emit drains the prefetch buffer entry for this region, respecting
// host back-pressure.
func (p *Prefetcher) emit(blockNum uint64) {
	p.pb.emit(&countingHost{p}, blockNum)
}

// countingHost forwards to the real host and counts issued prefetches.
type countingHost struct{ p *Prefetcher }

func (h *countingHost) PQOccupancy() int   { return h.p.host.PQOccupancy() }
func (h *countingHost) PQSize() int        { return h.p.host.PQSize() }
func (h *countingHost) MSHROccupancy() int { return h.p.host.MSHROccupancy() }
func (h *countingHost) MSHRSize() int      { return h.p.host.MSHRSize() }

func (h *countingHost) PrefetchLine(addr uint64, fillThisLevel bool, metadata uint32) bool {
	ok := h.p.host.PrefetchLine(addr, fillThisLevel, metadata)
	if ok {
		h.p.stats.IssuedPrefetches++
	}
	return ok
}

// CacheFill retires a fill. The evicted line's region, if it was being
// tracked, spills its accumulated pattern into the pattern table.
func (p *Prefetcher) CacheFill(addr uint64, set, way int, isPrefetch bool,
	evictedAddr uint64, metadataIn uint32) uint32 {

	if evictedAddr != 0 {
		blockNum := evictedAddr >> log2Block
		region := regionNum(blockNum)
		p.ft.remove(region)
		if old, ok := p.at.remove(region); ok {
			p.learnPattern(old.data)
		}
	}
	return metadataIn
}

// CycleOperate is a no-op; the prefetcher acts on accesses only.
func (p *Prefetcher) CycleOperate() {}

// BranchOperate is a no-op; the prefetcher does not use branch state.
func (p *Prefetcher) BranchOperate(ip uint64, branchType byte, target uint64) {}

// Stats returns the prefetcher's counters.
func (p *Prefetcher) Stats() Stats { return p.stats }

// FinalStats prints the prefetcher's end-of-run report.
func (p *Prefetcher) FinalStats() {
	fmt.Println("======== Gaze Prefetcher ========")
	fmt.Printf("accesses = %d\n", p.stats.Accesses)
	fmt.Printf("patterns_learned = %d\n", p.stats.PatternsLearned)
	fmt.Printf("pattern_hits = %d\n", p.stats.PatternHits)
	fmt.Printf("stride_bursts = %d\n", p.stats.StrideBursts)
	fmt.Printf("issued_prefetches = %d\n", p.stats.IssuedPrefetches)
	fmt.Println("======== End of Statistics ========")
}
