// Package mockingjay implements a sampled reuse-distance replacement
// policy. A sampled subset of sets records (tag, PC signature,
// timestamp) triples; re-accesses of sampled lines measure reuse
// distances that train a per-signature reuse-distance predictor. Each
// cache way carries a signed estimated-time-to-reuse counter; the way
// with the largest magnitude is the victim, and on a per-set clock the
// other ways' unsaturated counters count down by one, going negative
// once a line is overdue.
package mockingjay

import (
	"math"

	"github.com/sarchlab/oosim/access"
	"github.com/sarchlab/oosim/replacement"
)

// Compile-time tuning constants.
const (
	history              = 8
	granularity          = 8
	sampledCacheWays     = 5
	log2SampledCacheSets = 4
	timestampBits        = 8
)

// sampledLine is one way of the sampled cache.
type sampledLine struct {
	valid     bool
	tag       uint64
	signature uint64
	timestamp int
}

// Policy is the Mockingjay replacement policy for one cache.
type Policy struct {
	numSets int
	numWays int
	numCPUs int

	log2Sets        int
	log2Size        int
	log2SampledSets int
	sampledTagBits  int
	sigBits         int

	infRD  int
	infETR int
	maxRD  int

	tempDifference float64
	flexminPenalty float64

	etr              []int
	etrClock         []int
	currentTimestamp []int

	rdp          map[uint64]int
	sampledCache map[uint32][]sampledLine
}

const log2BlockSize = 6

// New creates a Mockingjay policy for a cache with the given geometry.
func New(numSets, numWays, numCPUs int) *Policy {
	p := &Policy{
		numSets: numSets,
		numWays: numWays,
		numCPUs: numCPUs,
	}

	p.log2Sets = log2(numSets)
	p.log2Size = p.log2Sets + log2(numWays) + log2BlockSize
	p.log2SampledSets = max(0, p.log2Size-16)
	p.sampledTagBits = max(1, 31-p.log2Size)
	p.sigBits = max(1, p.log2Size-10)

	p.infRD = numWays*history - 1
	p.infETR = numWays*history/granularity - 1
	p.maxRD = p.infRD - 22

	p.tempDifference = 1.0 / 16.0
	p.flexminPenalty = 2.0 - math.Log2(float64(numCPUs))/4.0

	p.Initialize()
	return p
}

func log2(v int) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Initialize resets all reuse state and allocates the sampled sets.
func (p *Policy) Initialize() {
	p.etr = make([]int, p.numSets*p.numWays)
	p.etrClock = make([]int, p.numSets)
	p.currentTimestamp = make([]int, p.numSets)
	for i := range p.etrClock {
		p.etrClock[i] = granularity
	}
	p.rdp = make(map[uint64]int)
	p.sampledCache = make(map[uint32][]sampledLine)

	modifier := uint32(0)
	if p.log2Sets > 0 {
		modifier = 1 << p.log2Sets
	}
	limit := uint32(1)
	if p.log2SampledSets > 0 {
		limit = 1 << p.log2SampledSets
	}

	for set := 0; set < p.numSets; set++ {
		if !p.isSampledSet(uint32(set)) {
			continue
		}
		for i := uint32(0); i < limit; i++ {
			idx := uint32(set) + modifier*i
			p.sampledCache[idx] = make([]sampledLine, sampledCacheWays)
		}
	}
}

// isSampledSet selects which sets feed the reuse-distance sampler.
func (p *Policy) isSampledSet(set uint32) bool {
	if p.log2SampledSets <= 0 || p.log2Sets <= p.log2SampledSets {
		return false
	}
	maskLength := p.log2Sets - p.log2SampledSets
	mask := uint32(1)<<maskLength - 1
	return set&mask == (set>>(p.log2Sets-maskLength))&mask
}

// crcHash scrambles a block address.
func crcHash(blockAddress uint64) uint64 {
	const crcPolynomial = 3988292384
	value := blockAddress
	for i := 0; i < 3; i++ {
		if value&1 == 1 {
			value = (value >> 1) ^ crcPolynomial
		} else {
			value >>= 1
		}
	}
	return value
}

// pcSignature condenses a PC plus access facts into the predictor key.
func (p *Policy) pcSignature(pc uint64, hit, isPrefetch bool, core int) uint64 {
	if p.numCPUs == 1 {
		pc <<= 1
		if hit {
			pc |= 1
		}
		pc <<= 1
		if isPrefetch {
			pc |= 1
		}
	} else {
		pc <<= 1
		if isPrefetch {
			pc |= 1
		}
		pc = (pc << 2) | uint64(core&3)
	}
	pc = crcHash(pc)
	pc = (pc << (64 - uint(p.sigBits))) >> (64 - uint(p.sigBits))
	return pc
}

func (p *Policy) sampledCacheIndex(fullAddr uint64) uint32 {
	fullAddr >>= log2BlockSize
	bits := log2SampledCacheSets + p.log2Sets
	if bits >= 64 {
		return uint32(fullAddr)
	}
	fullAddr = (fullAddr << (64 - uint(bits))) >> (64 - uint(bits))
	return uint32(fullAddr)
}

func (p *Policy) sampledCacheTag(fullAddr uint64) uint64 {
	fullAddr >>= uint(p.log2Sets + log2BlockSize + log2SampledCacheSets)
	fullAddr = (fullAddr << (64 - uint(p.sampledTagBits))) >> (64 - uint(p.sampledTagBits))
	return fullAddr
}

func (p *Policy) searchSampledCache(tag uint64, set uint32) int {
	lines, ok := p.sampledCache[set]
	if !ok {
		return -1
	}
	for way := range lines {
		if lines[way].valid && lines[way].tag == tag {
			return way
		}
	}
	return -1
}

// detrain ages out a sampled line that was never re-accessed, pushing
// its signature's predicted reuse toward infinite.
func (p *Policy) detrain(set uint32, way int) {
	lines, ok := p.sampledCache[set]
	if !ok || way < 0 || way >= sampledCacheWays {
		return
	}
	line := lines[way]
	if !line.valid {
		return
	}

	if rd, ok := p.rdp[line.signature]; ok {
		p.rdp[line.signature] = min(rd+1, p.infRD)
	} else {
		p.rdp[line.signature] = p.infRD
	}
	lines[way].valid = false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// temporalDifference blends a new reuse sample into a prediction,
// moving 1/16 of the gap capped at one step per sample.
func (p *Policy) temporalDifference(init, sample int) int {
	if sample > init {
		diff := int(float64(sample-init) * p.tempDifference)
		diff = min(1, diff)
		return min(init+diff, p.infRD)
	}
	if sample < init {
		diff := int(float64(init-sample) * p.tempDifference)
		diff = min(1, diff)
		return max(init-diff, 0)
	}
	return init
}

func incrementTimestamp(input int) int {
	return (input + 1) % (1 << timestampBits)
}

// timeElapsed measures the distance between two wrapping timestamps.
func timeElapsed(global, local int) int {
	if global >= local {
		return global - local
	}
	return global + (1 << timestampBits) - local
}

func (p *Policy) etrAt(set, way int) *int { return &p.etr[set*p.numWays+way] }

// FindVictim prefers an invalid way; otherwise it evicts the way with
// the largest estimated-time-to-reuse magnitude, preferring negative
// (overdue) values on ties. A predicted distant reuse for the incoming
// line could justify a bypass; the conservative choice keeps the chosen
// victim.
func (p *Policy) FindVictim(cpu int, instrID uint64, set int, currentSet []replacement.Line,
	ip, fullAddr uint64, accessType access.Type) int {

	for way := range currentSet {
		if !currentSet[way].Valid {
			return way
		}
	}

	maxETR := 0
	victimWay := 0
	for way := 0; way < p.numWays; way++ {
		val := *p.etrAt(set, way)
		abs := val
		if abs < 0 {
			abs = -abs
		}
		if abs > maxETR || (abs == maxETR && val < 0) {
			maxETR = abs
			victimWay = way
		}
	}

	return victimWay
}

// UpdateState trains the sampler and predictor and refreshes the ETR
// counters.
func (p *Policy) UpdateState(cpu, set, way int, fullAddr, ip, victimAddr uint64,
	accessType access.Type, hit bool) {

	if accessType == access.Write {
		if !hit {
			*p.etrAt(set, way) = -p.infETR
		}
		return
	}

	pcSig := p.pcSignature(ip, hit, accessType == access.Prefetch, cpu)

	if p.isSampledSet(uint32(set)) {
		sampledIndex := p.sampledCacheIndex(fullAddr)
		sampledTag := p.sampledCacheTag(fullAddr)
		sampledWay := p.searchSampledCache(sampledTag, sampledIndex)

		if sampledWay > -1 {
			lines := p.sampledCache[sampledIndex]
			lastSignature := lines[sampledWay].signature
			lastTimestamp := lines[sampledWay].timestamp
			sample := timeElapsed(p.currentTimestamp[set], lastTimestamp)

			if sample <= p.infRD {
				if accessType == access.Prefetch {
					sample = int(float64(sample) * p.flexminPenalty)
				}
				if init, ok := p.rdp[lastSignature]; ok {
					p.rdp[lastSignature] = p.temporalDifference(init, sample)
				} else {
					p.rdp[lastSignature] = sample
				}

				lines[sampledWay].valid = false
			}
		}

		if lines, ok := p.sampledCache[sampledIndex]; ok {
			lruWay := -1
			lruRD := -1
			for w := 0; w < sampledCacheWays; w++ {
				if !lines[w].valid {
					lruWay = w
					lruRD = p.infRD + 1
					continue
				}
				sample := timeElapsed(p.currentTimestamp[set], lines[w].timestamp)
				if sample > p.infRD {
					lruWay = w
					lruRD = p.infRD + 1
					p.detrain(sampledIndex, w)
				} else if sample > lruRD {
					lruWay = w
					lruRD = sample
				}
			}

			if lruWay >= 0 {
				p.detrain(sampledIndex, lruWay)
			}

			for w := 0; w < sampledCacheWays; w++ {
				if !lines[w].valid {
					lines[w].valid = true
					lines[w].signature = pcSig
					lines[w].tag = sampledTag
					lines[w].timestamp = p.currentTimestamp[set]
					break
				}
			}
		}

		p.currentTimestamp[set] = incrementTimestamp(p.currentTimestamp[set])
	}

	// Every granularity accesses, every other unsaturated way in the
	// set ages by one.
	if p.etrClock[set] == granularity {
		for w := 0; w < p.numWays; w++ {
			v := p.etrAt(set, w)
			abs := *v
			if abs < 0 {
				abs = -abs
			}
			if w != way && abs < p.infETR {
				*v--
			}
		}
		p.etrClock[set] = 0
	}
	p.etrClock[set]++

	if way < p.numWays {
		if rd, ok := p.rdp[pcSig]; ok {
			if rd > p.maxRD {
				*p.etrAt(set, way) = p.infETR
			} else {
				*p.etrAt(set, way) = rd / granularity
			}
		} else {
			if p.numCPUs == 1 {
				*p.etrAt(set, way) = 0
			} else {
				*p.etrAt(set, way) = p.infETR
			}
		}
	}
}

// ETR exposes one way's estimated-time-to-reuse counter.
func (p *Policy) ETR(set, way int) int { return *p.etrAt(set, way) }

// InfETR exposes the counter saturation bound.
func (p *Policy) InfETR() int { return p.infETR }

// MaxRD exposes the maximum trainable reuse distance.
func (p *Policy) MaxRD() int { return p.maxRD }

// SetRDP seeds the reuse-distance predictor; exported for tests.
func (p *Policy) SetRDP(sig uint64, rd int) { p.rdp[sig] = rd }

// Signature exposes the PC signature computation; exported for tests.
func (p *Policy) Signature(pc uint64, hit, isPrefetch bool, core int) uint64 {
	return p.pcSignature(pc, hit, isPrefetch, core)
}

// FinalStats prints nothing; the host cache reports hit rates.
func (p *Policy) FinalStats() {}
