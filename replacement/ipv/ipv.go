// Package ipv implements an RRIP-style replacement policy parameterised
// by two insertion-and-promotion vectors, one for demand accesses and
// one for prefetches. vector[i] gives the next RRPV when promoting a
// line from RRPV i; vector[len-1] doubles as the insertion RRPV.
package ipv

import (
	"fmt"
	"math/rand"

	"github.com/sarchlab/oosim/access"
	"github.com/sarchlab/oosim/replacement"
)

// set holds the per-way RRPVs of one cache set.
type set struct {
	rrpvs []uint32
}

func newSet(ways int, maxRRPV uint32) *set {
	s := &set{rrpvs: make([]uint32, ways)}
	for i := range s.rrpvs {
		s.rrpvs[i] = maxRRPV
	}
	return s
}

// Policy is the IPV replacement policy for one cache.
type Policy struct {
	name    string
	numSets int
	numWays int

	demand   []uint32
	prefetch []uint32

	sets []*set
	rng  *rand.Rand
}

// New creates an IPV policy with explicit vectors. The vectors must
// have equal nonzero length and all values below that length.
func New(name string, numSets, numWays int, demand, prefetch []uint32) (*Policy, error) {
	if len(demand) == 0 || len(demand) != len(prefetch) {
		return nil, fmt.Errorf(
			"ipv %s: demand and prefetch vectors must have the same nonzero length", name)
	}
	for _, v := range append(append([]uint32{}, demand...), prefetch...) {
		if v >= uint32(len(demand)) {
			return nil, fmt.Errorf(
				"ipv %s: RRPV values must be within [0, %d]", name, len(demand)-1)
		}
	}

	p := &Policy{
		name:     name,
		numSets:  numSets,
		numWays:  numWays,
		demand:   append([]uint32(nil), demand...),
		prefetch: append([]uint32(nil), prefetch...),
		rng:      rand.New(rand.NewSource(1)),
	}
	p.Initialize()
	return p, nil
}

// NewFromEnv creates an IPV policy configured from the cache's
// environment variable (L1I_IPV, L1D_IPV, L2C_IPV, or LLC_IPV,
// selected by name substring).
func NewFromEnv(name string, numSets, numWays int) (*Policy, error) {
	demand, prefetch, err := replacement.IPVFromEnv(name)
	if err != nil {
		return nil, fmt.Errorf("ipv %s: %w", name, err)
	}
	return New(name, numSets, numWays, demand, prefetch)
}

// Initialize resets every way to the maximum RRPV.
func (p *Policy) Initialize() {
	maxRRPV := uint32(len(p.demand) - 1)
	p.sets = make([]*set, p.numSets)
	for i := range p.sets {
		p.sets[i] = newSet(p.numWays, maxRRPV)
	}
}

// maxRRPV returns the highest valid RRPV state.
func (p *Policy) maxRRPV() uint32 { return uint32(len(p.demand) - 1) }

// FindVictim picks the way with the maximum RRPV, aging all ways
// uniformly until one reaches the maximum state, and breaking ties
// uniformly at random.
func (p *Policy) FindVictim(cpu int, instrID uint64, setIdx int, currentSet []replacement.Line,
	ip, fullAddr uint64, accessType access.Type) int {

	s := p.sets[setIdx]
	maxValid := p.maxRRPV()

	max := s.rrpvs[0]
	for _, v := range s.rrpvs[1:] {
		if v > max {
			max = v
		}
	}
	for max != maxValid {
		for i := range s.rrpvs {
			s.rrpvs[i]++
		}
		max++
	}

	var victims []int
	for i, v := range s.rrpvs {
		if v == max {
			victims = append(victims, i)
		}
	}
	return victims[p.rng.Intn(len(victims))]
}

// UpdateState promotes a hit or inserts a fill through the vector
// matching the access kind.
func (p *Policy) UpdateState(cpu, setIdx, way int, fullAddr, ip, victimAddr uint64,
	accessType access.Type, hit bool) {

	s := p.sets[setIdx]
	vector := p.demand
	if accessType == access.Prefetch {
		vector = p.prefetch
	}

	if hit {
		s.rrpvs[way] = vector[s.rrpvs[way]]
	} else {
		s.rrpvs[way] = vector[len(vector)-1]
	}
}

// RRPV exposes the current state of one way.
func (p *Policy) RRPV(setIdx, way int) uint32 { return p.sets[setIdx].rrpvs[way] }

// FinalStats prints the configured vectors.
func (p *Policy) FinalStats() {
	fmt.Printf("[%s] Demand IPV:", p.name)
	for _, v := range p.demand {
		fmt.Printf(" %d", v)
	}
	fmt.Printf(" Prefetch IPV:")
	for _, v := range p.prefetch {
		fmt.Printf(" %d", v)
	}
	fmt.Println()
}
