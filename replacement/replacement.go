// Package replacement defines the cache replacement policy interface
// and the IPV configuration surface.
package replacement

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/oosim/access"
)

// Line is the per-way state a policy may inspect during victim search.
type Line struct {
	Valid bool
	Tag   uint64
}

// Policy is the replacement module interface the host cache drives.
type Policy interface {
	// Initialize resets the policy state.
	Initialize()

	// FindVictim returns the way to evict for a miss in set. currentSet
	// exposes the per-way validity so policies can prefer empty ways.
	FindVictim(cpu int, instrID uint64, set int, currentSet []Line,
		ip, fullAddr uint64, accessType access.Type) int

	// UpdateState is called on every access, hit or fill.
	UpdateState(cpu, set, way int, fullAddr, ip, victimAddr uint64,
		accessType access.Type, hit bool)

	// FinalStats prints the policy's end-of-run report.
	FinalStats()
}

// ParseIPV parses an insertion-and-promotion-vector configuration string
// "<demand-ints>#<prefetch-ints>" into the two vectors. Both vectors
// must have the same length and every value must be a valid RRPV, i.e.
// below the vector length.
func ParseIPV(s string) (demand, prefetch []uint32, err error) {
	split := strings.SplitN(s, "#", 2)
	if len(split) != 2 {
		return nil, nil, fmt.Errorf(
			"illegal IPV %q: provide both demand and prefetch vectors", s)
	}

	parse := func(part string) ([]uint32, error) {
		var vals []uint32
		for _, field := range strings.Fields(part) {
			v, err := strconv.ParseUint(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("illegal IPV value %q: %w", field, err)
			}
			vals = append(vals, uint32(v))
		}
		return vals, nil
	}

	if demand, err = parse(split[0]); err != nil {
		return nil, nil, err
	}
	if prefetch, err = parse(split[1]); err != nil {
		return nil, nil, err
	}

	if len(demand) == 0 || len(demand) != len(prefetch) {
		return nil, nil, fmt.Errorf(
			"illegal IPV %q: demand and prefetch vectors must have the same nonzero length", s)
	}
	for _, v := range append(append([]uint32{}, demand...), prefetch...) {
		if v >= uint32(len(demand)) {
			return nil, nil, fmt.Errorf(
				"illegal IPV %q: RRPV values must be within [0, %d]", s, len(demand)-1)
		}
	}
	return demand, prefetch, nil
}

// IPVEnvVar maps a cache name to the environment variable carrying its
// IPV configuration, matching by the conventional name substrings.
func IPVEnvVar(cacheName string) (string, error) {
	switch {
	case strings.Contains(cacheName, "L1I"):
		return "L1I_IPV", nil
	case strings.Contains(cacheName, "L1D"):
		return "L1D_IPV", nil
	case strings.Contains(cacheName, "L2C"):
		return "L2C_IPV", nil
	case strings.Contains(cacheName, "LLC"):
		return "LLC_IPV", nil
	}
	return "", fmt.Errorf("cannot infer cache type from name %q", cacheName)
}

// IPVFromEnv resolves and parses the IPV configuration for a cache.
func IPVFromEnv(cacheName string) (demand, prefetch []uint32, err error) {
	envVar, err := IPVEnvVar(cacheName)
	if err != nil {
		return nil, nil, err
	}
	s, ok := os.LookupEnv(envVar)
	if !ok {
		return nil, nil, fmt.Errorf("IPV not specified: %s is unset", envVar)
	}
	return ParseIPV(s)
}
