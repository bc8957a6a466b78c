package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/oosim/access"
	"github.com/sarchlab/oosim/replacement"
)

// policyVictimFinder implements the Akita VictimFinder interface on top
// of a replacement.Policy. The directory's FindVictim only sees the
// set, so the cache stores the access context here before each search.
type policyVictimFinder struct {
	policy replacement.Policy

	cpu     int
	instrID uint64
	ip      uint64
	addr    uint64
	typ     access.Type
}

func (f *policyVictimFinder) setContext(cpu int, instrID, ip, addr uint64, typ access.Type) {
	f.cpu = cpu
	f.instrID = instrID
	f.ip = ip
	f.addr = addr
	f.typ = typ
}

// FindVictim asks the policy for the way to evict in the given set.
func (f *policyVictimFinder) FindVictim(set *akitacache.Set) *akitacache.Block {
	blocks := set.Blocks
	if len(blocks) == 0 {
		return nil
	}

	lines := make([]replacement.Line, len(blocks))
	for i, b := range blocks {
		lines[i] = replacement.Line{Valid: b.IsValid, Tag: b.Tag}
	}

	setID := blocks[0].SetID
	way := f.policy.FindVictim(f.cpu, f.instrID, setID, lines, f.ip, f.addr, f.typ)
	if way < 0 || way >= len(blocks) {
		way = 0
	}
	return blocks[way]
}
