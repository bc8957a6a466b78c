package gaze

// Fixed-capacity set-associative tables shared by the four prefetcher
// structures. Keys are split into index and tag by the set count; each
// set keeps a small tag CAM for lookups. Victim selection is supplied by
// the recency policy wrapper.

type tableEntry[T any] struct {
	key   uint64
	index uint64
	tag   uint64
	valid bool
	data  T
}

type setAssocTable[T any] struct {
	size     int
	numWays  int
	numSets  int
	indexLen int

	sets [][]tableEntry[T]
	cams []map[uint64]int

	victim func(index uint64) int
}

func newSetAssocTable[T any](size, numWays int) *setAssocTable[T] {
	t := &setAssocTable[T]{
		size:    size,
		numWays: numWays,
		numSets: size / numWays,
	}
	t.sets = make([][]tableEntry[T], t.numSets)
	t.cams = make([]map[uint64]int, t.numSets)
	for i := range t.sets {
		t.sets[i] = make([]tableEntry[T], numWays)
		t.cams[i] = make(map[uint64]int, numWays)
	}
	for maxIndex := t.numSets - 1; maxIndex > 0; maxIndex >>= 1 {
		t.indexLen++
	}
	return t
}

func (t *setAssocTable[T]) split(key uint64) (index, tag uint64) {
	index = key & ((1 << t.indexLen) - 1)
	tag = key >> t.indexLen
	return index, tag
}

// find returns the live entry for key, or nil.
func (t *setAssocTable[T]) find(key uint64) *tableEntry[T] {
	index, tag := t.split(key)
	way, ok := t.cams[index][tag]
	if !ok {
		return nil
	}
	entry := &t.sets[index][way]
	if !entry.valid {
		return nil
	}
	return entry
}

// insert stores data under key, overwriting a live entry in place.
// It returns the previous state of the slot it used; a valid returned
// entry is the capacity victim the caller may want to spill.
func (t *setAssocTable[T]) insert(key uint64, data T) tableEntry[T] {
	if entry := t.find(key); entry != nil {
		old := *entry
		entry.data = data
		return old
	}

	index, tag := t.split(key)
	set := t.sets[index]
	victimWay := -1
	for i := 0; i < t.numWays; i++ {
		if !set[i].valid {
			victimWay = i
			break
		}
	}
	if victimWay == -1 {
		victimWay = t.victim(index)
	}

	old := set[victimWay]
	set[victimWay] = tableEntry[T]{key: key, index: index, tag: tag, valid: true, data: data}
	if old.valid {
		delete(t.cams[index], old.tag)
	}
	t.cams[index][tag] = victimWay
	return old
}

// erase invalidates the entry for key and returns its last state.
func (t *setAssocTable[T]) erase(key uint64) (tableEntry[T], bool) {
	entry := t.find(key)
	index, tag := t.split(key)
	delete(t.cams[index], tag)
	if entry == nil {
		return tableEntry[T]{}, false
	}
	old := *entry
	entry.valid = false
	return old, true
}

func (t *setAssocTable[T]) way(key uint64) (index uint64, way int, ok bool) {
	index, tag := t.split(key)
	way, ok = t.cams[index][tag]
	return index, way, ok
}

// lruTable tracks recency per way and evicts the least recently touched.
type lruTable[T any] struct {
	*setAssocTable[T]
	lru  [][]uint64
	tick uint64
}

func newLRUTable[T any](size, numWays int) *lruTable[T] {
	t := &lruTable[T]{setAssocTable: newSetAssocTable[T](size, numWays)}
	t.lru = make([][]uint64, t.numSets)
	for i := range t.lru {
		t.lru[i] = make([]uint64, numWays)
	}
	t.tick = 1
	t.victim = func(index uint64) int {
		set := t.lru[index]
		min := 0
		for i := 1; i < len(set); i++ {
			if set[i] < set[min] {
				min = i
			}
		}
		return min
	}
	return t
}

func (t *lruTable[T]) touch(key uint64) {
	index, way, ok := t.way(key)
	if !ok {
		return
	}
	t.lru[index][way] = t.tick
	t.tick++
}

func (t *lruTable[T]) rpPromote(key uint64) { t.touch(key) }
func (t *lruTable[T]) rpInsert(key uint64)  { t.touch(key) }

// srripTable keeps a re-reference prediction value per way, promoting
// hits to zero and aging until a way reaches the maximum.
type srripTable[T any] struct {
	*setAssocTable[T]
	rrpv    [][]int
	maxRRPV int
}

func newSRRIPTable[T any](size, numWays int) *srripTable[T] {
	t := &srripTable[T]{
		setAssocTable: newSetAssocTable[T](size, numWays),
		maxRRPV:       3,
	}
	t.rrpv = make([][]int, t.numSets)
	for i := range t.rrpv {
		t.rrpv[i] = make([]int, numWays)
	}
	t.victim = func(index uint64) int {
		set := t.rrpv[index]
		for {
			for i := range set {
				if set[i] >= t.maxRRPV {
					return i
				}
			}
			for i := range set {
				if set[i] < t.maxRRPV {
					set[i]++
				}
			}
		}
	}
	return t
}

func (t *srripTable[T]) setRRPV(key uint64, v int) {
	index, way, ok := t.way(key)
	if !ok {
		return
	}
	t.rrpv[index][way] = v
}

func (t *srripTable[T]) rpPromote(key uint64) { t.setRRPV(key, 0) }
func (t *srripTable[T]) rpInsert(key uint64)  { t.setRRPV(key, 2) }

// hashIndex folds a key's tag bits into its index bits so long region
// numbers spread across the table.
func hashIndex(key uint64, indexLen int) uint64 {
	if indexLen == 0 {
		return key
	}
	for tag := key >> indexLen; tag > 0; tag >>= indexLen {
		key ^= tag & ((1 << indexLen) - 1)
	}
	return key
}

// pcHashIndex truncates a PC to indexLen bits after discarding the low
// block-offset bits.
func pcHashIndex(pc uint64, indexLen, discardLSB int) uint64 {
	pc >>= uint(discardLSB)
	return pc & ((1 << uint(indexLen)) - 1)
}
