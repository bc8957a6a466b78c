package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/oosim/branch"
	"github.com/sarchlab/oosim/timing/cache"
)

// runStats accumulates driver-level outcomes.
type runStats struct {
	branches uint64
	correct  uint64
	loads    uint64
	stores   uint64
}

// runTrace replays a text trace. Lines are either branches
//
//	B <pc> <target> <taken 0|1> <type>
//
// with type one of cond, jmp, jmp-ind, call, call-ind, ret, or memory
// accesses
//
//	L <addr> <pc>
//	S <addr> <pc>
//
// Values are hexadecimal with or without the 0x prefix.
func runTrace(path string, predictor branch.Predictor, llc *cache.Cache) (runStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return runStats{}, err
	}
	defer f.Close()

	var stats runStats
	var seq uint64
	var instrID uint64

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "B":
			if len(fields) < 5 {
				return stats, fmt.Errorf("%s:%d: malformed branch record", path, lineNo)
			}
			pc, err1 := parseHex(fields[1])
			target, err2 := parseHex(fields[2])
			taken := fields[3] == "1"
			brType := parseBranchType(fields[4])
			if err1 != nil || err2 != nil {
				return stats, fmt.Errorf("%s:%d: malformed branch record", path, lineNo)
			}

			if brType.IsConditional() {
				seq++
				pred := predictor.Predict(seq, pc)
				predictor.Resolve(seq, pc, taken, pred, target)
				stats.branches++
				if pred == taken {
					stats.correct++
				}
			} else {
				predictor.TrackOtherInst(pc, brType, taken, target)
			}

		case "L", "S":
			if len(fields) < 3 {
				return stats, fmt.Errorf("%s:%d: malformed access record", path, lineNo)
			}
			addr, err1 := parseHex(fields[1])
			pc, err2 := parseHex(fields[2])
			if err1 != nil || err2 != nil {
				return stats, fmt.Errorf("%s:%d: malformed access record", path, lineNo)
			}
			instrID++
			if fields[0] == "L" {
				llc.Read(0, instrID, addr, 8, pc)
				stats.loads++
			} else {
				llc.Write(0, instrID, addr, 8, 0, pc)
				stats.stores++
			}

		default:
			return stats, fmt.Errorf("%s:%d: unknown record kind %q", path, lineNo, fields[0])
		}
	}
	return stats, scanner.Err()
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, 64)
}

func parseBranchType(s string) branch.Type {
	switch s {
	case "cond":
		return branch.TypeCondDirect
	case "jmp":
		return branch.TypeUncondDirect
	case "jmp-ind":
		return branch.TypeUncondIndirect
	case "call":
		return branch.TypeCallDirect
	case "call-ind":
		return branch.TypeCallIndirect
	case "ret":
		return branch.TypeReturn
	}
	return branch.TypeOther
}

// runSynthetic drives the predictor and the cache with a deterministic
// mixed workload: biased branches, a loop branch, a history-correlated
// branch, streaming loads, and pointer-chase-style loads.
func runSynthetic(predictor branch.Predictor, llc *cache.Cache, branches, accesses int) runStats {
	var stats runStats
	rng := rand.New(rand.NewSource(7))

	var history bool
	var seq uint64
	for i := 0; i < branches; i++ {
		var pc uint64
		var taken bool
		switch i % 4 {
		case 0: // strongly biased branch
			pc = 0x400100
			taken = rng.Intn(100) < 95
		case 1: // loop branch, 16 iterations
			pc = 0x400200
			taken = i%64 < 60
		case 2: // correlated with the previous outcome
			pc = 0x400300
			taken = history
		case 3: // random branch
			pc = 0x400400
			taken = rng.Intn(2) == 0
		}
		history = taken

		seq++
		pred := predictor.Predict(seq, pc)
		target := pc - 0x40
		if !taken {
			target = pc + 4
		}
		predictor.Resolve(seq, pc, taken, pred, target)
		stats.branches++
		if pred == taken {
			stats.correct++
		}

		if i%64 == 63 {
			predictor.TrackOtherInst(0x400500, branch.TypeReturn, true, 0x400000)
		}
	}

	var instrID uint64
	streamBase := uint64(0x10000000)
	for i := 0; i < accesses; i++ {
		instrID++
		switch i % 3 {
		case 0, 1: // streaming through regions
			addr := streamBase + uint64(i)*64
			llc.Read(0, instrID, addr, 8, 0x401000)
			stats.loads++
		case 2: // scattered writes
			addr := 0x20000000 + uint64(rng.Intn(1<<20))*64
			llc.Write(0, instrID, addr, 8, uint64(i), 0x401100)
			stats.stores++
		}
	}

	return stats
}
