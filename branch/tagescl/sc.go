package tagescl

import "github.com/sarchlab/oosim/satcounter"

// scXlat maps a 6-bit statistical-corrector weight to an
// inverse-sigmoidal magnitude. Tuned data, not a function to rederive.
var scXlat = [63]int{
	-63, -50, -43, -38, -36, -34, -33, -31, -29, -28,
	-26, -25, -24, -22, -21, -20, -19, -17, -16, -14,
	-14, -12, -11, -10, -9, -8, -7, -6, -4, -3,
	-2, 1, 2, 3, 4, 6, 7, 8, 9, 10,
	11, 12, 14, 14, 16, 17, 19, 20, 21, 22,
	24, 25, 26, 28, 29, 31, 33, 34, 36, 38,
	43, 50, 63,
}

func scTranslate(c int8) int {
	if c <= -32 {
		c = -31
	}
	return scXlat[int(c)+31]
}

func (e *Engine) initSC() {
	e.im = [inb]int{8}
	e.imm = [imnb]int{10, 4}
	e.gm = [gnb]int{40, 24, 10}
	e.pm = [pnb]int{25, 16, 9}
	e.lm = [lnb]int{11, 6, 3}
	e.sm = [snb]int{16, 11, 6}
	e.tm = [tnb]int{9, 4}

	for i := 0; i < inb; i++ {
		e.igehl[i] = make([]int8, 1<<logINB)
	}
	for i := 0; i < imnb; i++ {
		e.imgehl[i] = make([]int8, 1<<logIMNB)
	}
	for i := 0; i < gnb; i++ {
		e.ggehl[i] = make([]int8, 1<<logGNB)
	}
	for i := 0; i < pnb; i++ {
		e.pgehl[i] = make([]int8, 1<<logPNB)
	}
	for i := 0; i < lnb; i++ {
		e.lgehl[i] = make([]int8, 1<<logLNB)
	}
	for i := 0; i < snb; i++ {
		e.sgehl[i] = make([]int8, 1<<logSNB)
	}
	for i := 0; i < tnb; i++ {
		e.tgehl[i] = make([]int8, 1<<logTNB)
	}

	// Even entries start weakly not-taken so a fresh table leans
	// against flipping the TAGE prediction.
	seedTables := [][][]int8{
		{e.ggehl[0], e.ggehl[1], e.ggehl[2]},
		{e.lgehl[0], e.lgehl[1], e.lgehl[2]},
		{e.igehl[0]},
		{e.imgehl[0], e.imgehl[1]},
		{e.sgehl[0], e.sgehl[1], e.sgehl[2]},
		{e.tgehl[0], e.tgehl[1]},
		{e.pgehl[0], e.pgehl[1], e.pgehl[2]},
	}
	for _, group := range seedTables {
		for _, tab := range group {
			for j := 0; j < len(tab)-1; j++ {
				if j&1 == 0 {
					tab[j] = -1
				}
			}
		}
	}

	for j := 0; j < 1<<logBias; j++ {
		switch j & 3 {
		case 0:
			e.biasSK[j] = -8
		case 1:
			e.biasSK[j] = 7
		case 2:
			e.biasSK[j] = -32
		case 3:
			e.biasSK[j] = 31
		}
	}
	for j := 0; j < 1<<logBias; j++ {
		switch j & 3 {
		case 0:
			e.bias[j] = -32
		case 1:
			e.bias[j] = 31
		case 2:
			e.bias[j] = -1
		case 3:
			e.bias[j] = 0
		}
	}
	for j := 0; j < 1<<logBias; j++ {
		switch j & 3 {
		case 0:
			e.biasBank[j] = -32
		case 1:
			e.biasBank[j] = 31
		case 2:
			e.biasBank[j] = -1
		case 3:
			e.biasBank[j] = 0
		}
	}

	for i := range e.wg {
		e.wg[i] = 7
		e.wl[i] = 7
		e.ws[i] = 7
		e.wt[i] = 7
		e.wp[i] = 7
		e.wi[i] = 7
		e.wim[i] = 7
		e.wb[i] = 4
	}
}

func localIndex(pc uint64) uint64 {
	return (pc ^ (pc >> 2)) & (nLocal - 1)
}

func secondLocalIndex(pc uint64) uint64 {
	return (pc ^ (pc >> 5)) & (nSecLocal - 1)
}

func thirdLocalIndex(pc uint64) uint64 {
	return (pc ^ (pc >> logTNB)) & (nTLocal - 1)
}

func indUpd(pc uint64) int {
	return int((pc ^ (pc >> 2)) & ((1 << logSizeUp) - 1))
}

func indUpdS(pc uint64) int {
	return int((pc ^ (pc >> 2)) & ((1 << logSizeUps) - 1))
}

func (e *Engine) biasIndex(pc uint64) int {
	lowWeak := b2i(e.LowConf && e.longestMatchPred != e.altTaken)
	return int(((((pc^(pc>>2))<<1)^uint64(lowWeak))<<1)+uint64(b2i(e.predInter))) &
		((1 << logBias) - 1)
}

func (e *Engine) biasSKIndex(pc uint64) int {
	return int(((((pc^(pc>>(logBias-2)))<<1)^uint64(b2i(e.HighConf)))<<1)+
		uint64(b2i(e.predInter))) & ((1 << logBias) - 1)
}

func (e *Engine) biasBankIndex(pc uint64) int {
	return int(uint64(b2i(e.predInter))+
		uint64(((e.hitBank+1)/4)<<4)+
		uint64(b2i(e.HighConf)<<1)+
		uint64(b2i(e.LowConf)<<2)+
		uint64(b2i(e.altBank != 0)<<3)+
		((pc^(pc>>2))<<7)) & ((1 << logBias) - 1)
}

// gehlIndex hashes a history segment into one GEHL table.
func gehlIndex(pc uint64, bhist uint64, i, nbr, logs int) uint64 {
	idx := pc ^ bhist ^
		(bhist >> uint(8-i)) ^
		(bhist >> uint(16-2*i)) ^
		(bhist >> uint(24-3*i)) ^
		(bhist >> uint(32-3*i)) ^
		(bhist >> uint(40-4*i))
	shrink := 0
	if i >= nbr-2 {
		shrink = 1
	}
	return idx & ((1 << uint(logs-shrink)) - 1)
}

// gehlPredict sums one GEHL component group through the transfer table.
func (e *Engine) gehlPredict(pc uint64, bhist uint64, length []int, tab [][]int8, nbr, logs int, w []int8) int {
	sum := 0
	for i := 0; i < nbr; i++ {
		h := bhist
		if length[i] < 64 {
			h &= (uint64(1) << uint(length[i])) - 1
		}
		index := gehlIndex(pc, h, i, nbr, logs)
		sum += scTranslate(tab[i][index])
	}
	sum = (1 + b2i(w[indUpdS(pc)] >= 0)) * sum
	return sum
}

// gehlUpdate trains one GEHL component group and its partial-sum weight.
func (e *Engine) gehlUpdate(pc uint64, taken bool, bhist uint64, length []int, tab [][]int8, nbr, logs int, w []int8) {
	percSum := 0
	for i := 0; i < nbr; i++ {
		h := bhist
		if length[i] < 64 {
			h &= (uint64(1) << uint(length[i])) - 1
		}
		index := gehlIndex(pc, h, i, nbr, logs)
		percSum += 2*int(tab[i][index]) + 1
		satcounter.CtrUpdate(&tab[i][index], taken, percWidth)
	}

	xsum := e.lsum - b2i(w[indUpdS(pc)] >= 0)*percSum
	if (xsum+percSum >= 0) != (xsum >= 0) {
		satcounter.CtrUpdate(&w[indUpdS(pc)], (percSum >= 0) == taken, eWidth)
	}
}

// scPredict computes the statistical corrector sum and threshold for the
// last TAGE prediction and returns the SC direction.
func (e *Engine) scPredict(pc uint64, h *histories) bool {
	e.lsum = 0

	e.lsum += scTranslate(e.bias[e.biasIndex(pc)])
	e.lsum += scTranslate(e.biasSK[e.biasSKIndex(pc)])
	e.lsum += scTranslate(e.biasBank[e.biasBankIndex(pc)])
	e.lsum = (1 + b2i(e.wb[indUpdS(pc)] >= 0)) * e.lsum

	e.lsum += e.gehlPredict((pc<<1)+uint64(b2i(e.predInter)), h.ghistWord, e.gm[:], e.ggehl[:], gnb, logGNB, e.wg[:])
	e.lsum += e.gehlPredict(pc, h.phist, e.pm[:], e.pgehl[:], pnb, logPNB, e.wp[:])
	e.lsum += e.gehlPredict(pc, h.localHist[localIndex(pc)], e.lm[:], e.lgehl[:], lnb, logLNB, e.wl[:])
	e.lsum += e.gehlPredict(pc, h.secondHist[secondLocalIndex(pc)], e.sm[:], e.sgehl[:], snb, logSNB, e.ws[:])
	e.lsum += e.gehlPredict(pc, h.thirdHist[thirdLocalIndex(pc)], e.tm[:], e.tgehl[:], tnb, logTNB, e.wt[:])
	e.lsum += e.gehlPredict(pc, h.imHist[h.imliCount], e.imm[:], e.imgehl[:], imnb, logIMNB, e.wim[:])
	e.lsum += e.gehlPredict(pc, h.imliCount, e.im[:], e.igehl[:], inb, logINB, e.wi[:])

	e.thres = (e.updateThreshold >> 3) + e.pUpdateThreshold[indUpd(pc)] +
		12*(b2i(e.wb[indUpdS(pc)] >= 0)+
			b2i(e.wp[indUpdS(pc)] >= 0)+
			b2i(e.ws[indUpdS(pc)] >= 0)+
			b2i(e.wt[indUpdS(pc)] >= 0)+
			b2i(e.wl[indUpdS(pc)] >= 0)+
			b2i(e.wg[indUpdS(pc)] >= 0)+
			b2i(e.wi[indUpdS(pc)] >= 0))

	return e.lsum >= 0
}

// scTrain updates the choice counters, the adaptive thresholds, and the
// SC component tables after a resolve.
func (e *Engine) scTrain(pc uint64, resolveDir bool, h *histories) {
	scPred := e.lsum >= 0

	if e.predInter != scPred {
		if absInt(e.lsum) < e.thres && e.HighConf {
			if absInt(e.lsum) < e.thres/2 && absInt(e.lsum) >= e.thres/4 {
				satcounter.CtrUpdate(&e.secondH, e.predInter == resolveDir, confWidth)
			}
		}
		if e.MedConf && absInt(e.lsum) < e.thres/4 {
			satcounter.CtrUpdate(&e.firstH, e.predInter == resolveDir, confWidth)
		}
	}

	if scPred != resolveDir || absInt(e.lsum) < e.thres {
		if scPred != resolveDir {
			e.pUpdateThreshold[indUpd(pc)]++
			e.updateThreshold++
		} else {
			e.pUpdateThreshold[indUpd(pc)]--
			e.updateThreshold--
		}

		if e.pUpdateThreshold[indUpd(pc)] >= 1<<(widthResP-1) {
			e.pUpdateThreshold[indUpd(pc)] = 1<<(widthResP-1) - 1
		}
		if e.pUpdateThreshold[indUpd(pc)] < -(1 << (widthResP - 1)) {
			e.pUpdateThreshold[indUpd(pc)] = -(1 << (widthResP - 1))
		}
		if e.updateThreshold >= 1<<(widthRes-1) {
			e.updateThreshold = 1<<(widthRes-1) - 1
		}
		if e.updateThreshold < -(1 << (widthRes - 1)) {
			e.updateThreshold = -(1 << (widthRes - 1))
		}

		// Train the doubling weight of the bias group when the doubling
		// decision would have changed the sign of the sum.
		biasSum := (2*int(e.bias[e.biasIndex(pc)]) + 1) +
			(2*int(e.biasSK[e.biasSKIndex(pc)]) + 1) +
			(2*int(e.biasBank[e.biasBankIndex(pc)]) + 1)
		xsum := e.lsum - b2i(e.wb[indUpdS(pc)] >= 0)*biasSum
		if (xsum+biasSum >= 0) != (xsum >= 0) {
			satcounter.CtrUpdate(&e.wb[indUpdS(pc)], (biasSum >= 0) == resolveDir, eWidth)
		}

		satcounter.CtrUpdate(&e.bias[e.biasIndex(pc)], resolveDir, percWidth)
		satcounter.CtrUpdate(&e.biasSK[e.biasSKIndex(pc)], resolveDir, percWidth)
		satcounter.CtrUpdate(&e.biasBank[e.biasBankIndex(pc)], resolveDir, percWidth)

		e.gehlUpdate((pc<<1)+uint64(b2i(e.predInter)), resolveDir, h.ghistWord, e.gm[:], e.ggehl[:], gnb, logGNB, e.wg[:])
		e.gehlUpdate(pc, resolveDir, h.phist, e.pm[:], e.pgehl[:], pnb, logPNB, e.wp[:])
		e.gehlUpdate(pc, resolveDir, h.localHist[localIndex(pc)], e.lm[:], e.lgehl[:], lnb, logLNB, e.wl[:])
		e.gehlUpdate(pc, resolveDir, h.secondHist[secondLocalIndex(pc)], e.sm[:], e.sgehl[:], snb, logSNB, e.ws[:])
		e.gehlUpdate(pc, resolveDir, h.thirdHist[thirdLocalIndex(pc)], e.tm[:], e.tgehl[:], tnb, logTNB, e.wt[:])
		e.gehlUpdate(pc, resolveDir, h.imHist[h.imliCount], e.imm[:], e.imgehl[:], imnb, logIMNB, e.wim[:])
		e.gehlUpdate(pc, resolveDir, h.imliCount, e.im[:], e.igehl[:], inb, logINB, e.wi[:])
	}
}
