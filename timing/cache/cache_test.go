package cache_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/oosim/prefetch/gaze"
	"github.com/sarchlab/oosim/replacement/ipv"
	"github.com/sarchlab/oosim/replacement/mockingjay"
	"github.com/sarchlab/oosim/timing/cache"
)

func TestCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cache Suite")
}

func smallConfig() cache.Config {
	return cache.Config{
		Name:          "LLC",
		Size:          4 * 1024,
		Associativity: 4,
		BlockSize:     64,
		HitLatency:    1,
		MissLatency:   10,
		PQSize:        8,
		MSHRSize:      16,
	}
}

func newIPVCache(memory *cache.SparseMemory) *cache.Cache {
	config := smallConfig()
	numSets := config.Size / (config.Associativity * config.BlockSize)
	policy, err := ipv.New(config.Name, numSets, config.Associativity,
		[]uint32{0, 0, 1, 3}, []uint32{0, 0, 2, 3})
	Expect(err).ToNot(HaveOccurred())
	return cache.New(config, memory, policy)
}

var _ = Describe("Cache", func() {
	var (
		memory *cache.SparseMemory
		c      *cache.Cache
	)

	BeforeEach(func() {
		memory = cache.NewSparseMemory()
		c = newIPVCache(memory)
	})

	Describe("Read operations", func() {
		It("should miss on cold cache", func() {
			memory.Write(0x1000, []byte{0xEF, 0xBE, 0xAD, 0xDE, 0, 0, 0, 0})

			result := c.Read(0, 1, 0x1000, 8, 0x400000)
			Expect(result.Hit).To(BeFalse())
			Expect(result.Latency).To(Equal(uint64(10)))
			Expect(result.Data).To(Equal(uint64(0xDEADBEEF)))

			stats := c.Stats()
			Expect(stats.Reads).To(Equal(uint64(1)))
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(0)))
		})

		It("should hit on cached data", func() {
			c.Read(0, 1, 0x1000, 8, 0x400000)
			result := c.Read(0, 2, 0x1000, 8, 0x400000)
			Expect(result.Hit).To(BeTrue())
			Expect(result.Latency).To(Equal(uint64(1)))

			stats := c.Stats()
			Expect(stats.Hits).To(Equal(uint64(1)))
		})

		It("should hit on different addresses in the same line", func() {
			c.Read(0, 1, 0x1000, 4, 0x400000)
			result := c.Read(0, 2, 0x1004, 4, 0x400000)
			Expect(result.Hit).To(BeTrue())
		})
	})

	Describe("Write operations", func() {
		It("should write-allocate on miss and write back on eviction", func() {
			c.Write(0, 1, 0x1000, 8, 0x1122334455667788, 0x400100)

			// Fill the same set until the dirty line gets evicted.
			numSets := 4 * 1024 / (4 * 64)
			for i := 1; i <= 8; i++ {
				addr := uint64(0x1000) + uint64(i*numSets*64)
				c.Read(0, uint64(i+1), addr, 8, 0x400100)
			}

			Expect(c.Stats().Writebacks).To(BeNumerically(">=", uint64(1)))
			data := memory.Read(0x1000, 8)
			Expect(data[0]).To(Equal(byte(0x88)))
		})
	})

	Describe("Replacement wiring", func() {
		It("should consult the policy on every miss", func() {
			for i := 0; i < 64; i++ {
				c.Read(0, uint64(i), uint64(i)*64*16, 8, 0x400000)
			}
			Expect(c.Stats().Misses).To(BeNumerically(">", uint64(0)))
			Expect(c.Stats().Evictions).To(BeNumerically(">", uint64(0)))
		})

		It("should work with the Mockingjay policy", func() {
			config := smallConfig()
			numSets := config.Size / (config.Associativity * config.BlockSize)
			policy := mockingjay.New(numSets, config.Associativity, 1)
			mc := cache.New(config, memory, policy)

			for i := 0; i < 2000; i++ {
				addr := uint64(i%256) * 64
				mc.Read(0, uint64(i), addr, 8, 0x400000+uint64(i%16)*4)
			}
			Expect(mc.Stats().Hits).To(BeNumerically(">", uint64(0)))
		})
	})

	Describe("Prefetcher wiring", func() {
		It("should fill prefetched lines and count prefetch hits", func() {
			pf := gaze.New(c)
			pf.Initialize()
			c.AttachPrefetcher(pf)

			// Stream two regions so the prefetcher learns the pattern,
			// then a third region should see prefetch fills.
			for r := uint64(0); r < 3; r++ {
				base := (0x100 + r) << 12
				for off := uint64(0); off < 64; off++ {
					c.Read(0, r*64+off, base+off*64, 8, 0x400400)
				}
			}
			Expect(c.Stats().Prefetches).To(BeNumerically(">", uint64(0)))
			Expect(c.Stats().PrefetchFills).To(BeNumerically(">", uint64(0)))
			Expect(c.Stats().PrefetchHits).To(BeNumerically(">", uint64(0)))
		})

		It("should bound the prefetch queue occupancy", func() {
			pf := gaze.New(c)
			pf.Initialize()
			c.AttachPrefetcher(pf)

			for r := uint64(0); r < 16; r++ {
				base := (0x200 + r) << 12
				for off := uint64(0); off < 64; off++ {
					c.Read(0, r*64+off, base+off*64, 8, 0x400800)
					Expect(c.PQOccupancy()).To(BeNumerically("<=", c.PQSize()))
					Expect(c.MSHROccupancy()).To(BeNumerically("<=", c.MSHRSize()))
				}
			}
		})
	})

	Describe("Flush and reset", func() {
		It("should invalidate everything on reset", func() {
			c.Read(0, 1, 0x1000, 8, 0x400000)
			c.Reset()
			result := c.Read(0, 2, 0x1000, 8, 0x400000)
			Expect(result.Hit).To(BeFalse())
		})
	})
})
