// Package satcounter provides fixed-width saturating counters.
//
// Predictor tables are built from bounded integer cells that clamp instead
// of wrapping. The two types here model an N-bit unsigned cell in
// [0, 2^N-1] and an N-bit two's-complement cell in [-2^(N-1), 2^(N-1)-1].
// Width is fixed at construction and all operations stay within the
// declared range.
package satcounter

import "fmt"

// Unsigned is an N-bit unsigned saturating counter.
type Unsigned struct {
	value uint32
	max   uint32
	bits  uint
}

// NewUnsigned creates an unsigned saturating counter of the given width.
// Width must be in [1, 32].
func NewUnsigned(bits uint) Unsigned {
	if bits == 0 || bits > 32 {
		panic(fmt.Sprintf("satcounter: invalid unsigned width %d", bits))
	}
	max := uint32((uint64(1) << bits) - 1)
	return Unsigned{max: max, bits: bits}
}

// NewUnsignedWithValue creates a counter initialized to value, clamped to
// the representable range.
func NewUnsignedWithValue(bits uint, value uint32) Unsigned {
	c := NewUnsigned(bits)
	c.Set(value)
	return c
}

// Bits returns the counter width.
func (c *Unsigned) Bits() uint { return c.bits }

// Max returns the largest representable value.
func (c *Unsigned) Max() uint32 { return c.max }

// Get returns the current value.
func (c *Unsigned) Get() uint32 { return c.value }

// Inc increments by one, clamping at the maximum.
func (c *Unsigned) Inc() {
	if c.value < c.max {
		c.value++
	}
}

// Dec decrements by one, clamping at zero.
func (c *Unsigned) Dec() {
	if c.value > 0 {
		c.value--
	}
}

// Add adds amount, clamping at the maximum.
func (c *Unsigned) Add(amount uint32) {
	sum := uint64(c.value) + uint64(amount)
	if sum > uint64(c.max) {
		c.value = c.max
		return
	}
	c.value = uint32(sum)
}

// Sub subtracts amount, clamping at zero.
func (c *Unsigned) Sub(amount uint32) {
	if c.value < amount {
		c.value = 0
		return
	}
	c.value -= amount
}

// Set stores value, clamped to the representable range.
func (c *Unsigned) Set(value uint32) {
	if value > c.max {
		value = c.max
	}
	c.value = value
}

// Reset clears the counter to zero.
func (c *Unsigned) Reset() { c.value = 0 }

// SetHalfway sets the counter to half its maximum, rounding down.
func (c *Unsigned) SetHalfway() { c.value = c.max >> 1 }

// MSB returns the most significant bit of the current value.
func (c *Unsigned) MSB() uint32 { return c.value >> (c.bits - 1) }

// IsMax reports whether the counter is saturated at its maximum.
func (c *Unsigned) IsMax() bool { return c.value == c.max }

// Rsh shifts the value right. Shifting by the full width or more
// yields zero.
func (c *Unsigned) Rsh(amount uint) {
	if amount >= c.bits {
		c.value = 0
		return
	}
	c.value >>= amount
}

// Signed is an N-bit two's-complement saturating counter.
type Signed struct {
	value int32
	min   int32
	max   int32
	bits  uint
}

// NewSigned creates a signed saturating counter of the given width.
// Width must be in [1, 32].
func NewSigned(bits uint) Signed {
	if bits == 0 || bits > 32 {
		panic(fmt.Sprintf("satcounter: invalid signed width %d", bits))
	}
	var min, max int32
	if bits == 32 {
		min = -1 << 31
		max = 1<<31 - 1
	} else {
		min = -(1 << (bits - 1))
		max = 1<<(bits-1) - 1
	}
	return Signed{min: min, max: max, bits: bits}
}

// NewSignedWithValue creates a counter initialized to value, clamped to
// the representable range.
func NewSignedWithValue(bits uint, value int32) Signed {
	c := NewSigned(bits)
	c.Set(value)
	return c
}

// Bits returns the counter width.
func (c *Signed) Bits() uint { return c.bits }

// Min returns the smallest representable value.
func (c *Signed) Min() int32 { return c.min }

// Max returns the largest representable value.
func (c *Signed) Max() int32 { return c.max }

// Get returns the current value.
func (c *Signed) Get() int32 { return c.value }

// Inc increments by one, clamping at the maximum.
func (c *Signed) Inc() {
	if c.value < c.max {
		c.value++
	}
}

// Dec decrements by one, clamping at the minimum.
func (c *Signed) Dec() {
	if c.value > c.min {
		c.value--
	}
}

// Add adds amount, clamping at both bounds.
func (c *Signed) Add(amount int32) { c.set64(int64(c.value) + int64(amount)) }

// Sub subtracts amount, clamping at both bounds.
func (c *Signed) Sub(amount int32) { c.set64(int64(c.value) - int64(amount)) }

func (c *Signed) set64(value int64) {
	if value > int64(c.max) {
		value = int64(c.max)
	} else if value < int64(c.min) {
		value = int64(c.min)
	}
	c.value = int32(value)
}

// Set stores value, clamped to the representable range.
func (c *Signed) Set(value int32) {
	if value > c.max {
		value = c.max
	} else if value < c.min {
		value = c.min
	}
	c.value = value
}

// Reset clears the counter to zero.
func (c *Signed) Reset() { c.value = 0 }

// SetHalfway sets the counter to zero (the midpoint, rounding toward
// zero).
func (c *Signed) SetHalfway() { c.value = 0 }

// MSB returns 1 when the value is negative.
func (c *Signed) MSB() int32 {
	if c.value < 0 {
		return 1
	}
	return 0
}

// IsMax reports whether the counter is saturated at its maximum.
func (c *Signed) IsMax() bool { return c.value == c.max }

// IsMin reports whether the counter is saturated at its minimum.
func (c *Signed) IsMin() bool { return c.value == c.min }

// Rsh shifts the value right arithmetically. Shifting by the full width
// or more yields zero for non-negative values and the minimum for
// negative values.
func (c *Signed) Rsh(amount uint) {
	if amount >= c.bits {
		if c.value < 0 {
			c.value = c.min
		} else {
			c.value = 0
		}
		return
	}
	c.value >>= amount
}

// CtrUpdate trains an int8 counter of the given width toward taken,
// clamping at the width's bounds. This is the common update step shared
// by the TAGE tagged counters, the statistical corrector weights, and
// the choice counters.
func CtrUpdate(ctr *int8, taken bool, nbits uint) {
	if taken {
		if *ctr < int8((1<<(nbits-1))-1) {
			*ctr++
		}
	} else {
		if *ctr > int8(-(1 << (nbits - 1))) {
			*ctr--
		}
	}
}
