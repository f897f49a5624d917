// Fixed geometric ladder of buffer sizes: class i holds buffers of min << i bytes.
package sizeclass

import (
	"math/bits"

	"github.com/negrel/assert"
)

type Table struct {
	min			uint64
	minShift	uint
	num			int
}

// min must be a power of two, num >= 1. config.Options.Validate checks both.
func CreateTable(min uint64, num int) Table {
	assert.Less(0, num, "need at least one size class")
	assert.Equal(min&(min-1), uint64(0), "min class size must be a power of two")
	return Table {
		min: 		min,
		minShift: 	uint(bits.TrailingZeros64(min)),
		num: 		num,
	}
}

func (t Table) NumClasses() int 		{ return t.num }
func (t Table) MinClassSize() uint64	{ return t.min }
func (t Table) MaxClassSize() uint64	{ return t.MaxSize(t.num - 1) }
func (t Table) Top() int				{ return t.num - 1 }

func (t Table) MaxSize(class int) uint64 {
	assert.Less(class, t.num, "size class out of range")
	return t.min << class
}

// Smallest class whose size fits. ok is false when size is above the top class - those
// are rejected, never rounded down into a valid class.
func (t Table) Classify(size uint64) (int, bool) {
	if size > t.MaxClassSize() { return 0, false }
	if size <= t.min { return 0, true }
	return bits.Len64((size - 1) >> t.minShift), true
}

// Reference for Classify
func (t Table) classifySlow(size uint64) (int, bool) {
	if size > t.MaxClassSize() { return 0, false }
	class := 0
	lim := t.min
	for size > lim {
		class++
		lim *= 2
	}
	return class, true
}

func (t Table) Sizes() []uint64 {
	sizes := make([]uint64, t.num)
	for i := range sizes {
		sizes[i] = t.MaxSize(i)
	}
	return sizes
}
