// Allocator construction parameters
package config

import (
	"errors"
	"fmt"

	c "hugealloc/internal"
)

const DEFAULT_MIN_CLASS		= uint64(64)
const DEFAULT_NUM_CLASSES	= 18 // 64B (2^6) .. 8MiB (2^23)
const DEFAULT_GROWTH		= 2
const MAX_NUM_CLASSES		= 32
const MAX_GROWTH			= 16

var (
	ErrInvalidOptions = errors.New("invalid allocator options")
)

type Options struct {
	// Size of the first reservation. Clamped up to the top class size by the allocator,
	// so 0 means "one top-class buffer".
	InitialSize		uint64
	NumaNode		int

	MinClassSize	uint64 // must be a power of two
	NumClasses		int
	// Every growth reserves GrowthFactor times the previous reservation.
	GrowthFactor	uint64
	HugepageSize	uint64
}

func Default() Options {
	return Options {
		InitialSize: 	0,
		NumaNode: 		0,
		MinClassSize: 	DEFAULT_MIN_CLASS,
		NumClasses: 	DEFAULT_NUM_CLASSES,
		GrowthFactor: 	DEFAULT_GROWTH,
		HugepageSize: 	c.HUGEPAGE_SIZE,
	}
}

func (o Options) MaxClassSize() uint64 {
	return o.MinClassSize << (o.NumClasses - 1)
}

func (o Options) Validate() error {
	if o.NumaNode < 0 || o.NumaNode >= c.MAX_NUMA_NODES {
		return fmt.Errorf("%w: numa node %d not in [0, %d)", ErrInvalidOptions, o.NumaNode, c.MAX_NUMA_NODES)
	}
	if !c.IsPow2(o.MinClassSize) {
		return fmt.Errorf("%w: min class size %d is not a power of two", ErrInvalidOptions, o.MinClassSize)
	}
	if o.NumClasses < 1 || o.NumClasses > MAX_NUM_CLASSES {
		return fmt.Errorf("%w: class count %d not in [1, %d]", ErrInvalidOptions, o.NumClasses, MAX_NUM_CLASSES)
	}
	if !c.IsPow2(o.HugepageSize) {
		return fmt.Errorf("%w: hugepage size %d is not a power of two", ErrInvalidOptions, o.HugepageSize)
	}
	// regions are sliced into top-class buffers with no remainder
	max := o.MaxClassSize()
	if max < o.HugepageSize || max%o.HugepageSize != 0 {
		return fmt.Errorf("%w: top class %d must be a multiple of the hugepage size %d",
			ErrInvalidOptions, max, o.HugepageSize)
	}
	if o.GrowthFactor < 2 || o.GrowthFactor > MAX_GROWTH {
		return fmt.Errorf("%w: growth factor %d not in [2, %d]", ErrInvalidOptions, o.GrowthFactor, MAX_GROWTH)
	}
	return nil
}
