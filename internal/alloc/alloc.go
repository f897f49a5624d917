// Size-classed allocator of registered, hugepage-backed buffers.
//
// Regions are acquired from the OS and registered in bulk, sliced into top-class buffers,
// and split down on demand. Freed buffers go back on their class's free list and are never
// returned to the OS before Close.
//
// An Allocator is NOT safe for concurrent use. Callers serialize access themselves, the hot
// path has no locks by design.
package alloc

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"

	c "hugealloc/internal"
	"hugealloc/internal/config"
	"hugealloc/internal/freelist"
	"hugealloc/internal/region"
	"hugealloc/internal/registry"
	"hugealloc/internal/sizeclass"

	"github.com/negrel/assert"
)

type Buffer = freelist.Buffer

var (
	ErrSizeTooLarge	= errors.New("requested size exceeds the largest size class")
	ErrClosed		= errors.New("allocator is closed")
)

type state uint8
const (
	stateOperational state = iota + 1
	stateDestroyed
)

type Stats struct {
	Reserved	uint64 // bytes acquired from the OS, over all regions
	HandedOut	uint64 // bytes ever handed to consumers, never decreases
	CheckedOut	uint64 // bytes currently held by consumers through Alloc
	Raw			uint64 // bytes handed out by AllocRaw, outside the free lists
	Regions		int
	RegionSizes	[]uint64 // in creation order
	Growths		uint64 // free list growth events, not counting the initial reservation
}

type Allocator struct {
	log			*slog.Logger
	state		state

	classes		sizeclass.Table
	provider	*region.Provider
	regions		*registry.Registry
	free		*freelist.Pool
	dereg		region.DeregisterFunc

	numaNode	int
	growth		uint64 // factor
	prevGrowth	uint64 // size of the previous free list reservation

	deregd		map[int]struct{} // region keys already deregistered by a failed Close

	handedOut	uint64
	checkedOut	uint64
	raw			uint64
	growths		uint64
}

// Create builds an allocator on the host's default region backend, registering every region
// with reg and deregistering it with dereg at Close.
func Create(opts config.Options, reg region.RegisterFunc, dereg region.DeregisterFunc) (*Allocator, error) {
	provider := region.CreateProvider(region.DefaultBackend(),
		region.CreateKeyGen(region.SeedFromHost()), opts.HugepageSize, reg)
	return CreateWithProvider(opts, provider, dereg)
}

// The initial reservation has to succeed, an allocator with no memory is not handed out.
// InitialSize is clamped up to the top class size and rounded up to a multiple of it.
func CreateWithProvider(opts config.Options, provider *region.Provider, dereg region.DeregisterFunc) (*Allocator, error) {
	if err := opts.Validate(); err != nil { return nil, err }
	if provider.Hugepage() != opts.HugepageSize {
		return nil, fmt.Errorf("%w: provider hugepage %d != %d", config.ErrInvalidOptions,
			provider.Hugepage(), opts.HugepageSize)
	}

	classes := sizeclass.CreateTable(opts.MinClassSize, opts.NumClasses)
	// whole top-class buffers only, so growth multiples of it never leave a remainder
	initial := c.RoundUp(max(opts.InitialSize, classes.MaxClassSize()), classes.MaxClassSize())

	a := &Allocator {
		log: 		slog.With("src", "BufferAllocator"),
		classes: 	classes,
		provider: 	provider,
		regions: 	registry.CreateRegistry(),
		free: 		freelist.CreatePool(classes),
		dereg: 		dereg,
		numaNode: 	opts.NumaNode,
		growth: 	opts.GrowthFactor,
		prevGrowth: initial,
		deregd: 	make(map[int]struct{}),
	}

	if err := a.reserve(initial); err != nil {
		return nil, fmt.Errorf("initial reservation of %d bytes: %w", initial, err)
	}
	a.state = stateOperational

	a.log.Debug("created allocator", "initial", initial, "node", a.numaNode,
		"classes", classes.NumClasses(), "max_class", classes.MaxClassSize())
	return a, nil
}

// Acquire a region of at least size bytes and slice it into top-class buffers. Sizes are
// multiples of the top class, which is a multiple of the hugepage size, so there is no
// remainder.
func (a *Allocator) reserve(size uint64) error {
	top := a.classes.Top()
	topSize := a.classes.MaxClassSize()
	assert.LessOrEqual(topSize, size, "reservation smaller than one top-class buffer")

	r, err := a.provider.Acquire(size, a.numaNode)
	if err != nil { return err }
	a.regions.Record(r)

	n := r.Size() / topSize
	for i := range n {
		lo, hi := i*topSize, (i+1)*topSize
		a.free.Push(top, Buffer{Buf: r.Mem[lo:hi:hi], LKey: r.Reg.LKey})
	}
	return nil
}

func (a *Allocator) grow() error {
	hi, size := bits.Mul64(a.prevGrowth, a.growth)
	if hi != 0 {
		return &region.Error{Kind: region.KindConfiguration, Op: "grow", Msg: "growth size overflows",
			Size: a.prevGrowth}
	}
	if err := a.reserve(size); err != nil {
		return err
	}
	a.prevGrowth = size
	a.growths++
	a.log.Debug("grew", "size", size, "regions", a.regions.Len(), "reserved", a.regions.Reserved())
	return nil
}

// Alloc returns a buffer of the smallest class that fits size. On a free list miss it splits
// a larger free buffer, or when there is none, reserves a new region twice the size of the
// previous one.
//
// Running out of hugepages is ordinary backpressure: it returns an empty Buffer and an error
// matching region.ErrOutOfMemory. Any other region error is fatal (region.IsFatal) and the
// allocator must not be used further.
func (a *Allocator) Alloc(size uint64) (Buffer, error) {
	assert.Equal(a.state, stateOperational, "alloc on a closed allocator")

	class, ok := a.classes.Classify(size)
	if !ok {
		return Buffer{}, fmt.Errorf("%w: %d > %d", ErrSizeTooLarge, size, a.classes.MaxClassSize())
	}

	if b, ok := a.free.Pop(class); ok {
		a.account(b)
		return b, nil
	}

	next := a.free.FirstNonEmpty(class + 1)
	if next == -1 {
		if err := a.grow(); err != nil {
			return Buffer{}, err
		}
		next = a.classes.Top()
	}
	for ; next > class; next-- {
		a.free.Split(next)
	}

	b, ok := a.free.Pop(class)
	assert.True(ok, "free list empty after growth")
	a.account(b)
	return b, nil
}

func (a *Allocator) account(b Buffer) {
	a.handedOut += b.Len()
	a.checkedOut += b.Len()
}

// Free hands b back to its class's free list. b must come from this allocator's Alloc and
// must not be freed twice. Neither is checked outside of assert builds.
func (a *Allocator) Free(b Buffer) {
	class, ok := a.classes.Classify(b.Len())
	assert.True(ok && !b.IsEmpty(), "freeing a buffer that is not ours")
	assert.Equal(a.classes.MaxSize(class), b.Len(), "freeing a buffer with a non-class length")
	assert.LessOrEqual(b.Len(), a.checkedOut, "free without a matching alloc")

	a.free.Push(class, b)
	a.checkedOut -= b.Len()
}

// AllocRaw reserves a dedicated region of at least size bytes, outside the free lists and
// with no upper bound on size. The memory lives until Close.
// Returns nil with an ErrOutOfMemory match when hugepages are exhausted.
func (a *Allocator) AllocRaw(size uint64) ([]byte, error) {
	assert.Equal(a.state, stateOperational, "alloc on a closed allocator")

	r, err := a.provider.Acquire(size, a.numaNode)
	if err != nil { return nil, err }
	a.regions.Record(r)
	a.raw += r.Size()
	a.handedOut += r.Size()
	return r.Mem, nil
}

// CreateCache makes sure at least count buffers of size's class are free, doing any growth
// now rather than on a later latency sensitive Alloc. Growth that already happened is kept
// if it fails part way.
func (a *Allocator) CreateCache(size uint64, count int) error {
	class, ok := a.classes.Classify(size)
	if !ok {
		return fmt.Errorf("%w: %d > %d", ErrSizeTooLarge, size, a.classes.MaxClassSize())
	}

	if a.free.Len(class) >= count { return nil }

	// Hold every buffer taken until the free list plus the held buffers cover count. The
	// first Allocs only drain what is already free, counting those as progress would leave
	// the list short after the frees.
	bufs := make([]Buffer, 0, count)
	defer func() {
		for _, b := range bufs {
			a.Free(b)
		}
	}()

	for a.free.Len(class)+len(bufs) < count {
		b, err := a.Alloc(size)
		if err != nil {
			return fmt.Errorf("create cache of %d x %d bytes: %w", count, a.classes.MaxSize(class), err)
		}
		bufs = append(bufs, b)
	}
	return nil
}

func (a *Allocator) Stats() Stats {
	return Stats {
		Reserved: 	a.regions.Reserved(),
		HandedOut: 	a.handedOut,
		CheckedOut: a.checkedOut,
		Raw: 		a.raw,
		Regions: 	a.regions.Len(),
		RegionSizes: a.regions.Sizes(),
		Growths: 	a.growths,
	}
}

func (a *Allocator) Growths() uint64 			{ return a.growths }
func (a *Allocator) NumaNode() int 				{ return a.numaNode }
func (a *Allocator) Classes() sizeclass.Table 	{ return a.classes }

// Free buffers of class
func (a *Allocator) FreeCount(class int) int 	{ return a.free.Len(class) }

// Bytes sitting in free lists
func (a *Allocator) FreeBytes() uint64 			{ return a.free.Bytes() }

// Close deregisters and releases every region exactly once. It stops at the first release
// failure and returns it - those are always fatal. Calling Close again after a failure
// retries the regions that were not released, a clean Close is a no-op.
func (a *Allocator) Close() error {
	if a.state == stateDestroyed { return nil }

	err := a.regions.Drain(func(r region.Region) error {
		if _, done := a.deregd[r.Key]; !done {
			a.dereg(r.Reg)
			a.deregd[r.Key] = struct{}{}
		}
		if err := a.provider.Release(r); err != nil { return err }
		delete(a.deregd, r.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}

	a.state = stateDestroyed
	a.free = freelist.CreatePool(a.classes)
	a.log.Debug("closed allocator", "reserved", a.regions.Reserved())
	return nil
}
