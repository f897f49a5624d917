//go:build linux

package iomgr

import (
	"log/slog"
	"runtime"

	"github.com/aethne0/giouring"
	"golang.org/x/sys/unix"
)

// PERF:
// 1. read/write fixed - the registrar only does step 2, ops using LKey as buf_index
//    are the callers business
// 2. register buffer
// 3. huge TLB - regions come from SHM_HUGETLB segments
// Registering is a GUP over the whole region and is the expensive bit, which is why
// the allocator does it once per region and never per buffer.

const RING_ENTRIES 	= 0x80

type IoMgr struct {
	log			*slog.Logger
	ring 		*giouring.Ring
	registrar	*Registrar
}

func CreateIoMgr(entries uint32) (*IoMgr, error) {
	log := slog.With("src", "IoMgr")
	if entries == 0 { entries = RING_ENTRIES }

	ring, err := giouring.CreateRing(entries)
	if err != nil { return nil, err }

	iomgr := IoMgr {
		log: 		log,
		ring: 		ring,
		registrar: 	CreateRegistrar(ring),
	}
	log.Debug("created ring", "entries", entries)
	return &iomgr, nil
}

func (m *IoMgr) Registrar() *Registrar {
	return m.registrar
}

// Pins the calling goroutine's thread to core. Submission from a fixed core keeps the
// registered pages' completions local.
func PinToCore(core int) error {
	runtime.LockOSThread()
	var cpuSet unix.CPUSet
	cpuSet.Zero()
	cpuSet.Set(core)
	return unix.SchedSetaffinity(0, &cpuSet)
}

// Regions must be deregistered first, Close does not release any allocator memory.
func (m *IoMgr) Close() {
	if m.registrar.Live() > 0 {
		m.log.Warn("closing ring with registered buffers", "live", m.registrar.Live())
	}
	m.registrar.Reset()
	m.ring.QueueExit()
}
