// Hugepage-backed, NUMA-bound memory regions and the provider that acquires and releases them.
package region

import (
	"unsafe"
)

// What registering a region with the hardware interface produced. LKey is the key
// buffers carved from the region carry for direct access, Ctx is registrar private.
type Registration struct {
	LKey	uint32
	Ctx		any
}

// Called exactly once per region, after it is bound and zeroed.
type RegisterFunc func(mem []byte) (Registration, error)

// Called exactly once per live region at teardown. Has no error channel - a failure here
// is a host level problem.
type DeregisterFunc func(reg Registration)

// A Region is owned by the allocator and lives until the allocator is torn down.
type Region struct {
	Key		int		// OS segment key
	ID		int		// OS segment id returned for Key
	Node	int
	Mem		[]byte
	Reg		Registration
}

func (r *Region) Size() uint64 {
	return uint64(len(r.Mem))
}

func (r *Region) Base() uintptr {
	if len(r.Mem) == 0 { return 0 }
	return uintptr(unsafe.Pointer(&r.Mem[0]))
}
