//go:build linux

package region

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const SHM_HUGETLB	= 0o4000 // include/uapi/linux/shm.h
const SHM_PERM		= 0o666
const MPOL_BIND		= 2      // include/uapi/linux/mempolicy.h
const MBIND_MAXNODE	= 64     // bits in the nodemask we pass

// SysV shm segments with SHM_HUGETLB. Needs hugepages reserved on the host
// (vm.nr_hugepages) and a large enough kernel.shmmax.
type ShmBackend struct{}

func DefaultBackend() Backend {
	return ShmBackend{}
}

func (ShmBackend) Create(key int, size uint64) (int, error) {
	return unix.SysvShmGet(key, int(size), unix.IPC_CREAT|unix.IPC_EXCL|SHM_PERM|SHM_HUGETLB)
}

func (ShmBackend) Attach(id int) ([]byte, error) {
	return unix.SysvShmAttach(id, 0, 0)
}

func (ShmBackend) Bind(mem []byte, node int) error {
	if len(mem) == 0 { return unix.EINVAL }
	mask := uint64(1) << uint(node)
	_, _, errno := unix.Syscall6(unix.SYS_MBIND,
		uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)),
		MPOL_BIND,
		uintptr(unsafe.Pointer(&mask)), MBIND_MAXNODE,
		0,
	)
	if errno != 0 { return errno }
	return nil
}

func (ShmBackend) Lookup(key int) (int, error) {
	return unix.SysvShmGet(key, 0, 0)
}

func (ShmBackend) Remove(id int) error {
	_, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	return err
}

func (ShmBackend) Detach(mem []byte) error {
	return unix.SysvShmDetach(mem)
}
