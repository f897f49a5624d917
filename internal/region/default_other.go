//go:build !linux

package region

// No SysV hugetlb shm or mbind outside linux - fall back to anonymous mappings.
func DefaultBackend() Backend {
	return CreateHeapBackend(0)
}
