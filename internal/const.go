// Constants
package internal

const KiB		= uint64(1) << 10
const MiB		= uint64(1) << 20
const GiB		= uint64(1) << 30

// Hugepage granularity - every region is a multiple of this. 2MiB is the x86_64/arm64
// default hugepage size (check /proc/meminfo Hugepagesize)
const HUGEPAGE_SIZE		= 2 * MiB

const MAX_NUMA_NODES	= 8

func RoundUp(val uint64, align uint64) uint64 {
	return (val + align - 1) / align * align
}

func IsPow2(val uint64) bool {
	return val != 0 && val&(val-1) == 0
}
