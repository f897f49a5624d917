package util

import (
	c "hugealloc/internal"
)

// splitmix64
func Hash(val uint64) uint64 {
	x := val
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x =  x ^ (x >> 31)
	return x
}

// Threshold scaling for humans: under 1KiB in bytes, under 1MiB in KiB, else MiB.
// The value is truncated, this is for display only.
func ScaleBytes(n uint64) (uint64, string) {
	switch {
	case n < c.KiB:
		return n, "B"
	case n < c.MiB:
		return n / c.KiB, "KiB"
	default:
		return n / c.MiB, "MiB"
	}
}
