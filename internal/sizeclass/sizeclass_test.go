package sizeclass

import (
	"math/rand/v2"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
)

func Test_SizeClass_Ladder(t *testing.T) {
	tbl := CreateTable(64, 18)
	assert.Equal(t, 18, tbl.NumClasses())
	assert.Equal(t, uint64(64), tbl.MaxSize(0))
	assert.Equal(t, uint64(8<<20), tbl.MaxClassSize())

	sizes := tbl.Sizes()
	for i := 1; i < len(sizes); i++ {
		assert.Equal(t, sizes[i-1]*2, sizes[i])
	}
}

func Test_SizeClass_Edges(t *testing.T) {
	tbl := CreateTable(64, 18)
	cases := []struct {
		size	uint64
		class	int
	}{
		{0, 0}, {1, 0}, {63, 0}, {64, 0},
		{65, 1}, {128, 1}, {129, 2},
		{4096, 6}, {4097, 7},
		{8 << 20, 17},
	}
	for _, tc := range cases {
		class, ok := tbl.Classify(tc.size)
		assert.True(t, ok, "size=%d", tc.size)
		assert.Equal(t, tc.class, class, "size=%d", tc.size)
	}
}

func Test_SizeClass_TooLarge(t *testing.T) {
	tbl := CreateTable(64, 16)
	_, ok := tbl.Classify(tbl.MaxClassSize() + 1)
	assert.False(t, ok)
	_, ok = tbl.Classify(^uint64(0))
	assert.False(t, ok)
}

func Test_SizeClass_MatchesReference(t *testing.T) {
	seed := [32]byte{7}
	faker := gofakeit.NewFaker(rand.NewChaCha8(seed), true)

	tbl := CreateTable(64, 18)
	for range 10000 {
		size := uint64(faker.IntRange(1, int(tbl.MaxClassSize())))
		fast, ok := tbl.Classify(size)
		assert.True(t, ok)
		slow, _ := tbl.classifySlow(size)
		assert.Equal(t, slow, fast, "size=%d", size)

		// smallest class that fits
		assert.GreaterOrEqual(t, tbl.MaxSize(fast), size)
		if fast > 0 {
			assert.Less(t, tbl.MaxSize(fast-1), size)
		}
	}
}
