package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_KeyGen_Positive_And_Deterministic(t *testing.T) {
	a := CreateKeyGen(1234)
	b := CreateKeyGen(1234)
	for range 10000 {
		ka := a.Next()
		assert.Positive(t, ka)
		assert.LessOrEqual(t, ka, 0x7fffffff)
		assert.Equal(t, ka, b.Next())
	}
}

func Test_KeyGen_Seeds_Differ(t *testing.T) {
	assert.NotEqual(t, CreateKeyGen(SeedFromHost()).Next(), CreateKeyGen(SeedFromHost()+1).Next())
}
