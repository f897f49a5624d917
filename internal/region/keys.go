package region

import (
	"encoding/binary"
	"os"
	"time"

	"hugealloc/internal/util"

	"github.com/cespare/xxhash"
)

const SPLITMIX_GAMMA = 0x9e3779b97f4a7c15

// Stream of positive 31-bit shm keys. Key 0 is IPC_PRIVATE and is never produced.
type KeyGen struct {
	state	uint64
}

func CreateKeyGen(seed uint64) *KeyGen {
	return &KeyGen{state: seed}
}

// Different processes on one host must not walk the same key sequence, collisions are
// retried but each one is a wasted shmget.
func SeedFromHost() uint64 {
	host, _ := os.Hostname()
	buf := make([]byte, 0, len(host)+16)
	buf = append(buf, host...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(os.Getpid()))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(time.Now().UnixNano()))
	return xxhash.Sum64(buf)
}

func (g *KeyGen) Next() int {
	for {
		g.state += SPLITMIX_GAMMA
		key := int(util.Hash(g.state) & 0x7fffffff)
		if key != 0 { return key }
	}
}
