package partition

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"github.com/c360/rulecore/message"
)

// Supported hash function names
const (
	HashMurmur3128 = "murmur3_128"
	HashMurmur332  = "murmur3_32"
	HashSHA256     = "sha256"
)

// hashFunc maps an entity UUID to a signed 32-bit hash
type hashFunc func(id uuid.UUID) int32

func newHashFunc(name string) (hashFunc, error) {
	switch name {
	case "", HashMurmur3128:
		return murmur3128, nil
	case HashMurmur332:
		return murmur332, nil
	case HashSHA256:
		return sha256Hash, nil
	default:
		return nil, fmt.Errorf("unknown hash function %q", name)
	}
}

// uuidBytes lays out the UUID as two little-endian longs, most significant first
func uuidBytes(id uuid.UUID) []byte {
	msb, lsb := message.UUIDBits(id)
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[:8], uint64(msb))
	binary.LittleEndian.PutUint64(buf[8:], uint64(lsb))
	return buf
}

// murmur3128 takes the low 32 bits of the first 64-bit half, matching the
// first four bytes of the 128-bit digest read little-endian.
func murmur3128(id uuid.UUID) int32 {
	h1, _ := murmur3.Sum128(uuidBytes(id))
	return int32(uint32(h1))
}

func murmur332(id uuid.UUID) int32 {
	return int32(murmur3.Sum32(uuidBytes(id)))
}

func sha256Hash(id uuid.UUID) int32 {
	sum := sha256.Sum256(uuidBytes(id))
	return int32(binary.LittleEndian.Uint32(sum[:4]))
}

// partitionFor returns |hash % size|
func partitionFor(hash int32, size int) int {
	p := int(hash) % size
	if p < 0 {
		p = -p
	}
	return p
}
