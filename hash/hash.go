package hash

import "github.com/minio/sha256-simd"

const (
	// Size is an alias to minio sha256.Size (32 bytes).
	Size = sha256.Size
)

// New is an alias to minio sha256.New.
var New = sha256.New

// Blake3 returns the blake3 digest of the concatenated chunks.
func Blake3(chunks ...[]byte) (out [32]byte) {
	hasher := GetHasher()
	defer PutHasher(hasher)
	for _, chunk := range chunks {
		hasher.Write(chunk)
	}
	hasher.Sum(out[:0])
	return out
}
