package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Hasher computes algorithm-tagged digests over raw bytes. SHA-256 is the
// interoperability default; BLAKE2b-256 is the opt-in fast path.
type Hasher struct {
	algo Algorithm
}

// NewHasher returns a Hasher for the given algorithm.
func NewHasher(algo Algorithm) (*Hasher, error) {
	switch algo {
	case AlgorithmSHA256, AlgorithmBLAKE2b:
		return &Hasher{algo: algo}, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported hash algorithm %q", algo)
	}
}

// NewDefaultHasher returns the SHA-256 hasher.
func NewDefaultHasher() *Hasher {
	return &Hasher{algo: AlgorithmSHA256}
}

// Algorithm returns the configured algorithm.
func (h *Hasher) Algorithm() Algorithm { return h.algo }

// Hash digests data with the configured algorithm.
func (h *Hasher) Hash(data []byte) Digest {
	switch h.algo {
	case AlgorithmBLAKE2b:
		sum := blake2b.Sum256(data)
		return Digest{Algorithm: AlgorithmBLAKE2b, Sum: sum[:]}
	default:
		sum := sha256.Sum256(data)
		return Digest{Algorithm: AlgorithmSHA256, Sum: sum[:]}
	}
}
