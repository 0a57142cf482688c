// Package crypto provides the hashing and signing primitives of the VERITAS
// core: algorithm-tagged digests, a pluggable hash engine, and Ed25519
// signing over digests. Key material is always injected; this package never
// generates or persists keys.
package crypto

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Algorithm identifies a supported hash algorithm.
type Algorithm string

const (
	AlgorithmSHA256  Algorithm = "sha256"
	AlgorithmBLAKE2b Algorithm = "blake2b-256"
)

// DigestSize is the byte length of every supported digest.
const DigestSize = 32

// ErrAlgorithmMismatch reports an attempt to compare digests produced by
// different algorithms. Mixing algorithms between commit and verify must fail
// explicitly, never silently compare bytes.
var ErrAlgorithmMismatch = errors.New("crypto: digest algorithm mismatch")

// Digest is a fixed-length hash output tagged with the algorithm that
// produced it, so a verifier can select the matching comparison routine.
type Digest struct {
	Algorithm Algorithm
	Sum       []byte
}

// Equal compares two digests in constant time. It returns
// ErrAlgorithmMismatch when the algorithms differ; the byte comparison is
// never short-circuited.
func (d Digest) Equal(other Digest) (bool, error) {
	if d.Algorithm != other.Algorithm {
		return false, ErrAlgorithmMismatch
	}
	if len(d.Sum) != len(other.Sum) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(d.Sum, other.Sum) == 1, nil
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d.Algorithm == "" && len(d.Sum) == 0
}

// String renders the digest in its external form, "sha256:<lowercase hex>".
func (d Digest) String() string {
	return string(d.Algorithm) + ":" + hex.EncodeToString(d.Sum)
}

// TaggedBytes returns the algorithm-prefixed byte form used as signing input,
// so a signature over a sha256 digest can never validate a blake2b digest
// with the same bit pattern.
func (d Digest) TaggedBytes() []byte {
	out := make([]byte, 0, len(d.Algorithm)+1+len(d.Sum))
	out = append(out, []byte(d.Algorithm)...)
	out = append(out, 0x00)
	out = append(out, d.Sum...)
	return out
}

// ParseDigest parses the external "algo:hex" form back into a Digest.
func ParseDigest(s string) (Digest, error) {
	algo, hexSum, found := strings.Cut(s, ":")
	if !found {
		return Digest{}, fmt.Errorf("crypto: malformed digest %q", s)
	}
	switch Algorithm(algo) {
	case AlgorithmSHA256, AlgorithmBLAKE2b:
	default:
		return Digest{}, fmt.Errorf("crypto: unsupported digest algorithm %q", algo)
	}
	sum, err := hex.DecodeString(hexSum)
	if err != nil {
		return Digest{}, fmt.Errorf("crypto: malformed digest hex: %w", err)
	}
	if len(sum) != DigestSize {
		return Digest{}, fmt.Errorf("crypto: digest length %d, want %d", len(sum), DigestSize)
	}
	return Digest{Algorithm: Algorithm(algo), Sum: sum}, nil
}
