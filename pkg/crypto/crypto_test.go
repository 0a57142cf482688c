package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) (*Ed25519Signer, *Verifier) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s, err := NewEd25519Signer(priv, "test-key-1")
	require.NoError(t, err)
	v, err := NewVerifier(pub, "test-key-1")
	require.NoError(t, err)
	return s, v
}

func TestHasherAlgorithms(t *testing.T) {
	data := []byte("intelligence package bytes")

	sha := NewDefaultHasher().Hash(data)
	assert.Equal(t, AlgorithmSHA256, sha.Algorithm)
	assert.Len(t, sha.Sum, DigestSize)

	b2, err := NewHasher(AlgorithmBLAKE2b)
	require.NoError(t, err)
	blake := b2.Hash(data)
	assert.Equal(t, AlgorithmBLAKE2b, blake.Algorithm)
	assert.Len(t, blake.Sum, DigestSize)

	assert.NotEqual(t, sha.Sum, blake.Sum)
}

func TestNewHasherRejectsUnknownAlgorithm(t *testing.T) {
	_, err := NewHasher("md5")
	require.Error(t, err)
}

func TestDigestEqualConstantTime(t *testing.T) {
	h := NewDefaultHasher()
	a := h.Hash([]byte("same"))
	b := h.Hash([]byte("same"))
	c := h.Hash([]byte("different"))

	eq, err := a.Equal(b)
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = a.Equal(c)
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestDigestEqualAlgorithmMismatchFailsExplicitly(t *testing.T) {
	data := []byte("payload")
	sha := NewDefaultHasher().Hash(data)
	b2, _ := NewHasher(AlgorithmBLAKE2b)
	blake := b2.Hash(data)

	eq, err := sha.Equal(blake)
	assert.False(t, eq)
	require.ErrorIs(t, err, ErrAlgorithmMismatch)
}

func TestDigestStringRoundTrip(t *testing.T) {
	d := NewDefaultHasher().Hash([]byte("x"))
	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	eq, err := d.Equal(parsed)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestParseDigestRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"sha256",
		"sha256:zz",
		"sha256:abcd", // too short
		"md5:" + "00" + "0000000000000000000000000000000000000000000000000000000000000000"[:62],
	} {
		_, err := ParseDigest(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s, v := testSigner(t)
	d := NewDefaultHasher().Hash([]byte("package"))

	sig, err := s.Sign(d)
	require.NoError(t, err)
	require.NoError(t, v.Verify(d, sig))
}

func TestVerifyRejectsMutatedSignature(t *testing.T) {
	s, v := testSigner(t)
	d := NewDefaultHasher().Hash([]byte("package"))
	sig, err := s.Sign(d)
	require.NoError(t, err)

	// Flip one hex nibble at every position; all must fail.
	for i := 0; i < len(sig); i++ {
		mutated := []byte(sig)
		if mutated[i] == '0' {
			mutated[i] = '1'
		} else {
			mutated[i] = '0'
		}
		assert.ErrorIs(t, v.Verify(d, string(mutated)), ErrInvalidSignature, "position %d", i)
	}
}

func TestVerifyRejectsMutatedDigest(t *testing.T) {
	s, v := testSigner(t)
	d := NewDefaultHasher().Hash([]byte("package"))
	sig, err := s.Sign(d)
	require.NoError(t, err)

	for i := 0; i < len(d.Sum); i++ {
		tampered := Digest{Algorithm: d.Algorithm, Sum: append([]byte(nil), d.Sum...)}
		tampered.Sum[i] ^= 0x01
		assert.ErrorIs(t, v.Verify(tampered, sig), ErrInvalidSignature, "byte %d", i)
	}
}

func TestVerifyRejectsAlgorithmSubstitution(t *testing.T) {
	s, v := testSigner(t)
	d := NewDefaultHasher().Hash([]byte("package"))
	sig, err := s.Sign(d)
	require.NoError(t, err)

	// Same bit pattern, different claimed algorithm.
	substituted := Digest{Algorithm: AlgorithmBLAKE2b, Sum: d.Sum}
	assert.ErrorIs(t, v.Verify(substituted, sig), ErrInvalidSignature)
}

func TestVerifyErrorIsGeneric(t *testing.T) {
	s, v := testSigner(t)
	d := NewDefaultHasher().Hash([]byte("package"))
	sig, _ := s.Sign(d)

	wrongKey := NewDefaultHasher().Hash([]byte("other"))
	malformed := v.Verify(d, "not-hex")
	tampered := v.Verify(wrongKey, sig)

	// Every failure class surfaces as the same sentinel.
	assert.ErrorIs(t, malformed, ErrInvalidSignature)
	assert.ErrorIs(t, tampered, ErrInvalidSignature)
	assert.Equal(t, malformed.Error(), tampered.Error())
}

func TestSignerRequiresInjectedKey(t *testing.T) {
	_, err := NewEd25519Signer(nil, "k")
	require.Error(t, err)
	_, err = NewEd25519Signer(make([]byte, 10), "k")
	require.Error(t, err)
}

func TestKeyRingVerifyByKeyID(t *testing.T) {
	s, v := testSigner(t)
	ring := NewKeyRing()
	ring.Add(v)

	d := NewDefaultHasher().Hash([]byte("package"))
	sig, err := s.Sign(d)
	require.NoError(t, err)

	require.NoError(t, ring.Verify("test-key-1", d, sig))
	assert.ErrorIs(t, ring.Verify("unknown-key", d, sig), ErrInvalidSignature)

	ring.Revoke("test-key-1")
	assert.ErrorIs(t, ring.Verify("test-key-1", d, sig), ErrInvalidSignature)
}
