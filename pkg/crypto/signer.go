package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidSignature is the single verification failure returned to callers.
// It deliberately does not distinguish wrong key, malformed signature, or
// tampered digest, so verification cannot be used as an oracle.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// Signer signs digests with an injected private key.
type Signer interface {
	Sign(d Digest) (string, error)
	KeyID() string
	PublicKey() ed25519.PublicKey
}

// Ed25519Signer signs the algorithm-tagged digest bytes with Ed25519.
// Signatures are lowercase hex.
type Ed25519Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

// NewEd25519Signer wraps an injected private key. Key lifecycle (generation,
// rotation, storage) belongs to the caller's HSM or key vault.
func NewEd25519Signer(priv ed25519.PrivateKey, keyID string) (*Ed25519Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key length %d, want %d", len(priv), ed25519.PrivateKeySize)
	}
	if keyID == "" {
		return nil, errors.New("crypto: signer key id is required")
	}
	return &Ed25519Signer{
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
		keyID: keyID,
	}, nil
}

func (s *Ed25519Signer) Sign(d Digest) (string, error) {
	if d.IsZero() {
		return "", errors.New("crypto: cannot sign zero digest")
	}
	sig := ed25519.Sign(s.priv, d.TaggedBytes())
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) KeyID() string { return s.keyID }

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Verifier checks hex signatures over digests against one public key.
type Verifier struct {
	pub   ed25519.PublicKey
	keyID string
}

// NewVerifier wraps an injected public key.
func NewVerifier(pub ed25519.PublicKey, keyID string) (*Verifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: public key length %d, want %d", len(pub), ed25519.PublicKeySize)
	}
	return &Verifier{pub: pub, keyID: keyID}, nil
}

func (v *Verifier) KeyID() string { return v.keyID }

// Verify returns nil for a valid signature and ErrInvalidSignature for every
// failure mode.
func (v *Verifier) Verify(d Digest, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(v.pub, d.TaggedBytes(), sig) {
		return ErrInvalidSignature
	}
	return nil
}
