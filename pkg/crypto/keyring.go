package crypto

import "sync"

// KeyRing resolves signer key ids to verifiers, supporting key rotation:
// receipts signed under a retired key stay verifiable until the key is
// revoked.
type KeyRing struct {
	mu        sync.RWMutex
	verifiers map[string]*Verifier
}

// NewKeyRing creates an empty keyring.
func NewKeyRing() *KeyRing {
	return &KeyRing{verifiers: make(map[string]*Verifier)}
}

// Add registers a verifier under its key id, replacing any previous entry.
func (k *KeyRing) Add(v *Verifier) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.verifiers[v.KeyID()] = v
}

// Revoke removes a key id from the ring.
func (k *KeyRing) Revoke(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.verifiers, keyID)
}

// Verify checks a signature attributed to keyID. Unknown or revoked keys
// fail with the same generic ErrInvalidSignature as a bad signature.
func (k *KeyRing) Verify(keyID string, d Digest, sigHex string) error {
	k.mu.RLock()
	v, ok := k.verifiers[keyID]
	k.mu.RUnlock()
	if !ok {
		return ErrInvalidSignature
	}
	return v.Verify(d, sigHex)
}
