package contracts

import "time"

// ReceiptStatus is the lifecycle state of a Receipt.
// PENDING -> {COMMITTED, FAILED}; COMMITTED and FAILED are terminal.
type ReceiptStatus string

const (
	StatusPending   ReceiptStatus = "PENDING"
	StatusCommitted ReceiptStatus = "COMMITTED"
	StatusFailed    ReceiptStatus = "FAILED"
)

// Receipt is a signed, optionally Merkle-anchored proof that a specific
// intelligence package existed and was hashed at a point in time.
//
// PackageHash and MerkleRoot are algorithm-tagged lowercase hex strings,
// e.g. "sha256:ab12…". Once COMMITTED a receipt is immutable; revocation is
// modeled as a new superseding receipt with a fresh ReceiptID.
type Receipt struct {
	ReceiptID         string        `json:"receipt_id"`
	ActorID           string        `json:"actor_id"`
	PackageHash       string        `json:"package_hash"`
	MerkleRoot        string        `json:"merkle_root,omitempty"`
	MerkleProof       []ProofStep   `json:"merkle_proof,omitempty"`
	Signature         string        `json:"signature"`
	SignerPublicKeyID string        `json:"signer_public_key_id"`
	Network           string        `json:"network"`
	TxReference       string        `json:"tx_reference,omitempty"`
	CommittedAt       time.Time     `json:"committed_at,omitempty"`
	Tier              string        `json:"tier"`
	Status            ReceiptStatus `json:"status"`
	Supersedes        string        `json:"supersedes,omitempty"`
}

// ProofStep is one hop of a Merkle inclusion proof in wire form. Position
// names the side the sibling sits on ("left" or "right").
type ProofStep struct {
	SiblingHash string `json:"sibling_hash"`
	Position    string `json:"position"`
}

// VerificationResult is the tagged outcome of verifying a receipt. It is
// returned as data, never as an error, so call sites are forced to handle
// every outcome and can build audit trails without exception control flow.
type VerificationResult string

const (
	VerificationValid            VerificationResult = "VALID"
	VerificationHashMismatch     VerificationResult = "HASH_MISMATCH"
	VerificationSignatureInvalid VerificationResult = "SIGNATURE_INVALID"
	VerificationProofInvalid     VerificationResult = "PROOF_INVALID"
	VerificationRootUnavailable  VerificationResult = "ROOT_UNAVAILABLE"
)
