package merkle

import (
	"github.com/Mindburn-Labs/veritas/pkg/crypto"
)

// Position names the side an inclusion-proof sibling sits on.
type Position string

const (
	PositionLeft  Position = "left"
	PositionRight Position = "right"
)

// Step is one hop of an inclusion proof: the sibling digest and which side
// of the pair it occupies.
type Step struct {
	Sibling  crypto.Digest
	Position Position
}

// Proof is the sibling path from a leaf to the root, verifiable without the
// original tree.
type Proof struct {
	Leaf  crypto.Digest
	Steps []Step
}

// Prove returns the inclusion proof for leaf, or ErrNotFound when the digest
// is not a tree member. The path is collected by walking the parent pointers
// recorded at construction time.
func (t *Tree) Prove(leaf crypto.Digest) (*Proof, error) {
	n, ok := t.index[leaf.String()]
	if !ok {
		return nil, ErrNotFound
	}

	proof := &Proof{Leaf: leaf}
	for n.Parent != nil {
		p := n.Parent
		if p.Left == n {
			proof.Steps = append(proof.Steps, Step{Sibling: p.Right.Digest, Position: PositionRight})
		} else {
			proof.Steps = append(proof.Steps, Step{Sibling: p.Left.Digest, Position: PositionLeft})
		}
		n = p
	}
	return proof, nil
}

// VerifyProof replays the tagged-pair hashing up the proof path and compares
// the recomputed root against root in constant time. Any algorithm mix,
// mutated sibling, or mutated leaf yields false.
func VerifyProof(root, leaf crypto.Digest, proof *Proof) bool {
	if proof == nil {
		return false
	}
	hasher, err := crypto.NewHasher(leaf.Algorithm)
	if err != nil {
		return false
	}

	current := leaf
	for _, step := range proof.Steps {
		if step.Sibling.Algorithm != current.Algorithm {
			return false
		}
		switch step.Position {
		case PositionLeft:
			current = hashPair(hasher, step.Sibling, current)
		case PositionRight:
			current = hashPair(hasher, current, step.Sibling)
		default:
			return false
		}
	}

	eq, err := current.Equal(root)
	return err == nil && eq
}
