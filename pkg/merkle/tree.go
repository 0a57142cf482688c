// Package merkle builds domain-separated Merkle trees over package digests
// and produces inclusion proofs for epoch batching.
//
// Construction invariants:
//   - leaves are sorted by digest bytes, so the committed root is independent
//     of arrival order;
//   - an odd node count at any level duplicates the last node, never promotes
//     it, so every root corresponds to exactly one canonical leaf set;
//   - internal hashes are computed over (LEFT_TAG, left, RIGHT_TAG, right),
//     so swapping children or re-interleaving subtrees changes the root;
//   - parent pointers are recorded at construction time and proofs walk them
//     directly instead of re-walking the tree.
package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/veritas/pkg/crypto"
)

// Position tags with distinct byte values disambiguate left and right inputs
// of an internal hash (second-preimage defense).
const (
	leftTag  byte = 0x01
	rightTag byte = 0x02
)

var (
	// ErrNotFound reports a digest that is not a member of the tree. Prove
	// never returns a silently empty proof.
	ErrNotFound = errors.New("merkle: leaf not in tree")

	// ErrEmptyLeafSet reports an attempt to build a tree with no leaves.
	ErrEmptyLeafSet = errors.New("merkle: empty leaf set")
)

// Node is one tree node. Parent links are immutable after Build.
type Node struct {
	Digest crypto.Digest
	Parent *Node
	Left   *Node
	Right  *Node
}

// Tree is an immutable Merkle tree built once per commitment epoch.
type Tree struct {
	root          *Node
	leaves        []*Node
	index         map[string]*Node
	internalCount int
	hasher        *crypto.Hasher
}

// Build constructs a tree from the given leaf digests. All leaves must share
// one hash algorithm; the internal hashes use the same algorithm.
func Build(leaves []crypto.Digest) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyLeafSet
	}
	algo := leaves[0].Algorithm
	for _, l := range leaves {
		if l.Algorithm != algo {
			return nil, fmt.Errorf("merkle: mixed leaf algorithms %q and %q: %w",
				algo, l.Algorithm, crypto.ErrAlgorithmMismatch)
		}
	}
	hasher, err := crypto.NewHasher(algo)
	if err != nil {
		return nil, err
	}

	sorted := make([]crypto.Digest, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Sum, sorted[j].Sum) < 0
	})

	return buildFromSorted(sorted, hasher)
}

// buildFromSorted assembles nodes bottom-up from an already-ordered leaf
// slice. Split out so tests can observe the effect of violating the sort
// invariant.
func buildFromSorted(sorted []crypto.Digest, hasher *crypto.Hasher) (*Tree, error) {
	t := &Tree{
		leaves: make([]*Node, len(sorted)),
		index:  make(map[string]*Node, len(sorted)),
		hasher: hasher,
	}
	for i, d := range sorted {
		n := &Node{Digest: d}
		t.leaves[i] = n
		key := d.String()
		if _, dup := t.index[key]; !dup {
			t.index[key] = n
		}
	}

	level := append([]*Node(nil), t.leaves...)
	for len(level) > 1 {
		if len(level)%2 != 0 {
			// Duplicate, never promote: the last node pairs with itself.
			level = append(level, level[len(level)-1])
		}
		next := make([]*Node, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			left, right := level[i], level[i+1]
			parent := &Node{
				Digest: hashPair(t.hasher, left.Digest, right.Digest),
				Left:   left,
				Right:  right,
			}
			left.Parent = parent
			right.Parent = parent
			t.internalCount++
			next = append(next, parent)
		}
		level = next
	}
	t.root = level[0]
	return t, nil
}

// hashPair computes the tagged internal hash H(LEFT_TAG||left||RIGHT_TAG||right).
func hashPair(h *crypto.Hasher, left, right crypto.Digest) crypto.Digest {
	buf := make([]byte, 0, 2+len(left.Sum)+len(right.Sum))
	buf = append(buf, leftTag)
	buf = append(buf, left.Sum...)
	buf = append(buf, rightTag)
	buf = append(buf, right.Sum...)
	return h.Hash(buf)
}

// Root returns the committed root digest.
func (t *Tree) Root() crypto.Digest { return t.root.Digest }

// LeafCount returns the number of distinct leaf positions (duplicated
// padding nodes excluded).
func (t *Tree) LeafCount() int { return len(t.leaves) }

// InternalCount returns the number of internal nodes created during Build.
func (t *Tree) InternalCount() int { return t.internalCount }

// Leaves returns the leaf digests in committed (sorted) order.
func (t *Tree) Leaves() []crypto.Digest {
	out := make([]crypto.Digest, len(t.leaves))
	for i, n := range t.leaves {
		out[i] = n.Digest
	}
	return out
}
