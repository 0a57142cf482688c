package merkle

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veritas/pkg/crypto"
)

func testLeaves(t *testing.T, n int) []crypto.Digest {
	t.Helper()
	h := crypto.NewDefaultHasher()
	leaves := make([]crypto.Digest, n)
	for i := range leaves {
		leaves[i] = h.Hash([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return leaves
}

func TestBuildDeterministicUnderPermutation(t *testing.T) {
	leaves := testLeaves(t, 13)
	tree, err := Build(leaves)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]crypto.Digest(nil), leaves...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		again, err := Build(shuffled)
		require.NoError(t, err)
		assert.Equal(t, tree.Root().String(), again.Root().String())
	}
}

// expectedInternal is the node count mandated by duplicate-last padding:
// each level of width w (rounded up to even) contributes w/2 parents.
func expectedInternal(n int) int {
	total := 0
	for w := n; w > 1; {
		if w%2 != 0 {
			w++
		}
		total += w / 2
		w = w / 2
	}
	return total
}

func TestOddLeafCountDuplicatesNotPromotes(t *testing.T) {
	for n := 1; n <= 33; n++ {
		tree, err := Build(testLeaves(t, n))
		require.NoError(t, err)
		assert.Equal(t, expectedInternal(n), tree.InternalCount(), "n=%d", n)
		assert.Equal(t, n, tree.LeafCount(), "n=%d", n)
	}
}

func TestProveAndVerifyAllLeaves(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 16, 31} {
		leaves := testLeaves(t, n)
		tree, err := Build(leaves)
		require.NoError(t, err)

		for _, leaf := range leaves {
			proof, err := tree.Prove(leaf)
			require.NoError(t, err, "n=%d leaf=%s", n, leaf)
			assert.True(t, VerifyProof(tree.Root(), leaf, proof), "n=%d leaf=%s", n, leaf)
		}
	}
}

func TestProveUnknownLeafReturnsNotFound(t *testing.T) {
	tree, err := Build(testLeaves(t, 8))
	require.NoError(t, err)

	stranger := crypto.NewDefaultHasher().Hash([]byte("not a member"))
	proof, err := tree.Prove(stranger)
	assert.Nil(t, proof, "never a silently empty proof")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyRejectsProofMutation(t *testing.T) {
	leaves := testLeaves(t, 8)
	tree, err := Build(leaves)
	require.NoError(t, err)

	leaf := leaves[3]
	proof, err := tree.Prove(leaf)
	require.NoError(t, err)
	require.True(t, VerifyProof(tree.Root(), leaf, proof))

	for si, step := range proof.Steps {
		for bi := range step.Sibling.Sum {
			mutated := &Proof{Leaf: proof.Leaf, Steps: make([]Step, len(proof.Steps))}
			copy(mutated.Steps, proof.Steps)
			sum := append([]byte(nil), step.Sibling.Sum...)
			sum[bi] ^= 0x01
			mutated.Steps[si] = Step{
				Sibling:  crypto.Digest{Algorithm: step.Sibling.Algorithm, Sum: sum},
				Position: step.Position,
			}
			assert.False(t, VerifyProof(tree.Root(), leaf, mutated), "step %d byte %d", si, bi)
		}
	}

	// Flipping a side marker invalidates the proof too.
	flipped := &Proof{Leaf: proof.Leaf, Steps: make([]Step, len(proof.Steps))}
	copy(flipped.Steps, proof.Steps)
	if flipped.Steps[0].Position == PositionLeft {
		flipped.Steps[0].Position = PositionRight
	} else {
		flipped.Steps[0].Position = PositionLeft
	}
	assert.False(t, VerifyProof(tree.Root(), leaf, flipped))
}

func TestVerifyRejectsLeafMutation(t *testing.T) {
	leaves := testLeaves(t, 8)
	tree, err := Build(leaves)
	require.NoError(t, err)

	leaf := leaves[5]
	proof, err := tree.Prove(leaf)
	require.NoError(t, err)

	for bi := range leaf.Sum {
		sum := append([]byte(nil), leaf.Sum...)
		sum[bi] ^= 0x80
		tampered := crypto.Digest{Algorithm: leaf.Algorithm, Sum: sum}
		assert.False(t, VerifyProof(tree.Root(), tampered, proof), "byte %d", bi)
	}
}

func TestProofNotValidForDifferentLeafUnderSameRoot(t *testing.T) {
	leaves := testLeaves(t, 8)
	tree, err := Build(leaves)
	require.NoError(t, err)

	proofA, err := tree.Prove(leaves[0])
	require.NoError(t, err)

	for _, other := range leaves[1:] {
		assert.False(t, VerifyProof(tree.Root(), other, proofA))
	}
}

func TestChildSwapChangesHash(t *testing.T) {
	h := crypto.NewDefaultHasher()
	left := h.Hash([]byte("left"))
	right := h.Hash([]byte("right"))

	forward := hashPair(h, left, right)
	swapped := hashPair(h, right, left)
	eq, err := forward.Equal(swapped)
	require.NoError(t, err)
	assert.False(t, eq, "position tags must make child order significant")
}

func TestUnsortedLeafOrderChangesRoot(t *testing.T) {
	leaves := testLeaves(t, 6)
	tree, err := Build(leaves)
	require.NoError(t, err)

	// Feed the builder a deliberately mis-ordered slice: the root must differ
	// from the canonical sorted construction.
	sorted := tree.Leaves()
	misordered := append([]crypto.Digest(nil), sorted...)
	misordered[0], misordered[len(misordered)-1] = misordered[len(misordered)-1], misordered[0]

	hasher := crypto.NewDefaultHasher()
	rogue, err := buildFromSorted(misordered, hasher)
	require.NoError(t, err)
	assert.NotEqual(t, tree.Root().String(), rogue.Root().String())
}

func TestBuildRejectsEmptyAndMixedAlgorithms(t *testing.T) {
	_, err := Build(nil)
	require.ErrorIs(t, err, ErrEmptyLeafSet)

	sha := crypto.NewDefaultHasher().Hash([]byte("a"))
	b2, _ := crypto.NewHasher(crypto.AlgorithmBLAKE2b)
	blake := b2.Hash([]byte("b"))
	_, err = Build([]crypto.Digest{sha, blake})
	require.ErrorIs(t, err, crypto.ErrAlgorithmMismatch)
}

func TestVerifyRejectsAlgorithmMix(t *testing.T) {
	leaves := testLeaves(t, 4)
	tree, err := Build(leaves)
	require.NoError(t, err)
	proof, err := tree.Prove(leaves[0])
	require.NoError(t, err)

	b2, _ := crypto.NewHasher(crypto.AlgorithmBLAKE2b)
	foreignRoot := b2.Hash([]byte("root"))
	assert.False(t, VerifyProof(foreignRoot, leaves[0], proof))
}
