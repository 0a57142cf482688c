package merkle

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/veritas/pkg/crypto"
)

func leavesFromSeed(seed int64, n int) []crypto.Digest {
	h := crypto.NewDefaultHasher()
	leaves := make([]crypto.Digest, n)
	for i := range leaves {
		leaves[i] = h.Hash([]byte(fmt.Sprintf("%d/%d", seed, i)))
	}
	return leaves
}

func TestPropertyRootInvariantUnderPermutation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("permuted leaf sets build identical roots", prop.ForAll(
		func(seed int64, n int) bool {
			leaves := leavesFromSeed(seed, n)
			tree1, err1 := Build(leaves)

			rng := rand.New(rand.NewSource(seed))
			shuffled := append([]crypto.Digest(nil), leaves...)
			rng.Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			tree2, err2 := Build(shuffled)

			if err1 != nil || err2 != nil {
				return false
			}
			return tree1.Root().String() == tree2.Root().String()
		},
		gen.Int64(),
		gen.IntRange(2, 64),
	))

	properties.TestingRun(t)
}

func TestPropertyChildOrderIsSignificant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	h := crypto.NewDefaultHasher()
	properties.Property("swapping children changes the parent hash", prop.ForAll(
		func(a, b string) bool {
			left := h.Hash([]byte("L" + a))
			right := h.Hash([]byte("R" + b))
			forward := hashPair(h, left, right)
			swapped := hashPair(h, right, left)
			eq, err := forward.Equal(swapped)
			return err == nil && !eq
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestPropertyEveryGeneratedProofVerifies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("Prove output always verifies against the root", prop.ForAll(
		func(seed int64, n int) bool {
			leaves := leavesFromSeed(seed, n)
			tree, err := Build(leaves)
			if err != nil {
				return false
			}
			for _, leaf := range leaves {
				proof, err := tree.Prove(leaf)
				if err != nil {
					return false
				}
				if !VerifyProof(tree.Root(), leaf, proof) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(2, 64),
	))

	properties.TestingRun(t)
}
