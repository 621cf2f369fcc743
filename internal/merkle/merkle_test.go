package merkle_test

import (
	"testing"

	"CoffeeClear/internal/merkle"
)

// buildTree folds four leaves into a root the same way an off-chain proof
// generator would, returning the root and the proof for leaves[0].
func buildTree(leaves [4]merkle.Hash) (merkle.Hash, []merkle.Hash) {
	n01 := merkle.Combine(leaves[0], leaves[1])
	n23 := merkle.Combine(leaves[2], leaves[3])
	root := merkle.Combine(n01, n23)
	return root, []merkle.Hash{leaves[1], n23}
}

func TestVerify_ValidProof(t *testing.T) {
	leaves := [4]merkle.Hash{
		merkle.HashLeaf([]byte("tranche-1")),
		merkle.HashLeaf([]byte("tranche-2")),
		merkle.HashLeaf([]byte("tranche-3")),
		merkle.HashLeaf([]byte("tranche-4")),
	}
	root, proof := buildTree(leaves)

	if !merkle.Verify(leaves[0], proof, root) {
		t.Error("valid proof should verify")
	}
}

func TestVerify_FlippedProofByte(t *testing.T) {
	leaves := [4]merkle.Hash{
		merkle.HashLeaf([]byte("a")),
		merkle.HashLeaf([]byte("b")),
		merkle.HashLeaf([]byte("c")),
		merkle.HashLeaf([]byte("d")),
	}
	root, proof := buildTree(leaves)

	proof[0][7] ^= 0x01
	if merkle.Verify(leaves[0], proof, root) {
		t.Error("corrupted proof must not verify")
	}
}

func TestVerify_WrongLeaf(t *testing.T) {
	leaves := [4]merkle.Hash{
		merkle.HashLeaf([]byte("a")),
		merkle.HashLeaf([]byte("b")),
		merkle.HashLeaf([]byte("c")),
		merkle.HashLeaf([]byte("d")),
	}
	root, proof := buildTree(leaves)

	outsider := merkle.HashLeaf([]byte("not-in-tree"))
	if merkle.Verify(outsider, proof, root) {
		t.Error("leaf outside the tree must not verify")
	}
}

func TestVerify_EmptyProofIsLeafEqualsRoot(t *testing.T) {
	leaf := merkle.HashLeaf([]byte("single"))
	if !merkle.Verify(leaf, nil, leaf) {
		t.Error("empty proof should verify when leaf == root")
	}
	if merkle.Verify(leaf, nil, merkle.HashLeaf([]byte("other"))) {
		t.Error("empty proof with different root must fail")
	}
}

func TestCombine_Commutative(t *testing.T) {
	a := merkle.HashLeaf([]byte("x"))
	b := merkle.HashLeaf([]byte("y"))
	if merkle.Combine(a, b) != merkle.Combine(b, a) {
		t.Error("combine must be order-independent")
	}
}
