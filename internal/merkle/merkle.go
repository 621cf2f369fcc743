// Package merkle verifies binary Merkle proofs over a commutative Keccak-256
// combine rule: parent = keccak(min(a,b) || max(a,b)). The sorted-pair rule
// means proofs carry no left/right position bits.
package merkle

import (
	"bytes"

	"golang.org/x/crypto/sha3"
)

// Hash is a 32-byte Keccak-256 digest.
type Hash [32]byte

// EmptyRoot marks a deal without an eligible-delivery leaf set.
var EmptyRoot = Hash{}

// HashLeaf computes the Keccak-256 digest of raw leaf bytes.
func HashLeaf(data []byte) Hash {
	var h Hash
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	copy(h[:], d.Sum(nil))
	return h
}

// Combine hashes an ordered pair, lower bytes first.
func Combine(a, b Hash) Hash {
	d := sha3.NewLegacyKeccak256()
	if bytes.Compare(a[:], b[:]) <= 0 {
		d.Write(a[:])
		d.Write(b[:])
	} else {
		d.Write(b[:])
		d.Write(a[:])
	}
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}

// Verify folds leaf through the proof and compares against root.
func Verify(leaf Hash, proof []Hash, root Hash) bool {
	node := leaf
	for _, p := range proof {
		node = Combine(node, p)
	}
	return node == root
}
