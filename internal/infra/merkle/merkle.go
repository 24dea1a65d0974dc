package merkle

import (
	"bytes"
	"crypto/sha256"
	"errors"
)

const HashSize = 32

var (
	ErrEmptyTree      = errors.New("empty merkle tree")
	ErrInvalidHashLen = errors.New("invalid hash length")
	ErrInvalidIndex   = errors.New("invalid leaf index")
	ErrInvalidProof   = errors.New("invalid inclusion proof")
)

// LeafHash domain-separates leaves from internal nodes with a 0x00 prefix.
func LeafHash(recordHash []byte) []byte {
	hasher := sha256.New()
	hasher.Write([]byte{0x00})
	hasher.Write(recordHash)
	return hasher.Sum(nil)
}

// NodeHash domain-separates internal nodes with a 0x01 prefix.
func NodeHash(left, right []byte) []byte {
	hasher := sha256.New()
	hasher.Write([]byte{0x01})
	hasher.Write(left)
	hasher.Write(right)
	return hasher.Sum(nil)
}

// PaddedCount returns the next power of two >= n.
func PaddedCount(n int) int {
	count := 1
	for count < n {
		count <<= 1
	}
	return count
}

// Depth is the number of levels above the leaves for a padded leaf set.
func Depth(n int) int {
	padded := PaddedCount(n)
	depth := 0
	for padded > 1 {
		padded >>= 1
		depth++
	}
	return depth
}

// Tree is a fully materialized padded binary hash tree. The leaf set is
// padded to the next power of two by duplicating the final leaf; a
// zero-filled pad leaf would hand an attacker a known preimage at the tree
// edge, duplication does not.
type Tree struct {
	levels [][][]byte
	leaves int
}

func Build(recordHashes [][]byte) (*Tree, error) {
	if len(recordHashes) == 0 {
		return nil, ErrEmptyTree
	}
	level := make([][]byte, 0, PaddedCount(len(recordHashes)))
	for _, h := range recordHashes {
		if len(h) != HashSize {
			return nil, ErrInvalidHashLen
		}
		level = append(level, LeafHash(h))
	}
	for len(level) < PaddedCount(len(recordHashes)) {
		level = append(level, cloneHash(level[len(level)-1]))
	}

	levels := [][][]byte{level}
	for len(level) > 1 {
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, NodeHash(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels, leaves: len(recordHashes)}, nil
}

func (t *Tree) Root() []byte {
	top := t.levels[len(t.levels)-1]
	return cloneHash(top[0])
}

func (t *Tree) Depth() int {
	return len(t.levels) - 1
}

func (t *Tree) LeafCount() int {
	return t.leaves
}

// Proof returns one sibling hash per level, ordered leaf to root.
func (t *Tree) Proof(index int) ([][]byte, error) {
	if index < 0 || index >= t.leaves {
		return nil, ErrInvalidIndex
	}
	siblings := make([][]byte, 0, t.Depth())
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		siblings = append(siblings, cloneHash(level[sibling]))
		index >>= 1
	}
	return siblings, nil
}

// Root computes only the root for a leaf set.
func Root(recordHashes [][]byte) ([]byte, error) {
	tree, err := Build(recordHashes)
	if err != nil {
		return nil, err
	}
	return tree.Root(), nil
}

// VerifyInclusion folds the sibling path over the leaf, using index parity
// at each level to decide concatenation order, and compares the result to
// the expected root. It needs no access to the tree.
func VerifyInclusion(recordHash []byte, index int, siblings [][]byte, expectedRoot []byte) (bool, error) {
	if len(recordHash) != HashSize || len(expectedRoot) != HashSize {
		return false, ErrInvalidHashLen
	}
	if index < 0 {
		return false, ErrInvalidIndex
	}
	for _, s := range siblings {
		if len(s) != HashSize {
			return false, ErrInvalidHashLen
		}
	}
	if index >= 1<<len(siblings) {
		return false, ErrInvalidIndex
	}

	hash := LeafHash(recordHash)
	for _, sibling := range siblings {
		if index&1 == 0 {
			hash = NodeHash(hash, sibling)
		} else {
			hash = NodeHash(sibling, hash)
		}
		index >>= 1
	}
	return bytes.Equal(hash, expectedRoot), nil
}

func cloneHash(hash []byte) []byte {
	out := make([]byte, len(hash))
	copy(out, hash)
	return out
}
