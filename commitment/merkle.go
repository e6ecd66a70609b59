package commitment

import (
	"bytes"
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/common"
)

// hashPair hashes two nodes in ascending byte order, so that a verifier
// does not need to know on which side each sibling sits.
func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	var buf [2 * common.HashLength]byte
	copy(buf[:common.HashLength], a[:])
	copy(buf[common.HashLength:], b[:])
	return sha256.Sum256(buf[:])
}

// layers holds every level of the tree, leaves first. The last layer has a
// single node, the root. An odd trailing node is promoted unchanged.
type layers [][]common.Hash

type nodeUpdate struct {
	level int
	index int
	hash  common.Hash
}

// planAppend computes the nodes that change when leaf is appended, without
// modifying l. Only the last node of each level changes, so the plan has
// one entry per level and its last entry is the new root.
func (l layers) planAppend(leaf common.Hash) []nodeUpdate {
	idx := 0
	if len(l) > 0 {
		idx = len(l[0])
	}
	width := idx + 1
	cur := leaf
	plan := []nodeUpdate{{level: 0, index: idx, hash: leaf}}
	for level := 0; width > 1; level++ {
		if idx%2 == 1 {
			cur = hashPair(l[level][idx-1], cur)
		}
		idx /= 2
		width = (width + 1) / 2
		plan = append(plan, nodeUpdate{level: level + 1, index: idx, hash: cur})
	}
	return plan
}

func (l *layers) apply(plan []nodeUpdate) {
	for _, u := range plan {
		if u.level == len(*l) {
			*l = append(*l, nil)
		}
		layer := (*l)[u.level]
		if u.index == len(layer) {
			(*l)[u.level] = append(layer, u.hash)
			continue
		}
		layer[u.index] = u.hash
	}
}

func (l layers) root() common.Hash {
	if len(l) == 0 {
		return common.Hash{}
	}
	return l[len(l)-1][0]
}

// proof returns the siblings of the leaf at index, bottom up. Levels where
// the node is promoted contribute no sibling.
func (l layers) proof(index int) Proof {
	proof := Proof{}
	for level := 0; level < len(l)-1; level++ {
		layer := l[level]
		if index%2 == 1 {
			proof = append(proof, layer[index-1])
		} else if index+1 < len(layer) {
			proof = append(proof, layer[index+1])
		}
		index /= 2
	}
	return proof
}

// Proof is the ordered list of sibling digests from a leaf up to the root.
type Proof []common.Hash

// Indices returns, for each sibling, whether the running node is hashed
// first. Provers that do not sort pairs need them to rebuild the path.
func (p Proof) Indices(leaf common.Hash) []bool {
	indices := make([]bool, len(p))
	cur := leaf
	for i, sibling := range p {
		indices[i] = bytes.Compare(cur[:], sibling[:]) <= 0
		cur = hashPair(cur, sibling)
	}
	return indices
}

// Strings returns the 0x-prefixed hex form of every sibling.
func (p Proof) Strings() []string {
	s := make([]string, len(p))
	for i, h := range p {
		s[i] = h.Hex()
	}
	return s
}

// VerifyProof reports whether leaf and proof hash up to root.
func VerifyProof(leaf common.Hash, proof Proof, root common.Hash) bool {
	cur := leaf
	for _, sibling := range proof {
		cur = hashPair(cur, sibling)
	}
	return cur == root
}
