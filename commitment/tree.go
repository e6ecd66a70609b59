// Package commitment implements the append-only Merkle tree holding every
// issued spend note. Parents are sha256 of the two children in ascending
// byte order, an odd trailing node is promoted unchanged, and the root of an
// empty tree is 32 zero bytes.
package commitment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/spendnote/log"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrAmountOverflow     = errors.New("amount does not fit in 256 bits")
	ErrLeafNotFound       = errors.New("leaf not found")
	ErrLeafExists         = errors.New("leaf already in tree")
	ErrStorageUnavailable = errors.New("commitment storage unavailable")
	ErrCorruptLeaf        = errors.New("stored leaf does not match its note")
	ErrNotInitialized     = errors.New("commitment tree not initialized")
)

// Root is a tree root as recorded after each append.
type Root struct {
	Hash      common.Hash
	LeafCount uint64
	Timestamp time.Time
}

// Storage persists leaves and roots. It is append-only: there is no way to
// modify or delete a stored leaf.
type Storage interface {
	// LoadAllLeaves returns every stored leaf ordered by index.
	LoadAllLeaves(ctx context.Context) ([]Leaf, error)
	// AppendLeaf stores leaf together with the root it produces, atomically.
	AppendLeaf(ctx context.Context, leaf Leaf, root Root) error
}

// Tree is the commitment tree. All methods are safe for concurrent use;
// appends are serialized.
type Tree struct {
	storage Storage

	mu          sync.RWMutex
	initialized bool
	layers      layers
	leaves      []Leaf
	index       map[common.Hash]int
}

// New returns an empty tree backed by storage. A nil storage keeps the tree
// in memory only. Initialize must be called before use.
func New(storage Storage) *Tree {
	return &Tree{
		storage: storage,
		index:   make(map[common.Hash]int),
	}
}

// Initialize loads all stored leaves and rebuilds the tree from them.
func (t *Tree) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stored []Leaf
	if t.storage != nil {
		var err error
		stored, err = t.storage.LoadAllLeaves(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}

	var ls layers
	leaves := make([]Leaf, 0, len(stored))
	index := make(map[common.Hash]int, len(stored))
	for i, leaf := range stored {
		if leaf.Index != uint64(i) {
			return fmt.Errorf("%w: leaf %d found at position %d", ErrCorruptLeaf, leaf.Index, i)
		}
		hash, err := LeafHash(&leaf.Note)
		if err != nil {
			return fmt.Errorf("%w: leaf %d: %w", ErrCorruptLeaf, i, err)
		}
		if hash != leaf.Hash {
			return fmt.Errorf("%w: leaf %d hash %x, note hashes to %x", ErrCorruptLeaf, i, leaf.Hash, hash)
		}
		if _, ok := index[hash]; ok {
			return fmt.Errorf("%w: leaf %d duplicates %x", ErrCorruptLeaf, i, hash)
		}
		ls.apply(ls.planAppend(hash))
		index[hash] = i
		leaves = append(leaves, leaf)
	}
	t.layers, t.leaves, t.index = ls, leaves, index
	t.initialized = true
	log.Infow("commitment tree initialized", "leaves", len(leaves), "root", ls.root().Hex())
	return nil
}

// AddSpendNote appends note to the tree and returns its leaf hash. The leaf
// and the resulting root are persisted before the in-memory tree changes,
// so a storage failure leaves the tree as it was.
func (t *Tree) AddSpendNote(ctx context.Context, note SpendNote) (common.Hash, error) {
	hash, err := LeafHash(&note)
	if err != nil {
		return common.Hash{}, err
	}
	note.Amount = new(big.Int).Set(note.Amount)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return common.Hash{}, ErrNotInitialized
	}
	if _, ok := t.index[hash]; ok {
		return common.Hash{}, fmt.Errorf("%w: %x", ErrLeafExists, hash)
	}

	plan := t.layers.planAppend(hash)
	leaf := Leaf{Index: uint64(len(t.leaves)), Hash: hash, Note: note}
	root := Root{
		Hash:      plan[len(plan)-1].hash,
		LeafCount: leaf.Index + 1,
		Timestamp: time.Now(),
	}
	if t.storage != nil {
		if err := t.storage.AppendLeaf(ctx, leaf, root); err != nil {
			return common.Hash{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}

	t.layers.apply(plan)
	t.index[hash] = len(t.leaves)
	t.leaves = append(t.leaves, leaf)
	log.Debugw("spend note added", "leaf", hash.Hex(), "index", leaf.Index, "root", root.Hash.Hex())
	return hash, nil
}

// GetProof returns the inclusion proof of leafHash against the current root.
func (t *Tree) GetProof(leafHash common.Hash) (Proof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[leafHash]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrLeafNotFound, leafHash)
	}
	return t.layers.proof(i), nil
}

// GetProofWithRoot returns the inclusion proof of leafHash together with
// the root it proves against, read atomically.
func (t *Tree) GetProofWithRoot(leafHash common.Hash) (Proof, common.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[leafHash]
	if !ok {
		return nil, common.Hash{}, fmt.Errorf("%w: %x", ErrLeafNotFound, leafHash)
	}
	return t.layers.proof(i), t.layers.root(), nil
}

// VerifyLeaf reports whether leafHash is in the tree and proof links it to
// the current root.
func (t *Tree) VerifyLeaf(leafHash common.Hash, proof Proof) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.index[leafHash]; !ok {
		return false
	}
	return VerifyProof(leafHash, proof, t.layers.root())
}

// Leaf returns the stored leaf for leafHash.
func (t *Tree) Leaf(leafHash common.Hash) (*Leaf, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[leafHash]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrLeafNotFound, leafHash)
	}
	leaf := t.leaves[i]
	return &leaf, nil
}

// Root returns the current root.
func (t *Tree) Root() common.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.layers.root()
}

// Size returns the number of leaves.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// Leaves returns a copy of all leaves in insertion order.
func (t *Tree) Leaves() []Leaf {
	t.mu.RLock()
	defer t.mu.RUnlock()
	leaves := make([]Leaf, len(t.leaves))
	copy(leaves, t.leaves)
	return leaves
}
