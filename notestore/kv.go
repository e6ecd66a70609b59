package notestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/db"
	"go.vocdoni.io/spendnote/db/prefixeddb"
	"go.vocdoni.io/spendnote/types"
)

var (
	leafPrefix = []byte("leaf/")
	hashPrefix = []byte("hash/")
	rootPrefix = []byte("root/")
)

type leafRecord struct {
	Index         uint64         `json:"index"`
	LeafHash      common.Hash    `json:"leafHash"`
	WalletAddress common.Address `json:"walletAddress"`
	Nullifier     common.Hash    `json:"nullifier"`
	Amount        *types.BigInt  `json:"amount"`
	Timestamp     int64          `json:"timestamp"`
}

type rootRecord struct {
	Root      common.Hash `json:"root"`
	LeafCount uint64      `json:"leafCount"`
	Timestamp int64       `json:"timestamp"`
}

// KV stores the tree in a db.Database. Leaves are keyed by their big endian
// index, so iterating the leaf prefix yields them in tree order.
type KV struct {
	db db.Database
}

var _ Store = (*KV)(nil)

// NewKV returns a KV store using its own namespace inside database.
func NewKV(database db.Database) *KV {
	return &KV{db: prefixeddb.NewPrefixedDatabase(database, []byte("notes/"))}
}

func indexKey(prefix []byte, i uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), i)
}

// LoadAllLeaves implements commitment.Storage.
func (s *KV) LoadAllLeaves(ctx context.Context) ([]commitment.Leaf, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var leaves []commitment.Leaf
	var decodeErr error
	err := s.db.Iterate(leafPrefix, func(_, value []byte) bool {
		var rec leafRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			decodeErr = fmt.Errorf("cannot decode leaf %d: %w", len(leaves), err)
			return false
		}
		if rec.Amount == nil {
			decodeErr = fmt.Errorf("leaf %d has no amount", rec.Index)
			return false
		}
		leaves = append(leaves, commitment.Leaf{
			Index: rec.Index,
			Hash:  rec.LeafHash,
			Note: commitment.SpendNote{
				WalletAddress: rec.WalletAddress,
				Nullifier:     rec.Nullifier,
				Amount:        rec.Amount.MathBigInt(),
				Timestamp:     rec.Timestamp,
			},
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return leaves, nil
}

// AppendLeaf implements commitment.Storage. The leaf, its hash index and the
// root are written in a single transaction.
func (s *KV) AppendLeaf(ctx context.Context, leaf commitment.Leaf, root commitment.Root) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	leafValue, err := json.Marshal(leafRecord{
		Index:         leaf.Index,
		LeafHash:      leaf.Hash,
		WalletAddress: leaf.Note.WalletAddress,
		Nullifier:     leaf.Note.Nullifier,
		Amount:        types.NewBigInt(leaf.Note.Amount),
		Timestamp:     leaf.Note.Timestamp,
	})
	if err != nil {
		return err
	}
	rootValue, err := json.Marshal(rootRecord{
		Root:      root.Hash,
		LeafCount: root.LeafCount,
		Timestamp: root.Timestamp.UnixMilli(),
	})
	if err != nil {
		return err
	}

	tx := s.db.WriteTx()
	defer tx.Discard()
	leafKey := indexKey(leafPrefix, leaf.Index)
	hashKey := append(append([]byte(nil), hashPrefix...), leaf.Hash.Bytes()...)
	for _, key := range [][]byte{leafKey, hashKey} {
		if _, err := tx.Get(key); err == nil {
			return fmt.Errorf("%w: index %d hash %x", ErrConflict, leaf.Index, leaf.Hash)
		} else if !errors.Is(err, db.ErrKeyNotFound) {
			return err
		}
	}
	if err := tx.Set(leafKey, leafValue); err != nil {
		return err
	}
	if err := tx.Set(hashKey, indexKey(nil, leaf.Index)); err != nil {
		return err
	}
	if err := tx.Set(indexKey(rootPrefix, root.LeafCount), rootValue); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestRoot returns the root stored with the highest leaf count.
func (s *KV) LatestRoot(ctx context.Context) (*commitment.Root, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var last []byte
	if err := s.db.Iterate(rootPrefix, func(_, value []byte) bool {
		last = append(last[:0], value...)
		return true
	}); err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrNotFound
	}
	var rec rootRecord
	if err := json.Unmarshal(last, &rec); err != nil {
		return nil, err
	}
	return &commitment.Root{
		Hash:      rec.Root,
		LeafCount: rec.LeafCount,
		Timestamp: time.UnixMilli(rec.Timestamp),
	}, nil
}

// Close closes the underlying database.
func (s *KV) Close() error {
	return s.db.Close()
}
