package notestore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/db"
	"go.vocdoni.io/spendnote/db/metadb"
)

func testLeaf(t *testing.T, i uint64) commitment.Leaf {
	note := commitment.SpendNote{
		WalletAddress: common.HexToAddress("0x" + strings.Repeat("ab", 20)),
		Nullifier:     sha256.Sum256([]byte(fmt.Sprintf("n%d", i))),
		// above 2^64, to check nothing truncates it
		Amount:    new(big.Int).Lsh(big.NewInt(int64(i)+1), 70),
		Timestamp: 1700000000000 + int64(i),
	}
	hash, err := commitment.LeafHash(&note)
	qt.Assert(t, err, qt.IsNil)
	return commitment.Leaf{Index: i, Hash: hash, Note: note}
}

func testStores(t *testing.T) map[string]func() Store {
	dir := t.TempDir()
	return map[string]func() Store{
		"kv": func() Store { return NewKV(metadb.NewTest(t)) },
		"sqlite": func() Store {
			s, err := NewSQL(dir + "/notes.sqlite")
			qt.Assert(t, err, qt.IsNil)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestAppendAndLoad(t *testing.T) {
	for name, newStore := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			c := qt.New(t)
			ctx := context.Background()
			s := newStore()

			_, err := s.LatestRoot(ctx)
			c.Assert(err, qt.Equals, ErrNotFound)
			leaves, err := s.LoadAllLeaves(ctx)
			c.Assert(err, qt.IsNil)
			c.Assert(leaves, qt.HasLen, 0)

			// more than 256 leaves, so big endian keys matter for ordering
			now := time.UnixMilli(1700000000000)
			for i := uint64(0); i < 300; i++ {
				root := commitment.Root{Hash: common.BigToHash(big.NewInt(int64(i))), LeafCount: i + 1, Timestamp: now}
				c.Assert(s.AppendLeaf(ctx, testLeaf(t, i), root), qt.IsNil)
			}

			leaves, err = s.LoadAllLeaves(ctx)
			c.Assert(err, qt.IsNil)
			c.Assert(leaves, qt.HasLen, 300)
			for i, leaf := range leaves {
				want := testLeaf(t, uint64(i))
				c.Assert(leaf.Index, qt.Equals, uint64(i))
				c.Assert(leaf.Hash, qt.Equals, want.Hash)
				c.Assert(leaf.Note.Amount.Cmp(want.Note.Amount), qt.Equals, 0)
				c.Assert(leaf.Note.Timestamp, qt.Equals, want.Note.Timestamp)
			}

			root, err := s.LatestRoot(ctx)
			c.Assert(err, qt.IsNil)
			c.Assert(root.LeafCount, qt.Equals, uint64(300))
			c.Assert(root.Hash, qt.Equals, common.BigToHash(big.NewInt(299)))
			c.Assert(root.Timestamp.Equal(now), qt.IsTrue)
		})
	}
}

func TestAppendConflict(t *testing.T) {
	for name, newStore := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			c := qt.New(t)
			ctx := context.Background()
			s := newStore()

			leaf := testLeaf(t, 0)
			root := commitment.Root{LeafCount: 1, Timestamp: time.Now()}
			c.Assert(s.AppendLeaf(ctx, leaf, root), qt.IsNil)
			c.Assert(s.AppendLeaf(ctx, leaf, root), qt.ErrorIs, ErrConflict)

			// same hash at another index
			leaf.Index = 1
			c.Assert(s.AppendLeaf(ctx, leaf, commitment.Root{LeafCount: 2}), qt.ErrorIs, ErrConflict)

			leaves, err := s.LoadAllLeaves(ctx)
			c.Assert(err, qt.IsNil)
			c.Assert(leaves, qt.HasLen, 1)
		})
	}
}

// TestTreeRestart checks the tree comes back identical from every backend.
func TestTreeRestart(t *testing.T) {
	for _, typ := range []string{db.TypePebble, db.TypeLevelDB, TypeSQLite} {
		t.Run(typ, func(t *testing.T) {
			c := qt.New(t)
			ctx := context.Background()
			dir := t.TempDir()

			s, err := Open(typ, dir)
			c.Assert(err, qt.IsNil)
			tree := commitment.New(s)
			c.Assert(tree.Initialize(ctx), qt.IsNil)
			for i := uint64(0); i < 9; i++ {
				_, err := tree.AddSpendNote(ctx, testLeaf(t, i).Note)
				c.Assert(err, qt.IsNil)
			}
			root := tree.Root()
			c.Assert(s.Close(), qt.IsNil)

			s, err = Open(typ, dir)
			c.Assert(err, qt.IsNil)
			defer s.Close()
			tree = commitment.New(s)
			c.Assert(tree.Initialize(ctx), qt.IsNil)
			c.Assert(tree.Root(), qt.Equals, root)
			c.Assert(tree.Size(), qt.Equals, 9)

			latest, err := s.LatestRoot(ctx)
			c.Assert(err, qt.IsNil)
			c.Assert(latest.Hash, qt.Equals, root)
		})
	}

	_, err := Open("mongodb", t.TempDir())
	qt.Assert(t, err, qt.ErrorMatches, `invalid storage type "mongodb".*`)
}
