// Package notestore persists the commitment tree: every spend note leaf in
// insertion order and every root the tree went through. Two backends are
// provided, a key-value one on top of pebble or leveldb and a SQL one on top
// of sqlite.
package notestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/db"
	"go.vocdoni.io/spendnote/db/metadb"
)

// TypeSQLite selects the sqlite backend in Open.
const TypeSQLite = "sqlite"

var (
	// ErrNotFound is returned by LatestRoot when no root was stored yet.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a leaf index or hash is already stored.
	ErrConflict = errors.New("leaf already stored")
)

// Store is a commitment.Storage which can also report the last stored root.
type Store interface {
	commitment.Storage
	LatestRoot(ctx context.Context) (*commitment.Root, error)
	Close() error
}

// Open creates a Store of the given type under dir: "pebble", "leveldb" or
// "sqlite".
func Open(typ, dir string) (Store, error) {
	switch typ {
	case TypeSQLite:
		return NewSQL(filepath.Join(dir, "notes.sqlite"))
	case db.TypePebble, db.TypeLevelDB:
		database, err := metadb.New(typ, filepath.Join(dir, "notes"))
		if err != nil {
			return nil, err
		}
		return NewKV(database), nil
	default:
		return nil, fmt.Errorf("invalid storage type %q, available: %q %q %q",
			typ, db.TypePebble, db.TypeLevelDB, TypeSQLite)
	}
}
