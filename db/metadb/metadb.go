// Package metadb opens one of the key-value backends by name, as configured
// with the node's dbType option.
package metadb

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"strings"
	"testing"

	"go.vocdoni.io/spendnote/db"
	"go.vocdoni.io/spendnote/db/goleveldb"
	"go.vocdoni.io/spendnote/db/pebbledb"
)

// TestTypeEnv selects the backend used by NewTest.
const TestTypeEnv = "SPENDNOTE_DB_TYPE"

var backends = map[string]func(db.Options) (db.Database, error){
	db.TypePebble: func(o db.Options) (db.Database, error) {
		return pebbledb.New(o)
	},
	db.TypeLevelDB: func(o db.Options) (db.Database, error) {
		return goleveldb.New(o)
	},
}

// Types lists the accepted backend names, sorted.
func Types() []string {
	types := make([]string, 0, len(backends))
	for typ := range backends {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}

// New opens the typ backend under dir, creating the directory if needed.
// Backend names are case insensitive.
func New(typ, dir string) (db.Database, error) {
	open, ok := backends[strings.ToLower(typ)]
	if !ok {
		return nil, fmt.Errorf("invalid dbType: %q. Available types: %q", typ, Types())
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("cannot create database directory: %w", err)
	}
	database, err := open(db.Options{Path: dir})
	if err != nil {
		return nil, fmt.Errorf("cannot open %s database at %s: %w", typ, dir, err)
	}
	return database, nil
}

// ForTest returns the backend tests should use, pebble unless overridden
// through TestTypeEnv.
func ForTest() (typ string) {
	return cmp.Or(os.Getenv(TestTypeEnv), db.TypePebble)
}

// NewTest opens a throwaway database closed at the end of the test.
func NewTest(tb testing.TB) db.Database {
	database, err := New(ForTest(), tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { database.Close() })
	return database
}
