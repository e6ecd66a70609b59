package dbtest

import (
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/spendnote/db"
)

func TestWriteTx(t *testing.T, database db.Database) {
	wTx := database.WriteTx()

	_, err := wTx.Get([]byte("a"))
	qt.Assert(t, err, qt.Equals, db.ErrKeyNotFound)

	qt.Assert(t, wTx.Set([]byte("a"), []byte("b")), qt.IsNil)

	// reads within the tx see its own writes
	v, err := wTx.Get([]byte("a"))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, v, qt.DeepEquals, []byte("b"))

	// but the database doesn't, until commit
	_, err = database.Get([]byte("a"))
	qt.Assert(t, err, qt.Equals, db.ErrKeyNotFound)

	qt.Assert(t, wTx.Commit(), qt.IsNil)

	// Discard should not give any problem
	wTx.Discard()
	// committing twice is an error
	qt.Assert(t, wTx.Commit(), qt.Not(qt.IsNil))

	v, err = database.Get([]byte("a"))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, v, qt.DeepEquals, []byte("b"))

	// a discarded tx leaves no trace
	wTx = database.WriteTx()
	qt.Assert(t, wTx.Set([]byte("c"), []byte("d")), qt.IsNil)
	wTx.Discard()
	_, err = database.Get([]byte("c"))
	qt.Assert(t, err, qt.Equals, db.ErrKeyNotFound)

	wTx = database.WriteTx()
	qt.Assert(t, wTx.Delete([]byte("a")), qt.IsNil)
	qt.Assert(t, wTx.Commit(), qt.IsNil)
	_, err = database.Get([]byte("a"))
	qt.Assert(t, err, qt.Equals, db.ErrKeyNotFound)
}

func TestIterate(t *testing.T, d db.Database) {
	prefix0 := []byte("a")
	prefix0NumKeys := 20
	prefix1 := []byte("b")
	prefix1NumKeys := 30

	wTx := d.WriteTx()
	for i := 0; i < prefix0NumKeys; i++ {
		qt.Assert(t, wTx.Set(append(prefix0, fmt.Sprintf("%03d", i)...), []byte{byte(i)}), qt.IsNil)
	}
	for i := 0; i < prefix1NumKeys; i++ {
		qt.Assert(t, wTx.Set(append(prefix1, fmt.Sprintf("%03d", i)...), []byte{byte(i)}), qt.IsNil)
	}
	qt.Assert(t, wTx.Commit(), qt.IsNil)

	noPrefixKeysFound := 0
	err := d.Iterate(nil, func(k, v []byte) bool {
		noPrefixKeysFound++
		return true
	})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, noPrefixKeysFound, qt.Equals, prefix0NumKeys+prefix1NumKeys)

	// keys come ordered and without the prefix
	var prefix0Keys []string
	err = d.Iterate(prefix0, func(k, v []byte) bool {
		prefix0Keys = append(prefix0Keys, string(k))
		return true
	})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, prefix0Keys, qt.HasLen, prefix0NumKeys)
	qt.Assert(t, prefix0Keys[0], qt.Equals, "000")
	qt.Assert(t, prefix0Keys[prefix0NumKeys-1], qt.Equals, fmt.Sprintf("%03d", prefix0NumKeys-1))

	// early stop
	prefix1KeysFound := 0
	err = d.Iterate(prefix1, func(k, v []byte) bool {
		prefix1KeysFound++
		return prefix1KeysFound < 5
	})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, prefix1KeysFound, qt.Equals, 5)
}

// TestPersistence writes a key, calls reopen to obtain a fresh handle over
// the same storage and checks the key survived.
func TestPersistence(t *testing.T, d db.Database, reopen func() db.Database) {
	wTx := d.WriteTx()
	qt.Assert(t, wTx.Set([]byte("persisted"), []byte("yes")), qt.IsNil)
	qt.Assert(t, wTx.Commit(), qt.IsNil)

	d = reopen()
	v, err := d.Get([]byte("persisted"))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, v, qt.DeepEquals, []byte("yes"))
}
