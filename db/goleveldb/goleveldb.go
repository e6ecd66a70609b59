package goleveldb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.vocdoni.io/spendnote/db"
)

type LevelDB struct {
	db *leveldb.DB
}

// Ensure that LevelDB implements the db.Database interface
var _ db.Database = (*LevelDB)(nil)

// New returns a LevelDB which implements the db.Database interface
func New(opts db.Options) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(opts.Path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("could not open leveldb: %w", err)
	}
	return &LevelDB{db: ldb}, nil
}

func (d *LevelDB) Close() error {
	return d.db.Close()
}

func (d *LevelDB) WriteTx() db.WriteTx {
	return &WriteTx{
		db:      d.db,
		batch:   new(leveldb.Batch),
		pending: make(map[string]*[]byte),
	}
}

func (d *LevelDB) Get(key []byte) ([]byte, error) {
	return get(d.db, key)
}

func (d *LevelDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	iter := d.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if !callback(iter.Key()[len(prefix):], iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func get(ldb *leveldb.DB, key []byte) ([]byte, error) {
	val, err := ldb.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// WriteTx implements the interface db.WriteTx for goleveldb. Writes are kept
// in a batch and mirrored in memory so that reads within the transaction see
// them. A nil entry in pending marks a deleted key.
type WriteTx struct {
	mu      sync.Mutex
	batch   *leveldb.Batch
	db      *leveldb.DB
	pending map[string]*[]byte
}

// check that WriteTx implements the db.WriteTx interface
var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(k []byte) ([]byte, error) {
	tx.mu.Lock()
	v, ok := tx.pending[string(k)]
	tx.mu.Unlock()
	if !ok {
		return get(tx.db, k)
	}
	if v == nil {
		return nil, db.ErrKeyNotFound
	}
	return *v, nil
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	merged := make(map[string][]byte)
	iter := tx.db.NewIterator(util.BytesPrefix(prefix), nil)
	for iter.Next() {
		merged[string(iter.Key())] = append([]byte(nil), iter.Value()...)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	tx.mu.Lock()
	for k, v := range tx.pending {
		if len(k) < len(prefix) || k[:len(prefix)] != string(prefix) {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = *v
	}
	tx.mu.Unlock()

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !callback([]byte(k)[len(prefix):], merged[k]) {
			break
		}
	}
	return nil
}

func (tx *WriteTx) Set(k, v []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.batch == nil {
		return fmt.Errorf("leveldb tx already committed or discarded")
	}
	v2 := append([]byte(nil), v...)
	tx.batch.Put(k, v2)
	tx.pending[string(k)] = &v2
	return nil
}

func (tx *WriteTx) Delete(k []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.batch == nil {
		return fmt.Errorf("leveldb tx already committed or discarded")
	}
	tx.batch.Delete(k)
	tx.pending[string(k)] = nil
	return nil
}

func (tx *WriteTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.batch == nil {
		return fmt.Errorf("cannot commit leveldb tx: already committed or discarded")
	}
	err := tx.db.Write(tx.batch, &opt.WriteOptions{Sync: true})
	tx.batch = nil
	tx.pending = nil
	return err
}

func (tx *WriteTx) Discard() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.batch = nil
	tx.pending = nil
}
