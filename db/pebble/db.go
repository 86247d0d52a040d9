package pebble

import (
	"errors"
	"sync"
	"testing"

	"github.com/NethermindEth/starktrie/db"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var _ db.KeyValueStore = (*DB)(nil)

type DB struct {
	db     *pebble.DB
	wMutex *sync.Mutex
}

// New opens a new database at the given path with default options
func New(path string, options ...Option) (*DB, error) {
	opts := &pebble.Options{}
	for _, option := range options {
		if err := option(opts); err != nil {
			return nil, err
		}
	}
	return newPebble(path, opts)
}

// NewMem opens a new in-memory database
func NewMem() (*DB, error) {
	return newPebble("", &pebble.Options{
		FS: vfs.NewMem(),
	})
}

// NewMemTest opens a new in-memory database, panics on error
func NewMemTest(t testing.TB) *DB {
	memDB, err := NewMem()
	if err != nil {
		t.Fatalf("create in-memory db: %v", err)
	}
	t.Cleanup(func() {
		if err := memDB.Close(); err != nil {
			t.Errorf("close in-memory db: %v", err)
		}
	})
	return memDB
}

func newPebble(path string, options *pebble.Options) (*DB, error) {
	pDB, err := pebble.Open(path, options)
	if err != nil {
		return nil, err
	}
	return &DB{db: pDB, wMutex: new(sync.Mutex)}, nil
}

func (d *DB) Has(key []byte) (bool, error) {
	_, closer, err := d.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, closer.Close()
}

func (d *DB) Get(key []byte, cb func(value []byte) error) error {
	data, closer, err := d.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return db.ErrKeyNotFound
		}
		return err
	}
	defer closer.Close()

	return cb(data)
}

func (d *DB) Put(key, value []byte) error {
	return d.db.Set(key, value, pebble.Sync)
}

func (d *DB) Delete(key []byte) error {
	return d.db.Delete(key, pebble.Sync)
}

func (d *DB) NewBatch() db.Batch {
	return newBatch(d.db.NewBatch(), nil)
}

func (d *DB) NewIndexedBatch() db.IndexedBatch {
	return newBatch(d.db.NewIndexedBatch(), nil)
}

func (d *DB) NewIterator(prefix []byte, withUpperBound bool) (db.Iterator, error) {
	iter, err := d.db.NewIter(iterOptions(prefix, withUpperBound))
	if err != nil {
		return nil, err
	}
	return &iterator{iter: iter}, nil
}

// Update : see db.Helper.Update. Writers are serialised.
func (d *DB) Update(fn func(db.IndexedBatch) error) error {
	d.wMutex.Lock()
	b := newBatch(d.db.NewIndexedBatch(), d.wMutex)
	if err := fn(b); err != nil {
		return errors.Join(err, b.Close())
	}
	return b.Write()
}

// Close : see io.Closer.Close
func (d *DB) Close() error {
	return d.db.Close()
}

// Impl : see db.Helper.Impl
func (d *DB) Impl() any {
	return d.db
}

func iterOptions(prefix []byte, withUpperBound bool) *pebble.IterOptions {
	iterOpt := &pebble.IterOptions{LowerBound: prefix}
	if withUpperBound {
		iterOpt.UpperBound = db.UpperBound(prefix)
	}
	return iterOpt
}
