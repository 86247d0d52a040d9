package memory

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/NethermindEth/starktrie/db"
)

var (
	errDBClosed       = errors.New("memory database closed")
	errIteratorClosed = errors.New("memory iterator closed")
)

var _ db.KeyValueStore = (*Database)(nil)

// Represents an in-memory key-value store.
// It is thread-safe.
type Database struct {
	db   map[string][]byte
	lock sync.RWMutex
}

func New() *Database {
	return &Database{
		db: make(map[string][]byte),
	}
}

func (d *Database) Has(key []byte) (bool, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	if d.db == nil {
		return false, errDBClosed
	}

	_, ok := d.db[string(key)]
	return ok, nil
}

func (d *Database) Get(key []byte, cb func(value []byte) error) error {
	d.lock.RLock()
	defer d.lock.RUnlock()

	if d.db == nil {
		return errDBClosed
	}

	val, ok := d.db[string(key)]
	if !ok {
		return db.ErrKeyNotFound
	}

	return cb(val)
}

func (d *Database) Put(key, value []byte) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.db == nil {
		return errDBClosed
	}

	d.db[string(key)] = slices.Clone(value)
	return nil
}

func (d *Database) Delete(key []byte) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.db == nil {
		return errDBClosed
	}

	delete(d.db, string(key))
	return nil
}

func (d *Database) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.db = nil
	return nil
}

func (d *Database) NewBatch() db.Batch               { return newBatch(d) }
func (d *Database) NewIndexedBatch() db.IndexedBatch { return newBatch(d) }

func (d *Database) NewIterator(prefix []byte, withUpperBound bool) (db.Iterator, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	if d.db == nil {
		return nil, errDBClosed
	}
	return newIterator(d.db, prefix, withUpperBound), nil
}

func (d *Database) Update(fn func(db.IndexedBatch) error) error {
	if d.db == nil {
		return errDBClosed
	}

	batch := d.NewIndexedBatch()
	if err := fn(batch); err != nil {
		return err
	}

	return batch.Write()
}

func (d *Database) Impl() any {
	return d.db
}

// newIterator snapshots the matching keys of m in ascending order. Callers hold the lock.
func newIterator(m map[string][]byte, prefix []byte, withUpperBound bool) *iterator {
	var upperBound string
	if withUpperBound {
		upperBound = string(db.UpperBound(prefix))
	}

	pr := string(prefix)
	keys := make([]string, 0)
	for k := range m {
		if k < pr {
			continue
		}
		if withUpperBound && (!strings.HasPrefix(k, pr) || (upperBound != "" && k >= upperBound)) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = m[k]
	}

	return &iterator{
		curInd: -1,
		keys:   keys,
		values: vals,
	}
}
