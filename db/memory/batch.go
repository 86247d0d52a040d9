package memory

import (
	"maps"
	"slices"

	"github.com/NethermindEth/starktrie/db"
)

var _ db.IndexedBatch = (*batch)(nil)

type batch struct {
	db *Database
	// Theoretically, we can only maintain the latest write for each key using the map.
	// However, we want to ensure that the order of writes is maintained and mimics the
	// behaviour of the real key-value store. Hence, we store them and then flush them afterwards.
	writes   []keyValue
	writeMap map[string]keyValue
	size     int
}

type keyValue struct {
	key    string
	value  []byte
	delete bool
}

func newBatch(db *Database) *batch {
	return &batch{
		db:       db,
		writeMap: make(map[string]keyValue),
	}
}

func (b *batch) Get(key []byte, cb func(value []byte) error) error {
	b.db.lock.RLock()
	defer b.db.lock.RUnlock()

	if val, ok := b.writeMap[string(key)]; ok {
		if val.delete {
			return db.ErrKeyNotFound
		}
		return cb(val.value)
	}

	if b.db.db == nil {
		return errDBClosed
	}
	val, ok := b.db.db[string(key)]
	if !ok {
		return db.ErrKeyNotFound
	}

	return cb(val)
}

func (b *batch) Has(key []byte) (bool, error) {
	b.db.lock.RLock()
	defer b.db.lock.RUnlock()

	if val, ok := b.writeMap[string(key)]; ok {
		return !val.delete, nil
	}

	if b.db.db == nil {
		return false, errDBClosed
	}
	_, ok := b.db.db[string(key)]
	return ok, nil
}

func (b *batch) NewIterator(prefix []byte, withUpperBound bool) (db.Iterator, error) {
	b.db.lock.RLock()
	defer b.db.lock.RUnlock()

	if b.db.db == nil {
		return nil, errDBClosed
	}

	merged := maps.Clone(b.db.db)
	for _, write := range b.writes {
		if write.delete {
			delete(merged, write.key)
		} else {
			merged[write.key] = write.value
		}
	}
	return newIterator(merged, prefix, withUpperBound), nil
}

func (b *batch) Put(key, value []byte) error {
	kv := keyValue{key: string(key), value: slices.Clone(value)}
	b.writes = append(b.writes, kv)
	b.writeMap[string(key)] = kv
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	kv := keyValue{key: string(key), delete: true}
	b.writes = append(b.writes, kv)
	b.writeMap[string(key)] = kv
	b.size += len(key)
	return nil
}

func (b *batch) Size() int {
	return b.size
}

func (b *batch) Write() error {
	b.db.lock.Lock()
	defer b.db.lock.Unlock()

	if b.db.db == nil {
		return errDBClosed
	}

	for _, write := range b.writes {
		if write.delete {
			delete(b.db.db, write.key)
		} else {
			b.db.db[write.key] = write.value
		}
	}

	b.Reset()
	return nil
}

func (b *batch) Reset() {
	b.size = 0
	b.writes = b.writes[:0] // reuse the memory
	b.writeMap = make(map[string]keyValue)
}

func (b *batch) Close() error {
	b.Reset()
	return nil
}
