package pebble

import (
	"errors"
	"sync"

	"github.com/NethermindEth/starktrie/db"
	"github.com/cockroachdb/pebble"
)

var _ db.IndexedBatch = (*batch)(nil)

type batch struct {
	batch *pebble.Batch
	lock  *sync.Mutex // held for the batch's lifetime when created by Update
	size  int
}

func newBatch(pBatch *pebble.Batch, lock *sync.Mutex) *batch {
	return &batch{batch: pBatch, lock: lock}
}

func (b *batch) Get(key []byte, cb func(value []byte) error) error {
	if b.batch == nil {
		return pebble.ErrClosed
	}

	val, closer, err := b.batch.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return db.ErrKeyNotFound
		}
		return err
	}
	defer closer.Close()

	return cb(val)
}

func (b *batch) Has(key []byte) (bool, error) {
	if b.batch == nil {
		return false, pebble.ErrClosed
	}

	_, closer, err := b.batch.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	return true, closer.Close()
}

func (b *batch) NewIterator(prefix []byte, withUpperBound bool) (db.Iterator, error) {
	if b.batch == nil {
		return nil, pebble.ErrClosed
	}

	iter, err := b.batch.NewIter(iterOptions(prefix, withUpperBound))
	if err != nil {
		return nil, err
	}
	return &iterator{iter: iter}, nil
}

func (b *batch) Put(key, value []byte) error {
	if b.batch == nil {
		return pebble.ErrClosed
	}

	if err := b.batch.Set(key, value, pebble.Sync); err != nil {
		return err
	}
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	if b.batch == nil {
		return pebble.ErrClosed
	}

	if err := b.batch.Delete(key, pebble.Sync); err != nil {
		return err
	}
	b.size += len(key)
	return nil
}

func (b *batch) Size() int {
	return b.size
}

func (b *batch) Write() error {
	if b.batch == nil {
		return pebble.ErrClosed
	}

	err := b.batch.Commit(pebble.Sync)
	return errors.Join(err, b.Close())
}

func (b *batch) Reset() {
	if b.batch != nil {
		b.batch.Reset()
	}
	b.size = 0
}

func (b *batch) Close() error {
	if b.batch == nil {
		return nil
	}

	err := b.batch.Close()
	b.batch = nil
	if b.lock != nil {
		b.lock.Unlock()
		b.lock = nil
	}
	return err
}
