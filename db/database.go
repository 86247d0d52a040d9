package db

import "io"

// Represents a data store that can read from the database
type KeyValueReader interface {
	// Checks if a key exists in the data store
	Has(key []byte) (bool, error)
	// Retrieves a value for a given key if it exists
	Get(key []byte, cb func(value []byte) error) error
}

// Represents a data store that can write to the database
type KeyValueWriter interface {
	// Inserts a given value into the data store
	Put(key []byte, value []byte) error
	// Deletes a given key from the data store
	Delete(key []byte) error
}

// Produce an iterator over the keys that start with prefix
type Iterable interface {
	// Creates an iterator over keys starting at prefix. If withUpperBound is set the
	// iterator stops at the end of the prefix range.
	NewIterator(prefix []byte, withUpperBound bool) (Iterator, error)
}

// Helper interface
type Helper interface {
	// Creates an indexed batch, applies the callback and writes the batch if the callback succeeds.
	// The batch is dropped otherwise.
	Update(func(IndexedBatch) error) error
	// Returns the underlying database
	Impl() any
}

// Represents a key-value data store that can handle different operations
type KeyValueStore interface {
	KeyValueReader
	KeyValueWriter
	Batcher
	IndexedBatcher
	Iterable
	Helper
	io.Closer
}
