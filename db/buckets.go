package db

import (
	"bytes"
	"context"
	"encoding/binary"
	"slices"

	"github.com/NethermindEth/starktrie/utils"
)

type Bucket byte

// Pebble does not support buckets to differentiate between groups of
// keys like Bolt or MDBX does. We use a global prefix list as a poor
// man's bucket alternative.
const (
	TrieNode         Bucket = iota // hash -> encoded trie node
	TrieNodeRefCount               // hash -> uint64 reference count
	TrieNodeOrphan                 // hash -> {} for nodes whose reference count dropped to zero
	ChainHeight                    // -> uint64 height of the last applied block
	BlockRoots                     // height -> state.BlockRoots
	ContractHistory                // address + ^height -> state.ContractRecord
	BlockJournal                   // height -> addresses touched by the block
	RetentionFloor                 // -> uint64 lowest retained height
)

// Key flattens a prefix and series of byte arrays into a single []byte.
func (b Bucket) Key(key ...[]byte) []byte {
	return append([]byte{byte(b)}, bytes.Join(key, nil)...)
}

func (b Bucket) String() string {
	switch b {
	case TrieNode:
		return "TrieNode"
	case TrieNodeRefCount:
		return "TrieNodeRefCount"
	case TrieNodeOrphan:
		return "TrieNodeOrphan"
	case ChainHeight:
		return "ChainHeight"
	case BlockRoots:
		return "BlockRoots"
	case ContractHistory:
		return "ContractHistory"
	case BlockJournal:
		return "BlockJournal"
	case RetentionFloor:
		return "RetentionFloor"
	default:
		return "Unknown"
	}
}

// Buckets lists every bucket in key order.
func Buckets() []Bucket {
	return []Bucket{
		TrieNode, TrieNodeRefCount, TrieNodeOrphan, ChainHeight,
		BlockRoots, ContractHistory, BlockJournal, RetentionFloor,
	}
}

// Uint64 encodes num as 8 big-endian bytes so that numeric and lexicographic order agree.
func Uint64(num uint64) []byte {
	var numBytes [8]byte
	binary.BigEndian.PutUint64(numBytes[:], num)
	return numBytes[:]
}

// UpperBound returns the smallest key greater than every key with the given prefix,
// or nil if no such key exists.
func UpperBound(prefix []byte) []byte {
	ub := slices.Clone(prefix)
	for i := len(ub) - 1; i >= 0; i-- {
		ub[i]++
		if ub[i] != 0 {
			return ub[:i+1]
		}
	}
	return nil
}

// Count returns the number of keys stored under the bucket.
func (b Bucket) Count(r Iterable) (int, error) {
	it, err := r.NewIterator(b.Key(), true)
	if err != nil {
		return 0, err
	}

	count := 0
	for it.First(); it.Valid(); it.Next() {
		count++
	}
	return count, it.Close()
}

type BucketSize struct {
	Bucket Bucket
	Size   utils.DataSize
	Count  uint
}

// Size returns the number of keys stored under the bucket and their total key and value bytes.
func (b Bucket) Size(ctx context.Context, r Iterable) (BucketSize, error) {
	it, err := r.NewIterator(b.Key(), true)
	if err != nil {
		return BucketSize{}, err
	}

	size := BucketSize{Bucket: b}
	for it.First(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return size, utils.RunAndWrapOnError(it.Close, err)
		}
		value, err := it.Value()
		if err != nil {
			return size, utils.RunAndWrapOnError(it.Close, err)
		}
		size.Size += utils.DataSize(len(it.Key()) + len(value))
		size.Count++
	}
	return size, it.Close()
}
