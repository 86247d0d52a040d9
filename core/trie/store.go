package trie

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/NethermindEth/starktrie/core/crypto"
	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/db"
	"github.com/NethermindEth/starktrie/utils"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultNodeCacheSize = 1 << 16

// Store is a content-addressed, reference-counted node store shared by every trie and every
// version. A node's count is the number of stored parents referencing it plus the number of
// roots callers hold on it. Releasing a reference never deletes anything: nodes whose count
// drops to zero are recorded as orphans and only removed by Prune.
type Store struct {
	disk  db.KeyValueStore
	cache *lru.Cache[felt.Felt, Node]
	log   utils.SimpleLogger

	wLock sync.Mutex   // one batch at a time
	lease sync.RWMutex // traversals and batches read-lock, Prune write-locks
}

func NewStore(disk db.KeyValueStore, cacheSize int, log utils.SimpleLogger) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultNodeCacheSize
	}
	cache, err := lru.New[felt.Felt, Node](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{disk: disk, cache: cache, log: log}, nil
}

// Lease blocks pruning until the returned release function is called. Traversals over a
// root hold a lease for their whole walk. Leases must not be nested.
func (s *Store) Lease() (release func()) {
	s.lease.RLock()
	return s.lease.RUnlock
}

// Get returns the committed node stored under hash.
func (s *Store) Get(hash *felt.Felt) (Node, error) {
	defer s.Lease()()
	return s.get(hash)
}

// get is Get for callers already holding a lease.
func (s *Store) get(hash *felt.Felt) (Node, error) {
	if n, ok := s.cache.Get(*hash); ok {
		nodeReads.WithLabelValues("cache").Inc()
		return n, nil
	}

	n, _, err := readNode(s.disk, hash)
	if err != nil {
		return nil, err
	}
	nodeReads.WithLabelValues("disk").Inc()
	s.cache.Add(*hash, n)
	return n, nil
}

// Put stores n in its own batch. See Txn.Put.
func (s *Store) Put(n Node, hash crypto.HashFn, leafChildren bool) (felt.Felt, error) {
	var h felt.Felt
	err := s.Update(func(txn *Txn) error {
		var err error
		h, _, err = txn.Put(n, hash, leafChildren)
		return err
	})
	return h, err
}

// IncRef adds by references to the node in its own batch.
func (s *Store) IncRef(hash *felt.Felt, by uint64) error {
	return s.Update(func(txn *Txn) error {
		return txn.IncRef(hash, by)
	})
}

// DecRef releases by references on the node in its own batch and returns the remaining count.
func (s *Store) DecRef(hash *felt.Felt, by uint64) (uint64, error) {
	var remaining uint64
	err := s.Update(func(txn *Txn) error {
		var err error
		remaining, err = txn.DecRef(hash, by)
		return err
	})
	return remaining, err
}

// RefCount returns the committed reference count of a node.
func (s *Store) RefCount(hash *felt.Felt) (uint64, error) {
	return readRefCount(s.disk, hash)
}

// Update runs fn against a single batch and commits it if fn succeeds. Updates are serialised
// and excluded from running alongside Prune.
func (s *Store) Update(fn func(*Txn) error) error {
	defer s.Lease()()
	return s.update(fn)
}

func (s *Store) update(fn func(*Txn) error) error {
	s.wLock.Lock()
	defer s.wLock.Unlock()

	return s.disk.Update(func(batch db.IndexedBatch) error {
		return fn(&Txn{store: s, batch: batch})
	})
}

// Prune removes every node whose reference count is zero, cascading into children whose
// counts drop to zero as a result. It waits for running traversals and blocks new ones.
func (s *Store) Prune() (int, error) {
	s.lease.Lock()
	defer s.lease.Unlock()

	var pruned int
	err := s.update(func(txn *Txn) error {
		var err error
		pruned, err = txn.prune()
		return err
	})
	if err != nil {
		return 0, err
	}

	nodesPruned.Add(float64(pruned))
	if pruned > 0 {
		s.log.Debugw("Pruned trie nodes", "count", pruned)
	}
	return pruned, nil
}

type StoreStats struct {
	Nodes   int
	Orphans int
}

func (s *Store) Stats() (StoreStats, error) {
	nodes, err := db.TrieNode.Count(s.disk)
	if err != nil {
		return StoreStats{}, err
	}
	orphans, err := db.TrieNodeOrphan.Count(s.disk)
	if err != nil {
		return StoreStats{}, err
	}
	return StoreStats{Nodes: nodes, Orphans: orphans}, nil
}

// Txn is a view of the store bound to one uncommitted batch. Reads observe the batch's own writes.
type Txn struct {
	store *Store
	batch db.IndexedBatch
}

// Batch exposes the underlying batch so callers can commit their own records atomically
// with the node changes.
func (t *Txn) Batch() db.IndexedBatch {
	return t.batch
}

func (t *Txn) Get(hash *felt.Felt) (Node, error) {
	if n, ok := t.store.cache.Get(*hash); ok {
		nodeReads.WithLabelValues("cache").Inc()
		return n, nil
	}
	n, _, err := readNode(t.batch, hash)
	if err == nil {
		nodeReads.WithLabelValues("disk").Inc()
	}
	return n, err
}

// Put stores n under its canonical hash. If the node already exists its count is incremented
// and no bytes are written, otherwise it is written with a count of one. created reports whether
// the caller must supply references for the children: the node is new, or it was stored above
// leaf values and now sits above nodes. The caller owns the new reference.
func (t *Txn) Put(n Node, hash crypto.HashFn, leafChildren bool) (h felt.Felt, created bool, err error) {
	h = n.Hash(hash)
	created, err = t.put(&h, n, leafChildren)
	return h, created, err
}

func (t *Txn) put(h *felt.Felt, n Node, leafChildren bool) (bool, error) {
	count, err := t.RefCount(h)
	switch {
	case err == nil:
		return t.reuse(h, n, count, leafChildren)
	case !errors.Is(err, ErrNodeNotFound):
		return false, err
	}

	key := h.Bytes()
	if err := t.batch.Put(db.TrieNode.Key(key[:]), encodeNode(n, leafChildren)); err != nil {
		return false, err
	}
	nodePuts.WithLabelValues("created").Inc()
	return true, t.setRefCount(h, 0, 1)
}

// reuse takes a reference on an already stored node. The same hash can sit above leaf values in
// one trie and above nodes in another. A node first stored above leaf values never referenced
// its children, so when it turns up above nodes it is rewritten as an inner node and the caller
// must reference the children.
func (t *Txn) reuse(h *felt.Felt, n Node, count uint64, leafChildren bool) (bool, error) {
	upgrade := false
	if !leafChildren {
		_, storedLeafChildren, err := readNode(t.batch, h)
		if err != nil {
			return false, err
		}
		upgrade = storedLeafChildren
	}

	if upgrade {
		key := h.Bytes()
		if err := t.batch.Put(db.TrieNode.Key(key[:]), encodeNode(n, false)); err != nil {
			return false, err
		}
		nodePuts.WithLabelValues("upgraded").Inc()
	} else {
		nodePuts.WithLabelValues("deduplicated").Inc()
	}
	return upgrade, t.setRefCount(h, count, count+1)
}

func (t *Txn) RefCount(hash *felt.Felt) (uint64, error) {
	return readRefCount(t.batch, hash)
}

func (t *Txn) IncRef(hash *felt.Felt, by uint64) error {
	if by == 0 {
		return nil
	}
	count, err := t.RefCount(hash)
	if err != nil {
		return err
	}
	return t.setRefCount(hash, count, count+by)
}

func (t *Txn) DecRef(hash *felt.Felt, by uint64) (uint64, error) {
	count, err := t.RefCount(hash)
	if err != nil {
		return 0, err
	}
	if by > count {
		return count, fmt.Errorf("%w: node %s has %d references, releasing %d", ErrRefCountUnderflow, hash.String(), count, by)
	}
	if by == 0 {
		return count, nil
	}
	return count - by, t.setRefCount(hash, count, count-by)
}

// setRefCount writes the new count and keeps the orphan set in sync with it.
func (t *Txn) setRefCount(hash *felt.Felt, old, updated uint64) error {
	key := hash.Bytes()
	if err := t.batch.Put(db.TrieNodeRefCount.Key(key[:]), db.Uint64(updated)); err != nil {
		return err
	}

	switch {
	case updated == 0:
		return t.batch.Put(db.TrieNodeOrphan.Key(key[:]), []byte{})
	case old == 0:
		return t.batch.Delete(db.TrieNodeOrphan.Key(key[:]))
	}
	return nil
}

func (t *Txn) orphans() ([]felt.Felt, error) {
	it, err := t.batch.NewIterator(db.TrieNodeOrphan.Key(), true)
	if err != nil {
		return nil, err
	}

	var hashes []felt.Felt
	for it.First(); it.Valid(); it.Next() {
		hashes = append(hashes, felt.FromBytes(it.Key()[1:]))
	}
	return hashes, it.Close()
}

func (t *Txn) prune() (int, error) {
	queue, err := t.orphans()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for len(queue) > 0 {
		hash := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		count, err := t.RefCount(&hash)
		if errors.Is(err, ErrNodeNotFound) {
			continue
		} else if err != nil {
			return pruned, err
		}
		if count > 0 {
			continue
		}

		n, leafChildren, err := readNode(t.batch, &hash)
		if err != nil {
			return pruned, err
		}
		if err := t.delete(&hash); err != nil {
			return pruned, err
		}
		pruned++

		if leafChildren {
			continue
		}
		for _, child := range children(n) {
			remaining, err := t.DecRef(&child, 1)
			if err != nil {
				return pruned, fmt.Errorf("release child of %s: %w", hash.String(), err)
			}
			if remaining == 0 {
				queue = append(queue, child)
			}
		}
	}
	return pruned, nil
}

func (t *Txn) delete(hash *felt.Felt) error {
	key := hash.Bytes()
	for _, bucket := range []db.Bucket{db.TrieNode, db.TrieNodeRefCount, db.TrieNodeOrphan} {
		if err := t.batch.Delete(bucket.Key(key[:])); err != nil {
			return err
		}
	}
	t.store.cache.Remove(*hash)
	return nil
}

func children(n Node) []felt.Felt {
	switch n := n.(type) {
	case *BinaryNode:
		return []felt.Felt{n.Left, n.Right}
	case *EdgeNode:
		return []felt.Felt{n.Child}
	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
}

func readNode(r db.KeyValueReader, hash *felt.Felt) (Node, bool, error) {
	key := hash.Bytes()
	var (
		n            Node
		leafChildren bool
	)
	err := r.Get(db.TrieNode.Key(key[:]), func(data []byte) error {
		var err error
		n, leafChildren, err = decodeNode(data)
		return err
	})
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, false, &MissingNodeError{Hash: *hash}
	}
	return n, leafChildren, err
}

func readRefCount(r db.KeyValueReader, hash *felt.Felt) (uint64, error) {
	key := hash.Bytes()
	var count uint64
	err := r.Get(db.TrieNodeRefCount.Key(key[:]), func(data []byte) error {
		if len(data) != 8 {
			return fmt.Errorf("%w: reference count of %d bytes", ErrCorruptNode, len(data))
		}
		count = binary.BigEndian.Uint64(data)
		return nil
	})
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, &MissingNodeError{Hash: *hash}
	}
	return count, err
}
