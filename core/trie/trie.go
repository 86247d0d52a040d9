package trie

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/NethermindEth/starktrie/core/crypto"
	"github.com/NethermindEth/starktrie/core/felt"
)

// Height is the key width of every Starknet trie.
const Height uint8 = 251

// Mutation sets Key to Value. A zero Value deletes the key.
type Mutation struct {
	Key   felt.Felt `json:"key" validate:"felt_key"`
	Value felt.Felt `json:"value"`
}

// Trie is a path-compressed binary Merkle trie of a fixed height over a shared Store.
// It holds no root: every version is named by its root hash and mutations produce new
// versions without touching existing ones.
//
// Nodes consume key bits from the most significant end. A BinaryNode consumes one bit and
// an EdgeNode consumes its whole path. The child reached after height bits is the leaf value.
type Trie struct {
	store  *Store
	height uint8
	hash   crypto.HashFn
}

func New(store *Store, height uint8, hash crypto.HashFn) *Trie {
	if height == 0 || height > MaxPathLen {
		panic(fmt.Sprintf("invalid trie height %d", height))
	}
	return &Trie{store: store, height: height, hash: hash}
}

// NewPedersen returns the trie flavour used for contract storage and the global contract trie.
func NewPedersen(store *Store) *Trie {
	return New(store, Height, crypto.Pedersen)
}

// NewPoseidon returns the trie flavour used for the class trie.
func NewPoseidon(store *Store) *Trie {
	return New(store, Height, crypto.Poseidon)
}

func (t *Trie) Height() uint8 { return t.height }

func (t *Trie) HashFn() crypto.HashFn { return t.hash }

// Store returns the node store the trie reads from and writes to.
func (t *Trie) Store() *Store { return t.store }

// keyPath validates key against the trie height and returns its path.
func (t *Trie) keyPath(key *felt.Felt) (Path, error) {
	if bitLen(key) > int(t.height) {
		return Path{}, &InvalidKeyError{Key: *key, Height: t.height}
	}
	return KeyPath(key, t.height), nil
}

// ValidKey reports whether key fits in a trie of the default height.
func ValidKey(key *felt.Felt) bool {
	return bitLen(key) <= int(Height)
}

func bitLen(f *felt.Felt) int {
	b := f.Bytes()
	for i, v := range b {
		if v != 0 {
			n := 8
			for v&0x80 == 0 {
				v <<= 1
				n--
			}
			return (len(b)-i-1)*8 + n
		}
	}
	return 0
}

// Apply writes mutations on top of root and returns the new root. The new root carries one
// reference owned by the caller, also when it equals root. The empty root, zero, carries none.
// The result depends only on root and the final value of each key: mutations are sorted by key
// and the last write to a key wins.
func (t *Trie) Apply(root felt.Felt, mutations []Mutation) (felt.Felt, error) {
	var newRoot felt.Felt
	err := t.store.Update(func(txn *Txn) error {
		var err error
		newRoot, err = t.ApplyTxn(txn, root, mutations)
		return err
	})
	return newRoot, err
}

// ApplyTxn is Apply within a caller-managed batch.
func (t *Trie) ApplyTxn(txn *Txn, root felt.Felt, mutations []Mutation) (felt.Felt, error) {
	start := time.Now()
	defer func() { applyDuration.Observe(time.Since(start).Seconds()) }()

	updates, err := t.normalise(mutations)
	if err != nil {
		return felt.Zero, err
	}

	var rootNode overlay
	if !root.IsZero() {
		rootNode = storedRef(root)
	}

	u := updater{trie: t, txn: txn}
	newRoot, err := u.update(rootNode, 0, updates)
	if err != nil {
		return felt.Zero, err
	}
	return u.commit(newRoot, 0)
}

type keyUpdate struct {
	path  Path
	value felt.Felt
}

// normalise validates every key before anything is read, sorts by key and keeps the last
// write of each key.
func (t *Trie) normalise(mutations []Mutation) ([]keyUpdate, error) {
	updates := make([]keyUpdate, len(mutations))
	for i := range mutations {
		path, err := t.keyPath(&mutations[i].Key)
		if err != nil {
			return nil, err
		}
		updates[i] = keyUpdate{path: path, value: mutations[i].Value}
	}

	slices.SortStableFunc(updates, func(a, b keyUpdate) int {
		return comparePaths(a.path, b.path)
	})

	deduped := updates[:0]
	for i := range updates {
		if i+1 < len(updates) && updates[i+1].path.Equal(updates[i].path) {
			continue
		}
		deduped = append(deduped, updates[i])
	}
	return deduped, nil
}

func comparePaths(a, b Path) int {
	for i := 3; i >= 0; i-- {
		if c := cmp.Compare(a.words[i], b.words[i]); c != 0 {
			return c
		}
	}
	return 0
}

// Get returns the value of key under root, zero if absent.
func (t *Trie) Get(root, key *felt.Felt) (felt.Felt, error) {
	path, err := t.keyPath(key)
	if err != nil {
		return felt.Zero, err
	}

	defer t.store.Lease()()
	value, _, err := t.walk(root, path, nil)
	return value, err
}

// walk follows path from root and returns the leaf value, zero when the key is absent. Every
// node on the way is passed to visit. depth is the number of steps consumed when the walk ended.
func (t *Trie) walk(root *felt.Felt, path Path, visit func(Node)) (felt.Felt, uint8, error) {
	current := *root
	var depth uint8
	for depth < t.height && !current.IsZero() {
		n, err := t.store.get(&current)
		if err != nil {
			return felt.Zero, depth, withPath(err, path.Prefix(depth))
		}
		if visit != nil {
			visit(n)
		}

		switch n := n.(type) {
		case *BinaryNode:
			current = n.Child(path.Bit(depth))
			depth++
		case *EdgeNode:
			if uint16(depth)+uint16(n.Path.Len()) > uint16(t.height) {
				return felt.Zero, depth, fmt.Errorf("%w: edge %s at depth %d overruns height", ErrCorruptNode, current.String(), depth)
			}
			if !path.Slice(depth, depth+n.Path.Len()).Equal(n.Path) {
				return felt.Zero, depth, nil
			}
			current = n.Child
			depth += n.Path.Len()
		}
	}
	return current, depth, nil
}

func withPath(err error, path Path) error {
	if missing, ok := err.(*MissingNodeError); ok {
		return &MissingNodeError{Hash: missing.Hash, Path: path}
	}
	return err
}

// overlay is the in-memory form of a subtree while a batch is applied: one of nil (empty),
// storedRef (untouched stored subtree), leafValue, *overlayBinary or *overlayEdge.
type overlay any

type (
	storedRef felt.Felt
	leafValue felt.Felt
)

type overlayBinary struct {
	children [2]overlay
	hash     *felt.Felt
}

type overlayEdge struct {
	path  Path
	child overlay
	hash  *felt.Felt
}

type updater struct {
	trie *Trie
	txn  *Txn
}

// resolve loads a stored subtree rooted at depth into overlay form, one level deep.
func (u *updater) resolve(n overlay, depth uint8) (overlay, error) {
	ref, ok := n.(storedRef)
	if !ok {
		return n, nil
	}

	hash := felt.Felt(ref)
	stored, err := u.txn.Get(&hash)
	if err != nil {
		return nil, err
	}

	switch stored := stored.(type) {
	case *BinaryNode:
		if depth >= u.trie.height {
			return nil, fmt.Errorf("%w: binary node %s below the leaves", ErrCorruptNode, hash.String())
		}
		return &overlayBinary{children: [2]overlay{
			u.childRef(stored.Left, depth+1),
			u.childRef(stored.Right, depth+1),
		}}, nil
	case *EdgeNode:
		childDepth := uint16(depth) + uint16(stored.Path.Len())
		if childDepth > uint16(u.trie.height) {
			return nil, fmt.Errorf("%w: edge %s at depth %d overruns height", ErrCorruptNode, hash.String(), depth)
		}
		return &overlayEdge{path: stored.Path, child: u.childRef(stored.Child, uint8(childDepth))}, nil
	default:
		panic(fmt.Sprintf("unknown node type %T", stored))
	}
}

func (u *updater) childRef(hash felt.Felt, depth uint8) overlay {
	if depth == u.trie.height {
		return leafValue(hash)
	}
	return storedRef(hash)
}

// update applies the sorted updates, which all share their first depth steps, to the
// subtree n rooted at depth.
func (u *updater) update(n overlay, depth uint8, updates []keyUpdate) (overlay, error) {
	if len(updates) == 0 {
		return n, nil
	}

	if depth == u.trie.height {
		value := updates[len(updates)-1].value
		if value.IsZero() {
			return nil, nil
		}
		return leafValue(value), nil
	}

	if n == nil {
		live := slices.DeleteFunc(slices.Clone(updates), func(up keyUpdate) bool {
			return up.value.IsZero()
		})
		if len(live) == 0 {
			return nil, nil
		}
		return u.build(depth, live), nil
	}

	n, err := u.resolve(n, depth)
	if err != nil {
		return nil, err
	}

	switch n := n.(type) {
	case *overlayEdge:
		first, last := updates[0].path, updates[len(updates)-1].path
		end := depth + n.path.Len()
		if first.Slice(depth, end).Equal(n.path) && last.Slice(depth, end).Equal(n.path) {
			child, err := u.update(n.child, end, updates)
			if err != nil {
				return nil, err
			}
			return u.prepend(n.path, child, depth)
		}

		// Some key leaves the edge: split off its first step and treat it as a branch.
		var children [2]overlay
		rest := n.child
		if n.path.Len() > 1 {
			rest = &overlayEdge{path: n.path.Suffix(1), child: n.child}
		}
		children[n.path.Bit(0)] = rest
		return u.updateChildren(children, depth, updates)
	case *overlayBinary:
		return u.updateChildren(n.children, depth, updates)
	default:
		panic(fmt.Sprintf("unexpected overlay %T at depth %d", n, depth))
	}
}

func (u *updater) updateChildren(children [2]overlay, depth uint8, updates []keyUpdate) (overlay, error) {
	split := splitIndex(updates, depth)

	left, err := u.update(children[0], depth+1, updates[:split])
	if err != nil {
		return nil, err
	}
	right, err := u.update(children[1], depth+1, updates[split:])
	if err != nil {
		return nil, err
	}
	return u.join(left, right, depth)
}

// splitIndex returns the index of the first update that goes right at depth.
func splitIndex(updates []keyUpdate, depth uint8) int {
	split, _ := slices.BinarySearchFunc(updates, uint8(1), func(up keyUpdate, bit uint8) int {
		return cmp.Compare(up.path.Bit(depth), bit)
	})
	return split
}

// build creates the subtree holding the given non-zero values in an empty position.
func (u *updater) build(depth uint8, updates []keyUpdate) overlay {
	if len(updates) == 1 {
		if depth == u.trie.height {
			return leafValue(updates[0].value)
		}
		return &overlayEdge{path: updates[0].path.Suffix(depth), child: leafValue(updates[0].value)}
	}

	first := updates[0].path.Suffix(depth)
	common := first.CommonPrefixLen(updates[len(updates)-1].path.Suffix(depth))
	branch := depth + common
	split := splitIndex(updates, branch)

	binary := &overlayBinary{children: [2]overlay{
		u.build(branch+1, updates[:split]),
		u.build(branch+1, updates[split:]),
	}}
	if common == 0 {
		return binary
	}
	return &overlayEdge{path: first.Prefix(common), child: binary}
}

// join combines two subtrees rooted at depth+1 into the subtree at depth.
func (u *updater) join(left, right overlay, depth uint8) (overlay, error) {
	switch {
	case left == nil && right == nil:
		return nil, nil
	case left == nil:
		return u.prepend(NewPath(1, 1), right, depth)
	case right == nil:
		return u.prepend(NewPath(1, 0), left, depth)
	default:
		return &overlayBinary{children: [2]overlay{left, right}}, nil
	}
}

// prepend puts path above child, where path starts at depth. A child edge is merged into a
// single edge so that no edge ever points at another edge.
func (u *updater) prepend(path Path, child overlay, depth uint8) (overlay, error) {
	if child == nil {
		return nil, nil
	}

	childDepth := depth + path.Len()
	if _, ok := child.(storedRef); ok {
		var err error
		if child, err = u.resolve(child, childDepth); err != nil {
			return nil, err
		}
	}

	if edge, ok := child.(*overlayEdge); ok {
		return &overlayEdge{path: path.Append(edge.path), child: edge.child}, nil
	}
	return &overlayEdge{path: path, child: child}, nil
}

// hashOf returns the hash of an overlay subtree, memoising inner nodes.
func (u *updater) hashOf(n overlay) felt.Felt {
	switch n := n.(type) {
	case nil:
		return felt.Zero
	case storedRef:
		return felt.Felt(n)
	case leafValue:
		return felt.Felt(n)
	case *overlayBinary:
		if n.hash == nil {
			h := u.stored(n).Hash(u.trie.hash)
			n.hash = &h
		}
		return *n.hash
	case *overlayEdge:
		if n.hash == nil {
			h := u.stored(n).Hash(u.trie.hash)
			n.hash = &h
		}
		return *n.hash
	default:
		panic(fmt.Sprintf("unexpected overlay %T", n))
	}
}

func (u *updater) stored(n overlay) Node {
	switch n := n.(type) {
	case *overlayBinary:
		return &BinaryNode{Left: u.hashOf(n.children[0]), Right: u.hashOf(n.children[1])}
	case *overlayEdge:
		return &EdgeNode{Child: u.hashOf(n.child), Path: n.path}
	default:
		panic(fmt.Sprintf("unexpected overlay %T", n))
	}
}

// commit persists the subtree rooted at depth top-down and returns its hash with one new
// reference taken on it. Below an already stored inner node nothing is written: its children
// already hold their references.
func (u *updater) commit(n overlay, depth uint8) (felt.Felt, error) {
	switch n := n.(type) {
	case nil:
		return felt.Zero, nil
	case leafValue:
		return felt.Felt(n), nil
	case storedRef:
		hash := felt.Felt(n)
		return hash, u.txn.IncRef(&hash, 1)
	}

	hash := u.hashOf(n)
	var (
		kids       []overlay
		childDepth uint8
	)
	switch n := n.(type) {
	case *overlayBinary:
		kids, childDepth = n.children[:], depth+1
	case *overlayEdge:
		kids, childDepth = []overlay{n.child}, depth+n.path.Len()
	}

	withChildren, err := u.txn.put(&hash, u.stored(n), childDepth == u.trie.height)
	if err != nil || !withChildren {
		return hash, err
	}
	for _, kid := range kids {
		if _, err := u.commit(kid, childDepth); err != nil {
			return hash, err
		}
	}
	return hash, nil
}
