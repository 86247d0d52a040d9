package trie_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/NethermindEth/starktrie/core/crypto"
	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/core/trie"
	"github.com/NethermindEth/starktrie/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mutation(t *testing.T, key, value string) trie.Mutation {
	t.Helper()
	return trie.Mutation{Key: *utils.HexToFelt(t, key), Value: *utils.HexToFelt(t, value)}
}

func randomMutations(t *testing.T, n int) []trie.Mutation {
	t.Helper()
	muts := make([]trie.Mutation, n)
	for i := range muts {
		key := utils.RandomFelt(t)
		// keep keys inside 251 bits
		bytes := key.Bytes()
		bytes[0] &= 0x03
		muts[i] = trie.Mutation{Key: felt.FromBytes(bytes[:]), Value: *utils.RandomFelt(t)}
	}
	return muts
}

func TestApplyEmpty(t *testing.T) {
	tr := trie.NewPedersen(newTestStore(t))

	root, err := tr.Apply(felt.Zero, nil)
	require.NoError(t, err)
	assert.True(t, root.IsZero())

	t.Run("deleting from an empty trie", func(t *testing.T) {
		root, err := tr.Apply(felt.Zero, []trie.Mutation{mutation(t, "0x1", "0x0")})
		require.NoError(t, err)
		assert.True(t, root.IsZero())
	})

	t.Run("get from an empty trie", func(t *testing.T) {
		value, err := tr.Get(&felt.Zero, utils.HexToFelt(t, "0x1"))
		require.NoError(t, err)
		assert.True(t, value.IsZero())
	})
}

func TestApplyTwoKeys(t *testing.T) {
	store := newTestStore(t)
	tr := trie.NewPedersen(store)

	root, err := tr.Apply(felt.Zero, []trie.Mutation{
		mutation(t, "0x1", "0xa"),
		mutation(t, "0x2", "0xb"),
	})
	require.NoError(t, err)

	// 0x1 and 0x2 share their first 249 bits and then branch, each with one bit left.
	left := &trie.EdgeNode{Child: felt.FromUint64(0xa), Path: trie.NewPath(1, 1)}
	right := &trie.EdgeNode{Child: felt.FromUint64(0xb), Path: trie.NewPath(1, 0)}
	binary := &trie.BinaryNode{Left: left.Hash(crypto.Pedersen), Right: right.Hash(crypto.Pedersen)}
	top := &trie.EdgeNode{Child: binary.Hash(crypto.Pedersen), Path: trie.NewPath(249, 0)}
	assert.Equal(t, top.Hash(crypto.Pedersen), root)

	got, err := store.Get(&root)
	require.NoError(t, err)
	assert.Equal(t, top, got)

	for key, want := range map[string]uint64{"0x1": 0xa, "0x2": 0xb, "0x3": 0} {
		value, err := tr.Get(&root, utils.HexToFelt(t, key))
		require.NoError(t, err)
		assert.Equal(t, felt.FromUint64(want), value, key)
	}

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, trie.StoreStats{Nodes: 4}, stats)
}

func TestApplySingleKeyIsOneEdge(t *testing.T) {
	store := newTestStore(t)
	tr := trie.NewPedersen(store)

	key := utils.HexToFelt(t, "0x5aee31408163292105d875070f98cb48275b8c87e80380b78d30647e05854d5")
	value := utils.HexToFelt(t, "0x7e5")
	root, err := tr.Apply(felt.Zero, []trie.Mutation{{Key: *key, Value: *value}})
	require.NoError(t, err)

	edge := &trie.EdgeNode{Child: *value, Path: trie.KeyPath(key, trie.Height)}
	assert.Equal(t, edge.Hash(crypto.Pedersen), root)
}

func TestApplyIsDeterministic(t *testing.T) {
	muts := randomMutations(t, 200)

	first := trie.NewPedersen(newTestStore(t))
	want, err := first.Apply(felt.Zero, muts)
	require.NoError(t, err)

	t.Run("order does not matter", func(t *testing.T) {
		shuffled := append([]trie.Mutation(nil), muts...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got, err := trie.NewPedersen(newTestStore(t)).Apply(felt.Zero, shuffled)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("batching does not matter", func(t *testing.T) {
		tr := trie.NewPedersen(newTestStore(t))
		root := felt.Zero
		for i := 0; i < len(muts); i += 17 {
			root, err = tr.Apply(root, muts[i:min(i+17, len(muts))])
			require.NoError(t, err)
		}
		assert.Equal(t, want, root)
	})

	t.Run("last write wins", func(t *testing.T) {
		overwritten := append([]trie.Mutation(nil), muts...)
		for _, m := range muts[:50] {
			overwritten = append([]trie.Mutation{{Key: m.Key, Value: *utils.RandomFelt(t)}}, overwritten...)
		}
		got, err := trie.NewPedersen(newTestStore(t)).Apply(felt.Zero, overwritten)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("same store, same root", func(t *testing.T) {
		got, err := first.Apply(felt.Zero, muts)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestApplyDeleteAll(t *testing.T) {
	store := newTestStore(t)
	tr := trie.NewPedersen(store)
	muts := randomMutations(t, 64)

	root, err := tr.Apply(felt.Zero, muts)
	require.NoError(t, err)

	deletes := make([]trie.Mutation, len(muts))
	for i := range muts {
		deletes[i] = trie.Mutation{Key: muts[i].Key}
	}
	empty, err := tr.Apply(root, deletes)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	// the old version is untouched
	for _, m := range muts {
		value, err := tr.Get(&root, &m.Key)
		require.NoError(t, err)
		assert.Equal(t, m.Value, value)
	}
}

func TestApplyMatchesFreshBuild(t *testing.T) {
	// whatever history leads to a key set, the root only depends on the set
	tests := map[string]struct {
		before []trie.Mutation
		after  []trie.Mutation
	}{
		"split an edge": {
			before: []trie.Mutation{mutation(t, "0x10", "0x1")},
			after:  []trie.Mutation{mutation(t, "0x11", "0x2")},
		},
		"merge edges after delete": {
			before: []trie.Mutation{mutation(t, "0x10", "0x1"), mutation(t, "0x11", "0x2"), mutation(t, "0x400", "0x3")},
			after:  []trie.Mutation{mutation(t, "0x11", "0x0")},
		},
		"collapse a binary node": {
			before: []trie.Mutation{mutation(t, "0x0", "0x1"), mutation(t, "0x1", "0x2")},
			after:  []trie.Mutation{mutation(t, "0x0", "0x0")},
		},
		"delete an absent key": {
			before: []trie.Mutation{mutation(t, "0x10", "0x1"), mutation(t, "0x11", "0x2")},
			after:  []trie.Mutation{mutation(t, "0x12", "0x0"), mutation(t, "0x7ff", "0x0")},
		},
		"overwrite a value": {
			before: []trie.Mutation{mutation(t, "0x10", "0x1"), mutation(t, "0x11", "0x2")},
			after:  []trie.Mutation{mutation(t, "0x10", "0x3")},
		},
		"insert and delete in one batch": {
			before: []trie.Mutation{mutation(t, "0x10", "0x1"), mutation(t, "0x2000", "0x2")},
			after:  []trie.Mutation{mutation(t, "0x10", "0x0"), mutation(t, "0x3000", "0x3"), mutation(t, "0x3001", "0x4")},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			tr := trie.NewPedersen(newTestStore(t))
			root, err := tr.Apply(felt.Zero, test.before)
			require.NoError(t, err)
			root, err = tr.Apply(root, test.after)
			require.NoError(t, err)

			final := map[felt.Felt]felt.Felt{}
			for _, m := range append(append([]trie.Mutation(nil), test.before...), test.after...) {
				final[m.Key] = m.Value
			}
			var muts []trie.Mutation
			for key, value := range final {
				muts = append(muts, trie.Mutation{Key: key, Value: value})
			}
			want, err := trie.NewPedersen(newTestStore(t)).Apply(felt.Zero, muts)
			require.NoError(t, err)
			assert.Equal(t, want, root)
		})
	}
}

func TestApplyKeyBounds(t *testing.T) {
	tr := trie.NewPedersen(newTestStore(t))

	maxKey := mutation(t, "0x7ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", "0x1")
	root, err := tr.Apply(felt.Zero, []trie.Mutation{maxKey, mutation(t, "0x0", "0x2")})
	require.NoError(t, err)

	value, err := tr.Get(&root, &maxKey.Key)
	require.NoError(t, err)
	assert.Equal(t, felt.One, value)

	tooBig := mutation(t, "0x800000000000000000000000000000000000000000000000000000000000000", "0x1")
	_, err = tr.Apply(root, []trie.Mutation{mutation(t, "0x5", "0x5"), tooBig})
	require.ErrorIs(t, err, trie.ErrInvalidKey)

	var invalid *trie.InvalidKeyError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, tooBig.Key, invalid.Key)

	_, err = tr.Get(&root, &tooBig.Key)
	require.ErrorIs(t, err, trie.ErrInvalidKey)

	// the rejected batch left nothing behind
	value, err = tr.Get(&root, utils.HexToFelt(t, "0x5"))
	require.NoError(t, err)
	assert.True(t, value.IsZero())
}

func TestApplyReferences(t *testing.T) {
	store := newTestStore(t)
	tr := trie.NewPedersen(store)

	root, err := tr.Apply(felt.Zero, randomMutations(t, 10))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), refCount(t, store, root))

	same, err := tr.Apply(root, nil)
	require.NoError(t, err)
	assert.Equal(t, root, same)
	assert.Equal(t, uint64(2), refCount(t, store, root), "every returned root carries its own reference")

	before, err := store.Stats()
	require.NoError(t, err)
	_, err = store.DecRef(&root, 1)
	require.NoError(t, err)
	pruned, err := store.Prune()
	require.NoError(t, err)
	assert.Zero(t, pruned)
	after, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPruneKeepsRetainedVersions(t *testing.T) {
	store := newTestStore(t)
	tr := trie.NewPedersen(store)

	base := randomMutations(t, 100)
	v1, err := tr.Apply(felt.Zero, base)
	require.NoError(t, err)

	changes := randomMutations(t, 20)
	for i := range 10 {
		changes = append(changes, trie.Mutation{Key: base[i].Key})
	}
	v2, err := tr.Apply(v1, changes)
	require.NoError(t, err)

	_, err = store.DecRef(&v1, 1)
	require.NoError(t, err)
	pruned, err := store.Prune()
	require.NoError(t, err)
	assert.Positive(t, pruned)

	// v2 is fully readable
	for _, m := range base[10:] {
		value, err := tr.Get(&v2, &m.Key)
		require.NoError(t, err)
		assert.Equal(t, m.Value, value)
	}
	for _, m := range changes[:20] {
		value, err := tr.Get(&v2, &m.Key)
		require.NoError(t, err)
		assert.Equal(t, m.Value, value)
	}

	// v1 is gone
	_, err = tr.Get(&v1, &base[0].Key)
	require.ErrorIs(t, err, trie.ErrNodeNotFound)

	// releasing v2 empties the store
	_, err = store.DecRef(&v2, 1)
	require.NoError(t, err)
	_, err = store.Prune()
	require.NoError(t, err)
	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, trie.StoreStats{}, stats)
}

func TestApplyDifferentHashes(t *testing.T) {
	store := newTestStore(t)
	muts := randomMutations(t, 5)

	pedersen, err := trie.NewPedersen(store).Apply(felt.Zero, muts)
	require.NoError(t, err)
	poseidon, err := trie.NewPoseidon(store).Apply(felt.Zero, muts)
	require.NoError(t, err)
	assert.NotEqual(t, pedersen, poseidon)
}

func TestConcurrentReadsAndApplies(t *testing.T) {
	store := newTestStore(t)
	tr := trie.NewPedersen(store)
	muts := randomMutations(t, 50)
	root, err := tr.Apply(felt.Zero, muts)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, m := range muts {
				value, err := tr.Get(&root, &m.Key)
				assert.NoError(t, err)
				assert.Equal(t, m.Value, value)
			}
		}()
		go func() {
			defer wg.Done()
			next, err := tr.Apply(root, randomMutations(t, 10))
			assert.NoError(t, err)
			_, err = store.DecRef(&next, 1)
			assert.NoError(t, err)
			_, err = store.Prune()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestApplySharesNodeAboveLeavesAndNodes(t *testing.T) {
	store := newTestStore(t)
	tr := trie.NewPedersen(store)
	bottom := &trie.BinaryNode{Left: felt.One, Right: felt.FromUint64(2)}

	// the left edge of this trie has a leaf value equal to the hash of bottom
	valueTrie, err := tr.Apply(felt.Zero, []trie.Mutation{
		{Key: felt.Zero, Value: bottom.Hash(crypto.Pedersen)},
		mutation(t, "0x400000000000000000000000000000000000000000000000000000000000000", "0x5"),
	})
	require.NoError(t, err)

	// here the same edge sits above bottom
	nodeTrie, err := tr.Apply(felt.Zero, []trie.Mutation{
		mutation(t, "0x0", "0x1"),
		mutation(t, "0x1", "0x2"),
	})
	require.NoError(t, err)

	for _, release := range []felt.Felt{valueTrie, nodeTrie} {
		for key, want := range map[uint64]uint64{0: 1, 1: 2} {
			value, err := tr.Get(&nodeTrie, new(felt.Felt).SetUint64(key))
			require.NoError(t, err)
			assert.Equal(t, felt.FromUint64(want), value)
		}

		_, err := store.DecRef(&release, 1)
		require.NoError(t, err)
		_, err = store.Prune()
		require.NoError(t, err)
		if release == valueTrie {
			continue
		}

		stats, err := store.Stats()
		require.NoError(t, err)
		assert.Equal(t, trie.StoreStats{}, stats)
	}
}
